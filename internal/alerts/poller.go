package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/signalsfoundry/vessel-console/internal/logging"
	"github.com/signalsfoundry/vessel-console/internal/sched"
	"github.com/signalsfoundry/vessel-console/model"
)

const (
	// DefaultPollInterval is the alert log refresh period.
	DefaultPollInterval = 5000 * time.Millisecond
	// DefaultFetchLimit is how many alerts each refresh requests.
	DefaultFetchLimit = 50
)

// AlertFetcher retrieves the newest alerts, newest first.
type AlertFetcher interface {
	FetchAlerts(ctx context.Context, limit int) ([]model.Alert, error)
}

// PollerOption customises a Poller.
type PollerOption func(*Poller)

// WithInterval overrides DefaultPollInterval.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithFetchLimit overrides DefaultFetchLimit.
func WithFetchLimit(n int) PollerOption {
	return func(p *Poller) {
		if n > 0 {
			p.limit = n
		}
	}
}

// WithFetchTimeout bounds each fetch.
func WithFetchTimeout(d time.Duration) PollerOption {
	return func(p *Poller) { p.timeout = d }
}

// Poller refreshes the alert log on a fixed interval, independent of the
// push feed. A refresh that is still in flight when the next tick comes
// round causes that tick to be skipped.
type Poller struct {
	fetcher  AlertFetcher
	queue    *Queue
	sched    sched.EventScheduler
	log      logging.Logger
	interval time.Duration
	limit    int
	timeout  time.Duration

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	timerID  string
	inflight bool
	stopped  bool
}

// NewPoller builds a poller that merges into queue.
func NewPoller(fetcher AlertFetcher, queue *Queue, s sched.EventScheduler, log logging.Logger, opts ...PollerOption) *Poller {
	if log == nil {
		log = logging.Noop()
	}
	p := &Poller{
		fetcher:  fetcher,
		queue:    queue,
		sched:    s,
		log:      log.With(logging.String("component", "alert_poller")),
		interval: DefaultPollInterval,
		limit:    DefaultFetchLimit,
		timeout:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start fetches immediately and then every interval until Stop or until
// ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.stopped || p.ctx != nil {
		p.mu.Unlock()
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	runCtx := p.ctx
	p.mu.Unlock()

	go func() {
		<-runCtx.Done()
		p.Stop()
	}()

	p.tick()
}

// Stop cancels the pending refresh timer and any fetch in flight.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	if p.timerID != "" {
		p.sched.Cancel(p.timerID)
		p.timerID = ""
	}
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Poller) tick() {
	p.mu.Lock()
	p.timerID = ""
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.timerID = p.sched.Schedule(p.sched.Now().Add(p.interval), p.tick)
	if p.inflight {
		p.mu.Unlock()
		p.log.Debug(p.ctx, "previous alert refresh still running; skipping")
		return
	}
	p.inflight = true
	ctx := p.ctx
	p.mu.Unlock()

	go p.fetch(ctx)
}

func (p *Poller) fetch(ctx context.Context) {
	fetchCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	alerts, err := p.fetcher.FetchAlerts(fetchCtx, p.limit)

	// Results re-enter on the event loop.
	p.sched.Schedule(p.sched.Now(), func() {
		p.mu.Lock()
		p.inflight = false
		stopped := p.stopped
		p.mu.Unlock()

		if err != nil {
			if !stopped {
				p.log.Warn(ctx, "alert refresh failed", logging.Err(err))
			}
			return
		}
		if stopped {
			return
		}
		p.queue.Merge(alerts)
	})
}

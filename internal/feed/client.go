// Package feed maintains the console's live push channel: a single websocket
// that is redialled on a fixed delay whenever it drops.
package feed

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/vessel-console/internal/logging"
	"github.com/signalsfoundry/vessel-console/internal/sched"
)

// DefaultReconnectDelay is the fixed wait between a drop and the next dial.
const DefaultReconnectDelay = 3000 * time.Millisecond

var (
	// ErrNotConnected is returned by Ping when no channel is open.
	ErrNotConnected = errors.New("feed: not connected")
	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("feed: client stopped")
)

// MetricsRecorder receives feed lifecycle counters.
type MetricsRecorder interface {
	SetFeedConnected(connected bool)
	IncFeedConnects()
	IncFeedReconnectsScheduled()
	IncFeedMessages(kind string)
	IncFeedDecodeErrors()
}

type noopMetrics struct{}

func (noopMetrics) SetFeedConnected(bool)       {}
func (noopMetrics) IncFeedConnects()            {}
func (noopMetrics) IncFeedReconnectsScheduled() {}
func (noopMetrics) IncFeedMessages(string)      {}
func (noopMetrics) IncFeedDecodeErrors()        {}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithReconnectDelay overrides DefaultReconnectDelay.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.reconnectDelay = d
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(rec MetricsRecorder) Option {
	return func(c *Client) {
		if rec != nil {
			c.metrics = rec
		}
	}
}

// WithStatusListener registers a callback for connectivity changes.
func WithStatusListener(fn func(connected bool)) Option {
	return func(c *Client) { c.onStatus = fn }
}

// WithHeader sets extra handshake headers.
func WithHeader(h http.Header) Option {
	return func(c *Client) { c.header = h.Clone() }
}

// Client owns one live feed connection.
//
// Decoded messages are handed to the consumer from a scheduler callback, so
// they are processed on the same event loop as timers and animation frames,
// in arrival order.
type Client struct {
	url            string
	sched          sched.EventScheduler
	log            logging.Logger
	dialer         Dialer
	header         http.Header
	reconnectDelay time.Duration
	metrics        MetricsRecorder
	onStatus       func(bool)

	writeMu sync.Mutex

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	handler     func(Message)
	conn        Conn
	connected   bool
	dialing     bool
	stopped     bool
	reconnectID string
}

// NewClient constructs a client for url. Nothing is dialled until Start.
func NewClient(url string, s sched.EventScheduler, log logging.Logger, opts ...Option) *Client {
	if log == nil {
		log = logging.Noop()
	}
	c := &Client{
		url:            url,
		sched:          s,
		log:            log.With(logging.String("component", "feed")),
		dialer:         NewWebsocketDialer(10 * time.Second),
		reconnectDelay: DefaultReconnectDelay,
		metrics:        noopMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnMessage registers the consumer of decoded messages, replacing any
// previous one.
func (c *Client) OnMessage(fn func(Message)) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

// Connected reports whether the channel is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Start makes the first connection attempt. Cancelling ctx is equivalent to
// calling Stop.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.ctx != nil {
		c.mu.Unlock()
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	runCtx := c.ctx
	c.mu.Unlock()

	go func() {
		<-runCtx.Done()
		c.Stop()
	}()

	c.connect()
	return nil
}

// Stop tears the client down: the pending reconnect timer is cancelled, the
// open channel is closed and no further reconnects happen.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	if c.reconnectID != "" {
		c.sched.Cancel(c.reconnectID)
		c.reconnectID = ""
	}
	conn := c.conn
	c.conn = nil
	wasConnected := c.connected
	c.connected = false
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if wasConnected {
		c.notifyStatus(false)
	}
	c.log.Info(context.Background(), "feed stopped")
}

// Ping sends a keepalive frame. A failed write is treated as a close.
func (c *Client) Ping() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	err := conn.WriteMessage(websocket.TextMessage, pingFrame)
	c.writeMu.Unlock()
	if err != nil {
		c.handleClose(conn, err)
		return err
	}
	return nil
}

// connect starts one dial attempt unless a channel is open, a dial is in
// flight, or the client is stopped.
func (c *Client) connect() {
	c.mu.Lock()
	if c.stopped || c.dialing || c.conn != nil || c.ctx == nil {
		c.mu.Unlock()
		return
	}
	c.dialing = true
	ctx := c.ctx
	c.mu.Unlock()

	go c.dial(ctx)
}

func (c *Client) dial(ctx context.Context) {
	c.log.Debug(ctx, "dialing feed", logging.String("url", c.url))
	conn, err := c.dialer.Dial(ctx, c.url, c.header)

	c.mu.Lock()
	c.dialing = false
	if c.stopped {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		c.log.Warn(ctx, "feed dial failed",
			logging.Err(err),
			logging.Duration("retry_in", c.reconnectDelay),
		)
		return
	}
	c.conn = conn
	c.connected = true
	if c.reconnectID != "" {
		c.sched.Cancel(c.reconnectID)
		c.reconnectID = ""
	}
	c.mu.Unlock()

	c.metrics.IncFeedConnects()
	c.notifyStatus(true)
	c.log.Info(ctx, "feed connected", logging.String("url", c.url))

	go c.readLoop(conn)
}

func (c *Client) readLoop(conn Conn) {
	for {
		frameType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		msg, err := Decode(frameType, data)
		if err != nil {
			c.metrics.IncFeedDecodeErrors()
			c.log.Warn(context.Background(), "dropping malformed feed frame",
				logging.Err(err),
				logging.Int("bytes", len(data)),
			)
			continue
		}
		c.metrics.IncFeedMessages(string(msg.Type))
		c.deliver(msg)
	}
}

func (c *Client) deliver(msg Message) {
	c.sched.Schedule(c.sched.Now(), func() {
		c.mu.Lock()
		handler := c.handler
		stopped := c.stopped
		c.mu.Unlock()
		if stopped || handler == nil {
			return
		}
		handler(msg)
	})
}

// handleClose records a close or failure observed on conn. Observations for
// a connection that is no longer current, or after Stop, are ignored.
func (c *Client) handleClose(conn Conn, cause error) {
	c.mu.Lock()
	if c.stopped || (c.conn != nil && c.conn != conn) {
		c.mu.Unlock()
		return
	}
	wasConnected := c.connected
	if c.conn == conn {
		c.conn = nil
		c.connected = false
	}
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	_ = conn.Close()
	if wasConnected {
		c.notifyStatus(false)
		if websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			c.log.Info(context.Background(), "feed closed", logging.Err(cause))
		} else {
			c.log.Warn(context.Background(), "feed dropped", logging.Err(cause))
		}
	}
}

// scheduleReconnectLocked arms the reconnect timer. A timer that is already
// pending, or a dial in flight, absorbs the request. Caller holds c.mu.
func (c *Client) scheduleReconnectLocked() {
	if c.stopped || c.reconnectID != "" || c.dialing {
		return
	}
	c.reconnectID = c.sched.Schedule(c.sched.Now().Add(c.reconnectDelay), c.onReconnectTimer)
	c.metrics.IncFeedReconnectsScheduled()
}

func (c *Client) onReconnectTimer() {
	c.mu.Lock()
	c.reconnectID = ""
	c.mu.Unlock()
	c.connect()
}

func (c *Client) notifyStatus(connected bool) {
	c.metrics.SetFeedConnected(connected)
	if c.onStatus != nil {
		c.onStatus(connected)
	}
}

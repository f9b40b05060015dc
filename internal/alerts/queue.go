// Package alerts correlates the zone alert log into a short-lived visible
// notification queue and a read/unread ledger.
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
	// DefaultVisibleLimit caps the visible notification queue.
	DefaultVisibleLimit = 5
	// DefaultExpiry is how long a shown alert stays visible.
	DefaultExpiry = 5000 * time.Millisecond
)

// MetricsRecorder receives queue size updates.
type MetricsRecorder interface {
	SetAlertCounts(logSize, visible, unread int)
	IncAlertsShown()
}

// Option customises Queue construction.
type Option func(*Queue)

// WithVisibleLimit overrides DefaultVisibleLimit.
func WithVisibleLimit(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.visibleLimit = n
		}
	}
}

// WithExpiry overrides DefaultExpiry.
func WithExpiry(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.expiry = d
		}
	}
}

// WithSeenCapacity bounds the shown and read id sets, and the retained log,
// to n entries. Zero keeps everything for the life of the queue.
func WithSeenCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithDedupeWindow sets how many recent log ids a bounded queue remembers
// for duplicate detection. The window never drops below the seen capacity,
// and should cover a full fetched page so a refetch is not appended again.
func WithDedupeWindow(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.window = n
		}
	}
}

// WithMetricsRecorder attaches a metrics recorder.
func WithMetricsRecorder(rec MetricsRecorder) Option {
	return func(q *Queue) { q.metrics = rec }
}

// Queue owns the alert log, the visible queue and the read ledger.
//
// After each log update only the newest entry is inspected. If its id has
// never been shown it joins the visible queue and gets its own expiry timer.
// Timers are independent: dismissing an alert or a burst of new ones leaves
// other timers alone, and a timer that finds nothing to remove is a no-op.
type Queue struct {
	sched        sched.EventScheduler
	log          logging.Logger
	visibleLimit int
	expiry       time.Duration
	capacity     int
	window       int
	metrics      MetricsRecorder

	mu      sync.Mutex
	entries []model.Alert
	logged  idSet
	visible []model.Alert
	shown   idSet
	read    idSet
	timers  map[string]struct{}
	stopped bool
}

// NewQueue builds an empty queue.
func NewQueue(s sched.EventScheduler, log logging.Logger, opts ...Option) *Queue {
	if log == nil {
		log = logging.Noop()
	}
	q := &Queue{
		sched:        s,
		log:          log.With(logging.String("component", "alerts")),
		visibleLimit: DefaultVisibleLimit,
		expiry:       DefaultExpiry,
		window:       DefaultFetchLimit,
		timers:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logged = newIDSet(0)
	if q.capacity > 0 {
		q.logged = newIDSet(max(q.capacity, q.window))
	}
	q.shown = newIDSet(q.capacity)
	q.read = newIDSet(q.capacity)
	return q
}

// Append adds alerts pushed by the feed, in order. Alerts already in the
// log or without an id are skipped.
func (q *Queue) Append(alerts ...model.Alert) {
	q.mu.Lock()
	added := 0
	for _, a := range alerts {
		if q.appendLocked(a) {
			added++
		}
	}
	if added > 0 {
		q.inspectNewestLocked()
	}
	q.mu.Unlock()

	if added > 0 {
		q.publish()
	}
}

// Merge folds a fetched alert list into the log. The list is newest-first,
// as the alert endpoint returns it; unseen entries are appended oldest-first
// so the log stays in arrival order.
func (q *Queue) Merge(fetched []model.Alert) int {
	q.mu.Lock()
	added := 0
	for i := len(fetched) - 1; i >= 0; i-- {
		if q.appendLocked(fetched[i]) {
			added++
		}
	}
	if added > 0 {
		q.inspectNewestLocked()
	}
	q.mu.Unlock()

	if added > 0 {
		q.log.Debug(context.Background(), "alert log merged", logging.Int("added", added))
		q.publish()
	}
	return added
}

func (q *Queue) appendLocked(a model.Alert) bool {
	if a.ID == "" {
		q.log.Warn(context.Background(), "alert without id ignored",
			logging.String("vessel_id", string(a.VesselID)))
		return false
	}
	if q.logged.Contains(a.ID) {
		// Refresh recency so a page that keeps being refetched stays known.
		q.logged.Add(a.ID)
		return false
	}
	q.entries = append(q.entries, a)
	q.logged.Add(a.ID)

	// Trimmed ids stay in the dedupe window.
	if q.capacity > 0 && len(q.entries) > q.capacity {
		drop := len(q.entries) - q.capacity
		q.entries = append([]model.Alert(nil), q.entries[drop:]...)
	}
	return true
}

// inspectNewestLocked shows the newest log entry if it has never been shown.
func (q *Queue) inspectNewestLocked() {
	if q.stopped || len(q.entries) == 0 {
		return
	}
	newest := q.entries[len(q.entries)-1]
	if q.shown.Contains(newest.ID) {
		return
	}
	q.shown.Add(newest.ID)

	q.visible = append(q.visible, newest)
	if over := len(q.visible) - q.visibleLimit; over > 0 {
		q.visible = append([]model.Alert(nil), q.visible[over:]...)
	}

	var timerID string
	timerID = q.sched.Schedule(q.sched.Now().Add(q.expiry), func() {
		q.expire(newest.ID, timerID)
	})
	q.timers[timerID] = struct{}{}

	if q.metrics != nil {
		q.metrics.IncAlertsShown()
	}
}

func (q *Queue) expire(id model.AlertID, timerID string) {
	q.mu.Lock()
	delete(q.timers, timerID)
	removed := q.removeVisibleLocked(id)
	q.mu.Unlock()

	if removed {
		q.publish()
	}
}

func (q *Queue) removeVisibleLocked(id model.AlertID) bool {
	for i, a := range q.visible {
		if a.ID == id {
			q.visible = append(q.visible[:i:i], q.visible[i+1:]...)
			return true
		}
	}
	return false
}

// Dismiss removes an alert from the visible queue immediately. Its expiry
// timer still fires later and finds nothing to do.
func (q *Queue) Dismiss(id model.AlertID) bool {
	q.mu.Lock()
	removed := q.removeVisibleLocked(id)
	q.mu.Unlock()
	if removed {
		q.publish()
	}
	return removed
}

// MarkRead adds id to the read ledger.
func (q *Queue) MarkRead(id model.AlertID) {
	q.mu.Lock()
	q.read.Add(id)
	q.mu.Unlock()
	q.publish()
}

// MarkAllRead adds every alert currently in the log to the read ledger.
// Alerts that arrive afterwards are unread.
func (q *Queue) MarkAllRead() {
	q.mu.Lock()
	for _, a := range q.entries {
		q.read.Add(a.ID)
	}
	q.mu.Unlock()
	q.publish()
}

// IsRead reports whether id is in the read ledger.
func (q *Queue) IsRead(id model.AlertID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.read.Contains(id)
}

// UnreadCount is the number of log entries whose id is not in the ledger.
func (q *Queue) UnreadCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unreadLocked()
}

func (q *Queue) unreadLocked() int {
	n := 0
	for _, a := range q.entries {
		if !q.read.Contains(a.ID) {
			n++
		}
	}
	return n
}

// Visible returns the visible queue, oldest first.
func (q *Queue) Visible() []model.Alert {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]model.Alert(nil), q.visible...)
}

// Log returns the alert log in arrival order.
func (q *Queue) Log() []model.Alert {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]model.Alert(nil), q.entries...)
}

// Stop cancels every pending expiry timer. Later updates still extend the
// log but nothing new becomes visible.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	for id := range q.timers {
		q.sched.Cancel(id)
	}
	q.timers = make(map[string]struct{})
	q.mu.Unlock()
}

func (q *Queue) publish() {
	if q.metrics == nil {
		return
	}
	q.mu.Lock()
	logSize, visible, unread := len(q.entries), len(q.visible), q.unreadLocked()
	q.mu.Unlock()
	q.metrics.SetAlertCounts(logSize, visible, unread)
}

// Package sched is the console's cooperative event loop. Reconnect timers,
// alert expiry, alert polling and animation frames are all registrations on
// an EventScheduler, and callbacks run one at a time from RunDue.
package sched

import (
	"container/heap"
	"strconv"
	"sync"
	"time"

	"github.com/signalsfoundry/vessel-console/timectrl"
)

// EventScheduler runs callbacks at or after a given clock time.
//
// The production loop advances a TimeController every frame and calls RunDue
// from its listener, so every callback executes on that one goroutine.
type EventScheduler interface {
	// Schedule registers f to run at time 'at' and returns an id for Cancel.
	Schedule(at time.Time, f func()) (id string)

	// Cancel revokes a pending event. Unknown or already-run ids are ignored.
	Cancel(id string)

	// Now returns the current clock time.
	Now() time.Time

	// RunDue executes every event whose time is <= Now(), earliest first.
	// Events scheduled by a callback for a time already due run in the same
	// call.
	RunDue()
}

type event struct {
	id        string
	seq       uint64
	when      time.Time
	f         func()
	cancelled bool
}

// queue orders events by time, then by registration order.
type queue []*event

func (q queue) Len() int { return len(q) }
func (q queue) Less(i, j int) bool {
	if q[i].when.Equal(q[j].when) {
		return q[i].seq < q[j].seq
	}
	return q[i].when.Before(q[j].when)
}
func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *queue) Push(x any)   { *q = append(*q, x.(*event)) }
func (q *queue) Pop() any {
	old := *q
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return ev
}

// timeline is the shared bookkeeping behind both schedulers. Callers hold
// the owning scheduler's mutex.
type timeline struct {
	prefix  string
	counter uint64
	events  queue
	index   map[string]*event
}

func newTimeline(prefix string) timeline {
	return timeline{prefix: prefix, index: make(map[string]*event)}
}

func (t *timeline) add(at time.Time, f func()) string {
	t.counter++
	ev := &event{
		id:   t.prefix + strconv.FormatUint(t.counter, 10),
		seq:  t.counter,
		when: at,
		f:    f,
	}
	heap.Push(&t.events, ev)
	t.index[ev.id] = ev
	return ev.id
}

func (t *timeline) cancel(id string) {
	ev, ok := t.index[id]
	if !ok {
		return
	}
	// Removal from the heap is lazy; popDue skips cancelled events.
	ev.cancelled = true
	delete(t.index, id)
}

// popDue removes and returns the earliest live event due at or before now.
func (t *timeline) popDue(now time.Time) *event {
	for t.events.Len() > 0 {
		next := t.events[0]
		if next.cancelled {
			heap.Pop(&t.events)
			continue
		}
		if next.when.After(now) {
			return nil
		}
		heap.Pop(&t.events)
		delete(t.index, next.id)
		return next
	}
	return nil
}

func (t *timeline) pending() int { return len(t.index) }

type eventScheduler struct {
	clock timectrl.SimClock

	mu sync.Mutex
	tl timeline
}

// NewEventScheduler creates a scheduler that reads time from clock.
func NewEventScheduler(clock timectrl.SimClock) EventScheduler {
	return &eventScheduler{
		clock: clock,
		tl:    newTimeline("ev-"),
	}
}

func (s *eventScheduler) Schedule(at time.Time, f func()) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tl.add(at, f)
}

func (s *eventScheduler) Cancel(id string) {
	s.mu.Lock()
	s.tl.cancel(id)
	s.mu.Unlock()
}

func (s *eventScheduler) Now() time.Time {
	return s.clock.Now()
}

// Pending reports how many events are scheduled and not cancelled.
func (s *eventScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tl.pending()
}

func (s *eventScheduler) RunDue() {
	for {
		now := s.clock.Now()
		s.mu.Lock()
		ev := s.tl.popDue(now)
		s.mu.Unlock()
		if ev == nil {
			return
		}
		// Callbacks run outside the lock so they may Schedule or Cancel.
		if ev.f != nil {
			ev.f()
		}
	}
}

package sched

import (
	"sync"
	"time"
)

// FakeEventScheduler keeps its own clock and lets tests move it explicitly.
// AdvanceTo steps through due events one by one, and while an event runs
// Now() reports that event's scheduled time, so chains such as animation
// frames observe the same timestamps they would under a real frame clock.
type FakeEventScheduler struct {
	mu  sync.Mutex
	now time.Time
	tl  timeline
}

// NewFakeEventScheduler creates a fake scheduler starting at start.
func NewFakeEventScheduler(start time.Time) *FakeEventScheduler {
	return &FakeEventScheduler{
		now: start,
		tl:  newTimeline("fake-ev-"),
	}
}

// Now returns the current fake time.
func (s *FakeEventScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Schedule registers a callback to run at the given fake time.
func (s *FakeEventScheduler) Schedule(at time.Time, f func()) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tl.add(at, f)
}

// Cancel revokes a pending event.
func (s *FakeEventScheduler) Cancel(id string) {
	s.mu.Lock()
	s.tl.cancel(id)
	s.mu.Unlock()
}

// Pending reports how many events are scheduled and not cancelled.
func (s *FakeEventScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tl.pending()
}

// RunDue executes all events whose time is <= the current fake time.
func (s *FakeEventScheduler) RunDue() {
	s.AdvanceTo(s.Now())
}

// AdvanceTo moves fake time forward to t, running every event due on the
// way in time order. Time never moves backwards; an earlier t only runs
// what is already due.
func (s *FakeEventScheduler) AdvanceTo(t time.Time) {
	for {
		s.mu.Lock()
		if t.Before(s.now) {
			t = s.now
		}
		ev := s.tl.popDue(t)
		if ev == nil {
			s.now = t
			s.mu.Unlock()
			return
		}
		if ev.when.After(s.now) {
			s.now = ev.when
		}
		s.mu.Unlock()

		if ev.f != nil {
			ev.f()
		}
	}
}

// Advance moves fake time forward by d.
func (s *FakeEventScheduler) Advance(d time.Duration) {
	s.AdvanceTo(s.Now().Add(d))
}

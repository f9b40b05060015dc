package sched

import (
	"sync"
	"testing"
	"time"
)

// manualClock is a minimal SimClock for scheduler tests.
type manualClock struct {
	mu  sync.RWMutex
	now time.Time
}

func newManualClock(start time.Time) *manualClock {
	return &manualClock{now: start}
}

func (c *manualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *manualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func TestEventScheduler_SingleEvent(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := newManualClock(start)
	s := NewEventScheduler(clock)

	var counter int
	t1 := start.Add(3 * time.Second)

	id := s.Schedule(t1, func() { counter++ })
	if id == "" {
		t.Fatalf("Schedule returned empty ID")
	}

	s.RunDue()
	if counter != 0 {
		t.Fatalf("expected counter=0 before time advance, got %d", counter)
	}

	clock.Set(t1)
	s.RunDue()
	s.RunDue()
	if counter != 1 {
		t.Fatalf("expected counter=1 after time advance, got %d", counter)
	}
}

func TestEventScheduler_OrderAndTies(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := newManualClock(start)
	s := NewEventScheduler(clock)

	var order []string
	t1 := start.Add(10 * time.Second)
	t2 := start.Add(20 * time.Second)

	s.Schedule(t2, func() { order = append(order, "late") })
	s.Schedule(t1, func() { order = append(order, "a") })
	s.Schedule(t1, func() { order = append(order, "b") })
	s.Schedule(t1, func() { order = append(order, "c") })

	clock.Set(t2)
	s.RunDue()

	want := []string{"a", "b", "c", "late"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestEventScheduler_PastDueEvent(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewEventScheduler(newManualClock(start))

	var counter int
	s.Schedule(start.Add(-5*time.Second), func() { counter++ })
	s.RunDue()

	if counter != 1 {
		t.Fatalf("expected past-due event to run immediately, counter=%d", counter)
	}
}

func TestEventScheduler_Cancellation(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := newManualClock(start)
	s := NewEventScheduler(clock)

	var counter int
	t1 := start.Add(10 * time.Second)
	id := s.Schedule(t1, func() { counter++ })
	s.Cancel(id)
	s.Cancel(id)
	s.Cancel("unknown-id")

	clock.Set(t1)
	s.RunDue()
	if counter != 0 {
		t.Fatalf("expected cancelled event to not run, counter=%d", counter)
	}
	if p := s.(*eventScheduler).Pending(); p != 0 {
		t.Fatalf("Pending() = %d, want 0", p)
	}
}

func TestEventScheduler_ReentrantScheduleRunsWhenDue(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := newManualClock(start)
	s := NewEventScheduler(clock)

	var counter int
	t1 := start.Add(10 * time.Second)
	t2 := start.Add(20 * time.Second)

	s.Schedule(t1, func() {
		counter++
		s.Schedule(t2, func() { counter++ })
		// Already due: runs in the same RunDue call.
		s.Schedule(t1, func() { counter += 10 })
	})

	clock.Set(t1)
	s.RunDue()
	if counter != 11 {
		t.Fatalf("expected counter=11 after first pass, got %d", counter)
	}

	clock.Set(t2)
	s.RunDue()
	if counter != 12 {
		t.Fatalf("expected counter=12 after nested event, got %d", counter)
	}
}

func TestEventScheduler_CancelFromCallback(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := newManualClock(start)
	s := NewEventScheduler(clock)

	var ran bool
	var victim string
	s.Schedule(start.Add(time.Second), func() { s.Cancel(victim) })
	victim = s.Schedule(start.Add(2*time.Second), func() { ran = true })

	clock.Set(start.Add(5 * time.Second))
	s.RunDue()
	if ran {
		t.Fatalf("event cancelled by an earlier callback still ran")
	}
}

func TestEventScheduler_Now(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := newManualClock(start)
	s := NewEventScheduler(clock)

	if now := s.Now(); !now.Equal(start) {
		t.Fatalf("Now() = %v, want %v", now, start)
	}
	later := start.Add(time.Hour)
	clock.Set(later)
	if now := s.Now(); !now.Equal(later) {
		t.Fatalf("Now() after advance = %v, want %v", now, later)
	}
}

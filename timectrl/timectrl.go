package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock is an interface for reading the console's notion of "now". The
// event scheduler, flight controller and alert queue depend on it rather than
// on time.Now so tests can substitute a fake.
type SimClock interface {
	// Now returns the current clock time.
	Now() time.Time
}

// Mode describes how the TimeController advances time.
type Mode int

const (
	// RealTime follows the wall clock; each tick observes time.Now().
	RealTime Mode = iota
	// Accelerated advances exactly one Tick per loop iteration, as fast as
	// the ticker allows.
	Accelerated
)

// TimeController is the console's frame clock. Every Tick it advances its
// current time and invokes the registered listeners in registration order,
// all from a single goroutine. With Tick set to a display refresh interval
// it stands in for the host's frame presentation callback.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	// currentTime is updated as the controller advances.
	currentTime time.Time

	listeners []func(time.Time)

	// wallNow is swapped out in tests.
	wallNow func() time.Time
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
		wallNow:     time.Now,
	}
}

// Now returns the current controller time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime overrides the current time.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	tc.mu.Unlock()
}

// AddListener registers a callback invoked on every tick.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// Start runs the controller in a separate goroutine until ctx is cancelled
// or, when duration > 0, until that much controller time has elapsed. It
// returns a channel that is closed when the controller finishes.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		tc.mu.Lock()
		now := tc.StartTime
		if tc.Mode == RealTime {
			now = tc.wallNow()
			tc.StartTime = now
		}
		tc.currentTime = now
		start := now
		tc.mu.Unlock()

		ticker := time.NewTicker(tc.Tick)
		defer ticker.Stop()

		for {
			if duration > 0 && now.Sub(start) >= duration {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			if tc.Mode == RealTime {
				now = tc.wallNow()
			} else {
				now = now.Add(tc.Tick)
			}

			tc.mu.Lock()
			tc.currentTime = now
			listeners := append([]func(time.Time){}, tc.listeners...)
			tc.mu.Unlock()

			for _, fn := range listeners {
				fn(now)
			}
		}
	}()
	return done
}

// Package flight animates the console's single drone through one mission:
// transit to a target, orbit it, and return to base when recalled.
package flight

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/vessel-console/internal/geo"
	"github.com/signalsfoundry/vessel-console/internal/logging"
	"github.com/signalsfoundry/vessel-console/internal/sched"
	"github.com/signalsfoundry/vessel-console/model"
)

const (
	// SpeedKmh is the simulated cruise speed.
	SpeedKmh = 150.0
	// MinTransit and MaxTransit bound the duration of any leg.
	MinTransit = 4000 * time.Millisecond
	MaxTransit = 90000 * time.Millisecond
	// OrbitRadiusDeg is the orbit radius around the target (about 500 m).
	OrbitRadiusDeg = 0.005
	// OrbitPeriod is the time for one full revolution.
	OrbitPeriod = 4000 * time.Millisecond
	// DefaultFrameInterval approximates one display refresh.
	DefaultFrameInterval = 16 * time.Millisecond
)

// DefaultBase is the drone's home pad on Föglö, Åland.
var DefaultBase = model.LatLng{Lat: 60.0167, Lng: 20.3833}

// TransitDuration converts a leg distance into an animation duration at
// SpeedKmh, clamped to [MinTransit, MaxTransit].
func TransitDuration(distanceKm float64) time.Duration {
	ms := distanceKm / SpeedKmh * 3_600_000
	switch {
	case math.IsNaN(ms) || ms < float64(MinTransit/time.Millisecond):
		return MinTransit
	case ms > float64(MaxTransit/time.Millisecond):
		return MaxTransit
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// MetricsRecorder receives mission lifecycle updates.
type MetricsRecorder interface {
	SetFlightPhase(phase int)
	IncFlightMissions(event string)
}

// Option customises a Controller.
type Option func(*Controller)

// WithFrameInterval overrides DefaultFrameInterval.
func WithFrameInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.frameInterval = d
		}
	}
}

// WithMetricsRecorder attaches a metrics recorder.
func WithMetricsRecorder(rec MetricsRecorder) Option {
	return func(c *Controller) { c.metrics = rec }
}

// WithIDGenerator replaces the uuid mission id generator.
func WithIDGenerator(fn func() string) Option {
	return func(c *Controller) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// Controller owns the mission state machine
// idle → in_transit → orbiting → returning → idle.
//
// Each frame is a scheduler event requested one frame interval ahead. Every
// dispatch, recall or stop bumps a generation counter so a frame callback
// from a replaced loop is a no-op even if it was already due.
type Controller struct {
	sched         sched.EventScheduler
	log           logging.Logger
	frameInterval time.Duration
	metrics       MetricsRecorder
	newID         func() string

	mu        sync.Mutex
	mission   *Mission
	gen       uint64
	frameID   string
	observers []func(Mission, bool)
}

// NewController returns an idle controller.
func NewController(s sched.EventScheduler, log logging.Logger, opts ...Option) *Controller {
	if log == nil {
		log = logging.Noop()
	}
	c := &Controller{
		sched:         s,
		log:           log.With(logging.String("component", "flight")),
		frameInterval: DefaultFrameInterval,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnChange registers an observer called after every frame and transition
// with the current mission, or with ok=false once the mission is cleared.
func (c *Controller) OnChange(fn func(m Mission, ok bool)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// Mission returns a copy of the active mission.
func (c *Controller) Mission() (Mission, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mission == nil {
		return Mission{}, false
	}
	return *c.mission, true
}

// Phase reports the current phase, PhaseIdle when there is no mission.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mission == nil {
		return PhaseIdle
	}
	return c.mission.Phase
}

// Dispatch starts a new mission from origin to destination. Any active
// mission is replaced and its frame loop stops.
func (c *Controller) Dispatch(origin, destination model.LatLng, label string) Mission {
	c.mu.Lock()
	replaced := c.mission != nil
	c.resetLoopLocked()

	now := c.sched.Now()
	m := &Mission{
		ID:           c.newID(),
		Label:        label,
		Base:         origin,
		Target:       destination,
		DispatchedAt: now,
		Position:     origin,
		Heading:      geo.BearingDeg(origin, destination),
		Phase:        PhaseInTransit,
		PathProgress: 1,
	}
	m.startLeg(origin, destination, now)
	c.mission = m
	c.requestFrameLocked()
	snapshot := *m
	c.mu.Unlock()

	if replaced {
		c.recordEvent("replaced")
	}
	c.recordEvent("dispatched")
	c.log.Info(context.Background(), "drone dispatched",
		logging.String("mission_id", snapshot.ID),
		logging.String("label", label),
		logging.Float("distance_km", snapshot.DistanceKm),
		logging.Duration("transit", snapshot.LegDuration),
	)
	c.notify(snapshot, true)
	return snapshot
}

// Cancel recalls the drone. From in_transit or orbiting it starts the return
// leg from the last rendered position; while already returning it restarts
// the return leg from there. It reports false when idle.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	m := c.mission
	if m == nil {
		c.mu.Unlock()
		return false
	}
	from := m.Phase
	c.resetLoopLocked()

	now := c.sched.Now()
	m.Phase = PhaseReturning
	m.startLeg(m.Position, m.Base, now)
	m.Heading = aim(m.Position, m.Base, m.Heading)
	m.PathProgress = 1
	c.requestFrameLocked()
	snapshot := *m
	c.mu.Unlock()

	c.recordEvent("recalled")
	c.log.Info(context.Background(), "drone recalled",
		logging.String("mission_id", snapshot.ID),
		logging.String("from_phase", string(from)),
		logging.Float("distance_km", snapshot.DistanceKm),
	)
	c.notify(snapshot, true)
	return true
}

// Stop cancels the outstanding frame and clears the mission without
// animating a return.
func (c *Controller) Stop() {
	c.mu.Lock()
	had := c.mission != nil
	c.resetLoopLocked()
	c.mission = nil
	c.mu.Unlock()

	if had {
		c.recordEvent("stopped")
		c.notify(Mission{}, false)
	}
}

func (c *Controller) resetLoopLocked() {
	c.gen++
	if c.frameID != "" {
		c.sched.Cancel(c.frameID)
		c.frameID = ""
	}
}

func (c *Controller) requestFrameLocked() {
	gen := c.gen
	c.frameID = c.sched.Schedule(c.sched.Now().Add(c.frameInterval), func() {
		c.frame(gen)
	})
}

func (c *Controller) frame(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.mission == nil {
		c.mu.Unlock()
		return
	}
	c.frameID = ""
	m := c.mission
	now := c.sched.Now()

	var event string
	switch m.Phase {
	case PhaseInTransit:
		if m.advanceLeg(now) {
			m.Phase = PhaseOrbiting
			m.OrbitStartedAt = now
			event = "orbiting"
		}
	case PhaseOrbiting:
		m.advanceOrbit(now)
	case PhaseReturning:
		done := m.advanceLeg(now)
		m.PathProgress = 1 - geo.EaseInOutQuad(m.legFraction(now))
		if done {
			event = "completed"
		}
	}

	snapshot := *m
	ok := true
	if event == "completed" {
		c.mission = nil
		ok = false
	} else {
		c.requestFrameLocked()
	}
	c.mu.Unlock()

	if event != "" {
		c.recordEvent(event)
		c.log.Debug(context.Background(), "mission phase change",
			logging.String("mission_id", snapshot.ID),
			logging.String("event", event),
		)
	}
	if ok {
		c.notify(snapshot, true)
	} else {
		c.notify(Mission{}, false)
	}
}

func (c *Controller) recordEvent(event string) {
	if c.metrics == nil {
		return
	}
	if event != "orbiting" {
		c.metrics.IncFlightMissions(event)
	}
	c.metrics.SetFlightPhase(c.Phase().Ordinal())
}

func (c *Controller) notify(m Mission, ok bool) {
	c.mu.Lock()
	observers := append([]func(Mission, bool){}, c.observers...)
	c.mu.Unlock()
	for _, fn := range observers {
		fn(m, ok)
	}
}

// aim returns the bearing from -> to, or fallback when the points coincide.
func aim(from, to model.LatLng, fallback float64) float64 {
	if from == to {
		return fallback
	}
	return geo.BearingDeg(from, to)
}

package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LoopCollector exposes metrics for the frame-driven event loop.
type LoopCollector struct {
	gatherer prometheus.Gatherer

	TickDuration  prometheus.Histogram
	PendingEvents prometheus.Gauge
	Ticks         prometheus.Counter
	SlowTicks     prometheus.Counter

	budget time.Duration
}

// NewLoopCollector registers event loop metrics against the provided
// registerer. A tick that takes longer than budget, usually the frame
// interval, is counted as slow.
func NewLoopCollector(reg prometheus.Registerer, budget time.Duration) (*LoopCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	tickHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "event_loop_tick_duration_seconds",
		Help:    "Time spent running due timers and animation frames per tick.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.016, 0.033, 0.1},
	})
	tickHistogram, err := registerHistogram(reg, tickHistogram, "event_loop_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "event_loop_pending_events",
		Help: "Timers and frame requests scheduled and not yet run.",
	})
	pending, err = registerGauge(reg, pending, "event_loop_pending_events")
	if err != nil {
		return nil, err
	}

	ticks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "event_loop_ticks_total",
		Help: "Event loop ticks processed.",
	})
	ticks, err = registerCounter(reg, ticks, "event_loop_ticks_total")
	if err != nil {
		return nil, err
	}

	slow := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "event_loop_slow_ticks_total",
		Help: "Ticks whose work exceeded the frame budget.",
	})
	slow, err = registerCounter(reg, slow, "event_loop_slow_ticks_total")
	if err != nil {
		return nil, err
	}

	return &LoopCollector{
		gatherer:      gatherer,
		TickDuration:  tickHistogram,
		PendingEvents: pending,
		Ticks:         ticks,
		SlowTicks:     slow,
		budget:        budget,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *LoopCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveTick records one loop tick and the queue depth left after it.
func (c *LoopCollector) ObserveTick(d time.Duration, pending int) {
	if c == nil {
		return
	}
	if c.Ticks != nil {
		c.Ticks.Inc()
	}
	if c.TickDuration != nil {
		c.TickDuration.Observe(d.Seconds())
	}
	if c.PendingEvents != nil {
		c.PendingEvents.Set(float64(pending))
	}
	if c.SlowTicks != nil && c.budget > 0 && d > c.budget {
		c.SlowTicks.Inc()
	}
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

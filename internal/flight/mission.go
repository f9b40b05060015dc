package flight

import (
	"math"
	"time"

	"github.com/signalsfoundry/vessel-console/internal/geo"
	"github.com/signalsfoundry/vessel-console/model"
)

// Phase is the mission state.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseInTransit Phase = "in_transit"
	PhaseOrbiting  Phase = "orbiting"
	PhaseReturning Phase = "returning"
)

// Label is the operator-facing status text.
func (p Phase) Label() string {
	switch p {
	case PhaseInTransit:
		return "In Transit"
	case PhaseOrbiting:
		return "Orbiting"
	case PhaseReturning:
		return "Returning"
	default:
		return "Idle"
	}
}

// Ordinal is the phase as a gauge value.
func (p Phase) Ordinal() int {
	switch p {
	case PhaseInTransit:
		return 1
	case PhaseOrbiting:
		return 2
	case PhaseReturning:
		return 3
	default:
		return 0
	}
}

// Mission is one dispatch-to-return lifecycle.
type Mission struct {
	ID           string       `json:"id"`
	Label        string       `json:"label"`
	Base         model.LatLng `json:"base"`
	Target       model.LatLng `json:"target"`
	DispatchedAt time.Time    `json:"dispatched_at"`

	Position model.LatLng `json:"position"`
	Heading  float64      `json:"heading"`
	Phase    Phase        `json:"phase"`

	// PathProgress is the visible share of the flight path: 1 from dispatch
	// through orbit, shrinking as 1 - eased to 0 on the return leg.
	PathProgress float64 `json:"path_progress"`

	LegOrigin      model.LatLng  `json:"leg_origin"`
	LegDestination model.LatLng  `json:"leg_destination"`
	LegDuration    time.Duration `json:"leg_duration"`
	LegStartedAt   time.Time     `json:"leg_started_at"`
	DistanceKm     float64       `json:"distance_km"`

	OrbitStartedAt time.Time `json:"orbit_started_at,omitempty"`
}

func (m *Mission) startLeg(from, to model.LatLng, now time.Time) {
	m.LegOrigin = from
	m.LegDestination = to
	m.DistanceKm = geo.HaversineKm(from, to)
	m.LegDuration = TransitDuration(m.DistanceKm)
	m.LegStartedAt = now
}

func (m *Mission) legFraction(now time.Time) float64 {
	return geo.Clamp01(float64(now.Sub(m.LegStartedAt)) / float64(m.LegDuration))
}

// advanceLeg moves along the current leg and reports whether it finished.
func (m *Mission) advanceLeg(now time.Time) bool {
	t := m.legFraction(now)
	m.Position = geo.Interpolate(m.LegOrigin, m.LegDestination, geo.EaseInOutQuad(t))
	m.Heading = aim(m.Position, m.LegDestination, m.Heading)
	return t >= 1
}

func (m *Mission) advanceOrbit(now time.Time) {
	elapsed := now.Sub(m.OrbitStartedAt) % OrbitPeriod
	angle := float64(elapsed) / float64(OrbitPeriod) * 2 * math.Pi
	center := m.Target
	m.Position = model.LatLng{
		Lat: center.Lat + OrbitRadiusDeg*math.Cos(angle),
		Lng: center.Lng + OrbitRadiusDeg*math.Sin(angle),
	}
	m.Heading = aim(m.Position, center, m.Heading)
}

package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// ConsoleCollector bundles the console's Prometheus metrics. It satisfies the
// MetricsRecorder interfaces of the feed, fleet, alerts and flight packages so
// each component drives its own gauges and counters.
type ConsoleCollector struct {
	gatherer prometheus.Gatherer

	FeedConnected           prometheus.Gauge
	FeedConnects            prometheus.Counter
	FeedReconnectsScheduled prometheus.Counter
	FeedMessages            *prometheus.CounterVec
	FeedDecodeErrors        prometheus.Counter

	FleetVessels     prometheus.Gauge
	FleetZoneMembers prometheus.Gauge

	AlertsLogSize prometheus.Gauge
	AlertsVisible prometheus.Gauge
	AlertsUnread  prometheus.Gauge
	AlertsShown   prometheus.Counter

	FlightMissions *prometheus.CounterVec
	FlightPhase    prometheus.Gauge

	CommandFailures *prometheus.CounterVec

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
}

// NewConsoleCollector registers console metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewConsoleCollector(reg prometheus.Registerer) (*ConsoleCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &ConsoleCollector{gatherer: gatherer}

	gauges := []struct {
		dst  *prometheus.Gauge
		name string
		help string
	}{
		{&c.FeedConnected, "feed_connected", "1 while the live feed channel is open, 0 otherwise."},
		{&c.FleetVessels, "fleet_vessels", "Number of vessels in the entity store."},
		{&c.FleetZoneMembers, "fleet_zone_members", "Number of vessels currently inside any zone."},
		{&c.AlertsLogSize, "alerts_log_size", "Number of alerts retained in the alert log."},
		{&c.AlertsVisible, "alerts_visible", "Number of alerts in the visible queue."},
		{&c.AlertsUnread, "alerts_unread", "Number of logged alerts not yet marked read."},
		{&c.FlightPhase, "flight_mission_phase", "Drone mission phase: 0 idle, 1 transit, 2 orbit, 3 return."},
	}
	for _, g := range gauges {
		gauge, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: g.name, Help: g.help}), g.name)
		if err != nil {
			return nil, err
		}
		*g.dst = gauge
	}

	counters := []struct {
		dst  *prometheus.Counter
		name string
		help string
	}{
		{&c.FeedConnects, "feed_connects_total", "Live feed channels successfully opened."},
		{&c.FeedReconnectsScheduled, "feed_reconnects_scheduled_total", "Reconnect attempts scheduled after a channel closed or failed to open."},
		{&c.FeedDecodeErrors, "feed_decode_errors_total", "Feed frames dropped because they could not be decoded."},
		{&c.AlertsShown, "alerts_shown_total", "Alerts pushed onto the visible queue."},
	}
	for _, ct := range counters {
		counter, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{Name: ct.name, Help: ct.help}), ct.name)
		if err != nil {
			return nil, err
		}
		*ct.dst = counter
	}

	var err error
	c.FeedMessages, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_messages_total",
		Help: "Decoded feed messages, labeled by message type.",
	}, []string{"kind"}), "feed_messages_total")
	if err != nil {
		return nil, err
	}
	c.FlightMissions, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flight_missions_total",
		Help: "Drone mission lifecycle events, labeled by event.",
	}, []string{"event"}), "flight_missions_total")
	if err != nil {
		return nil, err
	}
	c.CommandFailures, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "command_failures_total",
		Help: "Failed outbound commands to the backend, labeled by command.",
	}, []string{"command"}), "command_failures_total")
	if err != nil {
		return nil, err
	}
	c.RPCRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "Total number of handled RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "grpc_requests_total")
	if err != nil {
		return nil, err
	}
	c.RPCDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grpc_request_duration_seconds",
		Help:    "RPC latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"service", "method"}), "grpc_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ConsoleCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetFeedConnected updates the connection gauge.
func (c *ConsoleCollector) SetFeedConnected(connected bool) {
	if c == nil || c.FeedConnected == nil {
		return
	}
	if connected {
		c.FeedConnected.Set(1)
	} else {
		c.FeedConnected.Set(0)
	}
}

func (c *ConsoleCollector) IncFeedConnects() {
	if c == nil || c.FeedConnects == nil {
		return
	}
	c.FeedConnects.Inc()
}

func (c *ConsoleCollector) IncFeedReconnectsScheduled() {
	if c == nil || c.FeedReconnectsScheduled == nil {
		return
	}
	c.FeedReconnectsScheduled.Inc()
}

func (c *ConsoleCollector) IncFeedMessages(kind string) {
	if c == nil || c.FeedMessages == nil {
		return
	}
	c.FeedMessages.WithLabelValues(kind).Inc()
}

func (c *ConsoleCollector) IncFeedDecodeErrors() {
	if c == nil || c.FeedDecodeErrors == nil {
		return
	}
	c.FeedDecodeErrors.Inc()
}

// SetFleetCounts is driven by the entity store after every mutation.
func (c *ConsoleCollector) SetFleetCounts(vessels, zoneMembers int) {
	if c == nil {
		return
	}
	if c.FleetVessels != nil {
		c.FleetVessels.Set(float64(vessels))
	}
	if c.FleetZoneMembers != nil {
		c.FleetZoneMembers.Set(float64(zoneMembers))
	}
}

// SetAlertCounts is driven by the alert queue after every mutation.
func (c *ConsoleCollector) SetAlertCounts(logSize, visible, unread int) {
	if c == nil {
		return
	}
	if c.AlertsLogSize != nil {
		c.AlertsLogSize.Set(float64(logSize))
	}
	if c.AlertsVisible != nil {
		c.AlertsVisible.Set(float64(visible))
	}
	if c.AlertsUnread != nil {
		c.AlertsUnread.Set(float64(unread))
	}
}

func (c *ConsoleCollector) IncAlertsShown() {
	if c == nil || c.AlertsShown == nil {
		return
	}
	c.AlertsShown.Inc()
}

func (c *ConsoleCollector) SetFlightPhase(phase int) {
	if c == nil || c.FlightPhase == nil {
		return
	}
	c.FlightPhase.Set(float64(phase))
}

func (c *ConsoleCollector) IncFlightMissions(event string) {
	if c == nil || c.FlightMissions == nil {
		return
	}
	c.FlightMissions.WithLabelValues(event).Inc()
}

// IncCommandFailures counts a failed outbound command such as a drone deploy.
func (c *ConsoleCollector) IncCommandFailures(command string) {
	if c == nil || c.CommandFailures == nil {
		return
	}
	c.CommandFailures.WithLabelValues(command).Inc()
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *ConsoleCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components, returning "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

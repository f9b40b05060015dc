package observability

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/vessel-console/internal/alerts"
	"github.com/signalsfoundry/vessel-console/internal/feed"
	"github.com/signalsfoundry/vessel-console/internal/fleet"
	"github.com/signalsfoundry/vessel-console/internal/flight"
	"github.com/signalsfoundry/vessel-console/internal/logging"
)

var (
	_ feed.MetricsRecorder   = (*ConsoleCollector)(nil)
	_ fleet.MetricsRecorder  = (*ConsoleCollector)(nil)
	_ alerts.MetricsRecorder = (*ConsoleCollector)(nil)
	_ flight.MetricsRecorder = (*ConsoleCollector)(nil)
)

func newTestCollector(t *testing.T) (*ConsoleCollector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	collector, err := NewConsoleCollector(reg)
	if err != nil {
		t.Fatalf("NewConsoleCollector: %v", err)
	}
	return collector, reg
}

func TestRecordersDriveMetrics(t *testing.T) {
	c, _ := newTestCollector(t)

	c.SetFeedConnected(true)
	c.IncFeedConnects()
	c.IncFeedReconnectsScheduled()
	c.IncFeedReconnectsScheduled()
	c.IncFeedMessages("vessel_update")
	c.IncFeedMessages("vessel_update")
	c.IncFeedMessages("zone_alert")
	c.IncFeedDecodeErrors()
	c.SetFleetCounts(12, 3)
	c.SetAlertCounts(20, 5, 7)
	c.IncAlertsShown()
	c.SetFlightPhase(2)
	c.IncFlightMissions("dispatched")
	c.IncCommandFailures("deploy_drone")

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"feed_connected", testutil.ToFloat64(c.FeedConnected), 1},
		{"feed_connects_total", testutil.ToFloat64(c.FeedConnects), 1},
		{"feed_reconnects_scheduled_total", testutil.ToFloat64(c.FeedReconnectsScheduled), 2},
		{"feed_messages_total{vessel_update}", testutil.ToFloat64(c.FeedMessages.WithLabelValues("vessel_update")), 2},
		{"feed_messages_total{zone_alert}", testutil.ToFloat64(c.FeedMessages.WithLabelValues("zone_alert")), 1},
		{"feed_decode_errors_total", testutil.ToFloat64(c.FeedDecodeErrors), 1},
		{"fleet_vessels", testutil.ToFloat64(c.FleetVessels), 12},
		{"fleet_zone_members", testutil.ToFloat64(c.FleetZoneMembers), 3},
		{"alerts_log_size", testutil.ToFloat64(c.AlertsLogSize), 20},
		{"alerts_visible", testutil.ToFloat64(c.AlertsVisible), 5},
		{"alerts_unread", testutil.ToFloat64(c.AlertsUnread), 7},
		{"alerts_shown_total", testutil.ToFloat64(c.AlertsShown), 1},
		{"flight_mission_phase", testutil.ToFloat64(c.FlightPhase), 2},
		{"flight_missions_total{dispatched}", testutil.ToFloat64(c.FlightMissions.WithLabelValues("dispatched")), 1},
		{"command_failures_total{deploy_drone}", testutil.ToFloat64(c.CommandFailures.WithLabelValues("deploy_drone")), 1},
	}
	for _, tc := range checks {
		if tc.got != tc.want {
			t.Fatalf("%s = %v, want %v", tc.name, tc.got, tc.want)
		}
	}

	c.SetFeedConnected(false)
	if got := testutil.ToFloat64(c.FeedConnected); got != 0 {
		t.Fatalf("feed_connected after disconnect = %v, want 0", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *ConsoleCollector
	c.SetFeedConnected(true)
	c.IncFeedMessages("ping")
	c.SetAlertCounts(1, 1, 1)
	c.IncCommandFailures("deploy_drone")

	var l *LoopCollector
	l.ObserveTick(time.Millisecond, 3)
}

func TestRegisteringTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewConsoleCollector(reg)
	if err != nil {
		t.Fatalf("first NewConsoleCollector: %v", err)
	}
	second, err := NewConsoleCollector(reg)
	if err != nil {
		t.Fatalf("second NewConsoleCollector: %v", err)
	}
	second.IncFeedConnects()
	if got := testutil.ToFloat64(first.FeedConnects); got != 1 {
		t.Fatalf("collectors not shared: first feed_connects_total = %v", got)
	}
}

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	c, reg := newTestCollector(t)

	interceptor := c.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	_, err := interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}
	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "unknown service")
	})

	if got := testutil.ToFloat64(c.RPCRequests.WithLabelValues("Health", "Check", "OK")); got != 1 {
		t.Fatalf("grpc_requests_total OK = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.RPCRequests.WithLabelValues("Health", "Check", "NotFound")); got != 1 {
		t.Fatalf("grpc_requests_total NotFound = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "grpc_request_duration_seconds", map[string]string{
		"service": "Health",
		"method":  "Check",
	}); count != 2 {
		t.Fatalf("grpc_request_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestSplitMethod(t *testing.T) {
	cases := []struct {
		in            string
		service, meth string
	}{
		{"/grpc.health.v1.Health/Watch", "Health", "Watch"},
		{"Health/Check", "Health", "Check"},
		{"", "unknown", "unknown"},
		{"/nomethod", "unknown", "unknown"},
	}
	for _, tc := range cases {
		s, m := SplitMethod(tc.in)
		if s != tc.service || m != tc.meth {
			t.Fatalf("SplitMethod(%q) = %q, %q; want %q, %q", tc.in, s, m, tc.service, tc.meth)
		}
	}
}

func TestMetricsHandlerExposesConsoleMetrics(t *testing.T) {
	c, _ := newTestCollector(t)
	c.SetFleetCounts(4, 2)
	c.IncFeedMessages("initial_data")
	c.IncFlightMissions("recalled")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"fleet_vessels 4",
		"fleet_zone_members 2",
		`feed_messages_total{kind="initial_data"} 1`,
		`flight_missions_total{event="recalled"} 1`,
		"alerts_unread",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output:\n%s", metric, body)
		}
	}
}

func TestLoopCollectorCountsSlowTicks(t *testing.T) {
	reg := prometheus.NewRegistry()
	l, err := NewLoopCollector(reg, 16*time.Millisecond)
	if err != nil {
		t.Fatalf("NewLoopCollector: %v", err)
	}

	l.ObserveTick(2*time.Millisecond, 4)
	l.ObserveTick(40*time.Millisecond, 1)

	if got := testutil.ToFloat64(l.Ticks); got != 2 {
		t.Fatalf("event_loop_ticks_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(l.SlowTicks); got != 1 {
		t.Fatalf("event_loop_slow_ticks_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(l.PendingEvents); got != 1 {
		t.Fatalf("event_loop_pending_events = %v, want 1", got)
	}
	if count := histogramSampleCount(t, l.Gatherer(), "event_loop_tick_duration_seconds", nil); count != 2 {
		t.Fatalf("tick histogram sample_count = %d, want 2", count)
	}
}

func TestInitTracingStdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		ServiceName: "console-test",
		Exporter:    "stdout",
		SampleRatio: 1,
		Writer:      &buf,
	}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}

	_, span := otel.Tracer(TracerName).Start(context.Background(), "dispatch_drone")
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, logging.Noop())

	if !strings.Contains(buf.String(), "dispatch_drone") {
		t.Fatalf("span not exported: %s", buf.String())
	}

	// Leave a noop provider behind for other tests.
	if _, err := InitTracing(context.Background(), TracingConfig{}, logging.Noop()); err != nil {
		t.Fatalf("InitTracing disabled: %v", err)
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil)
	if err == nil {
		t.Fatalf("expected an error for an unsupported exporter")
	}
}

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("CONSOLE_TRACING_ENABLED", "TRUE")
	t.Setenv("CONSOLE_TRACING_EXPORTER", "OTLP")
	t.Setenv("CONSOLE_TRACING_ENDPOINT", "collector:4317")
	t.Setenv("CONSOLE_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("CONSOLE_TRACING_SERVICE_NAME", "")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.Endpoint != "collector:4317" || cfg.SampleRatio != 0.25 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.ServiceName != "vessel-console" {
		t.Fatalf("service name = %q, want default", cfg.ServiceName)
	}

	t.Setenv("CONSOLE_TRACING_SAMPLE_RATIO", "7")
	if got := TracingConfigFromEnv().SampleRatio; got != 1 {
		t.Fatalf("out-of-range ratio accepted: %v", got)
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

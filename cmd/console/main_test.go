package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/vessel-console/internal/console"
	"github.com/signalsfoundry/vessel-console/internal/logging"
	"github.com/signalsfoundry/vessel-console/internal/observability"
	"github.com/signalsfoundry/vessel-console/internal/sched"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	want := console.DefaultConfig()
	if cfg.Feed.URL != want.Feed.URL || cfg.API.BaseURL != want.API.BaseURL {
		t.Fatalf("endpoints = %q %q, want defaults", cfg.Feed.URL, cfg.API.BaseURL)
	}
	if cfg.Feed.ReconnectDelay != 3*time.Second || cfg.Alerts.VisibleLimit != want.Alerts.VisibleLimit {
		t.Fatalf("timings not defaulted: %+v", cfg)
	}
	if cfg.Base() != want.Base() {
		t.Fatalf("base = %+v, want %+v", cfg.Base(), want.Base())
	}
}

func TestLoadConfigFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "console.yaml")
	yaml := `
feed:
  url: wss://tracker.example.org/ws/vessels/
  reconnect_delay: 5s
alerts:
  visible_limit: 5
flight:
  base_lat: 59.33
  base_lng: 18.07
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("CONSOLE_API_BASE_URL", "https://tracker.example.org/api")
	t.Setenv("CONSOLE_ALERTS_EXPIRY", "15s")

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Feed.URL != "wss://tracker.example.org/ws/vessels/" || cfg.Feed.ReconnectDelay != 5*time.Second {
		t.Fatalf("file values not applied: %+v", cfg.Feed)
	}
	if cfg.Alerts.VisibleLimit != 5 || cfg.Alerts.Expiry != 15*time.Second {
		t.Fatalf("alerts = %+v", cfg.Alerts)
	}
	if cfg.API.BaseURL != "https://tracker.example.org/api" {
		t.Fatalf("env override not applied: %q", cfg.API.BaseURL)
	}
	if cfg.Base().Lat != 59.33 || cfg.Base().Lng != 18.07 {
		t.Fatalf("base = %+v", cfg.Base())
	}
}

func TestLoadConfigErrors(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("missing config file accepted")
	}

	t.Setenv("CONSOLE_FEED_URL", "http://not-a-websocket")
	t.Setenv("CONSOLE_ALERTS_VISIBLE_LIMIT", "0")
	_, err := loadConfig("")
	if err == nil {
		t.Fatalf("invalid config accepted")
	}
	for _, want := range []string{"feed.url", "alerts.visible_limit"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadConfigTracingFromEnvironment(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("CONSOLE_TRACING_ENABLED", "true")
	t.Setenv("CONSOLE_TRACING_EXPORTER", "otlp")

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if !cfg.Tracing.Enabled || cfg.Tracing.Exporter != "otlp" || cfg.Tracing.ServiceName != "vessel-console" {
		t.Fatalf("tracing = %+v", cfg.Tracing)
	}
}

func TestEventLoopRunsDueEventsAndRecordsTick(t *testing.T) {
	s := sched.NewFakeEventScheduler(time.Unix(0, 0))
	metrics, err := observability.NewLoopCollector(prometheus.NewRegistry(), time.Hour)
	if err != nil {
		t.Fatalf("NewLoopCollector: %v", err)
	}

	ran := 0
	s.Schedule(s.Now(), func() { ran++ })
	s.Schedule(s.Now().Add(time.Minute), func() { ran++ })

	tick := eventLoop(s, metrics)
	tick(s.Now())

	if ran != 1 {
		t.Fatalf("ran %d events, want 1", ran)
	}
	if got := testutil.ToFloat64(metrics.Ticks); got != 1 {
		t.Fatalf("ticks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.PendingEvents); got != 1 {
		t.Fatalf("pending = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.SlowTicks); got != 0 {
		t.Fatalf("slow ticks = %v, want 0", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer backend.Close()

	cfg := console.DefaultConfig()
	cfg.Feed.URL = "ws://127.0.0.1:1/ws/vessels/"
	cfg.API.BaseURL = backend.URL + "/api"
	cfg.HTTP.Listen = "127.0.0.1:0"
	cfg.GRPC.Listen = "127.0.0.1:0"
	cfg.Tracing.Enabled = false

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, logging.Noop()) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}

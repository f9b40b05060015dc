package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/signalsfoundry/vessel-console/internal/console"
	"github.com/signalsfoundry/vessel-console/internal/logging"
	"github.com/signalsfoundry/vessel-console/internal/observability"
)

// envPrefix namespaces environment overrides, e.g. CONSOLE_FEED_URL.
const envPrefix = "CONSOLE"

// loadConfig layers defaults, an optional JSON or YAML file and CONSOLE_*
// environment variables. An empty path falls back to $CONFIG_FILE; with
// neither set only defaults and the environment apply.
func loadConfig(path string) (console.Config, error) {
	v := viper.New()
	setDefaults(v, console.DefaultConfig())
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return console.Config{}, fmt.Errorf("config file %s does not exist", path)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return console.Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg console.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return console.Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return console.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it. Tracing
// defaults come from the CONSOLE_TRACING_* variables.
func setDefaults(v *viper.Viper, cfg console.Config) {
	tracing := observability.TracingConfigFromEnv()
	defaults := map[string]any{
		"feed.url":               cfg.Feed.URL,
		"feed.reconnect_delay":   cfg.Feed.ReconnectDelay,
		"feed.keepalive":         cfg.Feed.Keepalive,
		"feed.snapshot_fallback": cfg.Feed.SnapshotFallback,

		"api.base_url": cfg.API.BaseURL,
		"api.timeout":  cfg.API.Timeout,

		"alerts.poll_interval": cfg.Alerts.PollInterval,
		"alerts.visible_limit": cfg.Alerts.VisibleLimit,
		"alerts.expiry":        cfg.Alerts.Expiry,
		"alerts.seen_capacity": cfg.Alerts.SeenCapacity,
		"alerts.fetch_limit":   cfg.Alerts.FetchLimit,

		"flight.base_lat":       cfg.Flight.BaseLat,
		"flight.base_lng":       cfg.Flight.BaseLng,
		"flight.frame_interval": cfg.Flight.FrameInterval,

		"http.listen": cfg.HTTP.Listen,
		"grpc.listen": cfg.GRPC.Listen,

		"log.level":       cfg.Log.Level,
		"log.format":      cfg.Log.Format,
		"log.file":        cfg.Log.File,
		"log.max_size_mb": cfg.Log.MaxSizeMB,
		"log.max_backups": cfg.Log.MaxBackups,

		"tracing.enabled":      tracing.Enabled,
		"tracing.service_name": tracing.ServiceName,
		"tracing.exporter":     tracing.Exporter,
		"tracing.endpoint":     tracing.Endpoint,
		"tracing.sample_ratio": tracing.SampleRatio,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

func newLogger(cfg console.Config) logging.Logger {
	return logging.New(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
}

package console

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/signalsfoundry/vessel-console/internal/alerts"
	"github.com/signalsfoundry/vessel-console/internal/api"
	"github.com/signalsfoundry/vessel-console/internal/feed"
	"github.com/signalsfoundry/vessel-console/internal/flight"
	"github.com/signalsfoundry/vessel-console/internal/observability"
	"github.com/signalsfoundry/vessel-console/model"
)

const (
	// DefaultKeepalive is how often a ping is sent on an open feed.
	DefaultKeepalive = 30 * time.Second
	// DefaultSnapshotFallback is how long Start waits for the feed snapshot
	// before loading the vessel list over REST.
	DefaultSnapshotFallback = 10 * time.Second
)

// Config defines the console's configuration. It is decoded by viper from a
// JSON or YAML file plus CONSOLE_ environment overrides.
type Config struct {
	Feed struct {
		URL            string        `mapstructure:"url"`
		ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
		Keepalive      time.Duration `mapstructure:"keepalive"`

		// SnapshotFallback of 0 disables the REST cold-start load.
		SnapshotFallback time.Duration `mapstructure:"snapshot_fallback"`
	} `mapstructure:"feed"`
	API struct {
		BaseURL string        `mapstructure:"base_url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"api"`
	Alerts struct {
		PollInterval time.Duration `mapstructure:"poll_interval"`
		VisibleLimit int           `mapstructure:"visible_limit"`
		Expiry       time.Duration `mapstructure:"expiry"`
		SeenCapacity int           `mapstructure:"seen_capacity"`
		FetchLimit   int           `mapstructure:"fetch_limit"`
	} `mapstructure:"alerts"`
	Flight struct {
		BaseLat       float64       `mapstructure:"base_lat"`
		BaseLng       float64       `mapstructure:"base_lng"`
		FrameInterval time.Duration `mapstructure:"frame_interval"`
	} `mapstructure:"flight"`
	HTTP struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"http"`
	GRPC struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"grpc"`
	Log struct {
		Level      string `mapstructure:"level"`
		Format     string `mapstructure:"format"`
		File       string `mapstructure:"file"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
	} `mapstructure:"log"`
	Tracing observability.TracingConfig `mapstructure:"tracing"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	var cfg Config
	cfg.Feed.URL = "ws://localhost:8000/ws/vessels/"
	cfg.Feed.ReconnectDelay = feed.DefaultReconnectDelay
	cfg.Feed.Keepalive = DefaultKeepalive
	cfg.Feed.SnapshotFallback = DefaultSnapshotFallback
	cfg.API.BaseURL = "http://localhost:8000/api"
	cfg.API.Timeout = api.DefaultTimeout
	cfg.Alerts.PollInterval = alerts.DefaultPollInterval
	cfg.Alerts.VisibleLimit = alerts.DefaultVisibleLimit
	cfg.Alerts.Expiry = alerts.DefaultExpiry
	cfg.Alerts.FetchLimit = api.DefaultAlertLimit
	cfg.Flight.BaseLat = flight.DefaultBase.Lat
	cfg.Flight.BaseLng = flight.DefaultBase.Lng
	cfg.Flight.FrameInterval = flight.DefaultFrameInterval
	cfg.HTTP.Listen = ":8080"
	cfg.GRPC.Listen = ":50051"
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Tracing.ServiceName = "vessel-console"
	cfg.Tracing.Exporter = "stdout"
	cfg.Tracing.SampleRatio = 1
	return cfg
}

// Base returns the configured drone base.
func (c Config) Base() model.LatLng {
	return model.LatLng{Lat: c.Flight.BaseLat, Lng: c.Flight.BaseLng}
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error
	if err := checkURL(c.Feed.URL, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Errorf("feed.url: %w", err))
	}
	if err := checkURL(c.API.BaseURL, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("api.base_url: %w", err))
	}
	if c.Feed.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("feed.reconnect_delay must be positive"))
	}
	if c.Feed.Keepalive < 0 {
		errs = append(errs, errors.New("feed.keepalive must not be negative"))
	}
	if c.Feed.SnapshotFallback < 0 {
		errs = append(errs, errors.New("feed.snapshot_fallback must not be negative"))
	}
	if c.Alerts.PollInterval <= 0 {
		errs = append(errs, errors.New("alerts.poll_interval must be positive"))
	}
	if c.Alerts.VisibleLimit <= 0 {
		errs = append(errs, errors.New("alerts.visible_limit must be positive"))
	}
	if c.Alerts.Expiry <= 0 {
		errs = append(errs, errors.New("alerts.expiry must be positive"))
	}
	if c.Alerts.SeenCapacity < 0 {
		errs = append(errs, errors.New("alerts.seen_capacity must not be negative"))
	}
	if c.Flight.FrameInterval <= 0 {
		errs = append(errs, errors.New("flight.frame_interval must be positive"))
	}
	if c.Flight.BaseLat < -90 || c.Flight.BaseLat > 90 || c.Flight.BaseLng < -180 || c.Flight.BaseLng > 180 {
		errs = append(errs, fmt.Errorf("flight base (%v, %v) is not a coordinate", c.Flight.BaseLat, c.Flight.BaseLng))
	}
	return errors.Join(errs...)
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%q must be an absolute %v url", raw, schemes)
}

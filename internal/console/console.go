// Package console coordinates the operator console core: it routes live feed
// messages into the entity store and alert queue, relays operator commands
// to the backend and the flight controller, and serves the command surface
// over HTTP and gRPC health.
package console

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/health"

	"github.com/signalsfoundry/vessel-console/internal/alerts"
	"github.com/signalsfoundry/vessel-console/internal/api"
	"github.com/signalsfoundry/vessel-console/internal/feed"
	"github.com/signalsfoundry/vessel-console/internal/fleet"
	"github.com/signalsfoundry/vessel-console/internal/flight"
	"github.com/signalsfoundry/vessel-console/internal/logging"
	"github.com/signalsfoundry/vessel-console/internal/observability"
	"github.com/signalsfoundry/vessel-console/internal/sched"
	"github.com/signalsfoundry/vessel-console/model"
)

var (
	// ErrNoSelection is returned by commands that act on the selected vessel
	// when nothing is selected or the selection is not in the store.
	ErrNoSelection = errors.New("no vessel selected")
	// ErrNoPosition is returned when the selected vessel has never reported
	// a position.
	ErrNoPosition = errors.New("selected vessel has no known position")
	// ErrNoMission is returned when recalling with no active mission.
	ErrNoMission = errors.New("no active mission")
)

// Backend is the subset of the REST client the console uses.
type Backend interface {
	alerts.AlertFetcher
	FetchVessels(ctx context.Context) ([]model.Vessel, error)
	FetchVessel(ctx context.Context, id model.VesselID) (api.VesselDetail, error)
	FetchVesselHistory(ctx context.Context, id model.VesselID, limit int) ([]model.PositionFix, error)
	FetchZones(ctx context.Context) ([]model.Zone, error)
	CreateZone(ctx context.Context, in api.ZoneInput) (model.Zone, error)
	UpdateZone(ctx context.Context, id model.ZoneID, in api.ZoneInput) (model.Zone, error)
	DeleteZone(ctx context.Context, id model.ZoneID) error
	DeployDrone(ctx context.Context, vesselID model.VesselID) (model.DroneDeployment, error)
	FetchDrones(ctx context.Context) ([]model.DroneDeployment, error)
}

// Metrics is everything the console and its components record.
type Metrics interface {
	feed.MetricsRecorder
	fleet.MetricsRecorder
	alerts.MetricsRecorder
	flight.MetricsRecorder
	IncCommandFailures(command string)
}

// Option customises a Console.
type Option func(*Console)

// WithMetrics wires a recorder into every component.
func WithMetrics(m Metrics) Option {
	return func(c *Console) { c.metrics = m }
}

// WithFeedDialer replaces the websocket dialer of the feed client.
func WithFeedDialer(d feed.Dialer) Option {
	return func(c *Console) { c.dialer = d }
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Console) {
		if t != nil {
			c.tracer = t
		}
	}
}

// Status is the console summary shown in the header bar.
type Status struct {
	Connected    bool            `json:"connected"`
	Vessels      int             `json:"vessels"`
	ZoneMembers  int             `json:"zone_members"`
	Alerts       int             `json:"alerts"`
	Unread       int             `json:"unread"`
	Visible      int             `json:"visible"`
	Selected     model.VesselID  `json:"selected,omitempty"`
	FlightStatus string          `json:"flight_status"`
	Mission      *flight.Mission `json:"mission,omitempty"`
}

// Console wires the feed, store, alert queue, poller and flight controller
// together. Construct with New, then Start.
type Console struct {
	cfg     Config
	log     logging.Logger
	sched   sched.EventScheduler
	backend Backend
	metrics Metrics
	dialer  feed.Dialer
	tracer  trace.Tracer

	feed   *feed.Client
	store  *fleet.Store
	queue  *alerts.Queue
	poller *alerts.Poller
	flight *flight.Controller
	health *health.Server

	mu          sync.Mutex
	zones       []model.Zone
	statusFns   []func(bool)
	keepaliveID string
	snapshotID  string
	started     bool
	stopped     bool
}

// New builds the console and its components. Nothing runs until Start.
func New(cfg Config, s sched.EventScheduler, backend Backend, log logging.Logger, opts ...Option) *Console {
	if log == nil {
		log = logging.Noop()
	}
	c := &Console{
		cfg:     cfg,
		log:     log.With(logging.String("component", "console")),
		sched:   s,
		backend: backend,
		tracer:  otel.Tracer(observability.TracerName),
	}
	for _, opt := range opts {
		opt(c)
	}

	feedOpts := []feed.Option{
		feed.WithReconnectDelay(cfg.Feed.ReconnectDelay),
		feed.WithStatusListener(c.onFeedStatus),
	}
	storeOpts := []fleet.Option{}
	queueOpts := []alerts.Option{
		alerts.WithVisibleLimit(cfg.Alerts.VisibleLimit),
		alerts.WithExpiry(cfg.Alerts.Expiry),
		alerts.WithSeenCapacity(cfg.Alerts.SeenCapacity),
		alerts.WithDedupeWindow(cfg.Alerts.FetchLimit),
	}
	flightOpts := []flight.Option{flight.WithFrameInterval(cfg.Flight.FrameInterval)}
	if c.dialer != nil {
		feedOpts = append(feedOpts, feed.WithDialer(c.dialer))
	}
	if c.metrics != nil {
		feedOpts = append(feedOpts, feed.WithMetrics(c.metrics))
		storeOpts = append(storeOpts, fleet.WithMetricsRecorder(c.metrics))
		queueOpts = append(queueOpts, alerts.WithMetricsRecorder(c.metrics))
		flightOpts = append(flightOpts, flight.WithMetricsRecorder(c.metrics))
	}

	c.feed = feed.NewClient(cfg.Feed.URL, s, log, feedOpts...)
	c.store = fleet.NewStore(log, storeOpts...)
	c.queue = alerts.NewQueue(s, log, queueOpts...)
	c.poller = alerts.NewPoller(backend, c.queue, s, log,
		alerts.WithInterval(cfg.Alerts.PollInterval),
		alerts.WithFetchLimit(cfg.Alerts.FetchLimit),
	)
	c.flight = flight.NewController(s, log, flightOpts...)
	c.feed.OnMessage(c.handleMessage)
	return c
}

// Store returns the entity store.
func (c *Console) Store() *fleet.Store { return c.store }

// Alerts returns the alert queue.
func (c *Console) Alerts() *alerts.Queue { return c.queue }

// Flight returns the flight controller.
func (c *Console) Flight() *flight.Controller { return c.flight }

// Connected reports whether the live feed is open.
func (c *Console) Connected() bool { return c.feed.Connected() }

// Start opens the feed, starts alert polling and loads the zone list. The
// zone load runs in the background; a failure is logged.
func (c *Console) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return feed.ErrStopped
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.scheduleKeepaliveLocked()
	if d := c.cfg.Feed.SnapshotFallback; d > 0 {
		c.snapshotID = c.sched.Schedule(c.sched.Now().Add(d), func() { c.snapshotFallback(ctx) })
	}
	c.mu.Unlock()

	if err := c.feed.Start(ctx); err != nil {
		return err
	}
	c.poller.Start(ctx)

	go func() {
		if err := c.RefreshZones(ctx); err != nil {
			c.log.Warn(ctx, "initial zone load failed", logging.Err(err))
		}
	}()

	c.log.Info(ctx, "console started",
		logging.String("feed_url", c.cfg.Feed.URL),
		logging.String("api_base_url", c.cfg.API.BaseURL),
	)
	return nil
}

// Stop tears everything down: the reconnect timer, the refresh timer, alert
// expiry timers and the animation frame request are all cancelled.
func (c *Console) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	if c.keepaliveID != "" {
		c.sched.Cancel(c.keepaliveID)
		c.keepaliveID = ""
	}
	if c.snapshotID != "" {
		c.sched.Cancel(c.snapshotID)
		c.snapshotID = ""
	}
	hs := c.health
	c.mu.Unlock()

	c.feed.Stop()
	c.poller.Stop()
	c.queue.Stop()
	c.flight.Stop()
	if hs != nil {
		hs.Shutdown()
	}
	c.log.Info(context.Background(), "console stopped")
}

// OnFeedStatus registers an observer of feed connectivity changes.
func (c *Console) OnFeedStatus(fn func(connected bool)) {
	c.mu.Lock()
	c.statusFns = append(c.statusFns, fn)
	c.mu.Unlock()
}

func (c *Console) onFeedStatus(connected bool) {
	c.mu.Lock()
	fns := append([]func(bool){}, c.statusFns...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(connected)
	}
}

// handleMessage runs on the event loop for every decoded feed message.
func (c *Console) handleMessage(msg feed.Message) {
	switch msg.Type {
	case feed.KindInitialData, feed.KindVesselUpdate:
		c.store.HandleMessage(msg)
	case feed.KindZoneAlert:
		c.store.HandleMessage(msg)
		if msg.Alert != nil {
			c.queue.Append(*msg.Alert)
		}
	case feed.KindPong, feed.KindPing, feed.KindDroneUpdate:
		// Nothing the console tracks.
	default:
		c.log.Debug(context.Background(), "ignoring feed message", logging.String("type", string(msg.Type)))
	}
}

// snapshotFallback loads the vessel list over REST when the feed has not
// delivered a snapshot in time. The result is dropped if the feed catches up
// before it lands.
func (c *Console) snapshotFallback(ctx context.Context) {
	c.mu.Lock()
	c.snapshotID = ""
	stopped := c.stopped
	c.mu.Unlock()
	if stopped || c.store.Len() > 0 {
		return
	}

	go func() {
		vessels, err := c.backend.FetchVessels(ctx)
		if err != nil {
			c.commandFailed(ctx, "fetch_vessels", err)
			return
		}
		c.sched.Schedule(c.sched.Now(), func() {
			c.mu.Lock()
			stopped := c.stopped
			c.mu.Unlock()
			if stopped || c.store.Len() > 0 {
				return
			}
			c.store.ApplySnapshot(vessels)
			c.log.Info(ctx, "vessel list loaded without the feed", logging.Int("vessels", len(vessels)))
		})
	}()
}

func (c *Console) scheduleKeepaliveLocked() {
	if c.cfg.Feed.Keepalive <= 0 || c.stopped {
		return
	}
	c.keepaliveID = c.sched.Schedule(c.sched.Now().Add(c.cfg.Feed.Keepalive), c.keepalive)
}

func (c *Console) keepalive() {
	c.mu.Lock()
	c.keepaliveID = ""
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.scheduleKeepaliveLocked()
	c.mu.Unlock()

	if !c.feed.Connected() {
		return
	}
	go func() {
		if err := c.feed.Ping(); err != nil && !errors.Is(err, feed.ErrNotConnected) {
			c.log.Warn(context.Background(), "feed keepalive failed", logging.Err(err))
		}
	}()
}

// DispatchToSelected sends the drone from base to the selected vessel. The
// backend is told first; if that fails the failure is logged and counted
// and the local mission is flown anyway.
func (c *Console) DispatchToSelected(ctx context.Context) (flight.Mission, error) {
	ctx, span := c.tracer.Start(ctx, "console.DispatchToSelected")
	defer span.End()
	log := logging.FromContext(ctx, c.log)

	v, ok := c.store.Selected()
	if !ok {
		span.SetStatus(codes.Error, ErrNoSelection.Error())
		return flight.Mission{}, ErrNoSelection
	}
	span.SetAttributes(
		attribute.String("vessel.id", string(v.ID)),
		attribute.String("vessel.name", v.Name),
	)
	if !v.Located {
		span.SetStatus(codes.Error, ErrNoPosition.Error())
		return flight.Mission{}, ErrNoPosition
	}

	if _, err := c.backend.DeployDrone(ctx, v.ID); err != nil {
		c.commandFailed(ctx, "deploy_drone", err, logging.String("vessel_id", string(v.ID)))
		span.RecordError(err)
	}

	m := c.flight.Dispatch(c.cfg.Base(), v.Position(), v.Name)
	span.SetAttributes(
		attribute.String("mission.id", m.ID),
		attribute.Float64("mission.distance_km", m.DistanceKm),
	)
	log.Info(ctx, "dispatched drone to selected vessel",
		logging.String("vessel_id", string(v.ID)),
		logging.String("mission_id", m.ID),
	)
	return m, nil
}

// CancelMission recalls the drone.
func (c *Console) CancelMission(ctx context.Context) (flight.Mission, error) {
	_, span := c.tracer.Start(ctx, "console.CancelMission")
	defer span.End()
	if !c.flight.Cancel() {
		span.SetStatus(codes.Error, ErrNoMission.Error())
		return flight.Mission{}, ErrNoMission
	}
	m, _ := c.flight.Mission()
	span.SetAttributes(attribute.String("mission.id", m.ID))
	return m, nil
}

// Status summarises the console state.
func (c *Console) Status() Status {
	st := Status{
		Connected:    c.feed.Connected(),
		Vessels:      c.store.Len(),
		ZoneMembers:  len(c.store.ZoneMembers()),
		Alerts:       len(c.queue.Log()),
		Unread:       c.queue.UnreadCount(),
		Visible:      len(c.queue.Visible()),
		Selected:     c.store.SelectedID(),
		FlightStatus: flight.PhaseIdle.Label(),
	}
	if m, ok := c.flight.Mission(); ok {
		st.Mission = &m
		st.FlightStatus = m.Phase.Label()
	}
	return st
}

// VesselDetail fetches a vessel and its recent positions from the backend.
func (c *Console) VesselDetail(ctx context.Context, id model.VesselID) (api.VesselDetail, error) {
	return c.backend.FetchVessel(ctx, id)
}

// VesselHistory fetches the position trail for a vessel.
func (c *Console) VesselHistory(ctx context.Context, id model.VesselID, limit int) ([]model.PositionFix, error) {
	return c.backend.FetchVesselHistory(ctx, id, limit)
}

// Drones lists the backend's deployment records.
func (c *Console) Drones(ctx context.Context) ([]model.DroneDeployment, error) {
	return c.backend.FetchDrones(ctx)
}

// Zones returns the cached zone list ordered by name.
func (c *Console) Zones() []model.Zone {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Zone(nil), c.zones...)
}

// RefreshZones reloads the zone list from the backend.
func (c *Console) RefreshZones(ctx context.Context) error {
	zones, err := c.backend.FetchZones(ctx)
	if err != nil {
		return err
	}
	sort.SliceStable(zones, func(i, j int) bool { return zones[i].Name < zones[j].Name })
	c.mu.Lock()
	c.zones = zones
	c.mu.Unlock()
	return nil
}

// CreateZone creates a zone and reloads the zone list.
func (c *Console) CreateZone(ctx context.Context, in api.ZoneInput) (model.Zone, error) {
	z, err := c.backend.CreateZone(ctx, in)
	if err != nil {
		c.commandFailed(ctx, "create_zone", err)
		return model.Zone{}, err
	}
	c.refreshAfterWrite(ctx)
	return z, nil
}

// UpdateZone renames or reshapes a zone and reloads the zone list.
func (c *Console) UpdateZone(ctx context.Context, id model.ZoneID, in api.ZoneInput) (model.Zone, error) {
	z, err := c.backend.UpdateZone(ctx, id, in)
	if err != nil {
		c.commandFailed(ctx, "update_zone", err, logging.String("zone_id", string(id)))
		return model.Zone{}, err
	}
	c.refreshAfterWrite(ctx)
	return z, nil
}

// DeleteZone deletes a zone and drops it from the cached list.
func (c *Console) DeleteZone(ctx context.Context, id model.ZoneID) error {
	if err := c.backend.DeleteZone(ctx, id); err != nil {
		c.commandFailed(ctx, "delete_zone", err, logging.String("zone_id", string(id)))
		return err
	}
	c.mu.Lock()
	kept := c.zones[:0]
	for _, z := range c.zones {
		if z.ID != id {
			kept = append(kept, z)
		}
	}
	c.zones = kept
	c.mu.Unlock()
	return nil
}

func (c *Console) refreshAfterWrite(ctx context.Context) {
	if err := c.RefreshZones(ctx); err != nil {
		logging.FromContext(ctx, c.log).Warn(ctx, "zone list refresh failed", logging.Err(err))
	}
}

func (c *Console) commandFailed(ctx context.Context, command string, err error, fields ...logging.Field) {
	if c.metrics != nil {
		c.metrics.IncCommandFailures(command)
	}
	fields = append(fields, logging.String("command", command), logging.Err(err))
	logging.FromContext(ctx, c.log).Warn(ctx, "backend command failed", fields...)
}

package console

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/signalsfoundry/vessel-console/internal/api"
	"github.com/signalsfoundry/vessel-console/internal/flight"
	"github.com/signalsfoundry/vessel-console/internal/logging"
	"github.com/signalsfoundry/vessel-console/model"
)

// ErrResponse is the JSON error body of every failed command.
type ErrResponse struct {
	Err            error `json:"-"`
	HTTPStatusCode int   `json:"-"`

	ErrorText string `json:"error"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func errInvalidRequest(err error) render.Renderer {
	return &ErrResponse{Err: err, HTTPStatusCode: http.StatusBadRequest, ErrorText: err.Error()}
}

func errNotFound(err error) render.Renderer {
	return &ErrResponse{Err: err, HTTPStatusCode: http.StatusNotFound, ErrorText: err.Error()}
}

func errConflict(err error) render.Renderer {
	return &ErrResponse{Err: err, HTTPStatusCode: http.StatusConflict, ErrorText: err.Error()}
}

func errUnprocessable(err error) render.Renderer {
	return &ErrResponse{Err: err, HTTPStatusCode: http.StatusUnprocessableEntity, ErrorText: err.Error()}
}

// errBackend maps a failed backend call: backend 4xx statuses are passed
// through, everything else is a bad gateway.
func errBackend(err error) render.Renderer {
	status := http.StatusBadGateway
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		status = apiErr.StatusCode
	}
	return &ErrResponse{Err: err, HTTPStatusCode: status, ErrorText: err.Error()}
}

// AlertView is an alert with its read flag.
type AlertView struct {
	model.Alert
	Read bool `json:"read"`
}

// MissionView is the drone status bar.
type MissionView struct {
	Status  string          `json:"status"`
	Mission *flight.Mission `json:"mission"`
}

// Router returns the HTTP command surface. metrics, when non-nil, is mounted
// at /metrics.
func (c *Console) Router(metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(c.requestContext)
	r.Use(middleware.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/status", c.apiStatus)

	r.Route("/vessels", func(r chi.Router) {
		r.Get("/", c.apiVesselList)
		r.Route("/{vesselID}", func(r chi.Router) {
			r.Get("/", c.apiVesselGet)
			r.Get("/detail", c.apiVesselDetail)
			r.Get("/history", c.apiVesselHistory)
			r.Post("/select", c.apiVesselSelect)
		})
	})

	r.Route("/selection", func(r chi.Router) {
		r.Get("/", c.apiSelectionGet)
		r.Delete("/", c.apiSelectionClear)
	})

	r.Route("/zones", func(r chi.Router) {
		r.Get("/", c.apiZoneList)
		r.Post("/", c.apiZoneCreate)
		r.Patch("/{zoneID}", c.apiZoneUpdate)
		r.Delete("/{zoneID}", c.apiZoneDelete)
	})

	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", c.apiAlertLog)
		r.Get("/visible", c.apiAlertVisible)
		r.Post("/read-all", c.apiAlertReadAll)
		r.Post("/{alertID}/dismiss", c.apiAlertDismiss)
		r.Post("/{alertID}/read", c.apiAlertRead)
	})

	r.Route("/mission", func(r chi.Router) {
		r.Get("/", c.apiMissionGet)
		r.Post("/", c.apiMissionDispatch)
		r.Delete("/", c.apiMissionCancel)
	})
	r.Get("/drones", c.apiDroneList)

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}

// requestContext tags each request with a request id and a logger, and logs
// the outcome at debug level.
func (c *Console) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if incoming := r.Header.Get(logging.RequestIDHeader); incoming != "" {
			ctx = logging.ContextWithRequestID(ctx, incoming)
		}
		ctx, id := logging.EnsureRequestID(ctx)
		reqLog := c.log.With(
			logging.String("http_method", r.Method),
			logging.String("path", r.URL.Path),
		)
		ctx = logging.ContextWithLogger(ctx, reqLog)
		w.Header().Set(logging.RequestIDHeader, id)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))
		reqLog.Debug(ctx, "http request",
			logging.Int("status", ww.Status()),
			logging.Duration("elapsed", time.Since(start)),
		)
	})
}

func (c *Console) apiStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, c.Status())
}

func (c *Console) apiVesselList(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, c.store.List())
}

func (c *Console) apiVesselGet(w http.ResponseWriter, r *http.Request) {
	id := model.VesselID(chi.URLParam(r, "vesselID"))
	v, ok := c.store.Get(id)
	if !ok {
		render.Render(w, r, errNotFound(errors.New("vessel not found")))
		return
	}
	render.JSON(w, r, v)
}

func (c *Console) apiVesselDetail(w http.ResponseWriter, r *http.Request) {
	id := model.VesselID(chi.URLParam(r, "vesselID"))
	detail, err := c.VesselDetail(r.Context(), id)
	if err != nil {
		render.Render(w, r, errBackend(err))
		return
	}
	render.JSON(w, r, detail)
}

func (c *Console) apiVesselHistory(w http.ResponseWriter, r *http.Request) {
	id := model.VesselID(chi.URLParam(r, "vesselID"))
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			render.Render(w, r, errInvalidRequest(errors.New("limit must be a positive integer")))
			return
		}
		limit = n
	}
	fixes, err := c.VesselHistory(r.Context(), id, limit)
	if err != nil {
		render.Render(w, r, errBackend(err))
		return
	}
	if fixes == nil {
		fixes = []model.PositionFix{}
	}
	render.JSON(w, r, fixes)
}

func (c *Console) apiVesselSelect(w http.ResponseWriter, r *http.Request) {
	id := model.VesselID(chi.URLParam(r, "vesselID"))
	c.store.Select(id)
	v, ok := c.store.Selected()
	if !ok {
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, map[string]any{"selected": id})
		return
	}
	render.JSON(w, r, v)
}

func (c *Console) apiSelectionGet(w http.ResponseWriter, r *http.Request) {
	v, ok := c.store.Selected()
	if !ok {
		render.Render(w, r, errNotFound(ErrNoSelection))
		return
	}
	render.JSON(w, r, v)
}

func (c *Console) apiSelectionClear(w http.ResponseWriter, r *http.Request) {
	c.store.ClearSelection()
	w.WriteHeader(http.StatusNoContent)
}

func (c *Console) apiZoneList(w http.ResponseWriter, r *http.Request) {
	zones := c.Zones()
	if zones == nil {
		zones = []model.Zone{}
	}
	render.JSON(w, r, zones)
}

func (c *Console) apiZoneCreate(w http.ResponseWriter, r *http.Request) {
	var in api.ZoneInput
	if err := render.DecodeJSON(r.Body, &in); err != nil {
		render.Render(w, r, errInvalidRequest(err))
		return
	}
	if in.Name == "" || in.Polygon == nil {
		render.Render(w, r, errInvalidRequest(errors.New("name and polygon are required")))
		return
	}
	z, err := c.CreateZone(r.Context(), in)
	if err != nil {
		render.Render(w, r, errBackend(err))
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, z)
}

func (c *Console) apiZoneUpdate(w http.ResponseWriter, r *http.Request) {
	var in api.ZoneInput
	if err := render.DecodeJSON(r.Body, &in); err != nil {
		render.Render(w, r, errInvalidRequest(err))
		return
	}
	z, err := c.UpdateZone(r.Context(), model.ZoneID(chi.URLParam(r, "zoneID")), in)
	if err != nil {
		render.Render(w, r, errBackend(err))
		return
	}
	render.JSON(w, r, z)
}

func (c *Console) apiZoneDelete(w http.ResponseWriter, r *http.Request) {
	if err := c.DeleteZone(r.Context(), model.ZoneID(chi.URLParam(r, "zoneID"))); err != nil {
		render.Render(w, r, errBackend(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Console) apiAlertLog(w http.ResponseWriter, r *http.Request) {
	log := c.queue.Log()
	out := make([]AlertView, 0, len(log))
	// Newest first, as the alert list is shown.
	for i := len(log) - 1; i >= 0; i-- {
		out = append(out, AlertView{Alert: log[i], Read: c.queue.IsRead(log[i].ID)})
	}
	render.JSON(w, r, out)
}

func (c *Console) apiAlertVisible(w http.ResponseWriter, r *http.Request) {
	visible := c.queue.Visible()
	if visible == nil {
		visible = []model.Alert{}
	}
	render.JSON(w, r, visible)
}

func (c *Console) apiAlertDismiss(w http.ResponseWriter, r *http.Request) {
	if !c.queue.Dismiss(model.AlertID(chi.URLParam(r, "alertID"))) {
		render.Render(w, r, errNotFound(errors.New("alert is not visible")))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Console) apiAlertRead(w http.ResponseWriter, r *http.Request) {
	c.queue.MarkRead(model.AlertID(chi.URLParam(r, "alertID")))
	w.WriteHeader(http.StatusNoContent)
}

func (c *Console) apiAlertReadAll(w http.ResponseWriter, r *http.Request) {
	c.queue.MarkAllRead()
	w.WriteHeader(http.StatusNoContent)
}

func (c *Console) apiMissionGet(w http.ResponseWriter, r *http.Request) {
	view := MissionView{Status: flight.PhaseIdle.Label()}
	if m, ok := c.flight.Mission(); ok {
		view.Status = m.Phase.Label()
		view.Mission = &m
	}
	render.JSON(w, r, view)
}

func (c *Console) apiMissionDispatch(w http.ResponseWriter, r *http.Request) {
	m, err := c.DispatchToSelected(r.Context())
	switch {
	case errors.Is(err, ErrNoSelection):
		render.Render(w, r, errConflict(err))
		return
	case errors.Is(err, ErrNoPosition):
		render.Render(w, r, errUnprocessable(err))
		return
	case err != nil:
		render.Render(w, r, errBackend(err))
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, MissionView{Status: m.Phase.Label(), Mission: &m})
}

func (c *Console) apiMissionCancel(w http.ResponseWriter, r *http.Request) {
	m, err := c.CancelMission(r.Context())
	if err != nil {
		render.Render(w, r, errConflict(err))
		return
	}
	render.JSON(w, r, MissionView{Status: m.Phase.Label(), Mission: &m})
}

func (c *Console) apiDroneList(w http.ResponseWriter, r *http.Request) {
	drones, err := c.Drones(r.Context())
	if err != nil {
		render.Render(w, r, errBackend(err))
		return
	}
	if drones == nil {
		drones = []model.DroneDeployment{}
	}
	render.JSON(w, r, drones)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/signalsfoundry/vessel-console/internal/logging"
	"github.com/signalsfoundry/vessel-console/model"
)

type recordedRequest struct {
	Method    string
	Path      string
	Query     string
	Body      string
	RequestID string
}

type backend struct {
	mu       sync.Mutex
	requests []recordedRequest
	routes   map[string]func(w http.ResponseWriter, r *http.Request)
}

func newBackend(t *testing.T, routes map[string]func(w http.ResponseWriter, r *http.Request)) (*backend, *Client) {
	t.Helper()
	b := &backend{routes: routes}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.requests = append(b.requests, recordedRequest{
			Method:    r.Method,
			Path:      r.URL.Path,
			Query:     r.URL.RawQuery,
			Body:      string(body),
			RequestID: r.Header.Get(logging.RequestIDHeader),
		})
		b.mu.Unlock()

		handler, ok := b.routes[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"Not found."}`))
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL+"/api/", logging.Noop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return b, c
}

func (b *backend) last() recordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[len(b.requests)-1]
}

func reply(status int, body string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func TestNewClientRejectsBadBaseURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://host/api", "://bad"} {
		if _, err := NewClient(raw, nil); err == nil {
			t.Fatalf("NewClient(%q) succeeded", raw)
		}
	}
}

func TestFetchVesselsAcceptsListAndPage(t *testing.T) {
	const vessels = `[
		{"id": 7, "mmsi": "230123000", "name": "Aurora", "ship_type": "passenger",
		 "latest_position": {"id": 1, "latitude": 60.1, "longitude": 19.9, "speed": 12.5, "heading": 511, "course": 88}},
		{"id": 8, "mmsi": "230999000", "name": "Dock Tug", "latest_position": null}
	]`

	cases := []struct {
		name string
		body string
	}{
		{"list", vessels},
		{"page", `{"count": 2, "next": null, "results": ` + vessels + `}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, c := newBackend(t, map[string]func(http.ResponseWriter, *http.Request){
				"GET /api/vessels/": reply(http.StatusOK, tc.body),
			})
			got, err := c.FetchVessels(context.Background())
			if err != nil {
				t.Fatalf("FetchVessels: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("got %d vessels, want 2", len(got))
			}
			a := got[0]
			if a.ID != "7" || a.Name != "Aurora" || !a.Located || a.Latitude != 60.1 || a.Speed != 12.5 {
				t.Fatalf("unexpected first vessel: %+v", a)
			}
			if a.HeadingKnown() {
				t.Fatalf("heading 511 should be reported as unknown")
			}
			if got[1].Located {
				t.Fatalf("vessel without a position should not be located")
			}
		})
	}
}

func TestFetchVesselWithRecentPositions(t *testing.T) {
	_, c := newBackend(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /api/vessels/7/": reply(http.StatusOK, `{"id": 7, "name": "Aurora",
			"latest_position": {"latitude": 60.2, "longitude": 20.1},
			"recent_positions": [{"id": 3, "latitude": 60.2, "longitude": 20.1}, {"id": 2, "latitude": 60.1, "longitude": 20.0}]}`),
	})
	got, err := c.FetchVessel(context.Background(), "7")
	if err != nil {
		t.Fatalf("FetchVessel: %v", err)
	}
	if got.Vessel.Name != "Aurora" || got.Vessel.Position() != (model.LatLng{Lat: 60.2, Lng: 20.1}) {
		t.Fatalf("unexpected vessel: %+v", got.Vessel)
	}
	if len(got.RecentPositions) != 2 || got.RecentPositions[0].ID != 3 {
		t.Fatalf("unexpected recent positions: %+v", got.RecentPositions)
	}
}

func TestFetchVesselHistoryDefaultsLimit(t *testing.T) {
	b, c := newBackend(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /api/vessels/7/history/": reply(http.StatusOK, `[{"id": 1, "latitude": 60, "longitude": 20}]`),
	})

	fixes, err := c.FetchVesselHistory(context.Background(), "7", 0)
	if err != nil {
		t.Fatalf("FetchVesselHistory: %v", err)
	}
	if len(fixes) != 1 {
		t.Fatalf("got %d fixes, want 1", len(fixes))
	}
	if q := b.last().Query; q != "limit=200" {
		t.Fatalf("query = %q, want limit=200", q)
	}

	if _, err := c.FetchVesselHistory(context.Background(), "7", 20); err != nil {
		t.Fatalf("FetchVesselHistory: %v", err)
	}
	if q := b.last().Query; q != "limit=20" {
		t.Fatalf("query = %q, want limit=20", q)
	}
}

func TestFetchAlertsBothShapesAndLimit(t *testing.T) {
	b, c := newBackend(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /api/alerts/": reply(http.StatusOK, `{"results": [
			{"id": 12, "zone": 3, "zone_name": "Harbour", "vessel": 7, "vessel_name": "Aurora", "alert_type": "exit"},
			{"id": 11, "zone_id": 3, "vessel_id": 7, "alert_type": "enter"}
		]}`),
	})

	got, err := c.FetchAlerts(context.Background(), 0)
	if err != nil {
		t.Fatalf("FetchAlerts: %v", err)
	}
	if q := b.last().Query; q != "limit=50" {
		t.Fatalf("query = %q, want limit=50", q)
	}
	if len(got) != 2 {
		t.Fatalf("got %d alerts, want 2", len(got))
	}
	for _, a := range got {
		if a.VesselID != "7" || a.ZoneID != "3" {
			t.Fatalf("alert %s lost its references: %+v", a.ID, a)
		}
	}
	if got[0].Entered() || !got[1].Entered() {
		t.Fatalf("alert types decoded wrong: %+v", got)
	}
}

func TestZoneWrites(t *testing.T) {
	b, c := newBackend(t, map[string]func(http.ResponseWriter, *http.Request){
		"POST /api/zones/":    reply(http.StatusCreated, `{"id": 4, "name": "Harbour", "color": "#ff9500"}`),
		"PATCH /api/zones/4/": reply(http.StatusOK, `{"id": 4, "name": "Outer Harbour", "color": "#ff9500"}`),
		"GET /api/zones/":     reply(http.StatusOK, `[{"id": 4, "name": "Outer Harbour"}]`),
	})
	ctx := context.Background()

	poly := &model.GeoJSONPolygon{Type: "Polygon", Coordinates: [][][2]float64{{{20, 60}, {20.1, 60}, {20.1, 60.1}, {20, 60}}}}
	z, err := c.CreateZone(ctx, ZoneInput{Name: "Harbour", Color: "#ff9500", Polygon: poly})
	if err != nil {
		t.Fatalf("CreateZone: %v", err)
	}
	if z.ID != "4" {
		t.Fatalf("created zone id = %q, want 4", z.ID)
	}
	var sent map[string]any
	if err := json.Unmarshal([]byte(b.last().Body), &sent); err != nil {
		t.Fatalf("create body: %v", err)
	}
	if sent["name"] != "Harbour" || sent["polygon"] == nil {
		t.Fatalf("unexpected create body: %s", b.last().Body)
	}

	z, err = c.UpdateZone(ctx, "4", ZoneInput{Name: "Outer Harbour"})
	if err != nil {
		t.Fatalf("UpdateZone: %v", err)
	}
	if z.Name != "Outer Harbour" {
		t.Fatalf("updated name = %q", z.Name)
	}
	if body := b.last().Body; body != `{"name":"Outer Harbour"}` {
		t.Fatalf("patch body = %s, want only the name", body)
	}

	zones, err := c.FetchZones(ctx)
	if err != nil || len(zones) != 1 {
		t.Fatalf("FetchZones = %v, %v", zones, err)
	}
}

func TestDeleteZoneToleratesRejection(t *testing.T) {
	_, c := newBackend(t, map[string]func(http.ResponseWriter, *http.Request){
		"DELETE /api/zones/4/": reply(http.StatusNoContent, ""),
		"DELETE /api/zones/5/": reply(http.StatusInternalServerError, `{"detail": "boom"}`),
	})
	ctx := context.Background()

	if err := c.DeleteZone(ctx, "4"); err != nil {
		t.Fatalf("DeleteZone(4): %v", err)
	}
	if err := c.DeleteZone(ctx, "5"); err != nil {
		t.Fatalf("DeleteZone(5) should tolerate a 500: %v", err)
	}
	if err := c.DeleteZone(ctx, "404"); err != nil {
		t.Fatalf("DeleteZone of a missing zone should be tolerated: %v", err)
	}
}

func TestDeployDrone(t *testing.T) {
	b, c := newBackend(t, map[string]func(http.ResponseWriter, *http.Request){
		"POST /api/drone/deploy/": reply(http.StatusCreated, `{"id": 1, "vessel": 7, "vessel_name": "Aurora",
			"status": "in_transit", "target_latitude": 60.2, "target_longitude": 20.1}`),
		"GET /api/drone/": reply(http.StatusOK, `[{"id": 1, "vessel": 7, "status": "in_transit"}]`),
	})
	ctx := logging.ContextWithRequestID(context.Background(), "req-42")

	d, err := c.DeployDrone(ctx, "7")
	if err != nil {
		t.Fatalf("DeployDrone: %v", err)
	}
	if d.VesselID != "7" || d.Target() != (model.LatLng{Lat: 60.2, Lng: 20.1}) {
		t.Fatalf("unexpected deployment: %+v", d)
	}
	req := b.last()
	if req.Body != `{"vessel_id":"7"}` {
		t.Fatalf("deploy body = %s", req.Body)
	}
	if req.RequestID != "req-42" {
		t.Fatalf("request id header = %q, want req-42", req.RequestID)
	}

	drones, err := c.FetchDrones(ctx)
	if err != nil || len(drones) != 1 {
		t.Fatalf("FetchDrones = %v, %v", drones, err)
	}
}

func TestErrorsCarryStatusAndDetail(t *testing.T) {
	_, c := newBackend(t, map[string]func(http.ResponseWriter, *http.Request){
		"POST /api/drone/deploy/": reply(http.StatusBadRequest, `{"error": "Vessel has no known position"}`),
		"GET /api/zones/":         reply(http.StatusBadGateway, `<html>bad gateway</html>`),
	})
	ctx := context.Background()

	_, err := c.DeployDrone(ctx, "7")
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Detail != "Vessel has no known position" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}

	_, err = c.FetchVessel(ctx, "99")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if !strings.Contains(err.Error(), "Not found.") {
		t.Fatalf("detail missing from %q", err.Error())
	}

	_, err = c.FetchZones(ctx)
	if !errors.As(err, &apiErr) || apiErr.Detail != "Bad Gateway" {
		t.Fatalf("html error bodies should fall back to the status text: %v", err)
	}
}

func TestDecodeErrorsAreWrapped(t *testing.T) {
	_, c := newBackend(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /api/vessels/": reply(http.StatusOK, `{"unexpected": true}`),
		"GET /api/alerts/":  reply(http.StatusOK, `[{"id": 1, "timestamp": "yesterday"}]`),
	})
	ctx := context.Background()

	if _, err := c.FetchVessels(ctx); !errors.Is(err, ErrDecode) {
		t.Fatalf("FetchVessels error = %v, want ErrDecode", err)
	}
	if _, err := c.FetchAlerts(ctx, 5); !errors.Is(err, ErrDecode) {
		t.Fatalf("FetchAlerts error = %v, want ErrDecode", err)
	}
}

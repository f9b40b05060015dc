// Package api is the console's client for the vessel backend REST API:
// vessels, zones, alerts and drone deployments.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/signalsfoundry/vessel-console/internal/logging"
	"github.com/signalsfoundry/vessel-console/model"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultHistoryLimit = 200
	DefaultAlertLimit   = 50

	maxBodyBytes = 8 << 20
)

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// Client talks to the backend REST API. It is safe for concurrent use.
type Client struct {
	base string
	http *http.Client
	log  logging.Logger
}

// NewClient returns a client for the API rooted at baseURL, for example
// "http://localhost:8000/api".
func NewClient(baseURL string, log logging.Logger, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("api base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api base url %q: scheme must be http or https", baseURL)
	}
	if log == nil {
		log = logging.Noop()
	}
	c := &Client{
		base: strings.TrimRight(u.String(), "/"),
		http: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log: log.With(logging.String("component", "api")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// VesselDetail is a vessel with its most recent position reports.
type VesselDetail struct {
	Vessel          model.Vessel        `json:"vessel"`
	RecentPositions []model.PositionFix `json:"recent_positions"`
}

// ZoneInput is the writable part of a zone. Empty fields are omitted so the
// same type serves create and partial update.
type ZoneInput struct {
	Name    string                `json:"name,omitempty"`
	Color   string                `json:"color,omitempty"`
	Polygon *model.GeoJSONPolygon `json:"polygon,omitempty"`
}

// FetchVessels lists all vessels with their latest position.
func (c *Client) FetchVessels(ctx context.Context) ([]model.Vessel, error) {
	raw, err := c.do(ctx, http.MethodGet, "/vessels/", nil, nil)
	if err != nil {
		return nil, err
	}
	records, err := decodeList[vesselRecord](raw)
	if err != nil {
		return nil, decodeError(http.MethodGet, "/vessels/", err)
	}
	out := make([]model.Vessel, 0, len(records))
	for _, r := range records {
		out = append(out, r.vessel())
	}
	return out, nil
}

// FetchVessel returns one vessel with its recent positions.
func (c *Client) FetchVessel(ctx context.Context, id model.VesselID) (VesselDetail, error) {
	path := "/vessels/" + url.PathEscape(string(id)) + "/"
	raw, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return VesselDetail{}, err
	}
	var r vesselRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return VesselDetail{}, decodeError(http.MethodGet, path, err)
	}
	return VesselDetail{Vessel: r.vessel(), RecentPositions: r.RecentPositions}, nil
}

// FetchVesselHistory returns up to limit position reports, newest first. A
// non-positive limit uses DefaultHistoryLimit.
func (c *Client) FetchVesselHistory(ctx context.Context, id model.VesselID, limit int) ([]model.PositionFix, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	path := "/vessels/" + url.PathEscape(string(id)) + "/history/"
	raw, err := c.do(ctx, http.MethodGet, path, limitQuery(limit), nil)
	if err != nil {
		return nil, err
	}
	fixes, err := decodeList[model.PositionFix](raw)
	if err != nil {
		return nil, decodeError(http.MethodGet, path, err)
	}
	return fixes, nil
}

// FetchZones lists the operator-drawn zones.
func (c *Client) FetchZones(ctx context.Context) ([]model.Zone, error) {
	raw, err := c.do(ctx, http.MethodGet, "/zones/", nil, nil)
	if err != nil {
		return nil, err
	}
	zones, err := decodeList[model.Zone](raw)
	if err != nil {
		return nil, decodeError(http.MethodGet, "/zones/", err)
	}
	return zones, nil
}

// CreateZone creates a zone and returns the server's record of it.
func (c *Client) CreateZone(ctx context.Context, in ZoneInput) (model.Zone, error) {
	return c.writeZone(ctx, http.MethodPost, "/zones/", in)
}

// UpdateZone applies a partial update to a zone.
func (c *Client) UpdateZone(ctx context.Context, id model.ZoneID, in ZoneInput) (model.Zone, error) {
	return c.writeZone(ctx, http.MethodPatch, "/zones/"+url.PathEscape(string(id))+"/", in)
}

func (c *Client) writeZone(ctx context.Context, method, path string, in ZoneInput) (model.Zone, error) {
	raw, err := c.do(ctx, method, path, nil, in)
	if err != nil {
		return model.Zone{}, err
	}
	var z model.Zone
	if err := json.Unmarshal(raw, &z); err != nil {
		return model.Zone{}, decodeError(method, path, err)
	}
	return z, nil
}

// DeleteZone removes a zone. Rejections from the backend, including a zone
// that is already gone, are logged and otherwise ignored; only transport
// failures are returned.
func (c *Client) DeleteZone(ctx context.Context, id model.ZoneID) error {
	_, err := c.do(ctx, http.MethodDelete, "/zones/"+url.PathEscape(string(id))+"/", nil, nil)
	var apiErr *Error
	if errors.As(err, &apiErr) {
		c.log.Warn(ctx, "zone delete rejected",
			logging.String("zone_id", string(id)),
			logging.Int("status", apiErr.StatusCode),
			logging.String("detail", apiErr.Detail),
		)
		return nil
	}
	return err
}

// FetchAlerts returns up to limit zone alerts, newest first. A non-positive
// limit uses DefaultAlertLimit.
func (c *Client) FetchAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	if limit <= 0 {
		limit = DefaultAlertLimit
	}
	raw, err := c.do(ctx, http.MethodGet, "/alerts/", limitQuery(limit), nil)
	if err != nil {
		return nil, err
	}
	alerts, err := decodeList[model.Alert](raw)
	if err != nil {
		return nil, decodeError(http.MethodGet, "/alerts/", err)
	}
	return alerts, nil
}

// DeployDrone asks the backend to record a drone deployment to a vessel.
func (c *Client) DeployDrone(ctx context.Context, vesselID model.VesselID) (model.DroneDeployment, error) {
	body := struct {
		VesselID model.VesselID `json:"vessel_id"`
	}{vesselID}
	raw, err := c.do(ctx, http.MethodPost, "/drone/deploy/", nil, body)
	if err != nil {
		return model.DroneDeployment{}, err
	}
	var d model.DroneDeployment
	if err := json.Unmarshal(raw, &d); err != nil {
		return model.DroneDeployment{}, decodeError(http.MethodPost, "/drone/deploy/", err)
	}
	return d, nil
}

// FetchDrones lists recorded drone deployments.
func (c *Client) FetchDrones(ctx context.Context) ([]model.DroneDeployment, error) {
	raw, err := c.do(ctx, http.MethodGet, "/drone/", nil, nil)
	if err != nil {
		return nil, err
	}
	drones, err := decodeList[model.DroneDeployment](raw)
	if err != nil {
		return nil, decodeError(http.MethodGet, "/drone/", err)
	}
	return drones, nil
}

// do performs one request and returns the response body of a 2xx reply.
// A 204 yields a nil body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	endpoint := c.base + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s %s: encode body: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := logging.RequestIDFromContext(ctx); id != "" {
		req.Header.Set(logging.RequestIDHeader, id)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	c.log.Debug(ctx, "api request",
		logging.String("method", method),
		logging.String("path", path),
		logging.Int("status", resp.StatusCode),
		logging.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Detail:     errorDetail(data, resp.Status),
		}
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	return data, nil
}

func limitQuery(limit int) url.Values {
	return url.Values{"limit": []string{strconv.Itoa(limit)}}
}

func decodeError(method, path string, err error) error {
	return fmt.Errorf("%s %s: %w: %w", method, path, ErrDecode, err)
}

// decodeList accepts either a bare JSON array or a paginated object with a
// "results" array.
func decodeList[T any](raw []byte) ([]T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] == '[' {
		var items []T
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var page struct {
		Results *[]T `json:"results"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, err
	}
	if page.Results == nil {
		return nil, errors.New("expected a list or a results page")
	}
	return *page.Results, nil
}

// vesselRecord is the REST serializer's vessel shape, which nests the
// latest position instead of flattening it like the live feed does.
type vesselRecord struct {
	ID            model.VesselID `json:"id"`
	MMSI          string         `json:"mmsi"`
	Name          string         `json:"name"`
	ShipType      string         `json:"ship_type"`
	Flag          string         `json:"flag"`
	Destination   string         `json:"destination"`
	WeightTonnage float64        `json:"weight_tonnage"`
	Length        float64        `json:"length"`
	Width         float64        `json:"width"`

	LatestPosition  *model.PositionFix  `json:"latest_position"`
	RecentPositions []model.PositionFix `json:"recent_positions"`
}

func (r vesselRecord) vessel() model.Vessel {
	v := model.Vessel{
		ID:            r.ID,
		MMSI:          r.MMSI,
		Name:          r.Name,
		ShipType:      r.ShipType,
		Flag:          r.Flag,
		Destination:   r.Destination,
		WeightTonnage: r.WeightTonnage,
		Length:        r.Length,
		Width:         r.Width,
	}
	if p := r.LatestPosition; p != nil {
		v.Latitude = p.Latitude
		v.Longitude = p.Longitude
		v.Speed = p.Speed
		v.Course = p.Course
		v.Heading = p.Heading
		v.Located = true
	}
	return v
}

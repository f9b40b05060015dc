package model

import "time"

// Zone is an operator-drawn polygon. Containment is evaluated server side;
// the console only stores and forwards the geometry.
type Zone struct {
	ID        ZoneID          `json:"id"`
	Name      string          `json:"name"`
	Color     string          `json:"color,omitempty"`
	Polygon   *GeoJSONPolygon `json:"polygon,omitempty"`
	CreatedAt time.Time       `json:"created_at,omitempty"`
}

// GeoJSONPolygon holds polygon rings as [lng, lat] pairs.
type GeoJSONPolygon struct {
	Type        string         `json:"type"`
	Coordinates [][][2]float64 `json:"coordinates"`
}

// PositionFix is one historical position report.
type PositionFix struct {
	ID        int64     `json:"id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     float64   `json:"speed"`
	Heading   float64   `json:"heading"`
	Course    float64   `json:"course"`
	Timestamp time.Time `json:"timestamp"`
}

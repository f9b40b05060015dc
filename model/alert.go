package model

import (
	"encoding/json"
	"time"
)

// AlertType classifies a zone crossing.
type AlertType string

const (
	AlertEnter AlertType = "enter"
	AlertExit  AlertType = "exit"
)

// Alert is a server-classified zone entry or exit for one vessel.
type Alert struct {
	ID         AlertID   `json:"id"`
	Type       AlertType `json:"alert_type"`
	VesselID   VesselID  `json:"vessel_id"`
	VesselName string    `json:"vessel_name"`
	ZoneID     ZoneID    `json:"zone_id"`
	ZoneName   string    `json:"zone_name"`
	Timestamp  time.Time `json:"timestamp"`
}

// wireAlert covers both the feed broadcast shape (vessel_id, zone_id) and
// the REST serializer shape (vessel, zone).
type wireAlert struct {
	ID         AlertID   `json:"id"`
	Type       AlertType `json:"alert_type"`
	VesselID   VesselID  `json:"vessel_id"`
	Vessel     VesselID  `json:"vessel"`
	VesselName string    `json:"vessel_name"`
	ZoneID     ZoneID    `json:"zone_id"`
	Zone       ZoneID    `json:"zone"`
	ZoneName   string    `json:"zone_name"`
	Timestamp  time.Time `json:"timestamp"`
}

// UnmarshalJSON decodes either alert shape.
func (a *Alert) UnmarshalJSON(b []byte) error {
	var w wireAlert
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*a = Alert{
		ID:         w.ID,
		Type:       w.Type,
		VesselID:   w.VesselID,
		VesselName: w.VesselName,
		ZoneID:     w.ZoneID,
		ZoneName:   w.ZoneName,
		Timestamp:  w.Timestamp,
	}
	if a.VesselID == "" {
		a.VesselID = w.Vessel
	}
	if a.ZoneID == "" {
		a.ZoneID = w.Zone
	}
	return nil
}

// Entered reports whether the alert is an entry.
func (a Alert) Entered() bool {
	return a.Type == AlertEnter
}

package model

import "time"

// DroneDeployment is the server's record of a drone dispatch. The console
// animates its own mission locally; this record is informational.
type DroneDeployment struct {
	ID         int64    `json:"id"`
	VesselID   VesselID `json:"vessel"`
	VesselName string   `json:"vessel_name"`
	Status     string   `json:"status"`

	StartLatitude    float64 `json:"start_latitude"`
	StartLongitude   float64 `json:"start_longitude"`
	CurrentLatitude  float64 `json:"current_latitude"`
	CurrentLongitude float64 `json:"current_longitude"`
	TargetLatitude   float64 `json:"target_latitude"`
	TargetLongitude  float64 `json:"target_longitude"`

	CreatedAt time.Time `json:"created_at"`
}

// Target returns the deployment's target coordinate.
func (d DroneDeployment) Target() LatLng {
	return LatLng{Lat: d.TargetLatitude, Lng: d.TargetLongitude}
}

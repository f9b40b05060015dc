package model

// HeadingUnavailable is the AIS sentinel for "no heading reported".
const HeadingUnavailable = 511.0

// LatLng is a geographic coordinate in decimal degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Vessel is the console's view of a tracked ship.
type Vessel struct {
	ID            VesselID `json:"id"`
	MMSI          string   `json:"mmsi"`
	Name          string   `json:"name"`
	ShipType      string   `json:"ship_type"`
	Flag          string   `json:"flag"`
	Destination   string   `json:"destination"`
	WeightTonnage float64  `json:"weight_tonnage"`
	Length        float64  `json:"length"` // metres
	Width         float64  `json:"width"`  // metres

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Speed     float64 `json:"speed"` // knots
	Course    float64 `json:"course"`
	Heading   float64 `json:"heading"`

	// Located is set once a latitude or longitude has been applied.
	Located bool `json:"located"`
}

// Position returns the vessel's last known coordinate.
func (v Vessel) Position() LatLng {
	return LatLng{Lat: v.Latitude, Lng: v.Longitude}
}

// HeadingKnown reports whether Heading carries a real value.
func (v Vessel) HeadingKnown() bool {
	return v.Heading != HeadingUnavailable
}

// VesselPatch is a partial vessel update. Nil fields were not present in the
// update and leave the existing value untouched.
type VesselPatch struct {
	ID            VesselID `json:"id"`
	MMSI          *string  `json:"mmsi,omitempty"`
	Name          *string  `json:"name,omitempty"`
	ShipType      *string  `json:"ship_type,omitempty"`
	Flag          *string  `json:"flag,omitempty"`
	Destination   *string  `json:"destination,omitempty"`
	WeightTonnage *float64 `json:"weight_tonnage,omitempty"`
	Length        *float64 `json:"length,omitempty"`
	Width         *float64 `json:"width,omitempty"`

	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Course    *float64 `json:"course,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
}

// Apply copies every field present in the patch onto v.
func (p VesselPatch) Apply(v *Vessel) {
	if v == nil {
		return
	}
	if p.ID != "" {
		v.ID = p.ID
	}
	setString(&v.MMSI, p.MMSI)
	setString(&v.Name, p.Name)
	setString(&v.ShipType, p.ShipType)
	setString(&v.Flag, p.Flag)
	setString(&v.Destination, p.Destination)
	setFloat(&v.WeightTonnage, p.WeightTonnage)
	setFloat(&v.Length, p.Length)
	setFloat(&v.Width, p.Width)
	setFloat(&v.Speed, p.Speed)
	setFloat(&v.Course, p.Course)
	setFloat(&v.Heading, p.Heading)
	if p.Latitude != nil || p.Longitude != nil {
		setFloat(&v.Latitude, p.Latitude)
		setFloat(&v.Longitude, p.Longitude)
		v.Located = true
	}
}

// Vessel builds an entity from the patch alone.
func (p VesselPatch) Vessel() Vessel {
	var v Vessel
	p.Apply(&v)
	return v
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

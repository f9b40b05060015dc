package feed

import (
	"errors"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/signalsfoundry/vessel-console/model"
)

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    Kind
		wantErr error
	}{
		{name: "initial data", data: `{"type":"initial_data","vessels":[{"id":1,"mmsi":"230000001","name":"Aurora"}]}`, want: KindInitialData},
		{name: "unknown kind is delivered", data: `{"type":"weather"}`, want: Kind("weather")},
		{name: "drone update", data: `{"type":"drone_update","drone":{"id":"d1"}}`, want: KindDroneUpdate},
		{name: "missing type", data: `{"vessels":[]}`, wantErr: ErrMissingType},
		{name: "empty", data: "  ", wantErr: ErrEmptyFrame},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := Decode(websocket.TextMessage, []byte(tc.data))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Decode error = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if msg.Type != tc.want {
				t.Fatalf("Type = %q, want %q", msg.Type, tc.want)
			}
		})
	}
}

func TestDecodeKnownKinds(t *testing.T) {
	if Kind("weather").Known() {
		t.Fatalf("weather should not be a known kind")
	}
	if !KindZoneAlert.Known() || !KindPong.Known() {
		t.Fatalf("zone_alert and pong should be known kinds")
	}
}

func TestDecodeZoneAlertShapes(t *testing.T) {
	feedShape := `{"type":"zone_alert","alert":{"id":12,"vessel_id":4,"vessel_name":"Baltic Star","zone_id":2,"zone_name":"Harbour","alert_type":"exit","timestamp":"2025-03-01T10:00:00Z"}}`
	msg, err := Decode(websocket.TextMessage, []byte(feedShape))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	a := msg.Alert
	if a == nil || a.ID != "12" || a.VesselID != "4" || a.ZoneID != "2" || a.Type != model.AlertExit {
		t.Fatalf("alert = %+v", a)
	}
	if a.Timestamp.IsZero() {
		t.Fatalf("timestamp not decoded")
	}
}

func TestDecodeBinaryMsgpack(t *testing.T) {
	payload := map[string]any{
		"type": "vessel_update",
		"vessels": []map[string]any{
			{"id": 42, "latitude": 60.2, "longitude": 20.1, "heading": 511.0},
		},
	}
	data, err := msgpack.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	msg, err := Decode(websocket.BinaryMessage, data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Type != KindVesselUpdate || len(msg.Vessels) != 1 {
		t.Fatalf("msg = %+v", msg)
	}
	p := msg.Vessels[0]
	if p.ID != "42" {
		t.Fatalf("id = %q, want 42", p.ID)
	}
	if p.Latitude == nil || *p.Latitude != 60.2 {
		t.Fatalf("latitude = %v", p.Latitude)
	}
	if p.Name != nil {
		t.Fatalf("absent name decoded as %q", *p.Name)
	}
	v := p.Vessel()
	if v.HeadingKnown() {
		t.Fatalf("heading 511 should be reported as unavailable")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode(websocket.BinaryMessage, []byte{0xc1}); err == nil {
		t.Fatalf("expected msgpack decode error")
	}
	if _, err := Decode(websocket.TextMessage, []byte(`{"type":`)); err == nil {
		t.Fatalf("expected json decode error")
	}
	if _, err := Decode(websocket.PingMessage, []byte("x")); !errors.Is(err, ErrUnsupportedFrame) {
		t.Fatalf("expected ErrUnsupportedFrame, got %v", err)
	}
}

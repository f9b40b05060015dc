package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/signalsfoundry/vessel-console/model"
)

// Kind discriminates feed messages.
type Kind string

const (
	KindInitialData  Kind = "initial_data"
	KindVesselUpdate Kind = "vessel_update"
	KindZoneAlert    Kind = "zone_alert"
	KindDroneUpdate  Kind = "drone_update"
	KindPing         Kind = "ping"
	KindPong         Kind = "pong"
)

// Known reports whether the kind is one the console understands.
func (k Kind) Known() bool {
	switch k {
	case KindInitialData, KindVesselUpdate, KindZoneAlert, KindDroneUpdate, KindPing, KindPong:
		return true
	}
	return false
}

// Message is one decoded feed frame. Text and binary frames share the same
// schema; only the fields relevant to Type are populated.
type Message struct {
	Type    Kind                `json:"type"`
	Vessels []model.VesselPatch `json:"vessels,omitempty"`
	Alert   *model.Alert        `json:"alert,omitempty"`
	Drone   map[string]any      `json:"drone,omitempty"`
}

var (
	// ErrEmptyFrame is returned for a frame with no payload.
	ErrEmptyFrame = errors.New("feed: empty frame")
	// ErrMissingType is returned when a frame has no "type" field.
	ErrMissingType = errors.New("feed: message has no type")
	// ErrUnsupportedFrame is returned for frame types other than text or binary.
	ErrUnsupportedFrame = errors.New("feed: unsupported frame type")
)

// Decode parses a single websocket frame. Text frames carry JSON and binary
// frames carry MessagePack using the same field names.
func Decode(frameType int, data []byte) (Message, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Message{}, ErrEmptyFrame
	}

	var msg Message
	switch frameType {
	case websocket.TextMessage:
		if err := json.Unmarshal(data, &msg); err != nil {
			return Message{}, fmt.Errorf("decode json frame: %w", err)
		}
	case websocket.BinaryMessage:
		dec := msgpack.NewDecoder(bytes.NewReader(data))
		dec.SetCustomStructTag("json")
		if err := dec.Decode(&msg); err != nil {
			return Message{}, fmt.Errorf("decode msgpack frame: %w", err)
		}
	default:
		return Message{}, fmt.Errorf("%w: %d", ErrUnsupportedFrame, frameType)
	}

	if msg.Type == "" {
		return Message{}, ErrMissingType
	}
	return msg, nil
}

var pingFrame = []byte(`{"type":"ping"}`)

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
)

// VesselID identifies a tracked vessel. The upstream server assigns integer
// keys but the console treats them as opaque strings.
type VesselID string

// AlertID identifies a zone alert. Alert ids are assigned monotonically by
// the server.
type AlertID string

// ZoneID identifies an operator-drawn zone.
type ZoneID string

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (id *VesselID) UnmarshalJSON(b []byte) error {
	s, err := looseIDFromJSON(b)
	if err != nil {
		return fmt.Errorf("vessel id: %w", err)
	}
	*id = VesselID(s)
	return nil
}

// DecodeMsgpack accepts either a msgpack string or an integer.
func (id *VesselID) DecodeMsgpack(dec *msgpack.Decoder) error {
	s, err := looseIDFromMsgpack(dec)
	if err != nil {
		return fmt.Errorf("vessel id: %w", err)
	}
	*id = VesselID(s)
	return nil
}

// Less orders ids numerically when both are integers and lexically otherwise.
func (id VesselID) Less(other VesselID) bool {
	return lessID(string(id), string(other))
}

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (id *AlertID) UnmarshalJSON(b []byte) error {
	s, err := looseIDFromJSON(b)
	if err != nil {
		return fmt.Errorf("alert id: %w", err)
	}
	*id = AlertID(s)
	return nil
}

// DecodeMsgpack accepts either a msgpack string or an integer.
func (id *AlertID) DecodeMsgpack(dec *msgpack.Decoder) error {
	s, err := looseIDFromMsgpack(dec)
	if err != nil {
		return fmt.Errorf("alert id: %w", err)
	}
	*id = AlertID(s)
	return nil
}

// Less orders ids numerically when both are integers and lexically otherwise.
func (id AlertID) Less(other AlertID) bool {
	return lessID(string(id), string(other))
}

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (id *ZoneID) UnmarshalJSON(b []byte) error {
	s, err := looseIDFromJSON(b)
	if err != nil {
		return fmt.Errorf("zone id: %w", err)
	}
	*id = ZoneID(s)
	return nil
}

// DecodeMsgpack accepts either a msgpack string or an integer.
func (id *ZoneID) DecodeMsgpack(dec *msgpack.Decoder) error {
	s, err := looseIDFromMsgpack(dec)
	if err != nil {
		return fmt.Errorf("zone id: %w", err)
	}
	*id = ZoneID(s)
	return nil
}

func looseIDFromJSON(b []byte) (string, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return "", nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

func looseIDFromMsgpack(dec *msgpack.Decoder) (string, error) {
	v, err := dec.DecodeInterfaceLoose()
	if err != nil {
		return "", err
	}
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("unsupported id type %T", v)
	}
}

func lessID(a, b string) bool {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}

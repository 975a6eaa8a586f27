package control

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/harun/steerd/pkg/frame"
)

// Event names on the wire.
const (
	EventTelemetry = "telemetry"
	EventSteer     = "steer"
	EventManual    = "manual"
)

// Telemetry is one sample reported by the simulator. SteeringAngle and
// Throttle are what the vehicle currently applies and are advisory only.
type Telemetry struct {
	SteeringAngle float64
	Throttle      float64
	Speed         float64
	// Image is the base64-encoded camera frame.
	Image string
}

// Command is the actuation sent back after a completed tick.
type Command struct {
	SteeringAngle float64
	Throttle      float64
}

// NeutralCommand is sent when a session connects, before any telemetry.
func NeutralCommand() Command {
	return Command{}
}

// SteerPayload is the wire form of a Command.
type SteerPayload struct {
	SteeringAngle string `json:"steering_angle"`
	Throttle      string `json:"throttle"`
}

// Payload formats c with the shortest decimal that round-trips.
func (c Command) Payload() SteerPayload {
	return SteerPayload{
		SteeringAngle: formatFloat(c.SteeringAngle),
		Throttle:      formatFloat(c.Throttle),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// IsManual reports whether a telemetry payload is empty, which means a human
// has taken over the vehicle. Missing, null and {} payloads are all empty.
func IsManual(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return true
	}
	if trimmed[0] != '{' {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return false
	}
	return len(fields) == 0
}

type telemetryWire struct {
	SteeringAngle *wireFloat `json:"steering_angle"`
	Throttle      *wireFloat `json:"throttle"`
	Speed         *wireFloat `json:"speed"`
	Image         string     `json:"image"`
}

// wireFloat accepts a JSON number or a string holding one.
type wireFloat float64

func (f *wireFloat) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = wireFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = wireFloat(v)
	return nil
}

// ParseTelemetry decodes a non-empty telemetry payload. Malformed or missing
// numeric fields are reported as *frame.DecodeError.
func ParseTelemetry(raw json.RawMessage) (Telemetry, error) {
	var w telemetryWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return Telemetry{}, &frame.DecodeError{Op: "telemetry", Err: err}
	}

	missing := func(name string) error {
		return &frame.DecodeError{Op: "telemetry", Err: fmt.Errorf("missing field %q", name)}
	}
	switch {
	case w.SteeringAngle == nil:
		return Telemetry{}, missing("steering_angle")
	case w.Throttle == nil:
		return Telemetry{}, missing("throttle")
	case w.Speed == nil:
		return Telemetry{}, missing("speed")
	}

	t := Telemetry{
		SteeringAngle: float64(*w.SteeringAngle),
		Throttle:      float64(*w.Throttle),
		Speed:         float64(*w.Speed),
		Image:         w.Image,
	}

	invalid := func(name string, v float64) error {
		return &frame.DecodeError{Op: "telemetry", Err: fmt.Errorf("invalid %s %v", name, v)}
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"steering_angle", t.SteeringAngle},
		{"throttle", t.Throttle},
		{"speed", t.Speed},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return Telemetry{}, invalid(f.name, f.v)
		}
	}
	if t.Speed < 0 {
		return Telemetry{}, invalid("speed", t.Speed)
	}

	return t, nil
}

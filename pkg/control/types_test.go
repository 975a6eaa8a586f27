package control

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/steerd/pkg/frame"
)

func TestIsManual(t *testing.T) {
	manual := []string{"", "  ", "null", "{}", " { } "}
	for _, raw := range manual {
		assert.True(t, IsManual(json.RawMessage(raw)), "%q", raw)
	}

	notManual := []string{`{"speed":"1"}`, `[]`, `"x"`, `{`}
	for _, raw := range notManual {
		assert.False(t, IsManual(json.RawMessage(raw)), "%q", raw)
	}
}

func TestParseTelemetry(t *testing.T) {
	t.Run("string encoded floats", func(t *testing.T) {
		tel, err := ParseTelemetry(json.RawMessage(`{"steering_angle":"-0.25","throttle":"0.5","speed":"12.75","image":"abc"}`))
		require.NoError(t, err)
		assert.Equal(t, Telemetry{SteeringAngle: -0.25, Throttle: 0.5, Speed: 12.75, Image: "abc"}, tel)
	})

	t.Run("plain numbers", func(t *testing.T) {
		tel, err := ParseTelemetry(json.RawMessage(`{"steering_angle":0,"throttle":1,"speed":3,"image":""}`))
		require.NoError(t, err)
		assert.Equal(t, 3.0, tel.Speed)
	})

	failures := map[string]string{
		"malformed speed":   `{"steering_angle":"0","throttle":"0","speed":"fast","image":""}`,
		"missing speed":     `{"steering_angle":"0","throttle":"0","image":""}`,
		"missing throttle":  `{"steering_angle":"0","speed":"1","image":""}`,
		"bool steering":     `{"steering_angle":true,"throttle":"0","speed":"1","image":""}`,
		"not an object":     `[1,2]`,
		"NaN speed":         `{"steering_angle":"0","throttle":"0","speed":"NaN","image":""}`,
		"infinite speed":    `{"steering_angle":"0","throttle":"0","speed":"Inf","image":""}`,
		"negative speed":    `{"steering_angle":"0","throttle":"0","speed":"-1","image":""}`,
		"NaN steering":      `{"steering_angle":"nan","throttle":"0","speed":"1","image":""}`,
		"infinite throttle": `{"steering_angle":"0","throttle":"-Inf","speed":"1","image":""}`,
	}
	for name, raw := range failures {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTelemetry(json.RawMessage(raw))
			var decodeErr *frame.DecodeError
			assert.True(t, errors.As(err, &decodeErr), "got %v", err)
		})
	}
}

func TestCommandPayload(t *testing.T) {
	assert.Equal(t, SteerPayload{SteeringAngle: "0", Throttle: "0"}, NeutralCommand().Payload())
	assert.Equal(t, SteerPayload{SteeringAngle: "-0.1", Throttle: "0.59"}, Command{SteeringAngle: -0.1, Throttle: 0.59}.Payload())

	data, err := json.Marshal(NeutralCommand().Payload())
	require.NoError(t, err)
	assert.JSONEq(t, `{"steering_angle":"0","throttle":"0"}`, string(data))
}

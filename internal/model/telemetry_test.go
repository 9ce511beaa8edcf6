package model

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTelemetry(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("current firmware field names", func(t *testing.T) {
		frame, err := DecodeTelemetry([]byte(`{
			"dp1_pressure": 12.5, "dp1_temperature": 21.0, "dp1_ok": true,
			"dp2_pressure": -40.2, "dp2_temperature": 19.5, "dp2_ok": 1,
			"frequency": 50.01, "pwm": 62, "relay": "true", "led": "1", "fw": "1.4.2"
		}`), now)
		require.NoError(t, err)

		assert.Equal(t, 12.5, frame.FanPa)
		assert.Equal(t, 21.0, frame.FanTempC)
		assert.True(t, frame.FanOK)
		assert.Equal(t, -40.2, frame.EnvelopePa)
		assert.Equal(t, 19.5, frame.EnvelopeTempC)
		assert.True(t, frame.EnvelopeOK)
		assert.Equal(t, 50.01, frame.LineFreqHz)
		assert.Equal(t, 62.0, frame.PWM)
		assert.True(t, frame.Relay)
		assert.True(t, frame.AutoHold)
		assert.Equal(t, "1.4.2", frame.Firmware)
		assert.Equal(t, now, frame.ReceivedAt)
	})

	t.Run("legacy fan field names", func(t *testing.T) {
		frame, err := DecodeTelemetry([]byte(`{"dp_pressure": 3.25, "dp_temperature": 18, "dp_ok": "1"}`), now)
		require.NoError(t, err)

		assert.Equal(t, 3.25, frame.FanPa)
		assert.Equal(t, 18.0, frame.FanTempC)
		assert.True(t, frame.FanOK)
	})

	t.Run("current names win over legacy names", func(t *testing.T) {
		frame, err := DecodeTelemetry([]byte(`{"dp1_pressure": 1, "dp_pressure": 2}`), now)
		require.NoError(t, err)
		assert.Equal(t, 1.0, frame.FanPa)
	})

	t.Run("missing and malformed fields", func(t *testing.T) {
		frame, err := DecodeTelemetry([]byte(`{"dp2_pressure": null, "dp1_pressure": "abc", "dp2_ok": "yes", "fw": 12, "frequency": "49.9"}`), now)
		require.NoError(t, err)

		assert.True(t, math.IsNaN(frame.FanPa))
		assert.True(t, math.IsNaN(frame.EnvelopePa))
		assert.True(t, math.IsNaN(frame.PWM))
		assert.False(t, frame.EnvelopeOK)
		assert.False(t, frame.FanOK)
		assert.Equal(t, "", frame.Firmware)
		assert.Equal(t, 49.9, frame.LineFreqHz)
	})

	t.Run("rejects non-object payloads", func(t *testing.T) {
		for _, payload := range []string{"", "[]", "42", "not json", "{broken"} {
			_, err := DecodeTelemetry([]byte(payload), now)
			assert.Error(t, err, "payload %q", payload)
		}
	})
}

func TestCalibrationBaselineCalibrated(t *testing.T) {
	one := 1.0
	nan := math.NaN()

	assert.False(t, CalibrationBaseline{}.Calibrated())
	assert.False(t, CalibrationBaseline{FanOffsetPa: &one}.Calibrated())
	assert.False(t, CalibrationBaseline{EnvelopeOffsetPa: &one}.Calibrated())
	assert.False(t, CalibrationBaseline{FanOffsetPa: &one, EnvelopeOffsetPa: &nan}.Calibrated())
	assert.True(t, CalibrationBaseline{FanOffsetPa: &one, EnvelopeOffsetPa: &one}.Calibrated())
}

func TestAutoTestTargetPa(t *testing.T) {
	assert.Equal(t, 50.0, AutoTestN50.TargetPa())
	assert.Equal(t, 75.0, AutoTestN75.TargetPa())
	assert.Equal(t, 50.0, AutoTest("").TargetPa())
}

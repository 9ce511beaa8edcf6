package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// flexFloat accepts a JSON number or a numeric string. Anything else decodes
// to NaN.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	*f = flexFloat(math.NaN())
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			*f = flexFloat(v)
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err == nil {
		*f = flexFloat(v)
	}
	return nil
}

// flexBool is true for true, 1, "true" and "1".
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	switch string(bytes.TrimSpace(b)) {
	case "true", "1", `"true"`, `"1"`:
		*f = true
	default:
		*f = false
	}
	return nil
}

// telemetryPayload is the wire shape of one push event. The fan sensor is
// reported as dp1_* by current firmware and dp_* by older builds.
type telemetryPayload struct {
	DP1Pressure    *flexFloat `json:"dp1_pressure"`
	DPPressure     *flexFloat `json:"dp_pressure"`
	DP1Temperature *flexFloat `json:"dp1_temperature"`
	DPTemperature  *flexFloat `json:"dp_temperature"`
	DP1OK          *flexBool  `json:"dp1_ok"`
	DPOK           *flexBool  `json:"dp_ok"`
	DP2Pressure    *flexFloat `json:"dp2_pressure"`
	DP2Temperature *flexFloat `json:"dp2_temperature"`
	DP2OK          *flexBool  `json:"dp2_ok"`
	Frequency      *flexFloat `json:"frequency"`
	PWM            *flexFloat `json:"pwm"`
	Relay          *flexBool  `json:"relay"`
	LED            *flexBool  `json:"led"`
	FW             any        `json:"fw"`
}

// DecodeTelemetry parses one push event. It fails only when the payload is
// not a JSON object; individual bad fields become NaN or false.
func DecodeTelemetry(data []byte, receivedAt time.Time) (TelemetryFrame, error) {
	var p telemetryPayload
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return TelemetryFrame{}, fmt.Errorf("telemetry payload is not an object")
	}
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return TelemetryFrame{}, fmt.Errorf("decode telemetry: %w", err)
	}

	frame := TelemetryFrame{
		FanPa:         firstFloat(p.DP1Pressure, p.DPPressure),
		FanTempC:      firstFloat(p.DP1Temperature, p.DPTemperature),
		FanOK:         firstBool(p.DP1OK, p.DPOK),
		EnvelopePa:    firstFloat(p.DP2Pressure),
		EnvelopeTempC: firstFloat(p.DP2Temperature),
		EnvelopeOK:    firstBool(p.DP2OK),
		LineFreqHz:    firstFloat(p.Frequency),
		PWM:           firstFloat(p.PWM),
		Relay:         firstBool(p.Relay),
		AutoHold:      firstBool(p.LED),
		ReceivedAt:    receivedAt,
	}
	if fw, ok := p.FW.(string); ok {
		frame.Firmware = fw
	}
	return frame, nil
}

func firstFloat(values ...*flexFloat) float64 {
	for _, v := range values {
		if v != nil {
			return float64(*v)
		}
	}
	return math.NaN()
}

func firstBool(values ...*flexBool) bool {
	for _, v := range values {
		if v != nil {
			return bool(*v)
		}
	}
	return false
}

package model

import (
	"math"
	"time"
)

type Stage string

const (
	StageIdle Stage = "idle"
	StageRamp Stage = "ramp"
	StageHold Stage = "hold"
)

type Mode string

const (
	ModeManual Mode = "manual"
	ModeSemi   Mode = "semi"
	ModeAuto   Mode = "auto"
)

// AutoTest selects the fixed target pressure used in auto mode.
type AutoTest string

const (
	AutoTestN50 AutoTest = "n50"
	AutoTestN75 AutoTest = "n75"
)

func (a AutoTest) TargetPa() float64 {
	if a == AutoTestN75 {
		return 75
	}
	return 50
}

// CalibrationBaseline is the zero-pressure reference. Both offsets are set or
// neither is.
type CalibrationBaseline struct {
	FanOffsetPa      *float64  `json:"fan_offset_pa,omitempty"`
	EnvelopeOffsetPa *float64  `json:"envelope_offset_pa,omitempty"`
	CapturedAt       time.Time `json:"captured_at,omitempty"`
}

func (b CalibrationBaseline) Calibrated() bool {
	return b.FanOffsetPa != nil && b.EnvelopeOffsetPa != nil &&
		IsFinite(*b.FanOffsetPa) && IsFinite(*b.EnvelopeOffsetPa)
}

// TelemetryFrame is one raw sample pushed by the device. Missing numeric
// fields are NaN.
type TelemetryFrame struct {
	FanPa         float64
	FanTempC      float64
	FanOK         bool
	EnvelopePa    float64
	EnvelopeTempC float64
	EnvelopeOK    bool
	LineFreqHz    float64
	PWM           float64
	Relay         bool
	AutoHold      bool
	Firmware      string
	ReceivedAt    time.Time
}

// CorrectedReading is a frame with the baseline subtracted.
type CorrectedReading struct {
	FanPa         float64
	FanTempC      float64
	FanOK         bool
	EnvelopePa    float64
	EnvelopeTempC float64
	EnvelopeOK    bool
	RawFanPa      float64
	RawEnvelopePa float64
	Calibrated    bool
	At            time.Time
}

type AchSample struct {
	At    time.Time
	Value float64
}

// AchResult is the estimator output; Valid is false when the physical model
// preconditions are not met.
type AchResult struct {
	Valid   bool
	Instant float64
	Average float64
}

// FlowSettings are the operator-entered physical parameters of the test.
type FlowSettings struct {
	VolumeM3           float64  `json:"building_volume"`
	CoefficientC       float64  `json:"fan_coef_c"`
	ExponentN          float64  `json:"fan_coef_n"`
	AltitudeM          float64  `json:"altitude"`
	ApertureDiameterCm float64  `json:"fan_aperture_cm"`
	AutoTest           AutoTest `json:"auto_test_type"`
}

type OtaPhase string

const (
	OtaIdle        OtaPhase = "idle"
	OtaUploading   OtaPhase = "uploading"
	OtaFinishing   OtaPhase = "finishing"
	OtaStagedReady OtaPhase = "staged_ready"
	OtaApplying    OtaPhase = "applying"
	OtaError       OtaPhase = "error"
)

// OtaTransfer is the client-side mirror of the device's update state.
type OtaTransfer struct {
	Phase        OtaPhase `json:"phase"`
	BytesSent    int      `json:"bytes_sent"`
	TotalBytes   int      `json:"total_bytes"`
	CRC32        uint32   `json:"crc32"`
	VersionLabel string   `json:"version_label"`
	LastError    string   `json:"last_error"`
	Progress     float64  `json:"progress_percent"`
	Label        string   `json:"label"`
}

// OtaStatus is the device's authoritative update state.
type OtaStatus struct {
	State           string  `json:"state"`
	ProgressPercent float64 `json:"progress_percent"`
	StagedVersion   string  `json:"staged_version"`
	LastError       string  `json:"last_error"`
	FirmwareVersion string  `json:"firmware_version"`
}

type ConnState string

const (
	ConnConnecting   ConnState = "connecting"
	ConnOK           ConnState = "connected"
	ConnReconnecting ConnState = "reconnecting"
	ConnDegraded     ConnState = "degraded"
	ConnSensorError  ConnState = "sensor_error"
	ConnRebooting    ConnState = "rebooting"
)

type EventType string

const (
	EventCalibrated    EventType = "CALIBRATED"
	EventSessionStart  EventType = "SESSION_START"
	EventHoldReached   EventType = "HOLD_REACHED"
	EventSessionStop   EventType = "SESSION_STOP"
	EventSensorFault   EventType = "SENSOR_FAULT"
	EventSettings      EventType = "SETTINGS_CHANGED"
	EventOtaUploaded   EventType = "OTA_UPLOADED"
	EventOtaFailed     EventType = "OTA_FAILED"
	EventOtaApplied    EventType = "OTA_APPLIED"
	EventChannelFailed EventType = "CHANNEL_FAILED"
)

// Event is a lifecycle record fanned out to history, MQTT and notifications.
type Event struct {
	ID         string    `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	Type       EventType `json:"type"`
	SessionID  string    `json:"session_id,omitempty"`
	TargetPa   float64   `json:"target_pa,omitempty"`
	AchAverage float64   `json:"ach_average,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

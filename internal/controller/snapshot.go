package controller

import (
	"time"

	"github.com/thatsimonsguy/blower-controller/internal/control"
	"github.com/thatsimonsguy/blower-controller/internal/model"
)

// Readings is the corrected telemetry for display. Missing values are nil.
type Readings struct {
	FanPa         *float64  `json:"fan_pa"`
	FanTempC      *float64  `json:"fan_temp_c"`
	FanOK         bool      `json:"fan_ok"`
	EnvelopePa    *float64  `json:"envelope_pa"`
	EnvelopeTempC *float64  `json:"envelope_temp_c"`
	EnvelopeOK    bool      `json:"envelope_ok"`
	RawFanPa      *float64  `json:"raw_fan_pa"`
	RawEnvelopePa *float64  `json:"raw_envelope_pa"`
	LineFreqHz    *float64  `json:"line_freq_hz"`
	Relay         bool      `json:"relay"`
	AutoHold      bool      `json:"auto_hold"`
	At            time.Time `json:"at"`
}

type AchView struct {
	Valid   bool     `json:"valid"`
	Instant *float64 `json:"instant"`
	Average *float64 `json:"average"`
	Label   string   `json:"label"`
}

type SensorHealth struct {
	FaultFrames       int  `json:"fault_frames"`
	FanEverValid      bool `json:"fan_ever_valid"`
	EnvelopeEverValid bool `json:"envelope_ever_valid"`
}

// Snapshot is a read-only view of the controller for the operator surface.
type Snapshot struct {
	At         time.Time                 `json:"at"`
	Connection model.ConnState           `json:"connection"`
	Mode       model.Mode                `json:"mode"`
	Calibrated bool                      `json:"calibrated"`
	Baseline   model.CalibrationBaseline `json:"baseline"`
	HasFrame   bool                      `json:"has_frame"`
	Readings   Readings                  `json:"readings"`
	Ach        AchView                   `json:"ach"`
	Session    control.State             `json:"session"`
	TargetPa   float64                   `json:"target_pa"`
	Speed      *int                      `json:"speed"`
	Firmware   string                    `json:"firmware"`
	Ota        model.OtaTransfer         `json:"ota"`
	Settings   model.FlowSettings        `json:"settings"`
	Sensors    SensorHealth              `json:"sensors"`
}

func num(v float64) *float64 {
	if !model.IsFinite(v) {
		return nil
	}
	return &v
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.activeTargetLocked()
	s := Snapshot{
		At:         c.now(),
		Connection: c.conn,
		Mode:       c.mode,
		Calibrated: c.calib.IsCalibrated(),
		Baseline:   c.calib.Baseline(),
		HasFrame:   c.raw != nil,
		Session:    c.session.State(),
		TargetPa:   target,
		Firmware:   c.ota.Firmware(),
		Ota:        c.ota.Transfer(),
		Settings:   c.settings,
		Ach:        AchView{Valid: c.ach.Valid, Label: AchLabel(target)},
		Sensors: SensorHealth{
			FaultFrames:       c.faultFrames,
			FanEverValid:      c.fanEverOK,
			EnvelopeEverValid: c.envEverOK,
		},
	}
	if c.ach.Valid {
		s.Ach.Instant = num(c.ach.Instant)
		s.Ach.Average = num(c.ach.Average)
	}
	if v, ok := c.dispatch.Displayed(); ok {
		s.Speed = &v
	}
	if c.raw != nil {
		r := c.reading
		s.Readings = Readings{
			FanPa:         num(r.FanPa),
			FanTempC:      num(r.FanTempC),
			FanOK:         r.FanOK,
			EnvelopePa:    num(r.EnvelopePa),
			EnvelopeTempC: num(r.EnvelopeTempC),
			EnvelopeOK:    r.EnvelopeOK,
			RawFanPa:      num(r.RawFanPa),
			RawEnvelopePa: num(r.RawEnvelopePa),
			LineFreqHz:    num(c.raw.LineFreqHz),
			Relay:         c.raw.Relay,
			AutoHold:      c.raw.AutoHold,
			At:            r.At,
		}
	}
	return s
}

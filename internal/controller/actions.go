package controller

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blower-controller/internal/ach"
	"github.com/thatsimonsguy/blower-controller/internal/calibration"
	"github.com/thatsimonsguy/blower-controller/internal/model"
)

const defaultTargetPa = 50.0

func (c *Controller) activeTargetLocked() float64 {
	if st := c.session.State(); st.Active {
		return st.TargetPa
	}
	switch {
	case c.mode == model.ModeAuto:
		return c.settings.AutoTest.TargetPa()
	case c.mode == model.ModeSemi && c.semiTarget != nil:
		return *c.semiTarget
	}
	return defaultTargetPa
}

// retargetLocked drops the ACH window when the reference pressure moved.
func (c *Controller) retargetLocked() {
	t := c.activeTargetLocked()
	if t == c.lastTarget {
		return
	}
	log.Debug().Float64("from_pa", c.lastTarget).Float64("to_pa", t).Msg("Reference pressure changed")
	c.lastTarget = t
	c.resetAchLocked()
}

func (c *Controller) resetAchLocked() {
	c.est.Reset()
	c.ach = model.AchResult{}
}

// AchLabel names the active reference pressure: n50, n75 or "<t> Pa".
func AchLabel(targetPa float64) string {
	switch targetPa {
	case 50:
		return "n50"
	case 75:
		return "n75"
	}
	return strconv.FormatFloat(targetPa, 'f', -1, 64) + " Pa"
}

// stopLocked ends an active session and reports it. Stop semantics for the
// fan are left to the session.
func (c *Controller) stopLocked(stopFan bool) {
	st := c.session.State()
	c.session.Stop(stopFan)
	c.semiTarget = nil
	if st.Active {
		c.emit(model.Event{
			Type:       model.EventSessionStop,
			SessionID:  st.ID,
			TargetPa:   st.TargetPa,
			AchAverage: c.lastAch.Average,
			Detail:     fmt.Sprintf("stop_fan=%t", stopFan),
		})
	}
}

func (c *Controller) startLocked(mode model.Mode, targetPa float64) string {
	if c.session.Active() {
		c.stopLocked(false)
	}
	c.mode = mode
	if mode == model.ModeSemi {
		t := targetPa
		c.semiTarget = &t
	}
	id := c.session.Start(targetPa)
	c.lastAch = model.AchResult{}
	c.retargetLocked()
	c.emit(model.Event{Type: model.EventSessionStart, SessionID: id, TargetPa: targetPa, Detail: string(mode)})
	return id
}

// StartSemi holds the envelope at an operator-chosen pressure.
func (c *Controller) StartSemi(targetPa float64) (string, error) {
	if !model.IsFinite(targetPa) || targetPa <= 0 {
		return "", ErrInvalidTarget
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.calib.IsCalibrated() {
		return "", ErrNotCalibrated
	}
	return c.startLocked(model.ModeSemi, targetPa), nil
}

// StartAuto runs the configured n50 or n75 test.
func (c *Controller) StartAuto() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.calib.IsCalibrated() {
		return "", ErrNotCalibrated
	}
	return c.startLocked(model.ModeAuto, c.settings.AutoTest.TargetPa()), nil
}

// Stop ends the session. With stopFan the fan, relay and auto-hold outputs
// are switched off as well.
func (c *Controller) Stop(stopFan bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked(stopFan)
	c.retargetLocked()
}

// SetMode switches the operating mode. An active session is stopped without
// stopping the fan.
func (c *Controller) SetMode(mode model.Mode) error {
	switch mode {
	case model.ModeManual, model.ModeSemi, model.ModeAuto:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Active() {
		c.stopLocked(false)
	}
	c.mode = mode
	c.retargetLocked()
	return nil
}

// SetAutoTest selects n50 or n75. An active session is stopped first.
func (c *Controller) SetAutoTest(t model.AutoTest) error {
	if t != model.AutoTestN50 && t != model.AutoTestN75 {
		return fmt.Errorf("%w: %q", ErrInvalidAutoTest, t)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Active() {
		c.stopLocked(false)
	}
	c.settings.AutoTest = t
	c.saveLocked()
	c.resetAchLocked()
	c.retargetLocked()
	return nil
}

// ManualSpeed drives the fan directly. Any session is stopped without
// stopping the fan and the relay follows the requested speed.
func (c *Controller) ManualSpeed(value float64) error {
	if !model.IsFinite(value) {
		return ErrInvalidSpeed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.calib.IsCalibrated() {
		return ErrNotCalibrated
	}
	if c.session.Active() {
		c.stopLocked(false)
	}
	c.mode = model.ModeManual
	c.retargetLocked()

	v := model.Clamp(value, 0, 100)
	c.dispatch.RequestSpeed(v)
	c.dispatch.SetRelay(v > 0)
	if v <= 0 {
		c.dispatch.SetAutoHold(false)
	}
	return nil
}

// Calibrate zeroes the sensors. The session is stopped and the fan command
// to 0 is allowed to land before the board is asked to calibrate; the latest
// raw frame then becomes the new baseline.
func (c *Controller) Calibrate(ctx context.Context) (model.CalibrationBaseline, error) {
	c.mu.Lock()
	c.stopLocked(false)
	c.dispatch.RequestSpeed(0)
	c.mu.Unlock()
	c.dispatch.Wait()

	if err := c.device.Calibrate(ctx); err != nil {
		c.mu.Lock()
		c.conn = model.ConnDegraded
		c.mu.Unlock()
		return model.CalibrationBaseline{}, fmt.Errorf("device calibration failed: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.raw == nil {
		return model.CalibrationBaseline{}, calibration.ErrNoValidReading
	}
	b, err := c.calib.Capture(c.raw.FanPa, c.raw.EnvelopePa, c.now())
	if err != nil {
		return model.CalibrationBaseline{}, err
	}
	c.ach = model.AchResult{}
	c.reading = c.calib.Normalize(*c.raw)

	c.emit(model.Event{
		Type:   model.EventCalibrated,
		Detail: fmt.Sprintf("fan=%.2f Pa envelope=%.2f Pa", *b.FanOffsetPa, *b.EnvelopeOffsetPa),
	})
	c.events.publishBaseline(b)
	return b, nil
}

func validSettings(s model.FlowSettings) bool {
	for _, v := range []float64{s.VolumeM3, s.CoefficientC, s.ExponentN, s.AltitudeM, s.ApertureDiameterCm} {
		if !model.IsFinite(v) || v < 0 {
			return false
		}
	}
	return true
}

// UpdateSettings replaces the flow settings and restarts the ACH window. An
// empty auto test type keeps the current one.
func (c *Controller) UpdateSettings(s model.FlowSettings) (model.FlowSettings, error) {
	if !validSettings(s) {
		return model.FlowSettings{}, ErrInvalidSettings
	}
	if s.AutoTest != "" && s.AutoTest != model.AutoTestN50 && s.AutoTest != model.AutoTestN75 {
		return model.FlowSettings{}, fmt.Errorf("%w: %q", ErrInvalidAutoTest, s.AutoTest)
	}
	if s.ApertureDiameterCm == 0 {
		s.ApertureDiameterCm = ach.FullApertureCm
	}
	s.ApertureDiameterCm = model.Clamp(s.ApertureDiameterCm, ach.MinApertureCm, ach.MaxApertureCm)

	c.mu.Lock()
	defer c.mu.Unlock()
	if s.AutoTest == "" {
		s.AutoTest = c.settings.AutoTest
	}
	if s.AutoTest != c.settings.AutoTest && c.session.Active() {
		c.stopLocked(false)
	}
	c.settings = s
	c.saveLocked()
	c.resetAchLocked()
	c.retargetLocked()
	c.emit(model.Event{Type: model.EventSettings, Detail: settingsDetail(s)})
	return s, nil
}

// CalibrateAnemometer derives the fan coefficient C from an air speed (m/s)
// measured at the aperture against the latest fan pressure.
func (c *Controller) CalibrateAnemometer(airSpeed float64) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.raw == nil {
		return 0, ach.ErrInvalidAnemometer
	}
	coef, err := ach.RecalibrateC(airSpeed, c.reading.FanPa, c.reading.EnvelopeTempC, c.settings)
	if err != nil {
		return 0, err
	}
	c.settings.CoefficientC = coef
	c.saveLocked()
	c.resetAchLocked()

	log.Info().
		Float64("air_speed", airSpeed).
		Float64("fan_pa", c.reading.FanPa).
		Float64("fan_coef_c", coef).
		Msg("Fan coefficient recalibrated")
	c.emit(model.Event{Type: model.EventSettings, Detail: fmt.Sprintf("anemometer C=%.1f", coef)})
	return coef, nil
}

func settingsDetail(s model.FlowSettings) string {
	return fmt.Sprintf("volume=%g C=%g n=%g altitude=%g aperture=%g test=%s",
		s.VolumeM3, s.CoefficientC, s.ExponentN, s.AltitudeM, s.ApertureDiameterCm, s.AutoTest)
}

func (c *Controller) saveLocked() {
	if c.saver == nil {
		return
	}
	if err := c.saver.SaveSettings(c.settings); err != nil {
		log.Error().Err(err).Msg("Failed to persist flow settings")
	}
}

// StartFirmwareUpload claims the update slot for image. It fails with
// ota.ErrBusy while another upload or an apply runs; otherwise the returned
// function stages the image on the device and must be run.
func (c *Controller) StartFirmwareUpload(image []byte, version string) (func(ctx context.Context) error, error) {
	return c.ota.Reserve(image, version)
}

// ApplyFirmware flashes the staged image; the device reboots.
func (c *Controller) ApplyFirmware(ctx context.Context) error {
	return c.ota.Apply(ctx)
}

// Shutdown stops any session with the fan off and waits for the resulting
// commands to finish.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	c.stopLocked(true)
	c.mu.Unlock()
	c.dispatch.Wait()
}

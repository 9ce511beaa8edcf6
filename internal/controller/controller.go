// Package controller owns everything attached to one blower device: the
// calibration baseline, the ACH window, the control session, the command
// dispatcher and the firmware update mirror.
package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blower-controller/internal/ach"
	"github.com/thatsimonsguy/blower-controller/internal/calibration"
	"github.com/thatsimonsguy/blower-controller/internal/control"
	"github.com/thatsimonsguy/blower-controller/internal/dispatch"
	"github.com/thatsimonsguy/blower-controller/internal/model"
	"github.com/thatsimonsguy/blower-controller/internal/ota"
)

var (
	ErrNotCalibrated   = errors.New("sensors are not calibrated")
	ErrInvalidTarget   = errors.New("target pressure must be a positive number")
	ErrInvalidMode     = errors.New("unknown mode")
	ErrInvalidAutoTest = errors.New("unknown auto test type")
	ErrInvalidSettings = errors.New("flow settings must be finite and non-negative")
	ErrInvalidSpeed    = errors.New("speed must be a number")
)

// SensorFaultFrames is the number of consecutive frames with a failed sensor
// before the connection is reported as a sensor error.
const SensorFaultFrames = 3

// Device is the board as seen by the controller.
type Device interface {
	dispatch.Commander
	ota.Client
	Calibrate(ctx context.Context) error
}

// Recorder receives lifecycle events. Recorders that also implement
// BaselineRecorder are handed every captured baseline.
type Recorder interface {
	Record(ctx context.Context, e model.Event) error
}

type BaselineRecorder interface {
	RecordCalibration(ctx context.Context, b model.CalibrationBaseline) error
}

type SettingsSaver interface {
	SaveSettings(s model.FlowSettings) error
}

type Options struct {
	Settings  model.FlowSettings
	Saver     SettingsSaver
	Recorders []Recorder
	Gains     control.Gains
	Now       func() time.Time
}

type Controller struct {
	device   Device
	dispatch *dispatch.Dispatcher
	calib    *calibration.Store
	est      *ach.Estimator
	session  *control.Session
	ota      *ota.Manager
	saver    SettingsSaver
	now      func() time.Time
	events   *fanout

	mu           sync.Mutex
	mode         model.Mode
	semiTarget   *float64
	settings     model.FlowSettings
	raw          *model.TelemetryFrame
	reading      model.CorrectedReading
	ach          model.AchResult
	conn         model.ConnState
	faultFrames  int
	fanEverOK    bool
	envEverOK    bool
	channelUp    bool
	lastTarget   float64
	lastAch      model.AchResult
}

// New wires a controller to dev. ctx bounds outbound device commands; event
// delivery runs until Close.
func New(ctx context.Context, dev Device, opts Options) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Gains == (control.Gains{}) {
		opts.Gains = control.DefaultGains
	}
	if opts.Settings.AutoTest == "" {
		opts.Settings.AutoTest = model.AutoTestN50
	}

	c := &Controller{
		device:   dev,
		dispatch: dispatch.New(ctx, dev),
		calib:    calibration.NewStore(),
		est:      ach.NewEstimator(),
		saver:    opts.Saver,
		now:      opts.Now,
		events:   newFanout(opts.Recorders),
		mode:     model.ModeManual,
		settings: opts.Settings,
		conn:     model.ConnConnecting,
	}
	c.session = control.NewSession(c.dispatch, opts.Gains, opts.Now)
	c.calib.OnCapture(c.est.Reset)
	c.dispatch.OnResult(c.commandResult)
	c.ota = ota.NewManager(dev, ota.Hooks{
		Uploaded:  c.firmwareUploaded,
		Failed:    c.firmwareFailed,
		Rebooting: c.deviceRebooting,
	})
	c.lastTarget = c.activeTargetLocked()
	return c
}

// Close stops event delivery after draining queued events.
func (c *Controller) Close() {
	c.events.close()
}

// OTA exposes the firmware update manager for status polling.
func (c *Controller) OTA() *ota.Manager {
	return c.ota
}

// HandleFrame processes one telemetry frame. The control loop, the ACH
// estimator and the snapshot all see the same corrected reading.
func (c *Controller) HandleFrame(frame model.TelemetryFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := frame
	c.raw = &f
	reading := c.calib.Normalize(frame)
	c.reading = reading

	if frame.FanOK {
		c.fanEverOK = true
	}
	if frame.EnvelopeOK {
		c.envEverOK = true
	}

	c.dispatch.Observe(frame.PWM)
	c.ota.ObserveFirmware(frame.Firmware)

	// Raw pressures carry the sensor zero offset; no ACH until calibrated.
	if reading.Calibrated {
		target := c.activeTargetLocked()
		c.ach = c.est.Estimate(reading, target, ach.ParamsFromSettings(c.settings), c.now())
		if c.ach.Valid {
			c.lastAch = c.ach
		}
	} else {
		c.ach = model.AchResult{}
	}

	if c.session.Update(reading) == control.EnteredHold {
		st := c.session.State()
		c.emit(model.Event{Type: model.EventHoldReached, SessionID: st.ID, TargetPa: st.TargetPa})
	}

	c.updateHealthLocked(frame)
}

func (c *Controller) updateHealthLocked(frame model.TelemetryFrame) {
	if !frame.FanOK || !frame.EnvelopeOK {
		c.faultFrames++
	} else {
		c.faultFrames = 0
	}

	if c.faultFrames >= SensorFaultFrames {
		if c.conn != model.ConnSensorError {
			log.Warn().
				Bool("fan_ok", frame.FanOK).
				Bool("envelope_ok", frame.EnvelopeOK).
				Int("frames", c.faultFrames).
				Msg("Pressure sensor read error")
			c.emit(model.Event{Type: model.EventSensorFault, Detail: sensorDetail(frame)})
		}
		c.conn = model.ConnSensorError
		return
	}
	c.conn = model.ConnOK
}

func sensorDetail(frame model.TelemetryFrame) string {
	switch {
	case !frame.FanOK && !frame.EnvelopeOK:
		return "fan and envelope sensors failing"
	case !frame.FanOK:
		return "fan sensor failing"
	default:
		return "envelope sensor failing"
	}
}

// ChannelOpened is called when the telemetry subscription is established.
func (c *Controller) ChannelOpened() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channelUp = true
	if c.conn == model.ConnConnecting || c.conn == model.ConnReconnecting {
		c.conn = model.ConnOK
	}
}

// ChannelLost is called when the telemetry subscription fails.
func (c *Controller) ChannelLost(err error, retryIn time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasUp := c.channelUp
	c.channelUp = false
	if c.conn == model.ConnRebooting {
		return
	}
	if wasUp {
		c.conn = model.ConnReconnecting
		c.emit(model.Event{Type: model.EventChannelFailed, Detail: err.Error()})
	} else if c.conn != model.ConnReconnecting {
		c.conn = model.ConnConnecting
	}
}

func (c *Controller) commandResult(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case err != nil && c.conn != model.ConnRebooting:
		c.conn = model.ConnDegraded
	case err == nil && c.conn == model.ConnDegraded:
		c.conn = model.ConnOK
	}
}

func (c *Controller) firmwareUploaded(version string, size int) {
	c.emit(model.Event{Type: model.EventOtaUploaded, Detail: version})
}

func (c *Controller) firmwareFailed(step string, err error) {
	c.emit(model.Event{Type: model.EventOtaFailed, Detail: step + ": " + err.Error()})
}

func (c *Controller) deviceRebooting() {
	c.mu.Lock()
	c.conn = model.ConnRebooting
	c.mu.Unlock()
	c.emit(model.Event{Type: model.EventOtaApplied, Detail: c.ota.Transfer().VersionLabel})
}

func (c *Controller) emit(e model.Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = c.now()
	}
	c.events.publish(e)
}

// Package calibration holds the zero-pressure baseline and applies it to raw
// telemetry.
package calibration

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blower-controller/internal/model"
)

var ErrNoValidReading = errors.New("no valid readings for calibration")

// Store owns the current baseline. A baseline is replaced as a whole by
// Capture and never edited in place.
type Store struct {
	mu        sync.RWMutex
	baseline  model.CalibrationBaseline
	onCapture []func()
}

func NewStore() *Store {
	return &Store{}
}

// OnCapture registers a hook run after every successful capture. The ACH
// window uses it to drop samples taken against the old zero.
func (s *Store) OnCapture(fn func()) {
	s.mu.Lock()
	s.onCapture = append(s.onCapture, fn)
	s.mu.Unlock()
}

func (s *Store) Capture(rawFanPa, rawEnvelopePa float64, now time.Time) (model.CalibrationBaseline, error) {
	if !model.IsFinite(rawFanPa) || !model.IsFinite(rawEnvelopePa) {
		return model.CalibrationBaseline{}, ErrNoValidReading
	}

	fan, env := rawFanPa, rawEnvelopePa
	baseline := model.CalibrationBaseline{
		FanOffsetPa:      &fan,
		EnvelopeOffsetPa: &env,
		CapturedAt:       now,
	}

	s.mu.Lock()
	s.baseline = baseline
	hooks := append([]func(){}, s.onCapture...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}

	log.Info().
		Float64("fan_offset_pa", fan).
		Float64("envelope_offset_pa", env).
		Msg("Zero calibration applied")

	return baseline, nil
}

func (s *Store) IsCalibrated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseline.Calibrated()
}

// Baseline returns a copy of the current baseline.
func (s *Store) Baseline() model.CalibrationBaseline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := s.baseline
	if b.FanOffsetPa != nil {
		v := *b.FanOffsetPa
		b.FanOffsetPa = &v
	}
	if b.EnvelopeOffsetPa != nil {
		v := *b.EnvelopeOffsetPa
		b.EnvelopeOffsetPa = &v
	}
	return b
}

// Normalize subtracts the baseline from each raw pressure. Uncalibrated
// readings pass through unchanged; callers decide whether to act on them.
func (s *Store) Normalize(frame model.TelemetryFrame) model.CorrectedReading {
	s.mu.RLock()
	baseline := s.baseline
	s.mu.RUnlock()

	reading := model.CorrectedReading{
		FanPa:         frame.FanPa,
		FanTempC:      frame.FanTempC,
		FanOK:         frame.FanOK,
		EnvelopePa:    frame.EnvelopePa,
		EnvelopeTempC: frame.EnvelopeTempC,
		EnvelopeOK:    frame.EnvelopeOK,
		RawFanPa:      frame.FanPa,
		RawEnvelopePa: frame.EnvelopePa,
		At:            frame.ReceivedAt,
	}
	if baseline.Calibrated() {
		reading.FanPa = frame.FanPa - *baseline.FanOffsetPa
		reading.EnvelopePa = frame.EnvelopePa - *baseline.EnvelopeOffsetPa
		reading.Calibrated = true
	}
	return reading
}

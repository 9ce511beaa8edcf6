// Package ach estimates air changes per hour from corrected fan and envelope
// pressures using the fan's power-law flow curve.
package ach

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/thatsimonsguy/blower-controller/internal/model"
)

const (
	WindowHorizon        = 5000 * time.Millisecond
	MinEnvelopePa        = 9.0
	SeaLevelAirDensity   = 1.225
	FullApertureCm       = 31.0
	MinApertureCm        = 5.0
	MaxApertureCm        = 60.0
	DefaultAltitudeM     = 650.0
	DefaultTemperatureC  = 20.0
	MaxAltitudeM         = 6000.0
	envelopeFlowExponent = 0.65
)

var ErrInvalidAnemometer = errors.New("anemometer calibration inputs are invalid")

// Params is the physical model configuration for one estimate.
type Params struct {
	VolumeM3      float64
	CoefficientC  float64
	ExponentN     float64
	AltitudeM     float64
	ApertureRatio float64
}

func ParamsFromSettings(s model.FlowSettings) Params {
	return Params{
		VolumeM3:      s.VolumeM3,
		CoefficientC:  s.CoefficientC,
		ExponentN:     s.ExponentN,
		AltitudeM:     s.AltitudeM,
		ApertureRatio: ApertureRatio(s.ApertureDiameterCm),
	}
}

// AirDensity returns kg/m³ at the given altitude and temperature using the
// standard barometric formula.
func AirDensity(altitudeM, tempC float64) float64 {
	if !model.IsFinite(altitudeM) {
		altitudeM = DefaultAltitudeM
	}
	a := model.Clamp(altitudeM, 0, MaxAltitudeM)
	pressure := 101325 * math.Pow(1-2.25577e-5*a, 5.25588)
	if !model.IsFinite(tempC) {
		tempC = DefaultTemperatureC
	}
	return pressure / (287.05 * (tempC + 273.15))
}

func densityFactor(altitudeM, tempC float64) float64 {
	return math.Sqrt(SeaLevelAirDensity / AirDensity(altitudeM, tempC))
}

// ApertureArea returns the open area in m² of a circular aperture, with the
// diameter clamped to the fan's supported range.
func ApertureArea(diameterCm float64) float64 {
	if !model.IsFinite(diameterCm) {
		diameterCm = FullApertureCm
	}
	d := model.Clamp(diameterCm, MinApertureCm, MaxApertureCm) / 100
	return math.Pi * (d / 2) * (d / 2)
}

// ApertureRatio is the open area relative to the full 31 cm aperture.
func ApertureRatio(diameterCm float64) float64 {
	return ApertureArea(diameterCm) / ApertureArea(FullApertureCm)
}

// Instant computes the instantaneous ACH at targetPa. ok is false when any
// model precondition is unmet.
func Instant(fanPa, envelopePa, envelopeTempC, targetPa float64, p Params) (float64, bool) {
	if !model.IsFinite(fanPa) || !model.IsFinite(envelopePa) {
		return 0, false
	}
	if p.VolumeM3 <= 0 || p.CoefficientC <= 0 || p.ExponentN <= 0 {
		return 0, false
	}
	fanAbs := math.Abs(fanPa)
	envAbs := math.Abs(envelopePa)
	if fanAbs <= 0 || envAbs < MinEnvelopePa {
		return 0, false
	}

	df := densityFactor(p.AltitudeM, envelopeTempC)
	qFan := p.CoefficientC * math.Pow(fanAbs, p.ExponentN) * p.ApertureRatio * df
	qRef := qFan * math.Pow(targetPa/envAbs, envelopeFlowExponent)
	instant := qRef / p.VolumeM3
	if !model.IsFinite(instant) || instant < 0 {
		return 0, false
	}
	return instant, true
}

// Estimator keeps a time-bounded window of valid instantaneous samples and
// reports their mean alongside each new estimate.
type Estimator struct {
	mu      sync.Mutex
	horizon time.Duration
	window  []model.AchSample
}

func NewEstimator() *Estimator {
	return &Estimator{horizon: WindowHorizon}
}

func (e *Estimator) Estimate(reading model.CorrectedReading, targetPa float64, p Params, now time.Time) model.AchResult {
	instant, ok := Instant(reading.FanPa, reading.EnvelopePa, reading.EnvelopeTempC, targetPa, p)
	if !ok {
		return model.AchResult{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.window = append(e.window, model.AchSample{At: now, Value: instant})
	drop := 0
	for drop < len(e.window) && now.Sub(e.window[drop].At) > e.horizon {
		drop++
	}
	e.window = e.window[drop:]

	sum := 0.0
	for _, s := range e.window {
		sum += s.Value
	}
	n := len(e.window)
	if n < 1 {
		n = 1
	}
	return model.AchResult{Valid: true, Instant: instant, Average: sum / float64(n)}
}

// Reset discards every retained sample so averages never straddle a change
// of zero reference, target or configuration.
func (e *Estimator) Reset() {
	e.mu.Lock()
	e.window = nil
	e.mu.Unlock()
}

// Samples returns a copy of the retained window, oldest first.
func (e *Estimator) Samples() []model.AchSample {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.AchSample(nil), e.window...)
}

// RecalibrateC derives the fan coefficient from an anemometer air speed
// (m/s) measured across the aperture while the fan is running.
func RecalibrateC(airSpeed, fanPa, envelopeTempC float64, s model.FlowSettings) (float64, error) {
	if !model.IsFinite(airSpeed) || airSpeed <= 0 {
		return 0, ErrInvalidAnemometer
	}
	if !model.IsFinite(fanPa) || fanPa <= 0 {
		return 0, ErrInvalidAnemometer
	}
	ratio := ApertureRatio(s.ApertureDiameterCm)
	if s.ExponentN <= 0 || ratio <= 0 {
		return 0, ErrInvalidAnemometer
	}

	measured := airSpeed * ApertureArea(s.ApertureDiameterCm) * 3600
	df := densityFactor(s.AltitudeM, envelopeTempC)
	c := measured / (math.Pow(math.Abs(fanPa), s.ExponentN) * ratio * df)
	if !model.IsFinite(c) || c <= 0 {
		return 0, ErrInvalidAnemometer
	}
	return c, nil
}

package ach

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/blower-controller/internal/model"
)

var baseParams = Params{
	VolumeM3:      250,
	CoefficientC:  100,
	ExponentN:     0.65,
	AltitudeM:     650,
	ApertureRatio: 1,
}

func TestAirDensity(t *testing.T) {
	assert.InDelta(t, 1.2250, AirDensity(0, 15), 1e-4)
	assert.InDelta(t, 1.11417, AirDensity(650, 20), 1e-5)
	assert.Equal(t, AirDensity(0, 20), AirDensity(-5, 20), "altitude clamps at 0")
	assert.Equal(t, AirDensity(6000, 20), AirDensity(10000, 20), "altitude clamps at 6000")
	assert.Equal(t, AirDensity(650, 20), AirDensity(650, math.NaN()), "temperature defaults to 20C")
}

func TestApertureRatio(t *testing.T) {
	assert.InDelta(t, 1.0, ApertureRatio(31), 1e-12)
	assert.InDelta(t, 0.25, ApertureRatio(15.5), 1e-12)
	assert.Equal(t, ApertureRatio(5), ApertureRatio(1))
	assert.Equal(t, ApertureRatio(60), ApertureRatio(90))
	assert.InDelta(t, 1.0, ApertureRatio(math.NaN()), 1e-12)
}

func TestInstant(t *testing.T) {
	t.Run("physical model", func(t *testing.T) {
		got, ok := Instant(20, 40, 20, 50, baseParams)
		require.True(t, ok)
		assert.InDelta(t, 3.39870, got, 1e-4)
	})

	t.Run("sign of the pressures is ignored", func(t *testing.T) {
		pos, ok := Instant(20, 40, 20, 50, baseParams)
		require.True(t, ok)
		neg, ok := Instant(-20, -40, 20, 50, baseParams)
		require.True(t, ok)
		assert.InDelta(t, pos, neg, 1e-12)
	})

	invalid := []struct {
		name   string
		fan    float64
		env    float64
		params func(p Params) Params
	}{
		{"fan NaN", math.NaN(), 40, nil},
		{"envelope NaN", 20, math.NaN(), nil},
		{"zero fan pressure", 0, 40, nil},
		{"envelope below threshold", 20, 8.99, nil},
		{"zero volume", 20, 40, func(p Params) Params { p.VolumeM3 = 0; return p }},
		{"negative coefficient", 20, 40, func(p Params) Params { p.CoefficientC = -1; return p }},
		{"zero exponent", 20, 40, func(p Params) Params { p.ExponentN = 0; return p }},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			p := baseParams
			if tt.params != nil {
				p = tt.params(p)
			}
			_, ok := Instant(tt.fan, tt.env, 20, 50, p)
			assert.False(t, ok)
		})
	}

	t.Run("envelope exactly at threshold is usable", func(t *testing.T) {
		_, ok := Instant(20, MinEnvelopePa, 20, 50, baseParams)
		assert.True(t, ok)
	})
}

func TestEstimatorWindow(t *testing.T) {
	e := NewEstimator()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reading := model.CorrectedReading{FanPa: 20, EnvelopePa: 40, EnvelopeTempC: 20}

	offsets := []time.Duration{0, 1 * time.Second, 2500 * time.Millisecond, 5 * time.Second, 5001 * time.Millisecond, 9 * time.Second, 16 * time.Second}
	for _, off := range offsets {
		now := start.Add(off)
		fan := 10 + off.Seconds()
		reading.FanPa = fan
		res := e.Estimate(reading, 50, baseParams, now)
		require.True(t, res.Valid)

		samples := e.Samples()
		require.NotEmpty(t, samples)
		last := samples[len(samples)-1]
		assert.Equal(t, now, last.At)

		sum := 0.0
		for i, s := range samples {
			assert.LessOrEqual(t, now.Sub(s.At), WindowHorizon, "sample %d outside window", i)
			if i > 0 {
				assert.False(t, s.At.Before(samples[i-1].At), "window out of order")
			}
			sum += s.Value
		}
		assert.InDelta(t, sum/float64(len(samples)), res.Average, 1e-9)
		assert.Equal(t, last.Value, res.Instant)
	}

	// 16s leaves only itself in the window; 9s and earlier are gone.
	assert.Len(t, e.Samples(), 1)
}

func TestEstimatorKeepsSampleExactlyAtHorizon(t *testing.T) {
	e := NewEstimator()
	start := time.Now()
	reading := model.CorrectedReading{FanPa: 20, EnvelopePa: 40, EnvelopeTempC: 20}

	e.Estimate(reading, 50, baseParams, start)
	e.Estimate(reading, 50, baseParams, start.Add(WindowHorizon))
	assert.Len(t, e.Samples(), 2)

	e.Estimate(reading, 50, baseParams, start.Add(WindowHorizon+time.Millisecond))
	assert.Len(t, e.Samples(), 2)
}

func TestEstimatorInvalidDoesNotInsert(t *testing.T) {
	e := NewEstimator()
	res := e.Estimate(model.CorrectedReading{FanPa: 20, EnvelopePa: 2}, 50, baseParams, time.Now())
	assert.False(t, res.Valid)
	assert.Empty(t, e.Samples())
}

func TestEstimatorReset(t *testing.T) {
	e := NewEstimator()
	now := time.Now()
	reading := model.CorrectedReading{FanPa: 20, EnvelopePa: 40, EnvelopeTempC: 20}
	e.Estimate(reading, 50, baseParams, now)
	e.Estimate(reading, 50, baseParams, now.Add(time.Second))
	require.Len(t, e.Samples(), 2)

	e.Reset()
	assert.Empty(t, e.Samples())

	reading.FanPa = 30
	res := e.Estimate(reading, 50, baseParams, now.Add(2*time.Second))
	assert.Equal(t, res.Instant, res.Average)
}

func TestRecalibrateC(t *testing.T) {
	settings := model.FlowSettings{ExponentN: 0.65, AltitudeM: 650, ApertureDiameterCm: 31}

	c, err := RecalibrateC(5, 20, 20, settings)
	require.NoError(t, err)

	// Feeding C back through the model reproduces the measured flow.
	measured := 5 * ApertureArea(31) * 3600
	modelled := c * math.Pow(20, 0.65) * ApertureRatio(31) * math.Sqrt(SeaLevelAirDensity/AirDensity(650, 20))
	assert.InDelta(t, measured, modelled, 1e-6)

	for _, tt := range []struct {
		name  string
		speed float64
		fan   float64
		n     float64
	}{
		{"zero speed", 0, 20, 0.65},
		{"NaN speed", math.NaN(), 20, 0.65},
		{"negative fan pressure", 5, -3, 0.65},
		{"zero exponent", 5, 20, 0},
	} {
		t.Run(tt.name, func(t *testing.T) {
			s := settings
			s.ExponentN = tt.n
			_, err := RecalibrateC(tt.speed, tt.fan, 20, s)
			assert.ErrorIs(t, err, ErrInvalidAnemometer)
		})
	}
}

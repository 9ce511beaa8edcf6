// Package control runs the ramp/hold pressure session that drives the fan
// toward a target envelope pressure.
package control

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blower-controller/internal/model"
)

const RampRatio = 0.97

// Actuator is the outbound side of the session. RequestSpeed is expected to
// be idempotent for an unchanged value.
type Actuator interface {
	RequestSpeed(value float64)
	LastSpeed() (int, bool)
	ForgetSpeed()
	SetRelay(on bool)
	SetAutoHold(on bool)
}

// Transition reports a stage change caused by an update.
type Transition int

const (
	NoTransition Transition = iota
	EnteredHold
)

// State is a read-only view of the session.
type State struct {
	ID       string      `json:"id,omitempty"`
	Active   bool        `json:"active"`
	Stage    model.Stage `json:"stage"`
	TargetPa float64     `json:"target_pa"`
}

// Session is the single control session for one device. Start and Stop
// reset the PID state; updates with an unhealthy envelope sensor are ignored.
type Session struct {
	mu     sync.Mutex
	out    Actuator
	gains  Gains
	now    func() time.Time
	id     string
	active bool
	stage  model.Stage
	target float64
	pid    pidState
}

func NewSession(out Actuator, gains Gains, now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	return &Session{
		out:    out,
		gains:  gains,
		now:    now,
		stage:  model.StageIdle,
		target: 50,
	}
}

// Start enters the ramp stage at full speed. The caller checks calibration
// first.
func (s *Session) Start(targetPa float64) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.id = uuid.NewString()
	s.active = true
	s.stage = model.StageRamp
	s.target = targetPa
	s.pid = newPID(targetPa, s.now())
	s.out.ForgetSpeed()

	log.Info().
		Str("session_id", s.id).
		Float64("target_pa", targetPa).
		Msg("Ramping to target pressure")

	s.out.SetAutoHold(true)
	s.out.SetRelay(true)
	s.out.RequestSpeed(100)
	return s.id
}

// Stop returns to idle. With stopFan the fan is commanded to 0 and the relay
// and auto-hold outputs are released. An in-flight command is not cancelled.
func (s *Session) Stop(stopFan bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		log.Info().
			Str("session_id", s.id).
			Bool("stop_fan", stopFan).
			Msg("Stopping control session")
	}

	s.active = false
	s.stage = model.StageIdle
	s.id = ""
	s.pid = newPID(0, s.now())
	s.out.ForgetSpeed()

	if stopFan {
		s.out.RequestSpeed(0)
		s.out.SetRelay(false)
		s.out.SetAutoHold(false)
	}
}

// Update feeds one corrected reading into the loop.
func (s *Session) Update(r model.CorrectedReading) Transition {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active || !model.IsFinite(r.EnvelopePa) || !r.EnvelopeOK {
		return NoTransition
	}
	measured := math.Abs(r.EnvelopePa)
	now := s.now()

	if s.stage == model.StageRamp {
		if measured >= s.target*RampRatio {
			s.stage = model.StageHold
			s.pid = newPID(s.target-measured, now)
			log.Info().
				Str("session_id", s.id).
				Float64("target_pa", s.target).
				Float64("measured_pa", measured).
				Msg("Holding at target pressure")
			return EnteredHold
		}
		s.out.RequestSpeed(100)
		return NoTransition
	}

	raw, ok := s.pid.step(s.gains, s.target, measured, now)
	if !ok {
		return NoTransition
	}
	last, haveLast := s.out.LastSpeed()
	s.out.RequestSpeed(smooth(last, haveLast, raw))
	return NoTransition
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{ID: s.id, Active: s.active, Stage: s.stage, TargetPa: s.target}
}

func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

package control

import (
	"math"
	"time"

	"github.com/thatsimonsguy/blower-controller/internal/model"
)

// Gains are the hold-stage PID tuning. Output is a fan speed percentage
// added to Base.
type Gains struct {
	Kp       float64
	Ki       float64
	Kd       float64
	Deadband float64
	Base     float64
}

var DefaultGains = Gains{Kp: 1.15, Ki: 0.2, Kd: 0.06, Deadband: 0.8, Base: 62}

const (
	integralLimit = 80.0
	minDt         = 0.1
	smoothingKeep = 0.7
)

type pidState struct {
	integral  float64
	lastError float64
	lastTime  time.Time
}

func newPID(lastError float64, now time.Time) pidState {
	return pidState{lastError: lastError, lastTime: now}
}

// step runs one PID evaluation. ok is false inside the deadband, where no
// command must be issued.
func (p *pidState) step(g Gains, target, measured float64, now time.Time) (speed float64, ok bool) {
	dt := now.Sub(p.lastTime).Seconds()
	if dt < minDt {
		dt = minDt
	}
	p.lastTime = now

	e := target - measured
	if math.Abs(e) <= g.Deadband {
		return 0, false
	}

	p.integral = model.Clamp(p.integral+e*dt, -integralLimit, integralLimit)
	derivative := (e - p.lastError) / dt
	p.lastError = e

	correction := g.Kp*e + g.Ki*p.integral + g.Kd*derivative
	return model.Clamp(g.Base+correction, 0, 100), true
}

// smooth blends a new raw output with the last commanded speed.
func smooth(last int, haveLast bool, raw float64) float64 {
	if !haveLast {
		return raw
	}
	return float64(last)*smoothingKeep + raw*(1-smoothingKeep)
}

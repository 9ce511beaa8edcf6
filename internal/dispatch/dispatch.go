// Package dispatch serializes fan-speed commands to the device. At most one
// speed command is in flight; requests arriving meanwhile collapse into a
// single pending slot where the latest value wins.
package dispatch

import (
	"context"
	"math"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blower-controller/internal/model"
)

// Commander is the device command surface the dispatcher drives.
type Commander interface {
	SetSpeed(ctx context.Context, value int) error
	SetRelay(ctx context.Context, on bool) error
	SetAutoHold(ctx context.Context, on bool) error
}

type Dispatcher struct {
	ctx context.Context
	cmd Commander

	mu       sync.Mutex
	last     *int
	display  *int
	inFlight bool
	pending  *int
	onResult func(err error)

	// active counts running command goroutines; idle is signalled under mu
	// when it drops to zero.
	active int
	idle   *sync.Cond
}

func New(ctx context.Context, cmd Commander) *Dispatcher {
	d := &Dispatcher{ctx: ctx, cmd: cmd}
	d.idle = sync.NewCond(&d.mu)
	return d
}

// OnResult registers a callback invoked after every speed send with its
// outcome. It runs on the sending goroutine.
func (d *Dispatcher) OnResult(fn func(err error)) {
	d.mu.Lock()
	d.onResult = fn
	d.mu.Unlock()
}

func normalize(value float64) int {
	if !model.IsFinite(value) {
		value = 0
	}
	return int(math.Round(model.Clamp(value, 0, 100)))
}

// RequestSpeed asks for a new fan speed. It is a no-op when the rounded value
// equals the last one requested.
func (d *Dispatcher) RequestSpeed(value float64) {
	v := normalize(value)

	d.mu.Lock()
	if d.last != nil && *d.last == v {
		d.mu.Unlock()
		return
	}
	d.last = &v
	d.display = &v
	if d.inFlight {
		d.pending = &v
		d.mu.Unlock()
		return
	}
	d.inFlight = true
	d.active++
	d.mu.Unlock()

	go d.drain(v)
}

func (d *Dispatcher) drain(v int) {
	defer d.done()
	for {
		err := d.cmd.SetSpeed(d.ctx, v)
		if err != nil {
			log.Warn().Err(err).Int("speed", v).Msg("Fan speed command failed")
		} else {
			log.Debug().Int("speed", v).Msg("Fan speed command sent")
		}

		d.mu.Lock()
		report := d.onResult
		next := d.pending
		d.pending = nil
		if next == nil || *next == v {
			d.inFlight = false
			d.mu.Unlock()
			if report != nil {
				report(err)
			}
			return
		}
		d.mu.Unlock()

		if report != nil {
			report(err)
		}
		v = *next
	}
}

// LastSpeed returns the last requested speed, if any.
func (d *Dispatcher) LastSpeed() (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return 0, false
	}
	return *d.last, true
}

// ForgetSpeed clears the dedupe memory so the next request is always sent.
func (d *Dispatcher) ForgetSpeed() {
	d.mu.Lock()
	d.last = nil
	d.mu.Unlock()
}

// Observe reconciles the displayed speed with the device's reported value.
func (d *Dispatcher) Observe(pwm float64) {
	if !model.IsFinite(pwm) {
		return
	}
	v := normalize(pwm)
	d.mu.Lock()
	d.display = &v
	d.mu.Unlock()
}

// Displayed is the optimistic speed shown to the operator.
func (d *Dispatcher) Displayed() (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.display == nil {
		return 0, false
	}
	return *d.display, true
}

func (d *Dispatcher) SetRelay(on bool) {
	d.fire("relay", on, d.cmd.SetRelay)
}

func (d *Dispatcher) SetAutoHold(on bool) {
	d.fire("auto_hold", on, d.cmd.SetAutoHold)
}

func (d *Dispatcher) fire(name string, on bool, call func(context.Context, bool) error) {
	d.mu.Lock()
	d.active++
	d.mu.Unlock()
	go func() {
		defer d.done()
		if err := call(d.ctx, on); err != nil {
			log.Warn().Err(err).Str("output", name).Bool("on", on).Msg("Output command failed")
		}
	}()
}

func (d *Dispatcher) done() {
	d.mu.Lock()
	d.active--
	if d.active == 0 {
		d.idle.Broadcast()
	}
	d.mu.Unlock()
}

// Wait blocks until no command is running. Commands started while waiting
// are waited for too; Wait may be called concurrently with any request.
func (d *Dispatcher) Wait() {
	d.mu.Lock()
	for d.active > 0 {
		d.idle.Wait()
	}
	d.mu.Unlock()
}

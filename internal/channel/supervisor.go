// Package channel keeps the device telemetry subscription alive, reconnecting
// with a capped doubling delay.
package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blower-controller/internal/model"
)

const (
	BaseDelay = 1500 * time.Millisecond
	MaxDelay  = 12 * time.Second
)

var errStreamClosed = errors.New("telemetry stream closed")

// Subscriber opens one push subscription and blocks until it ends. onOpen is
// called once the stream is established and onMessage once per event, both
// on the calling goroutine.
type Subscriber interface {
	Subscribe(ctx context.Context, onOpen func(), onMessage func(data []byte)) error
}

// Hooks report the subscription lifecycle. Any of them may be nil.
type Hooks struct {
	Opened func()
	Lost   func(err error, retryIn time.Duration)
}

type Supervisor struct {
	sub    Subscriber
	handle func(model.TelemetryFrame)
	hooks  Hooks
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	backoff *backoff.ExponentialBackOff

	received atomic.Uint64
	dropped  atomic.Uint64
	retries  atomic.Uint64
}

func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func NewSupervisor(sub Subscriber, handle func(model.TelemetryFrame), hooks Hooks) *Supervisor {
	return &Supervisor{
		sub:     sub,
		handle:  handle,
		hooks:   hooks,
		now:     time.Now,
		sleep:   sleepCtx,
		backoff: newBackoff(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run keeps a subscription open until ctx is cancelled. Each failed attempt
// waits for the current delay before the next; there is never more than one
// pending retry.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		err := s.sub.Subscribe(ctx, s.opened, s.message)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			err = errStreamClosed
		}

		s.mu.Lock()
		delay := s.backoff.NextBackOff()
		s.mu.Unlock()
		s.retries.Add(1)

		log.Warn().Err(err).Dur("delay", delay).Msg("Telemetry channel lost; reconnect scheduled")
		if s.hooks.Lost != nil {
			s.hooks.Lost(err, delay)
		}

		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (s *Supervisor) opened() {
	s.mu.Lock()
	s.backoff.Reset()
	s.mu.Unlock()

	log.Info().Msg("Telemetry channel open")
	if s.hooks.Opened != nil {
		s.hooks.Opened()
	}
}

func (s *Supervisor) message(data []byte) {
	frame, err := model.DecodeTelemetry(data, s.now())
	if err != nil {
		s.dropped.Add(1)
		log.Debug().Err(err).Int("bytes", len(data)).Msg("Dropping malformed telemetry event")
		return
	}
	s.received.Add(1)
	s.handle(frame)
}

// Stats returns the frames handled, frames dropped as malformed, and
// reconnects scheduled so far.
func (s *Supervisor) Stats() (received, dropped, retries uint64) {
	return s.received.Load(), s.dropped.Load(), s.retries.Load()
}

package controller

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blower-controller/internal/model"
)

const (
	eventQueueSize = 64
	recordTimeout  = 10 * time.Second
)

type queued struct {
	event    *model.Event
	baseline *model.CalibrationBaseline
}

// fanout delivers events to every recorder in order on one goroutine so slow
// sinks never block telemetry handling.
type fanout struct {
	recorders []Recorder
	queue     chan queued
	done      chan struct{}

	mu     sync.Mutex
	closed bool
}

func newFanout(recorders []Recorder) *fanout {
	f := &fanout{
		recorders: recorders,
		queue:     make(chan queued, eventQueueSize),
		done:      make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *fanout) publish(e model.Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	log.Info().
		Str("event_id", e.ID).
		Str("type", string(e.Type)).
		Str("session_id", e.SessionID).
		Str("detail", e.Detail).
		Msg("Controller event")
	f.enqueue(queued{event: &e})
}

func (f *fanout) publishBaseline(b model.CalibrationBaseline) {
	f.enqueue(queued{baseline: &b})
}

func (f *fanout) enqueue(q queued) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.queue <- q:
	default:
		log.Warn().Msg("Event queue full; dropping event")
	}
}

func (f *fanout) run() {
	defer close(f.done)
	for q := range f.queue {
		for _, r := range f.recorders {
			f.deliver(r, q)
		}
	}
}

func (f *fanout) deliver(r Recorder, q queued) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if q.baseline != nil {
		br, ok := r.(BaselineRecorder)
		if !ok {
			return
		}
		if err := br.RecordCalibration(ctx, *q.baseline); err != nil {
			log.Error().Err(err).Msg("Failed to record calibration")
		}
		return
	}
	if err := r.Record(ctx, *q.event); err != nil {
		log.Error().Err(err).Str("type", string(q.event.Type)).Msg("Failed to record event")
	}
}

func (f *fanout) close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()
	<-f.done
}

// Package mqtt mirrors controller events and snapshots onto an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/thatsimonsguy/blower-controller/internal/controller"
	"github.com/thatsimonsguy/blower-controller/internal/model"
)

// Publisher sends raw payloads to the broker.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Close() error
}

type Topics struct {
	Events      string
	Status      string
	Calibration string
	System      string
}

func TopicsFor(prefix string) Topics {
	return Topics{
		Events:      prefix + "/events",
		Status:      prefix + "/status",
		Calibration: prefix + "/calibration",
		System:      prefix + "/system",
	}
}

// Bridge is a controller.Recorder that also publishes periodic snapshots.
type Bridge struct {
	pub    Publisher
	topics Topics
}

func NewBridge(pub Publisher, prefix string) *Bridge {
	return &Bridge{pub: pub, topics: TopicsFor(prefix)}
}

// Record publishes a lifecycle event at least once.
func (b *Bridge) Record(_ context.Context, e model.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("format event payload: %w", err)
	}
	return b.pub.Publish(b.topics.Events, 1, false, payload)
}

type calibrationPayload struct {
	FanOffsetPa      float64 `json:"fan_offset_pa"`
	EnvelopeOffsetPa float64 `json:"envelope_offset_pa"`
	CapturedAt       string  `json:"captured_at"`
}

// RecordCalibration publishes the baseline retained so late subscribers see
// the current zero.
func (b *Bridge) RecordCalibration(_ context.Context, c model.CalibrationBaseline) error {
	if !c.Calibrated() {
		return nil
	}
	payload, err := json.Marshal(calibrationPayload{
		FanOffsetPa:      *c.FanOffsetPa,
		EnvelopeOffsetPa: *c.EnvelopeOffsetPa,
		CapturedAt:       c.CapturedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("format calibration payload: %w", err)
	}
	return b.pub.Publish(b.topics.Calibration, 1, true, payload)
}

// PublishSnapshot sends the live view, retained, at most once.
func (b *Bridge) PublishSnapshot(s controller.Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("format status payload: %w", err)
	}
	return b.pub.Publish(b.topics.Status, 0, true, payload)
}

func (b *Bridge) Close() error {
	return b.pub.Close()
}

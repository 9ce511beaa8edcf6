package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/blower-controller/internal/controller"
	"github.com/thatsimonsguy/blower-controller/internal/model"
)

func TestRecord_PublishesEvent(t *testing.T) {
	pub := NewFakePublisher()
	b := NewBridge(pub, "garage/blower")

	e := model.Event{
		ID:         "e1",
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Type:       model.EventSessionStart,
		SessionID:  "s1",
		TargetPa:   50,
	}
	require.NoError(t, b.Record(context.Background(), e))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "garage/blower/events", msgs[0].Topic)
	assert.Equal(t, byte(1), msgs[0].QoS)
	assert.False(t, msgs[0].Retained)

	var got model.Event
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &got))
	assert.Equal(t, e, got)
}

func TestRecordCalibration(t *testing.T) {
	pub := NewFakePublisher()
	b := NewBridge(pub, "blower")
	fan, env := 1.5, -0.25

	require.NoError(t, b.RecordCalibration(context.Background(), model.CalibrationBaseline{}))
	assert.Empty(t, pub.Messages(), "an empty baseline is not published")

	require.NoError(t, b.RecordCalibration(context.Background(), model.CalibrationBaseline{
		FanOffsetPa:      &fan,
		EnvelopeOffsetPa: &env,
		CapturedAt:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "blower/calibration", msgs[0].Topic)
	assert.True(t, msgs[0].Retained)
	assert.JSONEq(t,
		`{"fan_offset_pa":1.5,"envelope_offset_pa":-0.25,"captured_at":"2026-03-01T12:00:00Z"}`,
		string(msgs[0].Payload))
}

func TestPublishSnapshot(t *testing.T) {
	pub := NewFakePublisher()
	b := NewBridge(pub, "blower")

	require.NoError(t, b.PublishSnapshot(controller.Snapshot{Connection: model.ConnOK, Mode: model.ModeAuto}))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "blower/status", msgs[0].Topic)
	assert.Equal(t, byte(0), msgs[0].QoS)
	assert.True(t, msgs[0].Retained)

	var got map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &got))
	assert.Equal(t, "connected", got["connection"])
	assert.Equal(t, "auto", got["mode"])
	assert.Nil(t, got["speed"])
}

func TestPublishError(t *testing.T) {
	pub := NewFakePublisher()
	pub.PublishError = errors.New("not connected")
	b := NewBridge(pub, "blower")

	err := b.Record(context.Background(), model.Event{Type: model.EventSensorFault})
	assert.EqualError(t, err, "not connected")

	require.NoError(t, b.Close())
	assert.True(t, pub.Closed)
}

func TestTopicsFor(t *testing.T) {
	assert.Equal(t, Topics{
		Events:      "lab/events",
		Status:      "lab/status",
		Calibration: "lab/calibration",
		System:      "lab/system",
	}, TopicsFor("lab"))
}

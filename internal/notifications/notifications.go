package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blower-controller/internal/model"
)

const defaultServer = "https://ntfy.sh"

// Notifier pushes operator-facing events to an ntfy topic.
type Notifier struct {
	client *http.Client
	server string
	topic  string
}

// New returns nil when no topic is configured.
func New(topic string) *Notifier {
	if topic == "" {
		log.Warn().Msg("Ntfy topic not configured - notifications disabled")
		return nil
	}
	log.Info().
		Str("topic", topic).
		Msg("Ntfy notifications initialized")
	return &Notifier{
		client: &http.Client{Timeout: 10 * time.Second},
		server: defaultServer,
		topic:  topic,
	}
}

func titleFor(t model.EventType) (string, bool) {
	switch t {
	case model.EventOtaUploaded:
		return "Firmware staged", true
	case model.EventOtaFailed:
		return "Firmware update failed", true
	case model.EventOtaApplied:
		return "Firmware applied", true
	case model.EventSensorFault:
		return "Sensor fault", true
	case model.EventChannelFailed:
		return "Telemetry lost", true
	case model.EventHoldReached:
		return "Target pressure reached", true
	}
	return "", false
}

// Record forwards the events an operator should hear about and ignores the
// rest.
func (n *Notifier) Record(ctx context.Context, e model.Event) error {
	title, ok := titleFor(e.Type)
	if !ok {
		return nil
	}
	msg := e.Detail
	if e.Type == model.EventHoldReached {
		msg = fmt.Sprintf("Holding %g Pa (session %s)", e.TargetPa, e.SessionID)
	}
	return n.Send(ctx, title, msg)
}

// Send posts one notification.
func (n *Notifier) Send(ctx context.Context, title, message string) error {
	payload := map[string]interface{}{
		"topic":   n.topic,
		"title":   title,
		"message": message,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	// ntfy accepts JSON publishes on the server root; the topic is in the body.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.server, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned non-success status: %d", resp.StatusCode)
	}

	log.Debug().
		Str("title", title).
		Int("status", resp.StatusCode).
		Msg("Notification sent successfully")

	return nil
}

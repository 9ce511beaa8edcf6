package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/blower-controller/internal/model"
)

type ntfy struct {
	mu       sync.Mutex
	messages []map[string]string
	status   int
}

func (s *ntfy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	s.messages = append(s.messages, body)
	status := s.status
	s.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func newTestNotifier(t *testing.T, srv *ntfy) *Notifier {
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	n := New("blower-test")
	n.server = ts.URL
	return n
}

func TestNew_NoTopic(t *testing.T) {
	assert.Nil(t, New(""))
}

func TestRecord_ForwardsOperatorEvents(t *testing.T) {
	srv := &ntfy{}
	n := newTestNotifier(t, srv)
	ctx := context.Background()

	require.NoError(t, n.Record(ctx, model.Event{Type: model.EventOtaFailed, Detail: "chunk: HTTP 500"}))
	require.NoError(t, n.Record(ctx, model.Event{Type: model.EventHoldReached, TargetPa: 50, SessionID: "abc"}))
	require.NoError(t, n.Record(ctx, model.Event{Type: model.EventSettings, Detail: "volume=1"}))
	require.NoError(t, n.Record(ctx, model.Event{Type: model.EventSessionStart, OccurredAt: time.Now()}))

	require.Len(t, srv.messages, 2)
	assert.Equal(t, map[string]string{
		"topic":   "blower-test",
		"title":   "Firmware update failed",
		"message": "chunk: HTTP 500",
	}, srv.messages[0])
	assert.Equal(t, "Holding 50 Pa (session abc)", srv.messages[1]["message"])
}

func TestSend_NonSuccessStatus(t *testing.T) {
	srv := &ntfy{status: http.StatusTooManyRequests}
	n := newTestNotifier(t, srv)

	err := n.Send(context.Background(), "Sensor fault", "envelope sensor failed")
	assert.EqualError(t, err, "ntfy returned non-success status: 429")
}

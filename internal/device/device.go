// Package device is the HTTP client for the blower controller board: command
// endpoints, firmware update endpoints and the telemetry event stream.
package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blower-controller/internal/model"
)

const (
	pathEvents    = "/events"
	pathPWM       = "/api/pwm"
	pathLED       = "/api/led"
	pathRelay     = "/api/relay"
	pathCalibrate = "/api/calibrate"
	pathOtaStatus = "/api/ota/status"
	pathOtaBegin  = "/api/ota/begin"
	pathOtaChunk  = "/api/ota/chunk"
	pathOtaFinish = "/api/ota/finish"
	pathOtaApply  = "/api/ota/apply"
)

// HTTPError is a non-2xx reply. Reason is the device's "reason" field when
// the body carried one.
type HTTPError struct {
	Path   string
	Status int
	Reason string
}

func (e *HTTPError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: HTTP %d %s", e.Path, e.Status, e.Reason)
	}
	return fmt.Sprintf("%s: HTTP %d", e.Path, e.Status)
}

type Client struct {
	baseURL string
	http    *http.Client
	stream  *http.Client
}

// NewClient returns a client for the board at baseURL. timeout bounds each
// command request; the event stream has no deadline.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		stream:  &http.Client{},
	}
}

type valueBody struct {
	Value int `json:"value"`
}

type beginBody struct {
	Size    int    `json:"size"`
	CRC32   uint32 `json:"crc32"`
	Version string `json:"version"`
}

type chunkBody struct {
	Offset int    `json:"offset"`
	Data   string `json:"data"`
}

type errorBody struct {
	Reason string `json:"reason"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		herr := &HTTPError{Path: path, Status: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil {
			herr.Reason = eb.Reason
		}
		return herr
	}

	log.Debug().Str("path", path).Int("status", resp.StatusCode).Msg("Device request complete")

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	if body == nil {
		body = struct{}{}
	}
	return c.do(ctx, http.MethodPost, path, body, nil)
}

func onOff(on bool) valueBody {
	if on {
		return valueBody{Value: 1}
	}
	return valueBody{Value: 0}
}

func (c *Client) SetSpeed(ctx context.Context, value int) error {
	return c.post(ctx, pathPWM, valueBody{Value: value})
}

func (c *Client) SetRelay(ctx context.Context, on bool) error {
	return c.post(ctx, pathRelay, onOff(on))
}

func (c *Client) SetAutoHold(ctx context.Context, on bool) error {
	return c.post(ctx, pathLED, onOff(on))
}

// Calibrate asks the board to zero its sensors.
func (c *Client) Calibrate(ctx context.Context) error {
	return c.post(ctx, pathCalibrate, nil)
}

func (c *Client) OtaStatus(ctx context.Context) (model.OtaStatus, error) {
	var st model.OtaStatus
	if err := c.do(ctx, http.MethodGet, pathOtaStatus, nil, &st); err != nil {
		return model.OtaStatus{}, err
	}
	return st, nil
}

func (c *Client) OtaBegin(ctx context.Context, size int, crc uint32, version string) error {
	return c.post(ctx, pathOtaBegin, beginBody{Size: size, CRC32: crc, Version: version})
}

func (c *Client) OtaChunk(ctx context.Context, offset int, data string) error {
	return c.post(ctx, pathOtaChunk, chunkBody{Offset: offset, Data: data})
}

func (c *Client) OtaFinish(ctx context.Context) error {
	return c.post(ctx, pathOtaFinish, nil)
}

func (c *Client) OtaApply(ctx context.Context) error {
	return c.post(ctx, pathOtaApply, nil)
}

// Subscribe opens the telemetry event stream and delivers each event's data
// until the stream ends or ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, onOpen func(), onMessage func(data []byte)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathEvents, nil)
	if err != nil {
		return fmt.Errorf("failed to create event stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &HTTPError{Path: pathEvents, Status: resp.StatusCode}
	}

	onOpen()
	return readEvents(resp.Body, onMessage)
}

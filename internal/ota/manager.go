// Package ota uploads firmware images to the device in sequential chunks and
// mirrors the device's update state.
package ota

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blower-controller/internal/model"
)

var (
	ErrBusy       = errors.New("an update operation is already in progress")
	ErrNotStaged  = errors.New("no staged firmware to apply")
	ErrEmptyImage = errors.New("firmware image is empty")
)

const (
	DefaultVersion = "0.0.0-dev"
	RepollDelay    = 5 * time.Second
)

// Client is the device's update endpoint set.
type Client interface {
	OtaStatus(ctx context.Context) (model.OtaStatus, error)
	OtaBegin(ctx context.Context, size int, crc uint32, version string) error
	OtaChunk(ctx context.Context, offset int, data string) error
	OtaFinish(ctx context.Context) error
	OtaApply(ctx context.Context) error
}

// Hooks receive update lifecycle notifications. Any of them may be nil.
type Hooks struct {
	Changed   func(model.OtaTransfer)
	Uploaded  func(version string, size int)
	Failed    func(step string, err error)
	Rebooting func()
}

type Manager struct {
	client    Client
	hooks     Hooks
	afterFunc func(time.Duration, func()) *time.Timer

	mu        sync.Mutex
	transfer  model.OtaTransfer
	uploading bool
	applying  bool
	firmware  string
}

func NewManager(client Client, hooks Hooks) *Manager {
	return &Manager{
		client:    client,
		hooks:     hooks,
		afterFunc: time.AfterFunc,
		transfer:  model.OtaTransfer{Phase: model.OtaIdle, Label: "OTA idle"},
	}
}

// Transfer returns the current update mirror.
func (m *Manager) Transfer() model.OtaTransfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transfer
}

// Busy reports whether an upload or apply is running.
func (m *Manager) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploading || m.applying
}

// Firmware is the last version the device reported.
func (m *Manager) Firmware() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.firmware
}

// ObserveFirmware records a firmware version reported in telemetry.
func (m *Manager) ObserveFirmware(version string) {
	version = strings.TrimSpace(version)
	if version == "" {
		return
	}
	m.mu.Lock()
	m.firmware = version
	m.mu.Unlock()
}

func (m *Manager) update(fn func(t *model.OtaTransfer)) {
	m.mu.Lock()
	fn(&m.transfer)
	t := m.transfer
	m.mu.Unlock()

	if m.hooks.Changed != nil {
		m.hooks.Changed(t)
	}
}

func (m *Manager) fail(step string, err error) error {
	wrapped := fmt.Errorf("ota %s: %w", step, err)
	log.Error().Err(err).Str("step", step).Msg("Firmware upload failed")
	m.update(func(t *model.OtaTransfer) {
		t.Phase = model.OtaError
		t.BytesSent = 0
		t.Progress = 0
		t.LastError = wrapped.Error()
		t.Label = "Upload error"
	})
	if m.hooks.Failed != nil {
		m.hooks.Failed(step, err)
	}
	return wrapped
}

// Upload sends image to the device: begin, every chunk in order, then finish.
// Any failure aborts the transfer; a retry starts again from byte 0. The
// device status is re-read once the attempt ends either way.
func (m *Manager) Upload(ctx context.Context, image []byte, version string) error {
	run, err := m.Reserve(image, version)
	if err != nil {
		return err
	}
	return run(ctx)
}

// Reserve claims the upload slot for image and returns the transfer. The slot
// stays held until the returned function has run, so callers must run it.
func (m *Manager) Reserve(image []byte, version string) (func(ctx context.Context) error, error) {
	if len(image) == 0 {
		return nil, ErrEmptyImage
	}

	m.mu.Lock()
	if m.uploading || m.applying {
		m.mu.Unlock()
		return nil, ErrBusy
	}
	m.uploading = true
	if version = strings.TrimSpace(version); version == "" {
		version = m.firmware
	}
	m.mu.Unlock()

	if version == "" {
		version = DefaultVersion
	}
	return func(ctx context.Context) error {
		return m.send(ctx, image, version)
	}, nil
}

func (m *Manager) send(ctx context.Context, image []byte, version string) error {
	defer func() {
		m.mu.Lock()
		m.uploading = false
		m.mu.Unlock()
		if err := m.Poll(ctx); err != nil {
			log.Warn().Err(err).Msg("Could not refresh update status")
		}
	}()

	crc := Checksum(image)
	total := len(image)
	m.update(func(t *model.OtaTransfer) {
		*t = model.OtaTransfer{
			Phase:        model.OtaUploading,
			TotalBytes:   total,
			CRC32:        crc,
			VersionLabel: version,
			Label:        "Uploading 0%",
		}
	})
	log.Info().
		Int("size", total).
		Str("crc32", fmt.Sprintf("%08x", crc)).
		Str("version", version).
		Msg("Starting firmware upload")

	if err := m.client.OtaBegin(ctx, total, crc, version); err != nil {
		return m.fail("begin", err)
	}

	for _, c := range Chunks(image, ChunkSize) {
		if err := m.client.OtaChunk(ctx, c.Offset, c.Encoded()); err != nil {
			return m.fail(fmt.Sprintf("chunk at offset %d", c.Offset), err)
		}
		sent := c.Offset + len(c.Data)
		pct := float64(sent) * 100 / float64(total)
		m.update(func(t *model.OtaTransfer) {
			t.BytesSent = sent
			t.Progress = pct
			t.Label = fmt.Sprintf("Uploading %d%%", int(math.Round(pct)))
		})
	}

	m.update(func(t *model.OtaTransfer) {
		t.Phase = model.OtaFinishing
		t.Label = "Finishing..."
	})
	if err := m.client.OtaFinish(ctx); err != nil {
		return m.fail("finish", err)
	}

	m.update(func(t *model.OtaTransfer) {
		t.Phase = model.OtaStagedReady
		t.Progress = 100
		t.Label = fmt.Sprintf("Uploaded (%s)", version)
	})
	log.Info().Str("version", version).Msg("Firmware staged; apply to reboot")
	if m.hooks.Uploaded != nil {
		m.hooks.Uploaded(version, total)
	}
	return nil
}

// Apply tells the device to flash the staged image and reboot. The device
// dropping the connection afterwards is expected. One status poll is
// scheduled RepollDelay later regardless of the outcome.
func (m *Manager) Apply(ctx context.Context) error {
	m.mu.Lock()
	if m.uploading || m.applying {
		m.mu.Unlock()
		return ErrBusy
	}
	if m.transfer.Phase != model.OtaStagedReady {
		m.mu.Unlock()
		return ErrNotStaged
	}
	m.applying = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.applying = false
		m.mu.Unlock()
		m.afterFunc(RepollDelay, func() {
			if err := m.Poll(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Post-apply status poll failed")
			}
		})
	}()

	m.update(func(t *model.OtaTransfer) {
		t.Phase = model.OtaApplying
		t.Progress = 100
		t.Label = "Applying and rebooting..."
	})

	if err := m.client.OtaApply(ctx); err != nil {
		wrapped := fmt.Errorf("ota apply: %w", err)
		log.Error().Err(err).Msg("Firmware apply failed")
		m.update(func(t *model.OtaTransfer) {
			t.Phase = model.OtaError
			t.LastError = wrapped.Error()
			t.Label = "Apply error"
		})
		if m.hooks.Failed != nil {
			m.hooks.Failed("apply", err)
		}
		return wrapped
	}

	log.Info().Msg("Device applying firmware and rebooting")
	if m.hooks.Rebooting != nil {
		m.hooks.Rebooting()
	}
	return nil
}

// Poll reads the device's update status into the mirror. While a local
// upload or apply runs only the firmware version is taken from it.
func (m *Manager) Poll(ctx context.Context) error {
	st, err := m.client.OtaStatus(ctx)
	if err != nil {
		return fmt.Errorf("ota status: %w", err)
	}

	m.mu.Lock()
	if v := strings.TrimSpace(st.FirmwareVersion); v != "" {
		m.firmware = v
	}
	busy := m.uploading || m.applying
	m.mu.Unlock()

	if busy {
		return nil
	}
	m.update(func(t *model.OtaTransfer) { mirror(t, st) })
	return nil
}

func mirror(t *model.OtaTransfer, st model.OtaStatus) {
	pct := model.Clamp(st.ProgressPercent, 0, 100)
	if !model.IsFinite(pct) {
		pct = 0
	}
	t.Progress = pct
	switch st.State {
	case "receiving":
		t.Phase = model.OtaUploading
		t.Label = fmt.Sprintf("Uploading %d%%", int(math.Round(pct)))
	case "ready":
		label := st.StagedVersion
		if label == "" {
			label = "unlabeled"
		}
		t.Phase = model.OtaStagedReady
		t.Progress = 100
		t.VersionLabel = st.StagedVersion
		t.Label = fmt.Sprintf("Staged (%s)", label)
	case "applying":
		t.Phase = model.OtaApplying
		t.Label = "Applying..."
	case "error":
		msg := st.LastError
		if msg == "" {
			msg = "unknown"
		}
		t.Phase = model.OtaError
		t.LastError = msg
		t.Label = "Error: " + msg
	default:
		// An idle device after a local failure keeps the error visible
		// until the next upload starts.
		if t.Phase == model.OtaError {
			t.Progress = 0
			return
		}
		*t = model.OtaTransfer{Phase: model.OtaIdle, Label: "OTA idle"}
	}
}

// Run polls the device status every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := m.Poll(ctx); err != nil {
		log.Debug().Err(err).Msg("Update status poll failed")
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Poll(ctx); err != nil {
				log.Debug().Err(err).Msg("Update status poll failed")
			}
		}
	}
}

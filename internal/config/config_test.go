package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/blower-controller/internal/model"
)

func validConfig() Config {
	return Config{
		Device:           Device{URL: "http://192.168.4.1"},
		OtaPollInterval:  5 * time.Second,
		SnapshotInterval: time.Second,
		Flow: model.FlowSettings{
			ExponentN:          0.65,
			AltitudeM:          650,
			ApertureDiameterCm: 31,
			AutoTest:           model.AutoTestN50,
		},
	}
}

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestValidate_Valid(t *testing.T) {
	cfg := validConfig()
	cfg.validate() // should not panic
}

func TestValidate_MissingDeviceURL(t *testing.T) {
	cfg := validConfig()
	cfg.Device.URL = "  "

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic due to missing device url, but got none")
		}
	}()

	cfg.validate()
}

func TestValidate_PollInterval(t *testing.T) {
	cfg := validConfig()
	cfg.OtaPollInterval = 0

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic due to zero poll interval, but got none")
		}
	}()

	cfg.validate()
}

func TestValidate_ApertureOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Flow.ApertureDiameterCm = 72

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic due to aperture out of range, but got none")
		}
		assert.Contains(t, r, "fan_aperture_cm")
	}()

	cfg.validate()
}

func TestValidate_AutoTestType(t *testing.T) {
	cfg := validConfig()
	cfg.Flow.AutoTest = "n60"

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic due to unknown auto test type, but got none")
		}
	}()

	cfg.validate()
}

func TestReadFile_YAMLWithDefaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
port: "9090"
device:
  url: http://blower.local
mqtt:
  broker: tcp://broker:1883
flow:
  building_volume: 420
  fan_coef_c: 76.5
  auto_test_type: n75
`)

	var cfg Config
	require.NoError(t, cfg.readFile(path))

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "http://blower.local", cfg.Device.URL)
	assert.Equal(t, 5*time.Second, cfg.Device.CommandTimeout)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "blower", cfg.MQTT.TopicPrefix)
	assert.Equal(t, 5*time.Second, cfg.OtaPollInterval)
	assert.Equal(t, "data/blower.db", cfg.DBPath)
	assert.Equal(t, model.FlowSettings{
		VolumeM3:           420,
		CoefficientC:       76.5,
		ExponentN:          0.65,
		AltitudeM:          650,
		ApertureDiameterCm: 31,
		AutoTest:           model.AutoTestN75,
	}, cfg.Flow)

	cfg.validate()
}

func TestReadFile_JSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "device": {"url": "http://10.0.0.9", "command_timeout": "2s"},
  "datadog": {"enabled": true, "tags": ["site:garage"]},
  "ota_poll_interval": "10s"
}`)

	var cfg Config
	require.NoError(t, cfg.readFile(path))

	assert.Equal(t, 2*time.Second, cfg.Device.CommandTimeout)
	assert.True(t, cfg.Datadog.Enabled)
	assert.Equal(t, []string{"site:garage"}, cfg.Datadog.Tags)
	assert.Equal(t, "blower.", cfg.Datadog.Namespace)
	assert.Equal(t, 10*time.Second, cfg.OtaPollInterval)
}

func TestReadFile_EnvOverride(t *testing.T) {
	path := writeConfig(t, "config.yaml", "device:\n  url: http://from-file\n")
	t.Setenv("BLOWER_DEVICE_URL", "http://from-env")

	var cfg Config
	require.NoError(t, cfg.readFile(path))

	assert.Equal(t, "http://from-env", cfg.Device.URL)
}

func TestReadFile_Missing(t *testing.T) {
	var cfg Config
	err := cfg.readFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to load config file")
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, parseLogLevel("warn"))
	assert.Equal(t, zerolog.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, parseLogLevel("verbose"))
}

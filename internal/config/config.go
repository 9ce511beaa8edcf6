package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/thatsimonsguy/blower-controller/internal/model"
)

type Device struct {
	URL            string        `mapstructure:"url"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

type Datadog struct {
	Enabled   bool     `mapstructure:"enabled"`
	AgentAddr string   `mapstructure:"agent_addr"`
	Namespace string   `mapstructure:"namespace"`
	Tags      []string `mapstructure:"tags"`
}

type MQTT struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
}

type Config struct {
	StateFile  string
	ConfigFile string
	LogLevel   zerolog.Level

	LogFile string `mapstructure:"log_file"`
	Port    string `mapstructure:"port"`
	DBPath  string `mapstructure:"db_path"`

	Device  Device  `mapstructure:"device"`
	Datadog Datadog `mapstructure:"datadog"`
	MQTT    MQTT    `mapstructure:"mqtt"`

	NtfyTopic string `mapstructure:"ntfy_topic"`

	OtaPollInterval  time.Duration `mapstructure:"ota_poll_interval"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`

	Flow model.FlowSettings `mapstructure:"flow"`
}

// Load parses the command line and reads the config file. Any problem with
// the configuration panics.
func Load() Config {
	var cfg Config
	var logLevel string

	flag.StringVar(&cfg.StateFile, "state-file", "data/settings.json", "Path to persisted flow settings")
	flag.StringVar(&cfg.ConfigFile, "config-file", "config.yaml", "Path to controller config file")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg.LogLevel = parseLogLevel(logLevel)
	if err := cfg.readFile(cfg.ConfigFile); err != nil {
		panic(err.Error())
	}
	cfg.validate()
	return cfg
}

func (cfg *Config) readFile(path string) error {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to load config file: %w", err)
	}
	if err := decode(v, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("BLOWER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", "8080")
	v.SetDefault("db_path", "data/blower.db")
	v.SetDefault("device.command_timeout", 5*time.Second)
	v.SetDefault("datadog.agent_addr", "127.0.0.1:8125")
	v.SetDefault("datadog.namespace", "blower.")
	v.SetDefault("mqtt.client_id", "blower-controller")
	v.SetDefault("mqtt.topic_prefix", "blower")
	v.SetDefault("ota_poll_interval", 5*time.Second)
	v.SetDefault("snapshot_interval", time.Second)
	v.SetDefault("flow.building_volume", 0.0)
	v.SetDefault("flow.fan_coef_c", 0.0)
	v.SetDefault("flow.fan_coef_n", 0.65)
	v.SetDefault("flow.altitude", 650.0)
	v.SetDefault("flow.fan_aperture_cm", 31.0)
	v.SetDefault("flow.auto_test_type", string(model.AutoTestN50))
	return v
}

func decode(v *viper.Viper, cfg *Config) error {
	if err := v.Unmarshal(cfg); err != nil {
		return err
	}
	// FlowSettings carries JSON names; map them explicitly.
	cfg.Flow = model.FlowSettings{
		VolumeM3:           v.GetFloat64("flow.building_volume"),
		CoefficientC:       v.GetFloat64("flow.fan_coef_c"),
		ExponentN:          v.GetFloat64("flow.fan_coef_n"),
		AltitudeM:          v.GetFloat64("flow.altitude"),
		ApertureDiameterCm: v.GetFloat64("flow.fan_aperture_cm"),
		AutoTest:           model.AutoTest(v.GetString("flow.auto_test_type")),
	}
	return nil
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (cfg *Config) validate() {
	var problems []string

	if strings.TrimSpace(cfg.Device.URL) == "" {
		problems = append(problems, "device.url is required")
	}
	if cfg.OtaPollInterval <= 0 {
		problems = append(problems, fmt.Sprintf("ota_poll_interval must be positive, got %s", cfg.OtaPollInterval))
	}
	if cfg.SnapshotInterval <= 0 {
		problems = append(problems, fmt.Sprintf("snapshot_interval must be positive, got %s", cfg.SnapshotInterval))
	}
	if d := cfg.Flow.ApertureDiameterCm; d < 5 || d > 60 {
		problems = append(problems, fmt.Sprintf("flow.fan_aperture_cm must be within [5, 60], got %g", d))
	}
	switch cfg.Flow.AutoTest {
	case model.AutoTestN50, model.AutoTestN75:
	default:
		problems = append(problems, fmt.Sprintf("flow.auto_test_type must be n50 or n75, got %q", cfg.Flow.AutoTest))
	}

	if len(problems) > 0 {
		panic("Invalid config: " + strings.Join(problems, "; "))
	}
}

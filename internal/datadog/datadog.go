package datadog

import (
	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blower-controller/internal/config"
	"github.com/thatsimonsguy/blower-controller/internal/controller"
	"github.com/thatsimonsguy/blower-controller/internal/model"
)

type gauger interface {
	Gauge(name string, value float64, tags []string, rate float64) error
}

// Metrics emits controller gauges to the local DogStatsD agent. A nil
// *Metrics is a no-op.
type Metrics struct {
	client gauger
}

func New(cfg config.Datadog) *Metrics {
	if !cfg.Enabled {
		log.Info().Msg("Datadog metrics disabled")
		return nil
	}
	client, err := statsd.New(cfg.AgentAddr)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create DogStatsD client")
		return nil
	}

	client.Namespace = cfg.Namespace
	client.Tags = cfg.Tags

	log.Info().
		Str("addr", cfg.AgentAddr).
		Str("namespace", cfg.Namespace).
		Strs("tags", cfg.Tags).
		Msg("Datadog metrics initialized")
	return &Metrics{client: client}
}

func (m *Metrics) Gauge(name string, value float64, tags ...string) {
	if m == nil || m.client == nil {
		return
	}
	if err := m.client.Gauge(name, value, tags, 1); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to emit gauge metric")
	}
}

func (m *Metrics) gaugePtr(name string, v *float64, tags ...string) {
	if v != nil {
		m.Gauge(name, *v, tags...)
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ReportSnapshot emits the pressures, flow, fan and update state of one
// snapshot. Missing readings are skipped rather than sent as zero.
func (m *Metrics) ReportSnapshot(s controller.Snapshot) {
	if m == nil {
		return
	}
	conn := "connection:" + string(s.Connection)
	mode := "mode:" + string(s.Mode)

	m.Gauge("connected", boolGauge(s.Connection == model.ConnOK), conn)
	m.Gauge("calibrated", boolGauge(s.Calibrated))
	m.Gauge("session.active", boolGauge(s.Session.Active), mode, "stage:"+string(s.Session.Stage))
	m.Gauge("target_pa", s.TargetPa, mode)

	if s.HasFrame {
		m.gaugePtr("pressure.fan_pa", s.Readings.FanPa)
		m.gaugePtr("pressure.envelope_pa", s.Readings.EnvelopePa)
		m.gaugePtr("temperature.fan_c", s.Readings.FanTempC)
		m.gaugePtr("temperature.envelope_c", s.Readings.EnvelopeTempC)
		m.gaugePtr("line_freq_hz", s.Readings.LineFreqHz)
		m.Gauge("relay", boolGauge(s.Readings.Relay))
	}
	if s.Speed != nil {
		m.Gauge("fan.speed_pct", float64(*s.Speed))
	}
	if s.Ach.Valid {
		m.gaugePtr("ach.instant", s.Ach.Instant, "reference:"+s.Ach.Label)
		m.gaugePtr("ach.average", s.Ach.Average, "reference:"+s.Ach.Label)
	}
	m.Gauge("ota.progress_pct", s.Ota.Progress, "phase:"+string(s.Ota.Phase))
	m.Gauge("sensors.fault_frames", float64(s.Sensors.FaultFrames))
}

// ReportChannel emits the telemetry channel counters.
func (m *Metrics) ReportChannel(received, dropped, retries uint64) {
	if m == nil {
		return
	}
	m.Gauge("channel.frames_received", float64(received))
	m.Gauge("channel.frames_dropped", float64(dropped))
	m.Gauge("channel.retries", float64(retries))
}

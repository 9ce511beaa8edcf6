package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blower-controller/db"
	"github.com/thatsimonsguy/blower-controller/internal/api"
	"github.com/thatsimonsguy/blower-controller/internal/channel"
	"github.com/thatsimonsguy/blower-controller/internal/config"
	"github.com/thatsimonsguy/blower-controller/internal/controller"
	"github.com/thatsimonsguy/blower-controller/internal/datadog"
	"github.com/thatsimonsguy/blower-controller/internal/device"
	"github.com/thatsimonsguy/blower-controller/internal/logging"
	"github.com/thatsimonsguy/blower-controller/internal/mqtt"
	"github.com/thatsimonsguy/blower-controller/internal/notifications"
	"github.com/thatsimonsguy/blower-controller/internal/store"
	"github.com/thatsimonsguy/blower-controller/system/shutdown"
)

const shutdownTimeout = 5 * time.Second

// app owns everything that needs an orderly stop.
type app struct {
	ctrl    *controller.Controller
	server  *api.Server
	bridge  *mqtt.Bridge
	history *sql.DB
}

func (a *app) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("API server did not stop cleanly")
	}

	a.ctrl.Shutdown()
	a.ctrl.Close()

	if a.bridge != nil {
		a.bridge.Close()
	}
	if err := a.history.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close history database")
	}
}

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFile)

	log.Info().
		Str("device", cfg.Device.URL).
		Str("state_file", cfg.StateFile).
		Msg("Starting blower controller")

	st := store.New(cfg.StateFile)
	settings, err := st.LoadOr(cfg.Flow)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load saved flow settings, starting with configured defaults")
	}

	history, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history database")
	}

	recorders := []controller.Recorder{db.NewHistory(history)}
	if n := notifications.New(cfg.NtfyTopic); n != nil {
		recorders = append(recorders, n)
	}

	var bridge *mqtt.Bridge
	if cfg.MQTT.Broker != "" {
		pub, err := mqtt.NewRealPublisher(cfg.MQTT)
		if err != nil {
			log.Warn().Err(err).Str("broker", cfg.MQTT.Broker).Msg("MQTT unavailable; continuing without it")
		} else {
			bridge = mqtt.NewBridge(pub, cfg.MQTT.TopicPrefix)
			recorders = append(recorders, bridge)
		}
	}

	metrics := datadog.New(cfg.Datadog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dev := device.NewClient(cfg.Device.URL, cfg.Device.CommandTimeout)

	// Commands must still reach the fan after a signal so shutdown can stop it.
	ctrl := controller.New(context.Background(), dev, controller.Options{
		Settings:  settings,
		Saver:     st,
		Recorders: recorders,
	})

	sup := channel.NewSupervisor(dev, ctrl.HandleFrame, channel.Hooks{
		Opened: ctrl.ChannelOpened,
		Lost:   ctrl.ChannelLost,
	})
	go sup.Run(ctx)
	go ctrl.OTA().Run(ctx, cfg.OtaPollInterval)
	go publishLoop(ctx, cfg.SnapshotInterval, ctrl, sup, metrics, bridge)

	server := api.NewServer(ctx, ctrl, history, cfg.SnapshotInterval)
	a := &app{ctrl: ctrl, server: server, bridge: bridge, history: history}

	go func() {
		if err := server.Start(cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdown.ShutdownWithError(a, err, "API server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")
	shutdown.Shutdown(a)
}

// publishLoop pushes the snapshot and channel counters to metrics and MQTT
// on every tick.
func publishLoop(ctx context.Context, interval time.Duration, ctrl *controller.Controller, sup *channel.Supervisor, metrics *datadog.Metrics, bridge *mqtt.Bridge) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := ctrl.Snapshot()
			metrics.ReportSnapshot(snap)
			metrics.ReportChannel(sup.Stats())
			if bridge != nil {
				if err := bridge.PublishSnapshot(snap); err != nil {
					log.Debug().Err(err).Msg("Failed to publish status")
				}
			}
		}
	}
}

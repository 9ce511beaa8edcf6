// Package api is the operator HTTP surface: JSON commands, a status read and
// a websocket snapshot stream.
package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blower-controller/internal/ach"
	"github.com/thatsimonsguy/blower-controller/internal/calibration"
	"github.com/thatsimonsguy/blower-controller/internal/controller"
	"github.com/thatsimonsguy/blower-controller/internal/device"
	"github.com/thatsimonsguy/blower-controller/internal/model"
	"github.com/thatsimonsguy/blower-controller/internal/ota"
)

const (
	maxFirmwareBytes  = 8 << 20
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
)

// Controller is the part of the controller the HTTP surface drives.
type Controller interface {
	Snapshot() controller.Snapshot
	ManualSpeed(value float64) error
	Calibrate(ctx context.Context) (model.CalibrationBaseline, error)
	SetMode(mode model.Mode) error
	SetAutoTest(t model.AutoTest) error
	StartSemi(targetPa float64) (string, error)
	StartAuto() (string, error)
	Stop(stopFan bool)
	UpdateSettings(s model.FlowSettings) (model.FlowSettings, error)
	CalibrateAnemometer(airSpeed float64) (float64, error)
	StartFirmwareUpload(image []byte, version string) (func(ctx context.Context) error, error)
	ApplyFirmware(ctx context.Context) error
}

type Server struct {
	ctrl     Controller
	history  *sql.DB
	interval time.Duration

	// base outlives requests; background uploads run on it.
	base       context.Context
	httpServer *http.Server
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer builds the API. history may be nil, in which case /api/events
// reports 503.
func NewServer(ctx context.Context, ctrl Controller, history *sql.DB, snapshotInterval time.Duration) *Server {
	if snapshotInterval <= 0 {
		snapshotInterval = defaultInterval
	}
	return &Server{ctrl: ctrl, history: history, interval: snapshotInterval, base: ctx}
}

func (s *Server) Routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), cors())
	router.MaxMultipartMemory = maxFirmwareBytes

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ws", s.wsConnect)

	api := router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/events", s.getEvents)
		api.POST("/speed", s.setSpeed)
		api.POST("/calibrate", s.calibrate)
		api.POST("/mode", s.setMode)

		test := api.Group("/test")
		{
			test.POST("/start", s.startSemi)
			test.POST("/auto", s.startAuto)
			test.POST("/stop", s.stop)
		}

		settings := api.Group("/settings")
		{
			settings.PUT("", s.updateSettings)
			settings.POST("/anemometer", s.calibrateAnemometer)
			settings.POST("/auto-test", s.setAutoTest)
		}

		fw := api.Group("/ota")
		{
			fw.POST("/upload", s.uploadFirmware)
			fw.POST("/apply", s.applyFirmware)
		}
	}
	return router
}

// Start serves until Shutdown; it returns http.ErrServerClosed after a clean
// shutdown.
func (s *Server) Start(port string) error {
	addr := port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
	log.Info().Str("address", addr).Msg("Starting REST API server")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	}
}

// statusFor maps controller errors onto HTTP codes.
func statusFor(err error) int {
	var httpErr *device.HTTPError
	switch {
	case errors.Is(err, controller.ErrNotCalibrated),
		errors.Is(err, ota.ErrBusy),
		errors.Is(err, ota.ErrNotStaged),
		errors.Is(err, calibration.ErrNoValidReading):
		return http.StatusConflict
	case errors.Is(err, controller.ErrInvalidTarget),
		errors.Is(err, controller.ErrInvalidMode),
		errors.Is(err, controller.ErrInvalidAutoTest),
		errors.Is(err, controller.ErrInvalidSettings),
		errors.Is(err, controller.ErrInvalidSpeed),
		errors.Is(err, ach.ErrInvalidAnemometer),
		errors.Is(err, ota.ErrEmptyImage):
		return http.StatusBadRequest
	case errors.As(err, &httpErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

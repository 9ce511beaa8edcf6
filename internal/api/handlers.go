package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blower-controller/db"
	"github.com/thatsimonsguy/blower-controller/internal/model"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

type SpeedRequest struct {
	Value *float64 `json:"value" binding:"required"`
}

type ModeRequest struct {
	Mode model.Mode `json:"mode" binding:"required"`
}

type StartRequest struct {
	TargetPa *float64 `json:"target_pa" binding:"required"`
}

type StopRequest struct {
	StopFan bool `json:"stop_fan"`
}

type AnemometerRequest struct {
	AirSpeed *float64 `json:"air_speed" binding:"required"`
}

type AutoTestRequest struct {
	Type model.AutoTest `json:"type" binding:"required"`
}

type SessionResponse struct {
	SessionID string `json:"session_id"`
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) getEvents(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "history is not enabled"})
		return
	}
	limit := defaultEventLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxEventLimit {
			badRequest(c, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	events, err := db.GetRecentEvents(s.history, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) setSpeed(c *gin.Context) {
	var req SpeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body: "+err.Error())
		return
	}
	if err := s.ctrl.ManualSpeed(*req.Value); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) calibrate(c *gin.Context) {
	b, err := s.ctrl.Calibrate(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) setMode(c *gin.Context) {
	var req ModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body: "+err.Error())
		return
	}
	if err := s.ctrl.SetMode(req.Mode); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) startSemi(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body: "+err.Error())
		return
	}
	id, err := s.ctrl.StartSemi(*req.TargetPa)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SessionResponse{SessionID: id})
}

// startAuto runs the configured test; an optional {"type"} switches between
// n50 and n75 first.
func (s *Server) startAuto(c *gin.Context) {
	var req struct {
		Type model.AutoTest `json:"type"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid body: "+err.Error())
			return
		}
	}
	if req.Type != "" {
		if err := s.ctrl.SetAutoTest(req.Type); err != nil {
			s.writeError(c, err)
			return
		}
	}
	id, err := s.ctrl.StartAuto()
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SessionResponse{SessionID: id})
}

func (s *Server) stop(c *gin.Context) {
	var req StopRequest
	// An empty body means stop the session and leave the fan alone.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid body: "+err.Error())
			return
		}
	}
	s.ctrl.Stop(req.StopFan)
	c.JSON(http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) updateSettings(c *gin.Context) {
	var req model.FlowSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body: "+err.Error())
		return
	}
	applied, err := s.ctrl.UpdateSettings(req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, applied)
}

func (s *Server) calibrateAnemometer(c *gin.Context) {
	var req AnemometerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body: "+err.Error())
		return
	}
	coef, err := s.ctrl.CalibrateAnemometer(*req.AirSpeed)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fan_coef_c": coef})
}

func (s *Server) setAutoTest(c *gin.Context) {
	var req AutoTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body: "+err.Error())
		return
	}
	if err := s.ctrl.SetAutoTest(req.Type); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.ctrl.Snapshot())
}

// uploadFirmware accepts the image and stages it in the background; progress
// is reported through the status snapshot.
func (s *Server) uploadFirmware(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "missing firmware file")
		return
	}
	if fh.Size > maxFirmwareBytes {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "firmware image is too large"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.writeError(c, err)
		return
	}
	image, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		s.writeError(c, err)
		return
	}
	if len(image) == 0 {
		badRequest(c, "firmware image is empty")
		return
	}
	run, err := s.ctrl.StartFirmwareUpload(image, c.PostForm("version"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	go func() {
		if err := run(s.base); err != nil {
			log.Error().Err(err).Str("file", fh.Filename).Msg("Firmware upload did not complete")
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "uploading", "bytes": len(image)})
}

func (s *Server) applyFirmware(c *gin.Context) {
	if err := s.ctrl.ApplyFirmware(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "applying"})
}

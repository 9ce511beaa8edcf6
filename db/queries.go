package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/thatsimonsguy/blower-controller/internal/model"
)

// Session is one row of the sessions table.
type Session struct {
	ID            string
	Mode          string
	TargetPa      float64
	StartedAt     time.Time
	HoldReachedAt *time.Time
	StoppedAt     *time.Time
	AchAverage    float64
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

// GetRecentEvents returns the newest events first.
func GetRecentEvents(db *sql.DB, limit int) ([]model.Event, error) {
	rows, err := db.Query(`SELECT id, occurred_at, type, session_id, target_pa, ach_average, detail FROM events ORDER BY occurred_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		var at, typ string
		var sessionID, detail sql.NullString
		var target, ach sql.NullFloat64
		if err := rows.Scan(&e.ID, &at, &typ, &sessionID, &target, &ach, &detail); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.OccurredAt = parseTime(at)
		e.Type = model.EventType(typ)
		e.SessionID = sessionID.String
		e.TargetPa = target.Float64
		e.AchAverage = ach.Float64
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetRecentSessions returns the newest sessions first.
func GetRecentSessions(db *sql.DB, limit int) ([]Session, error) {
	rows, err := db.Query(`SELECT id, mode, target_pa, started_at, hold_reached_at, stopped_at, ach_average FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var mode sql.NullString
		var started string
		var hold, stopped sql.NullString
		var ach sql.NullFloat64
		if err := rows.Scan(&s.ID, &mode, &s.TargetPa, &started, &hold, &stopped, &ach); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.Mode = mode.String
		s.StartedAt = parseTime(started)
		s.HoldReachedAt = parseNullTime(hold)
		s.StoppedAt = parseNullTime(stopped)
		s.AchAverage = ach.Float64
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// GetLatestCalibration returns the most recent baseline, or an uncalibrated
// one when none was ever captured.
func GetLatestCalibration(db *sql.DB) (model.CalibrationBaseline, error) {
	var at string
	var fan, env float64
	err := db.QueryRow(`SELECT captured_at, fan_offset_pa, envelope_offset_pa FROM calibrations ORDER BY id DESC LIMIT 1`).Scan(&at, &fan, &env)
	if err == sql.ErrNoRows {
		return model.CalibrationBaseline{}, nil
	}
	if err != nil {
		return model.CalibrationBaseline{}, fmt.Errorf("failed to get latest calibration: %w", err)
	}
	return model.CalibrationBaseline{FanOffsetPa: &fan, EnvelopeOffsetPa: &env, CapturedAt: parseTime(at)}, nil
}

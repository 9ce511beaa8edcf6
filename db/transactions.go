package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/thatsimonsguy/blower-controller/internal/model"
)

// StartTransaction starts a new database transaction.
func StartTransaction(db *sql.DB) (*sql.Tx, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return tx, nil
}

// CommitTransaction commits the given transaction.
func CommitTransaction(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the given transaction.
func RollbackTransaction(tx *sql.Tx) {
	tx.Rollback()
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// History is the sqlite-backed event and calibration log.
type History struct {
	db *sql.DB
}

func NewHistory(db *sql.DB) *History {
	return &History{db: db}
}

// Record stores an event and folds session lifecycle events into the
// sessions table in the same transaction.
func (h *History) Record(ctx context.Context, e model.Event) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	if err := insertEventWithTx(ctx, tx, e); err != nil {
		tx.Rollback()
		return err
	}
	if err := updateSessionWithTx(ctx, tx, e); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertEventWithTx(ctx context.Context, tx *sql.Tx, e model.Event) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO events (id, occurred_at, type, session_id, target_pa, ach_average, detail) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, formatTime(e.OccurredAt), string(e.Type), e.SessionID, e.TargetPa, e.AchAverage, e.Detail)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", e.Type, err)
	}
	return nil
}

func updateSessionWithTx(ctx context.Context, tx *sql.Tx, e model.Event) error {
	if e.SessionID == "" {
		return nil
	}
	var err error
	switch e.Type {
	case model.EventSessionStart:
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO sessions (id, mode, target_pa, started_at) VALUES (?, ?, ?, ?)`,
			e.SessionID, e.Detail, e.TargetPa, formatTime(e.OccurredAt))
	case model.EventHoldReached:
		_, err = tx.ExecContext(ctx,
			`UPDATE sessions SET hold_reached_at = ? WHERE id = ? AND hold_reached_at IS NULL`,
			formatTime(e.OccurredAt), e.SessionID)
	case model.EventSessionStop:
		_, err = tx.ExecContext(ctx,
			`UPDATE sessions SET stopped_at = ?, ach_average = ? WHERE id = ?`,
			formatTime(e.OccurredAt), e.AchAverage, e.SessionID)
	}
	if err != nil {
		return fmt.Errorf("update session %s: %w", e.SessionID, err)
	}
	return nil
}

// RecordCalibration appends a captured baseline.
func (h *History) RecordCalibration(ctx context.Context, b model.CalibrationBaseline) error {
	if !b.Calibrated() {
		return fmt.Errorf("baseline is incomplete")
	}
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO calibrations (captured_at, fan_offset_pa, envelope_offset_pa) VALUES (?, ?, ?)`,
		formatTime(b.CapturedAt), *b.FanOffsetPa, *b.EnvelopeOffsetPa)
	if err != nil {
		return fmt.Errorf("insert calibration: %w", err)
	}
	return nil
}

// PruneEvents deletes events older than the cutoff and returns how many went.
func PruneEvents(db *sql.DB, before time.Time) (int64, error) {
	tx, err := StartTransaction(db)
	if err != nil {
		return 0, err
	}
	res, err := tx.Exec(`DELETE FROM events WHERE occurred_at < ?`, formatTime(before))
	if err != nil {
		RollbackTransaction(tx)
		return 0, fmt.Errorf("prune events: %w", err)
	}
	if err := CommitTransaction(tx); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

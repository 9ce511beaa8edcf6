package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/blower-controller/internal/model"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestHistory_SessionLifecycle(t *testing.T) {
	db := openTestDB(t)
	h := NewHistory(db)
	ctx := context.Background()

	events := []model.Event{
		{ID: "e1", OccurredAt: t0, Type: model.EventSessionStart, SessionID: "s1", TargetPa: 50, Detail: "auto"},
		{ID: "e2", OccurredAt: t0.Add(40 * time.Second), Type: model.EventHoldReached, SessionID: "s1", TargetPa: 50},
		{ID: "e3", OccurredAt: t0.Add(50 * time.Second), Type: model.EventHoldReached, SessionID: "s1", TargetPa: 50},
		{ID: "e4", OccurredAt: t0.Add(3 * time.Minute), Type: model.EventSessionStop, SessionID: "s1", TargetPa: 50, AchAverage: 4.25},
	}
	for _, e := range events {
		require.NoError(t, h.Record(ctx, e))
	}

	sessions, err := GetRecentSessions(db, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	s := sessions[0]
	assert.Equal(t, "s1", s.ID)
	assert.Equal(t, "auto", s.Mode)
	assert.Equal(t, 50.0, s.TargetPa)
	assert.True(t, t0.Equal(s.StartedAt))
	require.NotNil(t, s.HoldReachedAt)
	assert.True(t, t0.Add(40*time.Second).Equal(*s.HoldReachedAt), "first hold wins")
	require.NotNil(t, s.StoppedAt)
	assert.Equal(t, 4.25, s.AchAverage)

	got, err := GetRecentEvents(db, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e4", got[0].ID)
	assert.Equal(t, model.EventSessionStop, got[0].Type)
	assert.Equal(t, 4.25, got[0].AchAverage)
	assert.Equal(t, "e3", got[1].ID)
}

func TestHistory_EventWithoutSession(t *testing.T) {
	db := openTestDB(t)
	h := NewHistory(db)

	require.NoError(t, h.Record(context.Background(), model.Event{
		ID: "e1", OccurredAt: t0, Type: model.EventSensorFault, Detail: "envelope sensor failed",
	}))

	events, err := GetRecentEvents(db, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "envelope sensor failed", events[0].Detail)
	assert.Empty(t, events[0].SessionID)

	sessions, err := GetRecentSessions(db, 10)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestHistory_Calibrations(t *testing.T) {
	db := openTestDB(t)
	h := NewHistory(db)
	ctx := context.Background()

	b, err := GetLatestCalibration(db)
	require.NoError(t, err)
	assert.False(t, b.Calibrated())

	assert.Error(t, h.RecordCalibration(ctx, model.CalibrationBaseline{}))

	for i, fan := range []float64{1.5, 2.25} {
		env := -0.5
		require.NoError(t, h.RecordCalibration(ctx, model.CalibrationBaseline{
			FanOffsetPa: &fan, EnvelopeOffsetPa: &env, CapturedAt: t0.Add(time.Duration(i) * time.Hour),
		}))
	}

	b, err = GetLatestCalibration(db)
	require.NoError(t, err)
	require.True(t, b.Calibrated())
	assert.Equal(t, 2.25, *b.FanOffsetPa)
	assert.Equal(t, -0.5, *b.EnvelopeOffsetPa)
	assert.True(t, t0.Add(time.Hour).Equal(b.CapturedAt))
}

func TestPruneEvents(t *testing.T) {
	db := openTestDB(t)
	h := NewHistory(db)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Record(context.Background(), model.Event{
			ID: string(rune('a' + i)), OccurredAt: t0.Add(time.Duration(i) * 24 * time.Hour), Type: model.EventSettings,
		}))
	}

	n, err := PruneEvents(db, t0.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	events, err := GetRecentEvents(db, 10)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestRecord_RollsBackOnSessionError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO events`)).
		WithArgs("e1", sqlmock.AnyArg(), "SESSION_START", "s1", 75.0, 0.0, "semi").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT OR REPLACE INTO sessions`)).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err = NewHistory(db).Record(context.Background(), model.Event{
		ID: "e1", OccurredAt: t0, Type: model.EventSessionStart, SessionID: "s1", TargetPa: 75, Detail: "semi",
	})
	assert.ErrorContains(t, err, "update session s1: disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordCalibration_DBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fan, env := 1.0, 2.0
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO calibrations`)).
		WithArgs(sqlmock.AnyArg(), 1.0, 2.0).
		WillReturnError(errors.New("database is locked"))

	err = NewHistory(db).RecordCalibration(context.Background(), model.CalibrationBaseline{
		FanOffsetPa: &fan, EnvelopeOffsetPa: &env, CapturedAt: t0,
	})
	assert.ErrorContains(t, err, "insert calibration: database is locked")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "blower.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	// Re-applying the schema is harmless.
	require.NoError(t, ApplyMigrations(db))
}

package db

import (
	"fmt"
	"io"
	"time"
)

func PrintEventsCLI(w io.Writer, dbPath string, limit int) error {
	dbConn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	events, err := GetRecentEvents(dbConn, limit)
	if err != nil {
		return err
	}
	for _, e := range events {
		fmt.Fprintf(w, "%s  %-16s session=%s target=%g ach=%.2f %s\n",
			e.OccurredAt.Local().Format(time.DateTime), e.Type, e.SessionID, e.TargetPa, e.AchAverage, e.Detail)
	}
	return nil
}

func PrintSessionsCLI(w io.Writer, dbPath string, limit int) error {
	dbConn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	sessions, err := GetRecentSessions(dbConn, limit)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		hold := "-"
		if s.HoldReachedAt != nil {
			hold = s.HoldReachedAt.Sub(s.StartedAt).Round(time.Second).String()
		}
		stopped := "running"
		if s.StoppedAt != nil {
			stopped = s.StoppedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s  %-6s %5.1f Pa  hold after %-8s stopped %s  ach=%.2f\n",
			s.StartedAt.Local().Format(time.DateTime), s.Mode, s.TargetPa, hold, stopped, s.AchAverage)
	}
	return nil
}

func PrintCalibrationCLI(w io.Writer, dbPath string) error {
	dbConn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	b, err := GetLatestCalibration(dbConn)
	if err != nil {
		return err
	}
	if !b.Calibrated() {
		fmt.Fprintln(w, "No calibration recorded")
		return nil
	}
	fmt.Fprintf(w, "%s  fan=%.2f Pa envelope=%.2f Pa\n",
		b.CapturedAt.Local().Format(time.DateTime), *b.FanOffsetPa, *b.EnvelopeOffsetPa)
	return nil
}

func PruneEventsCLI(dbPath string, olderThan time.Duration) (int64, error) {
	dbConn, err := Open(dbPath)
	if err != nil {
		return 0, err
	}
	defer dbConn.Close()
	return PruneEvents(dbConn, time.Now().Add(-olderThan))
}

// Package runclock provides run timestamps, run identifiers and the
// toolkit-suffix discipline shared by every workflow.
package runclock

import (
	"fmt"
	"time"
)

// Timestamp layouts used across all run artifacts.
const (
	layoutISO   = "2006-01-02T15:04:05"
	layoutBR    = "02/01/2006 15:04:05"
	layoutRunID = "02012006_150405"
)

// NowISO returns the local wall-clock time in ISO 8601 (seconds precision).
func NowISO() string {
	return time.Now().Format(layoutISO)
}

// NowBR returns the local wall-clock time as dd/MM/yyyy HH:mm:ss.
func NowBR() string {
	return time.Now().Format(layoutBR)
}

// NowDual returns the same instant in both artifact timestamp formats.
func NowDual() (br string, iso string) {
	now := time.Now()

	return now.Format(layoutBR), now.Format(layoutISO)
}

// NowRunID returns a fresh raw run identifier (ddMMyyyy_HHmmss).
func NowRunID() string {
	return time.Now().Format(layoutRunID)
}

// FormatETA renders an ETA in HH:MM:SS (or MM:SS under one hour).
// Negative durations mean the estimate is not available yet.
func FormatETA(eta time.Duration) string {
	if eta < 0 {
		return "calculando"
	}

	total := int(eta.Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60

	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}

	return fmt.Sprintf("%02d:%02d", m, s)
}

// FormatDuration renders an elapsed duration as seconds with one decimal.
func FormatDuration(d time.Duration) string {
	secs := d.Seconds()
	if secs < 0 {
		secs = 0
	}

	return fmt.Sprintf("%.1fs", secs)
}

// DurationSeconds rounds a duration to millisecond-precision seconds for
// summary rows.
func DurationSeconds(d time.Duration) float64 {
	secs := d.Seconds()
	if secs < 0 {
		secs = 0
	}

	return float64(int64(secs*1000+0.5)) / 1000
}

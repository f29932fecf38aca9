package logquery

import (
	"fmt"
	"strings"
	"time"
)

// Window is a presentation shortcut for a from/to pair ending now.
type Window string

const (
	Last15Minutes Window = "15m"
	LastHour      Window = "1h"
	Today         Window = "today"
)

// ParseWindow accepts 15m, 1h and today.
func ParseWindow(raw string) (Window, error) {
	switch w := Window(strings.ToLower(strings.TrimSpace(raw))); w {
	case Last15Minutes, LastHour, Today:
		return w, nil
	default:
		return "", fmt.Errorf("%w: unknown window %q", ErrInvalidFilter, raw)
	}
}

// Range returns the from/to timestamps for w at now.
func (w Window) Range(now time.Time) (string, string, bool) {
	now = now.UTC()
	var from time.Time
	switch w {
	case Last15Minutes:
		from = now.Add(-15 * time.Minute)
	case LastHour:
		from = now.Add(-time.Hour)
	case Today:
		from = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return "", "", false
	}
	return FormatTimestamp(from), FormatTimestamp(now), true
}

// FormatTimestamp renders t in UTC RFC3339 without fractional seconds.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// Package logquery encodes context log filters and cursors into the control
// plane's query contract and decodes result pages, recognizing status-change
// audit records among the entries.
package logquery

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// PageSize is the number of entries requested per page.
	PageSize = 50
	// MaxLimit bounds caller-supplied limits.
	MaxLimit = 200
)

// ErrInvalidFilter wraps every filter parse failure.
var ErrInvalidFilter = errors.New("invalid log filter")

// Severity is one of the log levels, or SeverityAll for no filter.
type Severity string

const (
	SeverityAll   Severity = ""
	SeverityDebug Severity = "debug"
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Severities lists the concrete levels in increasing order.
var Severities = []Severity{SeverityDebug, SeverityInfo, SeverityWarn, SeverityError}

// ParseSeverity accepts a level name; "" and "all" mean no filter.
func ParseSeverity(raw string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if s == "all" {
		return SeverityAll, nil
	}
	if s == SeverityAll {
		return s, nil
	}
	for _, known := range Severities {
		if s == known {
			return s, nil
		}
	}
	return SeverityAll, fmt.Errorf("%w: unknown severity %q", ErrInvalidFilter, raw)
}

// Filter is the full filter and cursor state of one log request. Methods
// return modified copies; a Filter is never changed in place.
type Filter struct {
	Severity Severity
	Query    string
	From     string
	To       string
	// BeforeID is the exclusive upper bound on entry ids; zero means newest.
	BeforeID int64
	// Limit is the page size; zero means PageSize.
	Limit int
}

// NewFilter returns an unfiltered first-page request.
func NewFilter() Filter {
	return Filter{Limit: PageSize}
}

// PageLimit returns the effective page size.
func (f Filter) PageLimit() int {
	if f.Limit <= 0 {
		return PageSize
	}
	return f.Limit
}

// Values encodes the filter. Empty filters are omitted; limit is always sent.
func (f Filter) Values() url.Values {
	v := url.Values{}
	v.Set("limit", strconv.Itoa(f.PageLimit()))
	if f.Severity != SeverityAll {
		v.Set("severity", string(f.Severity))
	}
	if strings.TrimSpace(f.Query) != "" {
		v.Set("q", f.Query)
	}
	if f.From != "" {
		v.Set("from", f.From)
	}
	if f.To != "" {
		v.Set("to", f.To)
	}
	if f.BeforeID > 0 {
		v.Set("before_id", strconv.FormatInt(f.BeforeID, 10))
	}
	return v
}

// Encode is Values().Encode().
func (f Filter) Encode() string {
	return f.Values().Encode()
}

// WithCursor returns a copy that continues strictly before id.
func (f Filter) WithCursor(id int64) Filter {
	if id < 0 {
		id = 0
	}
	f.BeforeID = id
	return f
}

// FirstPage returns a copy without a cursor.
func (f Filter) FirstPage() Filter {
	f.BeforeID = 0
	return f
}

// WithWindow returns a copy whose from/to cover w ending at now. The cursor
// is reset because the result set changed.
func (f Filter) WithWindow(w Window, now time.Time) Filter {
	from, to, ok := w.Range(now)
	if !ok {
		return f
	}
	f.From, f.To = from, to
	f.BeforeID = 0
	return f
}

// ParseFilter decodes query parameters. It accepts both before_id and
// beforeId, and a window shortcut (15m, 1h, today) when from/to are absent.
func ParseFilter(v url.Values) (Filter, error) {
	return ParseFilterAt(v, time.Now())
}

// ParseFilterAt is ParseFilter with an explicit clock for window shortcuts.
func ParseFilterAt(v url.Values, now time.Time) (Filter, error) {
	f := NewFilter()

	sev, err := ParseSeverity(v.Get("severity"))
	if err != nil {
		return Filter{}, err
	}
	f.Severity = sev
	if q := v.Get("q"); strings.TrimSpace(q) != "" {
		f.Query = q
	}

	if f.From, err = parseTimestamp("from", v.Get("from")); err != nil {
		return Filter{}, err
	}
	if f.To, err = parseTimestamp("to", v.Get("to")); err != nil {
		return Filter{}, err
	}

	cursor := strings.TrimSpace(v.Get("before_id"))
	if cursor == "" {
		cursor = strings.TrimSpace(v.Get("beforeId"))
	}
	if cursor != "" {
		id, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil || id <= 0 {
			return Filter{}, fmt.Errorf("%w: before_id must be a positive integer", ErrInvalidFilter)
		}
		f.BeforeID = id
	}

	if raw := strings.TrimSpace(v.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return Filter{}, fmt.Errorf("%w: limit must be a positive integer", ErrInvalidFilter)
		}
		if limit > MaxLimit {
			limit = MaxLimit
		}
		f.Limit = limit
	}

	if raw := strings.TrimSpace(v.Get("window")); raw != "" {
		w, err := ParseWindow(raw)
		if err != nil {
			return Filter{}, err
		}
		if f.From == "" && f.To == "" {
			cursor := f.BeforeID
			f = f.WithWindow(w, now)
			f.BeforeID = cursor
		}
	}
	return f, nil
}

// parseTimestamp validates an RFC3339 value and returns it unchanged so the
// caller's spelling reaches the control plane verbatim.
func parseTimestamp(name, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if _, err := time.Parse(time.RFC3339Nano, raw); err != nil {
		return "", fmt.Errorf("%w: %s must be an RFC3339 timestamp", ErrInvalidFilter, name)
	}
	return raw, nil
}

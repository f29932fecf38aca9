package logquery

import (
	"encoding/json"
	"fmt"
)

// Page is one newest-first slice of a context's log.
type Page struct {
	Logs         []Entry `json:"logs"`
	NextBeforeID *int64  `json:"next_before_id,omitempty"`
	limit        int
}

// DecodePage decodes {logs, next_before_id} for a request made with f.
// Entries at or above f's cursor are dropped and a cursor that would not move
// strictly backwards is cleared, so paging always terminates.
func DecodePage(body []byte, f Filter) (Page, error) {
	var p Page
	if err := json.Unmarshal(body, &p); err != nil {
		return Page{}, fmt.Errorf("decode log page: %w", err)
	}
	p.limit = f.PageLimit()

	logs := make([]Entry, 0, len(p.Logs))
	for _, entry := range p.Logs {
		if f.BeforeID > 0 && entry.ID >= f.BeforeID {
			continue
		}
		logs = append(logs, entry)
	}
	p.Logs = logs

	if next := p.NextBeforeID; next != nil {
		if *next <= 0 || (f.BeforeID > 0 && *next >= f.BeforeID) {
			p.NextBeforeID = nil
		}
	}
	return p, nil
}

// Last reports the terminal page: no cursor, or fewer entries than requested.
func (p Page) Last() bool {
	limit := p.limit
	if limit <= 0 {
		limit = PageSize
	}
	return p.NextBeforeID == nil || len(p.Logs) < limit
}

// Next returns the filter for the following page, or false on the last page.
func (p Page) Next(f Filter) (Filter, bool) {
	if p.Last() {
		return f, false
	}
	return f.WithCursor(*p.NextBeforeID), true
}

package logquery

import "fmt"

// Rendered is the display form of an entry.
type Rendered struct {
	Line       string
	Transition *StatusChange
}

// Render formats an entry as a plain log line, surfacing a status transition
// when the entry is an audit record.
func Render(e Entry) Rendered {
	r := Rendered{Line: fmt.Sprintf("%s [%s] %s", e.Severity, e.Timestamp, e.Message)}
	if sc, ok := e.StatusChange(); ok {
		r.Transition = &sc
		r.Line += fmt.Sprintf(" (status %s -> %s)", sc.From, sc.To)
	}
	return r
}

// Transition is a status change reconstructed from an audit log entry.
type Transition struct {
	EntryID   int64  `json:"entry_id"`
	Timestamp string `json:"ts"`
	From      string `json:"from"`
	To        string `json:"to"`
	Message   string `json:"message"`
}

// AuditTrail keeps the audit records of entries, preserving their order.
func AuditTrail(entries []Entry) []Transition {
	out := make([]Transition, 0)
	for _, e := range entries {
		sc, ok := e.StatusChange()
		if !ok {
			continue
		}
		out = append(out, Transition{
			EntryID:   e.ID,
			Timestamp: e.Timestamp,
			From:      sc.From,
			To:        sc.To,
			Message:   e.Message,
		})
	}
	return out
}

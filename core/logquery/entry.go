package logquery

import (
	"encoding/json"
	"time"
)

// Entry is one context log record as delivered by the control plane.
type Entry struct {
	ID        int64
	Timestamp string
	Severity  string
	Message   string
	// Metadata is derived from RawMetadata when the entry is decoded.
	Metadata    Metadata
	RawMetadata json.RawMessage
}

type wireEntry struct {
	ID          int64           `json:"id"`
	Timestamp   string          `json:"ts"`
	Severity    string          `json:"severity"`
	Message     string          `json:"message"`
	RawMetadata json.RawMessage `json:"metadata_json,omitempty"`
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Entry{
		ID:          w.ID,
		Timestamp:   w.Timestamp,
		Severity:    w.Severity,
		Message:     w.Message,
		RawMetadata: w.RawMetadata,
		Metadata:    Classify(w.RawMetadata),
	}
	return nil
}

// MarshalJSON re-emits the metadata bytes exactly as received.
func (e Entry) MarshalJSON() ([]byte, error) {
	w := wireEntry{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		Severity:  e.Severity,
		Message:   e.Message,
	}
	if len(e.RawMetadata) > 0 && json.Valid(e.RawMetadata) {
		w.RawMetadata = e.RawMetadata
	}
	return json.Marshal(w)
}

// StatusChange returns the recorded transition when the entry is an audit record.
func (e Entry) StatusChange() (StatusChange, bool) {
	sc, ok := e.Metadata.(StatusChange)
	return sc, ok
}

// Time parses Timestamp.
func (e Entry) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, e.Timestamp)
}

package logquery

import (
	"bytes"
	"encoding/json"
)

// StatusChangedEvent marks a log entry that records a context status change.
const StatusChangedEvent = "context.status_changed"

// Metadata is the classified form of a log entry's metadata: StatusChange,
// Opaque, or nil when the entry carries none.
type Metadata interface {
	isMetadata()
}

// StatusChange is a context status transition recorded in a log entry.
type StatusChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Opaque is any other metadata. Fields is nil when Raw is not an object.
type Opaque struct {
	Raw    json.RawMessage
	Fields map[string]json.RawMessage
}

func (StatusChange) isMetadata() {}
func (Opaque) isMetadata()       {}

// Classify inspects raw metadata. It never fails: anything that is not
// exactly {"event":"context.status_changed","from":string,"to":string}
// is Opaque, and absent or null metadata is nil.
func Classify(raw json.RawMessage) Metadata {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil || fields == nil {
		return Opaque{Raw: raw}
	}
	var event, from, to string
	if !stringField(fields, "event", &event) || event != StatusChangedEvent {
		return Opaque{Raw: raw, Fields: fields}
	}
	if !stringField(fields, "from", &from) || !stringField(fields, "to", &to) {
		return Opaque{Raw: raw, Fields: fields}
	}
	return StatusChange{From: from, To: to}
}

func stringField(fields map[string]json.RawMessage, key string, out *string) bool {
	raw, ok := fields[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, out) == nil && isJSONString(raw)
}

func isJSONString(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '"'
}

// Package contexts requests context creation, status changes and log
// operations from the control plane. The control plane owns context state;
// nothing here caches it or decides which transitions are legal.
package contexts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/inactu/inactu-web/core/infra/schema"
	"github.com/inactu/inactu-web/core/logquery"
	"github.com/inactu/inactu-web/core/upstream"
)

// Status values known for presentation. Any string is forwarded as is.
const (
	StatusStarting = "starting"
	StatusRunning  = "running"
	StatusStopped  = "stopped"
	StatusFailed   = "failed"
)

// Statuses lists the known statuses in lifecycle order.
var Statuses = []string{StatusStarting, StatusRunning, StatusStopped, StatusFailed}

// ListLimit is the page size used when listing contexts.
const ListLimit = 100

var ErrValidation = upstream.ErrValidation

// Context is a transient view of a control-plane context.
type Context struct {
	ID           string  `json:"id"`
	Status       string  `json:"status"`
	Region       string  `json:"region"`
	StartedAt    string  `json:"started_at"`
	EndedAt      *string `json:"ended_at"`
	Package      *string `json:"package"`
	Version      *string `json:"version"`
	LastActivity string  `json:"last_activity"`
}

// CreateInput is the caller's context creation request.
type CreateInput struct {
	Status  string `json:"status"`
	Region  string `json:"region"`
	Package string `json:"package"`
	Version string `json:"version"`
}

type createBody struct {
	Status  string `json:"status"`
	Region  string `json:"region"`
	Package string `json:"package,omitempty"`
	Version string `json:"version,omitempty"`
}

// LogInput is one log entry to append.
type LogInput struct {
	Severity string          `json:"severity"`
	Message  string          `json:"message"`
	Metadata json.RawMessage `json:"metadata_json"`
}

type logBody struct {
	Severity string          `json:"severity"`
	Message  string          `json:"message"`
	Metadata json.RawMessage `json:"metadata_json,omitempty"`
}

// Service issues context operations on behalf of a user.
type Service struct {
	caller upstream.Caller
}

func NewService(caller upstream.Caller) *Service {
	return &Service{caller: caller}
}

// Create posts a new context. Package and version are forwarded only as a
// pair; a lone package or version is dropped.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*upstream.Response, error) {
	body := createBody{
		Status: strings.TrimSpace(in.Status),
		Region: strings.TrimSpace(in.Region),
	}
	if body.Status == "" {
		return nil, upstream.Invalid("Status is required")
	}
	if body.Region == "" {
		return nil, upstream.Invalid("Region is required")
	}
	pkg, version := strings.TrimSpace(in.Package), strings.TrimSpace(in.Version)
	if pkg != "" && version != "" {
		body.Package, body.Version = pkg, version
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return s.caller.Call(ctx, upstream.Request{
		Method: http.MethodPost,
		Path:   "/v1/contexts",
		UserID: userID,
		Body:   data,
	}), nil
}

// SetStatus requests status for the context. The control plane decides
// whether the transition is allowed.
func (s *Service) SetStatus(ctx context.Context, userID, id, status string) (*upstream.Response, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, upstream.Invalid("Context id is required")
	}
	status = strings.TrimSpace(status)
	if status == "" {
		return nil, upstream.Invalid("Status is required")
	}
	data, err := json.Marshal(map[string]string{"status": status})
	if err != nil {
		return nil, err
	}
	return s.caller.Call(ctx, upstream.Request{
		Method: http.MethodPatch,
		Path:   contextPath(id),
		UserID: userID,
		Body:   data,
	}), nil
}

func (s *Service) Get(ctx context.Context, userID, id string) (*upstream.Response, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, upstream.Invalid("Context id is required")
	}
	return s.caller.Call(ctx, upstream.Request{Method: http.MethodGet, Path: contextPath(id), UserID: userID}), nil
}

// List returns up to ListLimit contexts, optionally filtered by status.
func (s *Service) List(ctx context.Context, userID, status string) *upstream.Response {
	q := url.Values{}
	if status = strings.TrimSpace(status); status != "" && status != "all" {
		q.Set("status", status)
	}
	q.Set("limit", strconv.Itoa(ListLimit))
	return s.caller.Call(ctx, upstream.Request{Method: http.MethodGet, Path: "/v1/contexts", Query: q, UserID: userID})
}

// AppendLog posts one entry. Metadata, when present, must be a JSON object
// or a string holding one. An empty severity means info.
func (s *Service) AppendLog(ctx context.Context, userID, id string, in LogInput) (*upstream.Response, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, upstream.Invalid("Context id is required")
	}
	severity, err := logquery.ParseSeverity(in.Severity)
	if err != nil {
		return nil, upstream.Invalid("Severity must be one of debug, info, warn, error")
	}
	if severity == logquery.SeverityAll {
		severity = logquery.SeverityInfo
	}
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return nil, upstream.Invalid("Message is required")
	}
	metadata, err := ParseMetadata(in.Metadata)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(logBody{Severity: string(severity), Message: message, Metadata: metadata})
	if err != nil {
		return nil, err
	}
	return s.caller.Call(ctx, upstream.Request{
		Method: http.MethodPost,
		Path:   contextPath(id) + "/logs",
		UserID: userID,
		Body:   data,
	}), nil
}

// Logs fetches one page of a context's log for f.
func (s *Service) Logs(ctx context.Context, userID, id string, f logquery.Filter) (*upstream.Response, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, upstream.Invalid("Context id is required")
	}
	return s.caller.Call(ctx, upstream.Request{
		Method: http.MethodGet,
		Path:   contextPath(id) + "/logs",
		Query:  f.Values(),
		UserID: userID,
	}), nil
}

// Page fetches and decodes one page. A non-2xx response is returned as an
// *upstream.StatusError.
func (s *Service) Page(ctx context.Context, userID, id string, f logquery.Filter) (logquery.Page, error) {
	resp, err := s.Logs(ctx, userID, id, f)
	if err != nil {
		return logquery.Page{}, err
	}
	if !resp.OK() {
		return logquery.Page{}, &upstream.StatusError{Response: resp}
	}
	return logquery.DecodePage(resp.Body, f)
}

// Pager walks a context's log from f backwards.
func (s *Service) Pager(userID, id string, f logquery.Filter) *logquery.Pager {
	return logquery.NewPager(f, func(ctx context.Context, pf logquery.Filter) (logquery.Page, error) {
		return s.Page(ctx, userID, id, pf)
	})
}

// AuditPage is the audit view of one log page.
type AuditPage struct {
	Transitions  []logquery.Transition `json:"transitions"`
	NextBeforeID *int64                `json:"next_before_id,omitempty"`
}

// Audit returns the status-change records found in one page of the log.
func (s *Service) Audit(ctx context.Context, userID, id string, f logquery.Filter) (AuditPage, error) {
	page, err := s.Page(ctx, userID, id, f)
	if err != nil {
		return AuditPage{}, err
	}
	out := AuditPage{Transitions: logquery.AuditTrail(page.Logs)}
	if next, ok := page.Next(f); ok {
		cursor := next.BeforeID
		out.NextBeforeID = &cursor
	}
	return out, nil
}

// ParseMetadata returns nil for absent metadata and the object bytes
// otherwise.
func ParseMetadata(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(trimmed), &inner); err != nil {
			return nil, upstream.Invalid("Metadata JSON is invalid.")
		}
		trimmed = strings.TrimSpace(inner)
		if trimmed == "" {
			return nil, nil
		}
	}
	if !json.Valid([]byte(trimmed)) {
		return nil, upstream.Invalid("Metadata JSON is invalid.")
	}
	if err := schema.RequireObject("metadata_json", []byte(trimmed)); err != nil {
		return nil, upstream.Invalid("Metadata JSON must be an object.")
	}
	return json.RawMessage(trimmed), nil
}

// DecodeContext reads {"context": {...}}.
func DecodeContext(body []byte) (Context, error) {
	var payload struct {
		Context Context `json:"context"`
	}
	err := json.Unmarshal(body, &payload)
	return payload.Context, err
}

// DecodeContexts reads {"contexts": [...]}.
func DecodeContexts(body []byte) ([]Context, error) {
	var payload struct {
		Contexts []Context `json:"contexts"`
	}
	err := json.Unmarshal(body, &payload)
	return payload.Contexts, err
}

func contextPath(id string) string {
	return "/v1/contexts/" + url.PathEscape(id)
}

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/inactu/inactu-web/core/contexts"
	"github.com/inactu/inactu-web/core/infra/logging"
	"github.com/inactu/inactu-web/core/logquery"
	"github.com/inactu/inactu-web/core/packages"
	"github.com/inactu/inactu-web/core/upstream"
)

const invalidJSONBody = "Invalid JSON body"

// decodeBody reads a JSON object body into out.
func decodeBody(r *http.Request, out any) bool {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil || len(strings.TrimSpace(string(data))) == 0 {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

// respond relays resp, or writes 400 for a validation fault.
func respond(w http.ResponseWriter, resp *upstream.Response, err error) bool {
	if err != nil {
		var verr *upstream.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Message)
			return false
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return false
	}
	relay(w, resp)
	return resp.OK()
}

// ---- Packages ----

func (s *server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	relay(w, s.packages.ListPackages(r.Context(), UserID(r)))
}

func (s *server) handleCreatePackage(w http.ResponseWriter, r *http.Request) {
	var in packages.CreateInput
	if !decodeBody(r, &in) {
		writeError(w, http.StatusBadRequest, invalidJSONBody)
		return
	}
	resp, err := s.packages.CreatePackage(r.Context(), UserID(r), in)
	if respond(w, resp, err) {
		s.exportPackageEvent(r, "create", strings.TrimSpace(in.Name), "")
	}
}

func (s *server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	resp, err := s.packages.ListVersions(r.Context(), UserID(r), r.PathValue("package"))
	respond(w, resp, err)
}

func (s *server) handlePublishVersion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Manifest json.RawMessage `json:"manifest"`
	}
	if !decodeBody(r, &body) {
		writeError(w, http.StatusBadRequest, invalidJSONBody)
		return
	}
	name := r.PathValue("package")
	resp, err := s.packages.PublishVersion(r.Context(), UserID(r), name, body.Manifest)
	if respond(w, resp, err) {
		var published struct {
			Version struct {
				Version string `json:"version"`
			} `json:"version"`
		}
		_ = resp.Decode(&published)
		s.exportPackageEvent(r, "publish", name, published.Version.Version)
	}
}

func (s *server) handleDeprecateVersion(w http.ResponseWriter, r *http.Request) {
	name, version := r.PathValue("package"), r.PathValue("version")
	resp, err := s.packages.DeprecateVersion(r.Context(), UserID(r), name, version)
	if respond(w, resp, err) {
		s.exportPackageEvent(r, "deprecate", name, version)
	}
}

func (s *server) exportPackageEvent(r *http.Request, action, name, version string) {
	if s.audit == nil {
		return
	}
	event := PackageEvent{
		Time:      time.Now().UTC(),
		Action:    action,
		Package:   name,
		Version:   version,
		UserID:    UserID(r),
		RequestID: requestIDFromContext(r.Context()),
	}
	if err := s.audit.ExportPackageEvent(r.Context(), event); err != nil {
		logging.Warn("gateway", "package event export failed", "error", err, "action", action)
	}
}

// ---- Contexts ----

func (s *server) handleListContexts(w http.ResponseWriter, r *http.Request) {
	relay(w, s.contexts.List(r.Context(), UserID(r), r.URL.Query().Get("status")))
}

func (s *server) handleCreateContext(w http.ResponseWriter, r *http.Request) {
	var in contexts.CreateInput
	if !decodeBody(r, &in) {
		writeError(w, http.StatusBadRequest, invalidJSONBody)
		return
	}
	resp, err := s.contexts.Create(r.Context(), UserID(r), in)
	respond(w, resp, err)
}

func (s *server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	resp, err := s.contexts.Get(r.Context(), UserID(r), r.PathValue("id"))
	respond(w, resp, err)
}

func (s *server) handleSetContextStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if !decodeBody(r, &body) {
		writeError(w, http.StatusBadRequest, invalidJSONBody)
		return
	}
	id := r.PathValue("id")
	resp, err := s.contexts.SetStatus(r.Context(), UserID(r), id, body.Status)
	if !respond(w, resp, err) || s.audit == nil {
		return
	}
	event := StatusRequestEvent{
		Time:      time.Now().UTC(),
		ContextID: id,
		Status:    strings.TrimSpace(body.Status),
		UserID:    UserID(r),
		RequestID: requestIDFromContext(r.Context()),
	}
	if err := s.audit.ExportStatusRequest(r.Context(), event); err != nil {
		logging.Warn("gateway", "status event export failed", "error", err, "context_id", id)
	}
}

func (s *server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	f, err := logquery.ParseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := s.contexts.Page(r.Context(), UserID(r), r.PathValue("id"), f)
	if err != nil {
		writePageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLogPageView(page))
}

// logView is an entry as served to clients, with its status transition
// lifted out of the metadata when it is an audit record.
type logView struct {
	ID         int64                  `json:"id"`
	Timestamp  string                 `json:"ts"`
	Severity   string                 `json:"severity"`
	Message    string                 `json:"message"`
	Metadata   json.RawMessage        `json:"metadata_json,omitempty"`
	Transition *logquery.StatusChange `json:"transition,omitempty"`
}

type logPageView struct {
	Logs         []logView `json:"logs"`
	NextBeforeID *int64    `json:"next_before_id,omitempty"`
}

func newLogPageView(page logquery.Page) logPageView {
	out := logPageView{Logs: make([]logView, 0, len(page.Logs)), NextBeforeID: page.NextBeforeID}
	for _, e := range page.Logs {
		v := logView{ID: e.ID, Timestamp: e.Timestamp, Severity: e.Severity, Message: e.Message}
		if len(e.RawMetadata) > 0 && json.Valid(e.RawMetadata) {
			v.Metadata = e.RawMetadata
		}
		if sc, ok := e.StatusChange(); ok {
			v.Transition = &sc
		}
		out.Logs = append(out.Logs, v)
	}
	return out
}

// writePageError maps a failed page fetch: upstream statuses are relayed,
// undecodable bodies become 502.
func writePageError(w http.ResponseWriter, err error) {
	var statusErr *upstream.StatusError
	switch {
	case errors.As(err, &statusErr):
		relay(w, statusErr.Response)
	case errors.Is(err, upstream.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusBadGateway, upstream.UnexpectedResponse)
	}
}

func (s *server) handleAppendLog(w http.ResponseWriter, r *http.Request) {
	var in contexts.LogInput
	if !decodeBody(r, &in) {
		writeError(w, http.StatusBadRequest, invalidJSONBody)
		return
	}
	resp, err := s.contexts.AppendLog(r.Context(), UserID(r), r.PathValue("id"), in)
	respond(w, resp, err)
}

func (s *server) handleContextAudit(w http.ResponseWriter, r *http.Request) {
	f, err := logquery.ParseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	audit, err := s.contexts.Audit(r.Context(), UserID(r), r.PathValue("id"), f)
	if err != nil {
		writePageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, audit)
}

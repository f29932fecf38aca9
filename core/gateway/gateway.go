// Package gateway serves the inbound HTTP surface: structured package and
// context endpoints, the pass-through proxy, the OpenAPI document and the
// live log tail.
package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/inactu/inactu-web/core/contexts"
	"github.com/inactu/inactu-web/core/infra/logging"
	"github.com/inactu/inactu-web/core/infra/metrics"
	"github.com/inactu/inactu-web/core/infra/ratelimit"
	"github.com/inactu/inactu-web/core/packages"
	"github.com/inactu/inactu-web/core/upstream"
)

// ProxyPrefix is the mount point of the pass-through proxy.
const ProxyPrefix = "/api/openapi/proxy"

const (
	defaultPollInterval = 2 * time.Second
	maxRequestBodyBytes = 4 << 20
)

// Options wires the gateway's collaborators. Nil collaborators fall back to
// no-ops, except Contexts and Packages which are required.
type Options struct {
	Contexts      *contexts.Service
	Packages      *packages.Service
	Proxy         http.Handler
	Auth          AuthProvider
	Limiter       ratelimit.Limiter
	Metrics       metrics.GatewayMetrics
	StreamMetrics metrics.StreamMetrics
	Audit         AuditExporter
	OpenAPIPath   string
	PollInterval  time.Duration
	// BaseContext bounds long-lived streams; they close once it is done.
	BaseContext context.Context
}

type server struct {
	contexts      *contexts.Service
	packages      *packages.Service
	proxy         http.Handler
	auth          AuthProvider
	limiter       ratelimit.Limiter
	metrics       metrics.GatewayMetrics
	streamMetrics metrics.StreamMetrics
	audit         AuditExporter
	openapi       *openAPIDoc
	pollInterval  time.Duration
	upgrader      websocket.Upgrader
	baseCtx       context.Context
}

func newServer(opts Options) *server {
	s := &server{
		contexts:      opts.Contexts,
		packages:      opts.Packages,
		proxy:         opts.Proxy,
		auth:          opts.Auth,
		limiter:       opts.Limiter,
		metrics:       opts.Metrics,
		streamMetrics: opts.StreamMetrics,
		audit:         opts.Audit,
		openapi:       newOpenAPIDoc(opts.OpenAPIPath),
		pollInterval:  opts.PollInterval,
		baseCtx:       opts.BaseContext,
		upgrader: websocket.Upgrader{
			CheckOrigin: isAllowedOrigin,
		},
	}
	if s.metrics == nil {
		s.metrics = metrics.Noop{}
	}
	if s.streamMetrics == nil {
		s.streamMetrics = metrics.Noop{}
	}
	if s.baseCtx == nil {
		s.baseCtx = context.Background()
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}
	if s.proxy == nil {
		s.proxy = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusInternalServerError, "API base URL not configured")
		})
	}
	return s
}

// NewHandler returns the full middleware chain around the route table.
func NewHandler(opts Options) http.Handler {
	return newServer(opts).handler()
}

func (s *server) handler() http.Handler {
	mux := s.routes()
	return requestIDMiddleware(corsMiddleware(authMiddleware(s.auth, rateLimitMiddleware(s.limiter, mux))))
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// 1. Health
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// 2. OpenAPI document and pass-through proxy
	mux.HandleFunc("GET /api/openapi", s.instrumented("/api/openapi", s.handleOpenAPI))
	mux.HandleFunc(ProxyPrefix+"/{path...}", s.instrumented(ProxyPrefix+"/{path...}", s.proxy.ServeHTTP))

	// 3. Packages
	for _, prefix := range []string{"/api/v1/packages", "/api/packages"} {
		mux.HandleFunc("GET "+prefix, s.instrumented(prefix, s.handleListPackages))
		mux.HandleFunc("POST "+prefix, s.instrumented(prefix, s.handleCreatePackage))
		mux.HandleFunc("POST "+prefix+"/{package}/versions/{version}/deprecate", s.instrumented(prefix+"/{package}/versions/{version}/deprecate", s.handleDeprecateVersion))
	}
	mux.HandleFunc("GET /api/v1/packages/{package}/versions", s.instrumented("/api/v1/packages/{package}/versions", s.handleListVersions))
	mux.HandleFunc("POST /api/v1/packages/{package}/versions", s.instrumented("/api/v1/packages/{package}/versions", s.handlePublishVersion))

	// 4. Contexts
	mux.HandleFunc("GET /api/v1/contexts", s.instrumented("/api/v1/contexts", s.handleListContexts))
	mux.HandleFunc("POST /api/v1/contexts", s.instrumented("/api/v1/contexts", s.handleCreateContext))
	mux.HandleFunc("GET /api/v1/contexts/{id}", s.instrumented("/api/v1/contexts/{id}", s.handleGetContext))
	mux.HandleFunc("PATCH /api/v1/contexts/{id}", s.instrumented("/api/v1/contexts/{id}", s.handleSetContextStatus))
	mux.HandleFunc("GET /api/v1/contexts/{id}/logs", s.instrumented("/api/v1/contexts/{id}/logs", s.handleListLogs))
	mux.HandleFunc("POST /api/v1/contexts/{id}/logs", s.instrumented("/api/v1/contexts/{id}/logs", s.handleAppendLog))
	mux.HandleFunc("GET /api/v1/contexts/{id}/audit", s.instrumented("/api/v1/contexts/{id}/audit", s.handleContextAudit))

	// 5. Live log tail (WebSocket)
	mux.HandleFunc("GET /api/v1/contexts/{id}/logs/stream", s.instrumented("/api/v1/contexts/{id}/logs/stream", s.handleLogStream))

	return mux
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack forwards websocket hijacking support to the underlying writer when available.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijacker not supported")
	}
	return hj.Hijack()
}

// Flush preserves streaming support if the wrapped writer implements it.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// instrumented wraps handlers to record metrics and export an audit event.
func (s *server) instrumented(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		elapsed := time.Since(start)
		s.metrics.ObserveRequest(r.Method, route, strconv.Itoa(rec.status), elapsed.Seconds())
		if s.audit == nil {
			return
		}
		event := AuditEvent{
			Time:       start.UTC(),
			Method:     r.Method,
			Route:      route,
			Path:       r.URL.Path,
			Status:     rec.status,
			DurationMs: elapsed.Milliseconds(),
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
			UserID:     UserID(r),
			RequestID:  requestIDFromContext(r.Context()),
		}
		if err := s.audit.ExportAudit(r.Context(), event); err != nil {
			logging.Warn("gateway", "audit export failed", "error", err, "route", route)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, upstream.ErrorBody{Error: msg})
}

// relay writes an upstream outcome with its status. Non-JSON bodies become
// the unexpected-response error.
func relay(w http.ResponseWriter, resp *upstream.Response) {
	payload := resp.Payload()
	if payload == nil {
		w.WriteHeader(resp.StatusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(payload)
}

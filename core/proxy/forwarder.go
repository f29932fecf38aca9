// Package proxy is the byte-transparent pass-through from the gateway to the
// control plane. It injects a delegation token and never inspects bodies.
package proxy

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/inactu/inactu-web/core/delegation"
	"github.com/inactu/inactu-web/core/infra/logging"
	"github.com/inactu/inactu-web/core/infra/metrics"
	"github.com/inactu/inactu-web/core/upstream"
)

const copyBufferSize = 32 << 10

// Request headers never replayed upstream. Accept-Encoding is left to the
// transport so that it can decode what it negotiated.
var dropRequestHeaders = []string{"Host", "Content-Length", "Accept-Encoding", "Authorization"}

// Response headers unsafe to replay once the transport may have transcoded
// the body.
var dropResponseHeaders = []string{"Content-Encoding", "Transfer-Encoding", "Connection"}

// Config describes where the forwarder sends traffic.
type Config struct {
	BaseURL string
	// Prefix is stripped from the inbound escaped path to obtain the suffix.
	Prefix string
}

// Forwarder is an http.Handler that relays any verb and path suffix.
type Forwarder struct {
	cfg     Config
	issuer  *delegation.Issuer
	client  *http.Client
	user    func(*http.Request) string
	metrics metrics.ProxyMetrics
}

type Option func(*Forwarder)

func WithHTTPClient(hc *http.Client) Option {
	return func(f *Forwarder) {
		if hc != nil {
			f.client = hc
		}
	}
}

func WithMetrics(m metrics.ProxyMetrics) Option {
	return func(f *Forwarder) {
		if m != nil {
			f.metrics = m
		}
	}
}

// WithUser sets how the caller identity is read from the inbound request.
func WithUser(fn func(*http.Request) string) Option {
	return func(f *Forwarder) {
		if fn != nil {
			f.user = fn
		}
	}
}

func New(cfg Config, issuer *delegation.Issuer, opts ...Option) *Forwarder {
	f := &Forwarder{
		cfg:    cfg,
		issuer: issuer,
		// No client timeout: proxied transfers may be long-lived. Inbound
		// cancellation still propagates through the request context.
		client: &http.Client{
			Transport: upstream.SharedTransport(),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		user:    func(*http.Request) string { return "" },
		metrics: metrics.Noop{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := f.forward(w, r)
	f.metrics.ObserveProxy(r.Method, strconv.Itoa(status), time.Since(start).Seconds())
}

func (f *Forwarder) forward(w http.ResponseWriter, r *http.Request) int {
	if f.cfg.BaseURL == "" {
		return writeError(w, http.StatusInternalServerError, upstream.ErrorBody{
			Error:   "API base URL not configured",
			Details: "Set INACTU_API_BASE_URL or NEXT_PUBLIC_INACTU_API_BASE_URL.",
		})
	}
	tok, err := f.issuer.Mint(f.user(r))
	switch {
	case errors.Is(err, delegation.ErrMissingSubject):
		return writeError(w, http.StatusUnauthorized, upstream.ErrorBody{Error: "Unauthorized"})
	case err != nil:
		return writeError(w, http.StatusInternalServerError, upstream.ErrorBody{Error: err.Error()})
	}

	target := f.Target(r)
	var body io.Reader = http.NoBody
	if HasBody(r.Method) && r.Body != nil {
		body = r.Body
	}
	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, target, body)
	if err != nil {
		return writeError(w, http.StatusBadRequest, upstream.ErrorBody{Error: "Invalid proxy path"})
	}
	if body != http.NoBody {
		// Unknown length: the transport chooses framing instead of trusting
		// the inbound Content-Length.
		outReq.ContentLength = -1
	}
	copyHeader(outReq.Header, r.Header, dropRequestHeaders)
	outReq.Header.Set("Authorization", "Bearer "+tok.Raw)

	// Allow reading the request body while the response is being written.
	_ = http.NewResponseController(w).EnableFullDuplex()

	resp, err := f.client.Do(outReq)
	if err != nil {
		if r.Context().Err() != nil {
			logging.Info("proxy", "client went away", "method", r.Method)
			return 499
		}
		logging.Warn("proxy", "upstream request failed", "method", r.Method, "error", err)
		return writeError(w, http.StatusBadGateway, upstream.ErrorBody{Error: "Upstream request failed"})
	}
	defer resp.Body.Close()

	copyHeader(w.Header(), resp.Header, dropResponseHeaders)
	w.WriteHeader(resp.StatusCode)
	if err := streamBody(w, resp.Body); err != nil && r.Context().Err() == nil {
		logging.Warn("proxy", "response stream interrupted", "method", r.Method, "error", err)
	}
	return resp.StatusCode
}

// Target builds the upstream URL for r: base URL, escaped path suffix, raw query.
func (f *Forwarder) Target(r *http.Request) string {
	suffix := strings.TrimPrefix(r.URL.EscapedPath(), f.cfg.Prefix)
	suffix = strings.TrimLeft(suffix, "/")
	target := f.cfg.BaseURL + "/" + suffix
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	return target
}

// HasBody reports whether method carries a request body through the proxy.
func HasBody(method string) bool {
	return method != http.MethodGet && method != http.MethodHead
}

func copyHeader(dst, src http.Header, drop []string) {
	for key, values := range src {
		if skipHeader(key, drop) {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func skipHeader(key string, drop []string) bool {
	for _, d := range drop {
		if strings.EqualFold(key, d) {
			return true
		}
	}
	return false
}

// streamBody copies src to w, flushing after every chunk.
func streamBody(w http.ResponseWriter, src io.Reader) error {
	rc := http.NewResponseController(w)
	buf := make([]byte, copyBufferSize)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

func writeError(w http.ResponseWriter, status int, body upstream.ErrorBody) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
	return status
}

// Package upstream performs the gateway's structured JSON calls against the
// control plane. Every outcome, including configuration and network faults,
// is returned as a *Response so callers handle failures as status codes.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/inactu/inactu-web/core/delegation"
	"github.com/inactu/inactu-web/core/infra/buildinfo"
	"github.com/inactu/inactu-web/core/infra/logging"
	"github.com/inactu/inactu-web/core/infra/metrics"
)

const (
	DefaultTimeout      = 10 * time.Second
	MaxTimeout          = 60 * time.Second
	DefaultMaxBodyBytes = 8 << 20
)

// ErrBaseURLMissing describes the configuration fault surfaced as a 500.
var ErrBaseURLMissing = errors.New("INACTU_API_BASE_URL or NEXT_PUBLIC_INACTU_API_BASE_URL is required")

// Config controls where and how long the client calls.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	MaxTimeout   time.Duration
	MaxBodyBytes int64
}

// Request is one structured call on behalf of UserID.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	UserID string
	Body   []byte
	Header http.Header
}

// Caller is implemented by *Client and by test fakes.
type Caller interface {
	Call(ctx context.Context, req Request) *Response
}

// Client is safe for concurrent use; it shares one pooled transport.
type Client struct {
	cfg     Config
	issuer  *delegation.Issuer
	http    *http.Client
	metrics metrics.UpstreamMetrics
	now     func() time.Time
}

type Option func(*Client)

// WithHTTPClient replaces the pooled client. Its Timeout is ignored in favor
// of the per-call deadline.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithMetrics(m metrics.UpstreamMetrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

func New(cfg Config, issuer *delegation.Issuer, opts ...Option) *Client {
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = MaxTimeout
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.Timeout = ClampTimeout(cfg.Timeout, cfg.MaxTimeout)
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	c := &Client{
		cfg:     cfg,
		issuer:  issuer,
		http:    &http.Client{Transport: SharedTransport()},
		metrics: metrics.Noop{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClampTimeout bounds d to [1ms, ceiling].
func ClampTimeout(d, ceiling time.Duration) time.Duration {
	if ceiling <= 0 {
		ceiling = MaxTimeout
	}
	if d < time.Millisecond {
		return time.Millisecond
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// BaseURL returns the configured control-plane base URL.
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// Timeout returns the effective per-call timeout.
func (c *Client) Timeout() time.Duration { return c.cfg.Timeout }

// Call performs req. It never returns nil and never panics on transport errors.
func (c *Client) Call(ctx context.Context, req Request) *Response {
	start := c.now()
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	resp := c.call(ctx, method, req)
	c.metrics.ObserveUpstream(method, resp.outcome(), c.now().Sub(start).Seconds())
	if resp.Fault != FaultNone {
		logging.Warn("upstream", "call failed", "method", method, "path", req.Path, "fault", string(resp.Fault), "status", resp.StatusCode)
	}
	return resp
}

func (c *Client) call(ctx context.Context, method string, req Request) *Response {
	if c.cfg.BaseURL == "" {
		return faultResponse(http.StatusInternalServerError, FaultConfig, ErrBaseURLMissing.Error())
	}
	tok, err := c.issuer.Mint(req.UserID)
	if err != nil {
		return faultResponse(http.StatusInternalServerError, FaultConfig, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	target := c.cfg.BaseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return faultResponse(http.StatusInternalServerError, FaultConfig, fmt.Sprintf("build upstream request: %v", err))
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	httpReq.Header.Set("Authorization", "Bearer "+tok.Raw)
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Cache-Control", "no-store")
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", buildinfo.UserAgent())
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return transportFault(ctx, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, c.cfg.MaxBodyBytes+1))
	if err != nil {
		return transportFault(ctx, err)
	}
	if int64(len(data)) > c.cfg.MaxBodyBytes {
		return faultResponse(http.StatusBadGateway, FaultUnexpected, "Control plane response too large")
	}
	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header.Clone(),
		Body:       data,
	}
}

func transportFault(ctx context.Context, err error) *Response {
	var netErr net.Error
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return faultResponse(http.StatusBadGateway, FaultTimeout, "Control plane request timed out")
	case errors.Is(ctx.Err(), context.Canceled):
		return faultResponse(http.StatusBadGateway, FaultCanceled, "Request cancelled")
	default:
		return faultResponse(http.StatusBadGateway, FaultUnreachable, "Control plane unreachable")
	}
}

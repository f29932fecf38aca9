package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// GatewayMetrics captures request metrics for the web gateway.
type GatewayMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// UpstreamMetrics captures control-plane calls made by the upstream client.
// outcome is one of ok, http_error, config, unreachable, unexpected.
type UpstreamMetrics interface {
	ObserveUpstream(method, outcome string, durationSeconds float64)
}

// ProxyMetrics captures pass-through forwarding.
type ProxyMetrics interface {
	ObserveProxy(method, status string, durationSeconds float64)
}

// DelegationMetrics counts delegation token mints by result.
type DelegationMetrics interface {
	IncTokens(result string)
}

// StreamMetrics tracks open log-tail streams.
type StreamMetrics interface {
	StreamOpened()
	StreamClosed()
}

// Noop implements every metrics interface without emitting anything.
type Noop struct{}

func (Noop) ObserveRequest(string, string, string, float64) {}
func (Noop) ObserveUpstream(string, string, float64)        {}
func (Noop) ObserveProxy(string, string, float64)           {}
func (Noop) IncTokens(string)                               {}
func (Noop) StreamOpened()                                  {}
func (Noop) StreamClosed()                                  {}

// Prom implements the upstream, proxy, delegation and stream metrics.
type Prom struct {
	upstreamCalls   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	proxyRequests   *prometheus.CounterVec
	proxyLatency    *prometheus.HistogramVec
	tokens          *prometheus.CounterVec
	streams         prometheus.Gauge
}

// NewProm registers collectors with the default registerer. Calling it twice
// with the same namespace reuses the already registered collectors.
func NewProm(namespace string) *Prom {
	return &Prom{
		upstreamCalls: register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Control-plane requests by method and outcome",
		}, []string{"method", "outcome"})),
		upstreamLatency: register(prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Control-plane request latency by method",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"})),
		proxyRequests: register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "Proxied requests by method and upstream status",
		}, []string{"method", "status"})),
		proxyLatency: register(prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "proxy_request_duration_seconds",
			Help:      "Proxied request latency by method",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"})),
		tokens: register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegation_tokens_total",
			Help:      "Delegation tokens minted by result",
		}, []string{"result"})),
		streams: register(prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "log_streams_open",
			Help:      "Open log tail streams",
		})),
	}
}

func (p *Prom) ObserveUpstream(method, outcome string, durationSeconds float64) {
	p.upstreamCalls.WithLabelValues(method, outcome).Inc()
	p.upstreamLatency.WithLabelValues(method).Observe(durationSeconds)
}

func (p *Prom) ObserveProxy(method, status string, durationSeconds float64) {
	p.proxyRequests.WithLabelValues(method, status).Inc()
	p.proxyLatency.WithLabelValues(method).Observe(durationSeconds)
}

func (p *Prom) IncTokens(result string) {
	p.tokens.WithLabelValues(result).Inc()
}

func (p *Prom) StreamOpened() { p.streams.Inc() }
func (p *Prom) StreamClosed() { p.streams.Dec() }

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// --- Gateway metrics ---

type gatewayProm struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewGatewayProm constructs a GatewayMetrics with counters/histograms.
func NewGatewayProm(namespace string) GatewayMetrics {
	return &gatewayProm{
		requests: register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"})),
		latency: register(prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"})),
	}
}

func (g *gatewayProm) ObserveRequest(method, route, status string, durationSeconds float64) {
	g.requests.WithLabelValues(method, route, status).Inc()
	g.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

func register[C prometheus.Collector](c C) C {
	if err := prometheus.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/inactu/inactu-web/core/contexts"
	"github.com/inactu/inactu-web/core/delegation"
	"github.com/inactu/inactu-web/core/infra/bus"
	"github.com/inactu/inactu-web/core/infra/config"
	"github.com/inactu/inactu-web/core/infra/logging"
	infraMetrics "github.com/inactu/inactu-web/core/infra/metrics"
	"github.com/inactu/inactu-web/core/infra/ratelimit"
	"github.com/inactu/inactu-web/core/infra/redisutil"
	"github.com/inactu/inactu-web/core/packages"
	"github.com/inactu/inactu-web/core/proxy"
	"github.com/inactu/inactu-web/core/upstream"
)

const metricsNamespace = "inactu_web"

// Run starts the gateway and blocks until ctx is done or the HTTP listener
// fails. Missing upstream configuration is logged and surfaced per call as a
// 500, unless cfg.RequireUpstream asks for a fail-fast boot.
func Run(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			logging.Error("gateway", "config overlay ignored", "error", err)
		}
		cfg = loaded
	}
	cfgErr := cfg.Validate()
	if cfgErr != nil {
		if cfg.RequireUpstream {
			return fmt.Errorf("upstream config: %w", cfgErr)
		}
		logging.Error("gateway", "upstream not configured; calls will fail", "error", cfgErr)
	}

	prom := infraMetrics.NewProm(metricsNamespace)
	issuer := delegation.NewIssuer(delegation.Options{Secret: cfg.APIAuthSecret, Metrics: prom})
	client := upstream.New(upstream.Config{BaseURL: cfg.APIBaseURL, Timeout: cfg.APITimeout}, issuer, upstream.WithMetrics(prom))
	forwarder := proxy.New(proxy.Config{BaseURL: cfg.APIBaseURL, Prefix: ProxyPrefix}, issuer,
		proxy.WithMetrics(prom),
		proxy.WithUser(UserID),
	)

	var redisClient redis.UniversalClient
	if rc, err := redisutil.Connect(ctx, cfg.RedisURL); err != nil {
		logging.Error("gateway", "redis unavailable; sessions disabled, rate limit in memory", "error", err)
	} else {
		redisClient = rc
		defer rc.Close()
	}

	opts := Options{
		Contexts:      contexts.NewService(client),
		Packages:      packages.NewService(client),
		Proxy:         forwarder,
		Auth:          authProvider(cfg, redisClient),
		Limiter:       limiter(cfg, redisClient),
		Metrics:       infraMetrics.NewGatewayProm(metricsNamespace),
		StreamMetrics: prom,
		OpenAPIPath:   cfg.OpenAPIPath,
		PollInterval:  cfg.StreamPollInterval,
		BaseContext:   ctx,
	}

	if cfg.NatsURL != "" {
		natsBus, err := bus.NewNatsBus(cfg.NatsURL)
		if err != nil {
			logging.Error("gateway", "nats unavailable; audit export disabled", "error", err)
		} else {
			defer natsBus.Close()
			opts.Audit = NewBusExporter(natsBus)
		}
	}

	grpcServer, hs := newHealthServer(cfgErr == nil)
	if err := serveGRPC(grpcServer, cfg.GRPCAddr); err != nil {
		return err
	}
	defer func() {
		hs.Shutdown()
		grpcServer.GracefulStop()
	}()

	return serveHTTP(ctx, newServer(opts).handler(), cfg.HTTPAddr, cfg.MetricsAddr)
}

func authProvider(cfg *config.Config, rc redis.UniversalClient) AuthProvider {
	var chain ChainProvider
	if rc != nil {
		chain = append(chain, NewSessionProvider(rc, cfg.SessionCookie))
	}
	if cfg.TrustUserHeader {
		chain = append(chain, HeaderProvider{})
	}
	return chain
}

func limiter(cfg *config.Config, rc redis.UniversalClient) ratelimit.Limiter {
	if cfg.RateLimitRPS <= 0 {
		return nil
	}
	mem := ratelimit.NewMemory(cfg.RateLimitRPS, cfg.RateLimitBurst, nil)
	if rc == nil {
		return mem
	}
	rl, err := ratelimit.NewRedis(rc, "", cfg.RateLimitRPS, time.Second)
	if err != nil {
		logging.Error("gateway", "redis rate limiter init failed", "error", err)
		return mem
	}
	return ratelimit.Fallback{
		Primary:   rl,
		Secondary: mem,
		OnError: func(err error) {
			logging.Warn("gateway", "redis rate limiter failed; using memory", "error", err)
		},
	}
}

func serveHTTP(ctx context.Context, handler http.Handler, httpAddr, metricsAddr string) error {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", infraMetrics.Handler())
	metricsSrv := &http.Server{
		Addr:         metricsAddr,
		Handler:      metricsMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logging.Info("gateway", "metrics listening", "addr", metricsAddr+"/metrics")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("gateway", "metrics server error", "error", err)
		}
	}()

	// No WriteTimeout: proxied transfers and log streams are long-lived.
	srv := &http.Server{
		Addr:              httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	logging.Info("gateway", "http listening", "addr", httpAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Error("gateway", "http server error", "error", err)
		return err
	}
	return nil
}

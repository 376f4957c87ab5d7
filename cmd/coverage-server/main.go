package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/signalsfoundry/coverage-simulator/core"
	"github.com/signalsfoundry/coverage-simulator/internal/httpapi"
	"github.com/signalsfoundry/coverage-simulator/internal/logging"
	"github.com/signalsfoundry/coverage-simulator/internal/observability"
)

// Config holds the server's command-line settings.
type Config struct {
	ListenAddress  string
	MetricsAddress string // empty keeps /metrics on the API listener only
	PatternDir     string
	LogLevel       string
	LogFormat      string
	MaxHalfExtent  int
	MaxParallel    int
	RunTimeout     time.Duration
	CacheTTL       time.Duration
	CacheSize      int
}

func main() {
	var cfg Config
	flag.StringVar(&cfg.ListenAddress, "addr", ":8080", "TCP address the HTTP API listens on")
	flag.StringVar(&cfg.MetricsAddress, "metrics-addr", "", "optional separate HTTP address for Prometheus /metrics")
	flag.StringVar(&cfg.PatternDir, "patterns", "configs", "directory scenario pattern paths are resolved in")
	flag.StringVar(&cfg.LogLevel, "log-level", envOr("LOG_LEVEL", "info"), "debug, info, warn or error")
	flag.StringVar(&cfg.LogFormat, "log-format", envOr("LOG_FORMAT", "text"), "text or json")
	flag.IntVar(&cfg.MaxHalfExtent, "max-half-extent", 1024, "largest propagation half extent a request may ask for")
	flag.IntVar(&cfg.MaxParallel, "max-parallel", 0, "concurrent mask computations per request (0 = GOMAXPROCS)")
	flag.DurationVar(&cfg.RunTimeout, "run-timeout", 30*time.Second, "upper bound on a single request's computation")
	flag.DurationVar(&cfg.CacheTTL, "cache-ttl", 10*time.Minute, "lifetime of cached coverage masks")
	flag.IntVar(&cfg.CacheSize, "cache-size", 4096, "maximum number of cached coverage masks")
	flag.Parse()

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Error(ctx, "failed to listen", logging.String("addr", cfg.ListenAddress), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "coverage server exited", logging.Err(err))
		os.Exit(1)
	}
}

// run serves the API on lis until ctx is cancelled, then drains in-flight
// requests.
func run(ctx context.Context, cfg Config, log logging.Logger, lis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	engine, err := observability.NewEngineCollector(reg)
	if err != nil {
		return err
	}
	httpMetrics, err := observability.NewHTTPCollector(reg)
	if err != nil {
		return err
	}

	cache := core.NewCoverageCache(cfg.CacheTTL, core.WithMaxEntries(cfg.CacheSize))
	log.Info(ctx, "coverage cache configured",
		logging.Duration("ttl", cache.TTL()),
		logging.Int("max_entries", cfg.CacheSize),
	)

	opts := []httpapi.Option{
		httpapi.WithLogger(log),
		httpapi.WithCollectors(engine, httpMetrics),
		httpapi.WithCoverageCache(cache),
		httpapi.WithMaxHalfExtent(cfg.MaxHalfExtent),
		httpapi.WithRunTimeout(cfg.RunTimeout),
		httpapi.WithMaxParallel(cfg.MaxParallel),
	}
	if cfg.PatternDir != "" {
		opts = append(opts, httpapi.WithPatternFS(os.DirFS(cfg.PatternDir)))
	}
	api := httpapi.NewServer(opts...)

	srv := &http.Server{
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsSrv := serveMetrics(cfg.MetricsAddress, httpMetrics, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting coverage HTTP server", logging.String("addr", lis.Addr().String()))
		errCh <- srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down coverage server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func serveMetrics(addr string, collector *observability.HTTPCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/signalsfoundry/coverage-simulator/core"
	"github.com/signalsfoundry/coverage-simulator/internal/logging"
	"github.com/signalsfoundry/coverage-simulator/internal/observability"
	"github.com/signalsfoundry/coverage-simulator/kb"
)

const (
	defaultMaxBodyBytes  = 4 << 20
	defaultMaxHalfExtent = 1024
	defaultRunTimeout    = 30 * time.Second

	// maxPropagators bounds the per-config propagator cache. Propagators
	// are small; their grids are shared per half extent and cell size.
	maxPropagators = 8
)

// ConnectivityRequest is the body of POST /v1/connectivity. The scenario
// is loaded into a private knowledge base for the duration of the request.
type ConnectivityRequest struct {
	Scenario  core.ScenarioDocument `json:"scenario"`
	ReceiverA string                `json:"receiver_a"`
	ReceiverB string                `json:"receiver_b"`
}

// CoverageRequest is the body of POST /v1/coverage.
type CoverageRequest struct {
	Scenario core.ScenarioDocument `json:"scenario"`
	Receiver string                `json:"receiver"`
}

// CoverageResponse lists the transmitters covering one receiver.
type CoverageResponse struct {
	Receiver     string           `json:"receiver"`
	Transmitters core.CoverageSet `json:"transmitters"`
}

// Server serves the connectivity API. Masks are cached across requests;
// each request otherwise runs against its own knowledge base.
type Server struct {
	log         logging.Logger
	engine      *observability.EngineCollector
	http        *observability.HTTPCollector
	cache       *core.CoverageCache
	patterns    fs.FS
	maxBody     int64
	maxHalf     int
	runTimeout  time.Duration
	maxParallel int

	mu          sync.Mutex
	propagators *simplelru.LRU[core.PropagationConfig, *core.Propagator]
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithCollectors wires Prometheus collectors. Either may be nil.
func WithCollectors(engine *observability.EngineCollector, httpMetrics *observability.HTTPCollector) Option {
	return func(s *Server) {
		s.engine = engine
		s.http = httpMetrics
	}
}

// WithPatternFS resolves scenario pattern paths inside fsys. Without it,
// scenarios that declare patterns are rejected.
func WithPatternFS(fsys fs.FS) Option {
	return func(s *Server) { s.patterns = fsys }
}

// WithCoverageCache replaces the default shared mask cache.
func WithCoverageCache(c *core.CoverageCache) Option {
	return func(s *Server) { s.cache = c }
}

// WithMaxHalfExtent caps the propagation grid clients may request.
func WithMaxHalfExtent(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxHalf = n
		}
	}
}

// WithRunTimeout bounds a single connectivity run.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.runTimeout = d
		}
	}
}

// WithMaxParallel bounds concurrent mask computations per request.
func WithMaxParallel(n int) Option {
	return func(s *Server) { s.maxParallel = n }
}

// NewServer builds a server with a shared coverage cache.
func NewServer(opts ...Option) *Server {
	s := &Server{
		log:        logging.Noop(),
		cache:      core.NewCoverageCache(0),
		maxBody:    defaultMaxBodyBytes,
		maxHalf:    defaultMaxHalfExtent,
		runTimeout: defaultRunTimeout,
	}
	// NewLRU only fails for a non-positive size.
	s.propagators, _ = simplelru.NewLRU[core.PropagationConfig, *core.Propagator](maxPropagators, nil)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.handle(mux, "POST /v1/connectivity", "/v1/connectivity", http.HandlerFunc(s.handleConnectivity))
	s.handle(mux, "POST /v1/coverage", "/v1/coverage", http.HandlerFunc(s.handleCoverage))
	s.handle(mux, "GET /healthz", "/healthz", http.HandlerFunc(handleHealth))
	mux.Handle("GET /metrics", s.http.Handler())
	return mux
}

func (s *Server) handle(mux *http.ServeMux, pattern, route string, h http.Handler) {
	h = TracingMiddleware(route, h)
	h = RequestIDMiddleware(s.log, route, h)
	h = s.http.Middleware(route, h)
	mux.Handle(pattern, h)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	var req ConnectivityRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ReceiverA == "" || req.ReceiverB == "" {
		writeError(w, r, fmt.Errorf("%w: receiver_a and receiver_b are required", ErrInvalidRequest))
		return
	}

	svc, err := s.load(&req.Scenario)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(r.Context(), s.runTimeout)
	defer cancel()
	res, err := svc.Run(ctx, req.ReceiverA, req.ReceiverB)
	s.engine.SetCacheHitRatio(s.cache.HitRatio())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCoverage(w http.ResponseWriter, r *http.Request) {
	var req CoverageRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Receiver == "" {
		writeError(w, r, fmt.Errorf("%w: receiver is required", ErrInvalidRequest))
		return
	}

	svc, err := s.load(&req.Scenario)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(r.Context(), s.runTimeout)
	defer cancel()
	set, err := svc.CoverageFor(ctx, req.Receiver)
	s.engine.SetCacheHitRatio(s.cache.HitRatio())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CoverageResponse{Receiver: req.Receiver, Transmitters: set})
}

func (s *Server) decode(r *http.Request, v any) error {
	body := io.LimitReader(r.Body, s.maxBody)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %v", ErrInvalidRequest, err)
	}
	return nil
}

// load builds a request-scoped knowledge base and connectivity service.
func (s *Server) load(doc *core.ScenarioDocument) (*core.ConnectivityService, error) {
	cfg := doc.Propagation.ApplyDefaults()
	if cfg.HalfExtent > s.maxHalf {
		return nil, fmt.Errorf("%w: half extent %d exceeds server limit %d", ErrInvalidRequest, cfg.HalfExtent, s.maxHalf)
	}

	store := kb.NewKnowledgeBase(kb.WithMetricsRecorder(s.http))
	patterns := core.NewPatternRegistry()
	sc, err := doc.Apply(store, patterns, s.patterns)
	if err != nil {
		return nil, err
	}
	prop, err := s.propagator(sc.Propagation)
	if err != nil {
		return nil, err
	}

	opts := []core.ServiceOption{
		core.WithCache(s.cache),
		core.WithMaxParallel(s.maxParallel),
		core.WithLogger(s.log),
	}
	if s.engine != nil {
		opts = append(opts, core.WithMetrics(s.engine))
	}
	return core.NewConnectivityService(store, patterns, prop, opts...), nil
}

// propagator returns a shared propagator for cfg so the precomputed grid is
// reused across requests.
func (s *Server) propagator(cfg core.PropagationConfig) (*core.Propagator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.propagators.Get(cfg); ok {
		return p, nil
	}
	p, err := core.NewPropagator(cfg)
	if err != nil {
		return nil, err
	}
	s.propagators.Add(cfg, p)
	return p, nil
}

// core/connectivity_service.go
package core

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/coverage-simulator/internal/logging"
	"github.com/signalsfoundry/coverage-simulator/kb"
	"github.com/signalsfoundry/coverage-simulator/model"
)

// ErrServiceNotConfigured is returned when a service is missing its KB or propagator.
var ErrServiceNotConfigured = errors.New("connectivity service not configured")

// EngineMetrics receives engine measurements. observability.EngineCollector
// implements it.
type EngineMetrics interface {
	ObserveCoverageComputation(d time.Duration, coveredCells int)
	RecordCacheLookup(hit bool)
	RecordConnectivityRun(path string, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveCoverageComputation(time.Duration, int) {}
func (noopMetrics) RecordCacheLookup(bool)                        {}
func (noopMetrics) RecordConnectivityRun(string, time.Duration)   {}

// ConnectivityResult is the outcome of one run for a receiver pair.
type ConnectivityResult struct {
	ReceiverA string      `json:"receiver_a"`
	ReceiverB string      `json:"receiver_b"`
	CoverageA CoverageSet `json:"coverage_a"`
	CoverageB CoverageSet `json:"coverage_b"`
	Path      PathResult  `json:"path"`
}

// ConnectivityService answers coverage and connectivity queries against a
// knowledge base. Every run takes a fresh snapshot of transmitters and
// obstacles, so concurrent runs never observe a half-applied edit.
type ConnectivityService struct {
	KB         *kb.KnowledgeBase
	Patterns   *PatternRegistry
	Propagator *Propagator

	// Cache holds masks across runs. Nil recomputes every mask.
	Cache *CoverageCache

	// MaxParallel bounds concurrent mask computations; zero uses GOMAXPROCS.
	MaxParallel int

	log     logging.Logger
	metrics EngineMetrics
	unwatch func()
}

// ServiceOption configures a ConnectivityService.
type ServiceOption func(*ConnectivityService)

// WithLogger sets the fallback logger used when the context carries none.
func WithLogger(l logging.Logger) ServiceOption {
	return func(cs *ConnectivityService) {
		if l != nil {
			cs.log = l
		}
	}
}

// WithMetrics reports engine measurements to m.
func WithMetrics(m EngineMetrics) ServiceOption {
	return func(cs *ConnectivityService) {
		if m != nil {
			cs.metrics = m
		}
	}
}

// WithCache shares c between runs. The service subscribes c to KB events
// and unsubscribes on Close.
func WithCache(c *CoverageCache) ServiceOption {
	return func(cs *ConnectivityService) {
		cs.Cache = c
	}
}

// WithMaxParallel bounds concurrent mask computations.
func WithMaxParallel(n int) ServiceOption {
	return func(cs *ConnectivityService) {
		cs.MaxParallel = n
	}
}

// NewConnectivityService wires a service to store. A nil registry gets a
// fresh one holding only the default pattern.
func NewConnectivityService(store *kb.KnowledgeBase, patterns *PatternRegistry, prop *Propagator, opts ...ServiceOption) *ConnectivityService {
	if patterns == nil {
		patterns = NewPatternRegistry()
	}
	cs := &ConnectivityService{
		KB:         store,
		Patterns:   patterns,
		Propagator: prop,
		log:        logging.Noop(),
		metrics:    noopMetrics{},
	}
	for _, opt := range opts {
		opt(cs)
	}
	if cs.Cache != nil {
		cs.unwatch = cs.Cache.Watch(store)
	}
	return cs
}

// Close detaches the cache from the KB.
func (cs *ConnectivityService) Close() {
	if cs == nil || cs.unwatch == nil {
		return
	}
	cs.unwatch()
	cs.unwatch = nil
}

func (cs *ConnectivityService) ready() error {
	if cs == nil || cs.KB == nil || cs.Propagator == nil {
		return ErrServiceNotConfigured
	}
	return nil
}

// CoverageMask returns the mask of a single transmitter.
func (cs *ConnectivityService) CoverageMask(ctx context.Context, txID string) (*CoverageMask, error) {
	if err := cs.ready(); err != nil {
		return nil, err
	}
	tx := cs.KB.GetTransmitter(txID)
	if tx == nil {
		return nil, fmt.Errorf("%w: %q", kb.ErrTransmitterNotFound, txID)
	}
	return cs.maskFor(ctx, tx)
}

func (cs *ConnectivityService) maskFor(ctx context.Context, tx *model.Transmitter) (*CoverageMask, error) {
	pattern, err := cs.Patterns.Get(tx.Pattern())
	if err != nil {
		return nil, fmt.Errorf("transmitter %q: %w", tx.ID, err)
	}
	fp := Fingerprint(tx, pattern, cs.Propagator.Config())
	if cs.Cache != nil {
		mask, ok := cs.Cache.Get(tx.ID, fp)
		cs.metrics.RecordCacheLookup(ok)
		if ok {
			return mask, nil
		}
	}

	_, span := startSpan(ctx, "core.ComputeCoverage",
		attribute.String("transmitter_id", tx.ID),
		attribute.String("pattern", pattern.Name()),
	)
	start := time.Now()
	mask := cs.Propagator.ComputeCoverage(tx, pattern)
	elapsed := time.Since(start)
	covered := mask.CoveredCells()
	span.SetAttributes(
		attribute.Int("mask.width", mask.Width()),
		attribute.Int("mask.height", mask.Height()),
		attribute.Int("mask.covered_cells", covered),
	)
	span.End()

	cs.metrics.ObserveCoverageComputation(elapsed, covered)
	logging.FromContext(ctx, cs.log).Debug(ctx, "coverage mask computed",
		logging.String("transmitter_id", tx.ID),
		logging.Int("width", mask.Width()),
		logging.Int("height", mask.Height()),
		logging.Int("covered_cells", covered),
		logging.Duration("elapsed", elapsed),
	)
	cs.Cache.Put(tx.ID, fp, mask)
	return mask, nil
}

// masks computes the masks of txs in parallel, index-aligned with txs.
func (cs *ConnectivityService) masks(ctx context.Context, txs []*model.Transmitter) ([]*CoverageMask, error) {
	limit := cs.MaxParallel
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	out := make([]*CoverageMask, len(txs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, tx := range txs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m, err := cs.maskFor(gctx, tx)
			if err != nil {
				return err
			}
			out[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

type snapshot struct {
	txs   []*model.Transmitter
	masks []*CoverageMask
	field *ObstacleField
}

func (cs *ConnectivityService) snapshot(ctx context.Context) (*snapshot, error) {
	txs := cs.KB.ListTransmitters()
	canvas := cs.KB.Canvas()
	field := BuildObstacleField(cs.KB.ListObstacles(), canvas.Width, canvas.Height)
	masks, err := cs.masks(ctx, txs)
	if err != nil {
		return nil, err
	}
	return &snapshot{txs: txs, masks: masks, field: field}, nil
}

// coverage lists, in transmitter order, every transmitter that covers rx.
func (s *snapshot) coverage(rx *model.Receiver) CoverageSet {
	var set CoverageSet
	for i, tx := range s.txs {
		if IsCovered(tx, s.masks[i], s.field, rx) {
			set.Add(tx.ID)
		}
	}
	return set
}

func (cs *ConnectivityService) receiver(id string) (*model.Receiver, error) {
	rx := cs.KB.GetReceiver(id)
	if rx == nil {
		return nil, fmt.Errorf("%w: %q", kb.ErrReceiverNotFound, id)
	}
	return rx, nil
}

// CoverageFor returns the transmitters covering one receiver.
func (cs *ConnectivityService) CoverageFor(ctx context.Context, rxID string) (CoverageSet, error) {
	if err := cs.ready(); err != nil {
		return CoverageSet{}, err
	}
	rx, err := cs.receiver(rxID)
	if err != nil {
		return CoverageSet{}, err
	}
	snap, err := cs.snapshot(ctx)
	if err != nil {
		return CoverageSet{}, err
	}
	return snap.coverage(rx), nil
}

// Run resolves the connection between receivers a and b.
func (cs *ConnectivityService) Run(ctx context.Context, a, b string) (*ConnectivityResult, error) {
	if err := cs.ready(); err != nil {
		return nil, err
	}
	ctx, span := startSpan(ctx, "core.ConnectivityRun",
		attribute.String("receiver_a", a),
		attribute.String("receiver_b", b),
	)
	defer span.End()
	log := logging.FromContext(ctx, cs.log)
	start := time.Now()

	rxA, err := cs.receiver(a)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	rxB, err := cs.receiver(b)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	snap, err := cs.snapshot(ctx)
	if err != nil {
		recordSpanError(span, err)
		log.Warn(ctx, "connectivity run failed", logging.Err(err))
		return nil, err
	}

	res := &ConnectivityResult{
		ReceiverA: a,
		ReceiverB: b,
		CoverageA: snap.coverage(rxA),
		CoverageB: snap.coverage(rxB),
	}
	res.Path = ResolvePath(res.CoverageA, res.CoverageB)
	elapsed := time.Since(start)

	span.SetAttributes(
		attribute.String("path.kind", res.Path.Kind.String()),
		attribute.Int("transmitters", len(snap.txs)),
		attribute.Int("obstacle_cells", snap.field.BlockedCells()),
	)
	cs.metrics.RecordConnectivityRun(res.Path.Kind.String(), elapsed)
	log.Info(ctx, "connectivity resolved",
		logging.String("receiver_a", a),
		logging.String("receiver_b", b),
		logging.String("path", res.Path.String()),
		logging.Int("coverage_a", res.CoverageA.Len()),
		logging.Int("coverage_b", res.CoverageB.Len()),
		logging.Duration("elapsed", elapsed),
	)
	return res, nil
}

package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineCollector exposes coverage and connectivity engine metrics. It
// satisfies core.EngineMetrics.
type EngineCollector struct {
	gatherer prometheus.Gatherer

	CoverageComputations prometheus.Counter
	CoverageDuration     prometheus.Histogram
	CoverageCells        prometheus.Histogram
	CacheLookups         *prometheus.CounterVec
	CacheHitRatio        prometheus.Gauge
	ConnectivityRuns     *prometheus.CounterVec
	ConnectivityDuration *prometheus.HistogramVec
}

// NewEngineCollector registers engine metrics against the provided registerer.
func NewEngineCollector(reg prometheus.Registerer) (*EngineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	computations, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coverage_computations_total",
		Help: "Number of coverage masks computed (cache misses included, hits excluded).",
	}), "coverage_computations_total")
	if err != nil {
		return nil, err
	}

	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "coverage_computation_duration_seconds",
		Help:    "Duration of a single coverage mask computation.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}), "coverage_computation_duration_seconds")
	if err != nil {
		return nil, err
	}

	cells, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "coverage_mask_covered_cells",
		Help:    "Number of covered cells per computed mask.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	}), "coverage_mask_covered_cells")
	if err != nil {
		return nil, err
	}

	lookups, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coverage_cache_lookups_total",
		Help: "Coverage cache lookups, labeled by result (hit or miss).",
	}, []string{"result"}), "coverage_cache_lookups_total")
	if err != nil {
		return nil, err
	}

	ratio, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coverage_cache_hit_ratio",
		Help: "Hit ratio for the coverage mask cache.",
	}), "coverage_cache_hit_ratio")
	if err != nil {
		return nil, err
	}

	runs, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "connectivity_runs_total",
		Help: "Connectivity runs, labeled by resolved path kind.",
	}, []string{"path"}), "connectivity_runs_total")
	if err != nil {
		return nil, err
	}

	runDuration, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "connectivity_run_duration_seconds",
		Help:    "End-to-end connectivity run latency, labeled by resolved path kind.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"path"}), "connectivity_run_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &EngineCollector{
		gatherer:             gatherer,
		CoverageComputations: computations,
		CoverageDuration:     duration,
		CoverageCells:        cells,
		CacheLookups:         lookups,
		CacheHitRatio:        ratio,
		ConnectivityRuns:     runs,
		ConnectivityDuration: runDuration,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *EngineCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveCoverageComputation records one mask computation.
func (c *EngineCollector) ObserveCoverageComputation(d time.Duration, coveredCells int) {
	if c == nil {
		return
	}
	if c.CoverageComputations != nil {
		c.CoverageComputations.Inc()
	}
	if c.CoverageDuration != nil {
		c.CoverageDuration.Observe(d.Seconds())
	}
	if c.CoverageCells != nil {
		c.CoverageCells.Observe(float64(coveredCells))
	}
}

// RecordCacheLookup counts a coverage cache hit or miss.
func (c *EngineCollector) RecordCacheLookup(hit bool) {
	if c == nil || c.CacheLookups == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.CacheLookups.WithLabelValues(result).Inc()
}

// RecordConnectivityRun counts a finished run under its path kind.
func (c *EngineCollector) RecordConnectivityRun(path string, d time.Duration) {
	if c == nil {
		return
	}
	if path == "" {
		path = "unknown"
	}
	if c.ConnectivityRuns != nil {
		c.ConnectivityRuns.WithLabelValues(path).Inc()
	}
	if c.ConnectivityDuration != nil {
		c.ConnectivityDuration.WithLabelValues(path).Observe(d.Seconds())
	}
}

// SetCacheHitRatio sets the coverage cache hit ratio.
func (c *EngineCollector) SetCacheHitRatio(ratio float64) {
	if c == nil || c.CacheHitRatio == nil {
		return
	}
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	c.CacheHitRatio.Set(ratio)
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPCollector bundles Prometheus metrics for the HTTP API and provides
// helpers to wire them into handlers.
type HTTPCollector struct {
	gatherer prometheus.Gatherer

	Requests  *prometheus.CounterVec
	Durations *prometheus.HistogramVec

	ScenarioTransmitters prometheus.Gauge
	ScenarioReceivers    prometheus.Gauge
	ScenarioObstacles    prometheus.Gauge
}

// NewHTTPCollector registers HTTP Prometheus metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewHTTPCollector(reg prometheus.Registerer) (*HTTPCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of handled HTTP requests, labeled by route, method, and status code.",
	}, []string{"route", "method", "code"})
	requests, err := registerCounterVec(reg, requests, "http_requests_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"route", "method"})
	durations, err = registerHistogramVec(reg, durations, "http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	transmitters, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scenario_transmitters",
		Help: "Number of transmitters in the most recently loaded scenario.",
	}), "scenario_transmitters")
	if err != nil {
		return nil, err
	}
	receivers, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scenario_receivers",
		Help: "Number of receivers in the most recently loaded scenario.",
	}), "scenario_receivers")
	if err != nil {
		return nil, err
	}
	obstacles, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scenario_obstacles",
		Help: "Number of obstacles in the most recently loaded scenario.",
	}), "scenario_obstacles")
	if err != nil {
		return nil, err
	}

	return &HTTPCollector{
		gatherer:             gatherer,
		Requests:             requests,
		Durations:            durations,
		ScenarioTransmitters: transmitters,
		ScenarioReceivers:    receivers,
		ScenarioObstacles:    obstacles,
	}, nil
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and durations for next under route.
// route should be the registered pattern, not the raw URL, to bound label
// cardinality.
func (c *HTTPCollector) Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		if c == nil {
			return
		}
		if c.Requests != nil {
			c.Requests.WithLabelValues(route, r.Method, strconv.Itoa(rec.code)).Inc()
		}
		if c.Durations != nil {
			c.Durations.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		}
	})
}

// Handler exposes a ready-to-use /metrics handler.
func (c *HTTPCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetScenarioCounts satisfies kb.ScenarioMetricsRecorder so a knowledge
// base can drive gauge values directly from its mutators.
func (c *HTTPCollector) SetScenarioCounts(transmitters, receivers, obstacles int) {
	if c == nil {
		return
	}
	if c.ScenarioTransmitters != nil {
		c.ScenarioTransmitters.Set(float64(transmitters))
	}
	if c.ScenarioReceivers != nil {
		c.ScenarioReceivers.Set(float64(receivers))
	}
	if c.ScenarioObstacles != nil {
		c.ScenarioObstacles.Set(float64(obstacles))
	}
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMiddlewareRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewHTTPCollector(reg)
	if err != nil {
		t.Fatalf("NewHTTPCollector: %v", err)
	}

	h := collector.Middleware("/v1/connectivity", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		w.WriteHeader(http.StatusCreated)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/connectivity", nil))

	if got := testutil.ToFloat64(collector.Requests.WithLabelValues("/v1/connectivity", "POST", "201")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "http_request_duration_seconds", map[string]string{
		"route":  "/v1/connectivity",
		"method": "POST",
	}); count != 1 {
		t.Fatalf("http_request_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestMiddlewareDefaultsToOK(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewHTTPCollector(reg)
	if err != nil {
		t.Fatalf("NewHTTPCollector: %v", err)
	}
	h := collector.Middleware("/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if got := testutil.ToFloat64(collector.Requests.WithLabelValues("/healthz", "GET", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHandlerExposesScenarioGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewHTTPCollector(reg)
	if err != nil {
		t.Fatalf("NewHTTPCollector: %v", err)
	}
	collector.SetScenarioCounts(3, 4, 5)
	collector.Requests.WithLabelValues("/r", "GET", "200").Inc()
	collector.Durations.WithLabelValues("/r", "GET").Observe(0.01)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"http_requests_total",
		"http_request_duration_seconds",
		"scenario_transmitters 3",
		"scenario_receivers 4",
		"scenario_obstacles 5",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func TestEngineCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("NewEngineCollector: %v", err)
	}

	collector.ObserveCoverageComputation(20*time.Millisecond, 181)
	collector.RecordCacheLookup(true)
	collector.RecordCacheLookup(false)
	collector.RecordCacheLookup(false)
	collector.RecordConnectivityRun("bridged", 30*time.Millisecond)
	collector.RecordConnectivityRun("", time.Millisecond)
	collector.SetCacheHitRatio(1.5)

	if got := testutil.ToFloat64(collector.CoverageComputations); got != 1 {
		t.Fatalf("coverage_computations_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.CacheLookups.WithLabelValues("miss")); got != 2 {
		t.Fatalf("coverage_cache_lookups_total{miss} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.ConnectivityRuns.WithLabelValues("bridged")); got != 1 {
		t.Fatalf("connectivity_runs_total{bridged} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.ConnectivityRuns.WithLabelValues("unknown")); got != 1 {
		t.Fatalf("empty path should be recorded as unknown, got %v", got)
	}
	if got := testutil.ToFloat64(collector.CacheHitRatio); got != 1 {
		t.Fatalf("coverage_cache_hit_ratio = %v, want clamp to 1", got)
	}
	if count := histogramSampleCount(t, reg, "coverage_mask_covered_cells", nil); count != 1 {
		t.Fatalf("coverage_mask_covered_cells sample_count = %d, want 1", count)
	}
	if count := histogramSampleCount(t, reg, "connectivity_run_duration_seconds", map[string]string{"path": "bridged"}); count != 1 {
		t.Fatalf("connectivity_run_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestCollectorsReuseRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("NewEngineCollector: %v", err)
	}
	second, err := NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("second NewEngineCollector: %v", err)
	}
	first.RecordConnectivityRun("direct", time.Millisecond)
	if got := testutil.ToFloat64(second.ConnectivityRuns.WithLabelValues("direct")); got != 1 {
		t.Fatalf("collectors should share registered metrics, got %v", got)
	}
	if _, err := NewHTTPCollector(reg); err != nil {
		t.Fatalf("NewHTTPCollector on shared registry: %v", err)
	}
}

func TestNilCollectorsAreSafe(t *testing.T) {
	var e *EngineCollector
	e.ObserveCoverageComputation(time.Second, 1)
	e.RecordCacheLookup(true)
	e.RecordConnectivityRun("direct", time.Second)
	e.SetCacheHitRatio(0.5)

	var h *HTTPCollector
	h.SetScenarioCounts(1, 2, 3)
	rr := httptest.NewRecorder()
	h.Middleware("/x", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("nil collector middleware should pass through, got %d", rr.Code)
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

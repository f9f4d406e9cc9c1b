package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHandler_Smoke(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg)
	Init(reg) // second call must not panic

	ExposeBuildInfo("test")
	ObserveHTTP("GET", "/api/ops/insight-status", 200, 0.001)
	IncInsightResult("hit")
	ObserveGeneration("ok", 1.2)
	IncValidationFailure("blocks_order")
	ObserveStoreOp("redis", "get", nil, 0.001)
	ObserveStoreOp("redis", "set", errors.New("boom"), 0.002)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`insight_build_info{version="test"} 1`,
		`http_requests_total{method="GET",route="/api/ops/insight-status",status="200"}`,
		`insight_cache_results_total{outcome="hit"}`,
		`insight_generation_seconds_bucket{result="ok"`,
		`insight_validation_failures_total{rule="blocks_order"}`,
		`cache_op_total{op="set",result="error"}`,
		`store_operation_duration_seconds_count{driver="redis",op="get"}`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics; got:\n%s", want, body)
		}
	}
}

func TestIncInsightResult_Increments(t *testing.T) {
	before := testutil.ToFloat64(insightResults.WithLabelValues("refresh"))
	IncInsightResult("refresh")
	IncInsightResult("refresh")
	if got := testutil.ToFloat64(insightResults.WithLabelValues("refresh")) - before; got != 2 {
		t.Fatalf("refresh delta=%v want 2", got)
	}
}

func TestIncValidationFailure_EmptyRuleIsUnknown(t *testing.T) {
	before := testutil.ToFloat64(validationFailures.WithLabelValues("unknown"))
	IncValidationFailure("")
	if got := testutil.ToFloat64(validationFailures.WithLabelValues("unknown")) - before; got != 1 {
		t.Fatalf("unknown delta=%v want 1", got)
	}
}

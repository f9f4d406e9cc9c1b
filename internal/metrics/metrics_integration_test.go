package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/exec-insight-cache/internal/core/observability"
)

func assertHasMetricLine(t *testing.T, body, metric string, wantLabels ...string) {
	t.Helper()
	for ln := range strings.SplitSeq(body, "\n") {
		if !strings.HasPrefix(ln, metric+"{") {
			continue
		}
		ok := true
		for _, s := range wantLabels {
			if !strings.Contains(ln, s) {
				ok = false
				break
			}
		}
		if ok && (len(ln) > 0 && ln[len(ln)-1] >= '0' && ln[len(ln)-1] <= '9') {
			return
		}
	}
	t.Fatalf("expected a %s line with labels %v; got:\n%s", metric, wantLabels, body)
}

func Test_ServiceCollectors_OnProviderRegistry(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "test"}})

	observability.IncInsightResult("miss")
	observability.ObserveGeneration("invalid", 0.4)
	observability.IncValidationFailure("p1_viewpoint")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()

	assertHasMetricLine(t, body, "insight_cache_results_total", `outcome="miss"`)
	assertHasMetricLine(t, body, "insight_generation_seconds_count", `result="invalid"`)
	assertHasMetricLine(t, body, "insight_validation_failures_total", `rule="p1_viewpoint"`)
	assertHasMetricLine(t, body, "insight_build_info", `version="test"`)
}

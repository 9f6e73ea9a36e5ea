package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/spatial-query/internal/core/observability"
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

func Test_QueryMetrics_CustomRegistry_Smoke(t *testing.T) {
	p := Init(Config{Enabled: true, Map: "demo", Build: BuildInfo{Version: "test"}})
	t.Cleanup(func() { observability.SetMap("") })

	observability.ObserveQuery("rect", "ok", 0.004)
	observability.ObserveQuery("point", "error", 0.001)
	observability.ObserveLayerResults("rect", 3)
	observability.ObserveRedisOp("set", nil, 0.002)
	observability.IncEvent("dropped")

	req := httptest.NewRequest(http.MethodGet, p.Path(), nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	mustContain := []string{
		`spatial_query_duration_seconds_bucket`,
		`spatial_query_layer_results_count{type="rect"} `,
		`redis_operation_duration_seconds_count{op="set",outcome="ok"} `,
		`spatial_query_events_total{outcome="dropped"} `,
	}
	for _, s := range mustContain {
		if !strings.Contains(body, s) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", s, body)
		}
	}

	assertHasMetricLine(t, body, "spatial_queries_total",
		`type="rect"`, `outcome="ok"`, `map="demo"`)
	assertHasMetricLine(t, body, "spatial_queries_total",
		`type="point"`, `outcome="error"`)
	assertHasMetricLine(t, body, "spatial_query_build_info",
		`version="test"`)
}

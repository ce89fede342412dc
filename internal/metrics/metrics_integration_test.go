package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/wms-tilesource/internal/core/observability"
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

func Test_AppMetrics_CustomRegistry_Smoke(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "test"}})
	observability.Init(p.Registerer(), true)

	start := time.Now()
	observability.ObserveHTTP("GET", "/tiles/{z}/{x}/{y}", 200, time.Since(start).Seconds())
	observability.ObserveUpstreamLatency("wms", 0.020)
	observability.IncTileFetch("image", observability.OutcomeOK)
	observability.IncTileFetch("heightfield", observability.OutcomeEmpty)
	observability.ObserveSourceInit("ready", "global-geodetic")
	observability.SetSourceState(3)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	mustContain := []string{
		`http_request_duration_seconds_bucket`,
		`upstream_latency_seconds_count{upstream="wms"} `,
		`wms_source_state 3`,
	}
	for _, s := range mustContain {
		if !strings.Contains(body, s) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", s, body)
		}
	}

	assertHasMetricLine(t, body, "http_requests_total",
		`route="/tiles/{z}/{x}/{y}"`, `status="200"`)
	assertHasMetricLine(t, body, "wms_tile_fetch_total",
		`kind="image"`, `outcome="ok"`)
	assertHasMetricLine(t, body, "wms_tile_fetch_total",
		`kind="heightfield"`, `outcome="empty"`)
	assertHasMetricLine(t, body, "wms_source_init_total",
		`state="ready"`, `profile="global-geodetic"`)
	assertHasMetricLine(t, body, "app_build_info",
		`version="test"`)
}

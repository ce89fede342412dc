package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHandler_Smoke(t *testing.T) {
	ExposeBuildInfo("test")
	ObserveHTTP("GET", "/tiles/{z}/{x}/{y}", 200, 0.001)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "app_build_info") || !strings.Contains(body, "http_requests_total") {
		t.Fatalf("metrics payload did not contain expected metric names; got:\n%s", body)
	}
}

func TestIncTileFetch(t *testing.T) {
	before := testutil.ToFloat64(tileFetchTotal.WithLabelValues("image", OutcomeEmpty))
	IncTileFetch("image", OutcomeEmpty)
	if got := testutil.ToFloat64(tileFetchTotal.WithLabelValues("image", OutcomeEmpty)); got != before+1 {
		t.Fatalf("wms_tile_fetch_total=%v want %v", got, before+1)
	}
}

func TestInit_CustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, true)
	Init(reg, true) // second call must not panic

	SetSourceState(3)
	ObserveSourceInit("ready", "global-geodetic")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	seen := map[string]bool{}
	for _, mf := range mfs {
		seen[mf.GetName()] = true
	}
	for _, name := range []string{"wms_source_state", "wms_source_init_total"} {
		if !seen[name] {
			t.Fatalf("%s not gathered from custom registry", name)
		}
	}

	empty := prometheus.NewRegistry()
	Init(empty, false)
	if mfs, _ := empty.Gather(); len(mfs) != 0 {
		t.Fatalf("disabled Init registered %d families", len(mfs))
	}
}

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
	if err := Init(reg); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := Init(reg); err != nil {
		t.Fatalf("second Init must be a no-op: %v", err)
	}
	ObserveHTTP("GET", "/api/v1/jobs", 200, 0.001)
	ObserveStoreOp("redis", "mget", nil, 0.0001)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "http_requests_total") || !strings.Contains(body, `tile_store_op_total{backend="redis",op="mget",result="ok"}`) {
		t.Fatalf("metrics payload did not contain expected metric names; got:\n%s", body)
	}
}

func TestStoreLookups(t *testing.T) {
	hit := storeLookups.WithLabelValues("test", "hit")
	miss := storeLookups.WithLabelValues("test", "miss")
	h0, m0 := testutil.ToFloat64(hit), testutil.ToFloat64(miss)

	AddStoreLookups("test", 3, 2)
	AddStoreLookups("test", 0, 0)

	if got := testutil.ToFloat64(hit) - h0; got != 3 {
		t.Fatalf("hits delta=%v want 3", got)
	}
	if got := testutil.ToFloat64(miss) - m0; got != 2 {
		t.Fatalf("misses delta=%v want 2", got)
	}
}

func TestObserveStoreOp_ErrorResult(t *testing.T) {
	c := storeOpTotal.WithLabelValues("test", "set", "error")
	before := testutil.ToFloat64(c)
	ObserveStoreOp("test", "set", errors.New("boom"), 0.01)
	if got := testutil.ToFloat64(c) - before; got != 1 {
		t.Fatalf("error counter delta=%v want 1", got)
	}
}

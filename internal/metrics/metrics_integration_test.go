package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/tile-seeder/internal/core/observability"
	"github.com/mohammed-shakir/tile-seeder/internal/gridset"
	"github.com/mohammed-shakir/tile-seeder/internal/jobs"
	"github.com/mohammed-shakir/tile-seeder/internal/tiling/model"
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

type oneLayer struct{ info *model.TileLayerInfo }

func (l oneLayer) Layer(_ context.Context, name string) (*model.TileLayerInfo, bool) {
	return l.info, name == l.info.Name
}

type noopBackend struct{}

func (noopBackend) Seed(context.Context, model.CacheIdentifier, model.TileRange3D) error     { return nil }
func (noopBackend) Reseed(context.Context, model.CacheIdentifier, model.TileRange3D) error   { return nil }
func (noopBackend) Truncate(context.Context, model.CacheIdentifier, model.TileRange3D) error { return nil }

func Test_AppMetrics_CustomRegistry_Smoke(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "test"}})
	if err := observability.Init(p.Registerer()); err != nil {
		t.Fatal(err)
	}

	observability.ObserveHTTP(http.MethodPost, "/api/v1/jobs", http.StatusCreated, 0.004)
	observability.ObserveUpstreamLatency("wms", nil, 0.120)
	observability.ObserveStoreOp("redis", "mget", errors.New("timeout"), 0.002)
	observability.AddStoreLookups("redis", 12, 4)

	subset, err := gridset.NewGridSubset(gridset.WorldEPSG4326(), gridset.WithZoomLevels(0, 1))
	if err != nil {
		t.Fatal(err)
	}
	layer := oneLayer{&model.TileLayerInfo{
		Name: "topp:states", Formats: []string{"image/png"},
		GridSubsets: []model.GridSubsetInfo{subset}, MetaWidth: 4, MetaHeight: 4,
	}}
	m := jobs.NewManager(layer, nil, noopBackend{}, jobs.Options{Register: p.Registerer()})
	reqs, err := m.NewRequestBuilder().Layer("topp:states").Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.LaunchJob(reqs[0]); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	mustContain := []string{
		`http_request_duration_seconds_bucket`,
		`upstream_latency_seconds_count{outcome="ok",upstream="wms"} 1`,
		`tile_store_op_total{backend="redis",op="mget",result="error"} 1`,
		`tile_store_lookups_total{backend="redis",outcome="hit"} 12`,
		`tileseed_jobs_launched_total{action="SEED"} 1`,
		`tileseed_jobs_active 0`,
	}
	for _, s := range mustContain {
		if !strings.Contains(body, s) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", s, body)
		}
	}

	assertHasMetricLine(t, body, "http_requests_total",
		`method="POST"`, `route="/api/v1/jobs"`, `status="201"`)
	assertHasMetricLine(t, body, "tileseed_jobs_finished_total", `status="COMPLETE"`)
	assertHasMetricLine(t, body, "tileseed_build_info", `version="test"`)
}

package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mohammed-shakir/tile-seeder/internal/gridset"
	"github.com/mohammed-shakir/tile-seeder/internal/params"
	"github.com/mohammed-shakir/tile-seeder/internal/tiling/model"
)

type staticLayers map[string]*model.TileLayerInfo

func (s staticLayers) Layer(_ context.Context, name string) (*model.TileLayerInfo, bool) {
	l, ok := s[name]
	return l, ok
}

func subset4326(t *testing.T) *gridset.GridSubset {
	t.Helper()
	s, err := gridset.NewGridSubset(gridset.WorldEPSG4326(), gridset.WithZoomLevels(0, 12))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func subset3857(t *testing.T) *gridset.GridSubset {
	t.Helper()
	s, err := gridset.NewGridSubset(gridset.WorldMercator("GoogleMapsCompatible"),
		gridset.WithZoomLevels(0, 20), gridset.WithMinCachedZoom(1), gridset.WithMaxCachedZoom(15))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newLayer(name string, formats []string, subsets ...model.GridSubsetInfo) *model.TileLayerInfo {
	return &model.TileLayerInfo{Name: name, Formats: formats, GridSubsets: subsets, MetaWidth: 4, MetaHeight: 4}
}

func newParams(t *testing.T, layer string, ids ...string) *params.MemoryRegistry {
	t.Helper()
	r := params.NewMemoryRegistry()
	if err := r.Add(context.Background(), layer, ids...); err != nil {
		t.Fatal(err)
	}
	return r
}

// fakeBackend records calls. Calls for a layer with a gate block until the gate is
// closed or the job context is canceled.
type fakeBackend struct {
	mu      sync.Mutex
	calls   []model.TileRange3D
	actions []model.Action
	gates   map[string]chan struct{}
	started chan string
	failAt  int
	err     error
	panics  bool
	// deaf gates ignore cancellation and only open through open
	deaf bool
}

func newFakeBackend(gated ...string) *fakeBackend {
	f := &fakeBackend{gates: map[string]chan struct{}{}, started: make(chan string, 64)}
	for _, l := range gated {
		f.gates[l] = make(chan struct{})
	}
	return f
}

func (f *fakeBackend) do(ctx context.Context, a model.Action, id model.CacheIdentifier, r model.TileRange3D) error {
	f.mu.Lock()
	f.calls = append(f.calls, r)
	f.actions = append(f.actions, a)
	n := len(f.calls)
	gate := f.gates[id.LayerName]
	f.mu.Unlock()

	select {
	case f.started <- id.LayerName:
	default:
	}
	if f.panics {
		panic("backend exploded")
	}
	if f.err != nil && n == f.failAt {
		return f.err
	}
	if gate != nil && f.deaf {
		<-gate
		return nil
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *fakeBackend) open(layer string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.gates[layer]; ok {
		close(g)
		delete(f.gates, layer)
	}
}

func (f *fakeBackend) Seed(ctx context.Context, id model.CacheIdentifier, r model.TileRange3D) error {
	return f.do(ctx, model.ActionSeed, id, r)
}

func (f *fakeBackend) Reseed(ctx context.Context, id model.CacheIdentifier, r model.TileRange3D) error {
	return f.do(ctx, model.ActionReseed, id, r)
}

func (f *fakeBackend) Truncate(ctx context.Context, id model.CacheIdentifier, r model.TileRange3D) error {
	return f.do(ctx, model.ActionTruncate, id, r)
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// waitStatus polls until the job reaches want or the deadline passes.
func waitStatus(t *testing.T, m *Manager, id string, want model.Status) model.CacheJobStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		st, ok := m.JobStatus(id)
		if ok && st.Status == want {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s: status=%v want %v", id, st.Status, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// awaitStart blocks until the backend sees a call for layer.
func awaitStart(t *testing.T, f *fakeBackend, layer string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case l := <-f.started:
			if l == layer {
				return
			}
		case <-timeout:
			t.Fatalf("backend never called for %s", layer)
		}
	}
}

// seedRequest builds the single z0..2 EPSG:4326 png request of layer.
func seedRequest(t *testing.T, layers staticLayers, layer string) model.CacheJobRequest {
	t.Helper()
	reqs, err := NewRequestBuilder(layers, nil).Layer(layer).MinZoomLevel(0).MaxZoomLevel(2).Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 1 {
		t.Fatalf("requests=%d want 1", len(reqs))
	}
	return reqs[0]
}

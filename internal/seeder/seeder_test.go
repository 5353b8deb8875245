package seeder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/mohammed-shakir/tile-seeder/internal/cache"
	"github.com/mohammed-shakir/tile-seeder/internal/cache/keys"
	"github.com/mohammed-shakir/tile-seeder/internal/tiling/model"
)

type countingRenderer struct {
	mu       sync.Mutex
	rendered []model.TileIndex3D
	failOn   *model.TileIndex3D
}

func (r *countingRenderer) Render(_ context.Context, _ model.CacheIdentifier, t model.TileIndex3D) ([]byte, error) {
	if r.failOn != nil && *r.failOn == t {
		return nil, errors.New("upstream 500")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rendered = append(r.rendered, t)
	return []byte(t.String()), nil
}

func (r *countingRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rendered)
}

func metaTile(t *testing.T) model.TileRange3D {
	t.Helper()
	r, err := model.RangeOf(4, 8, 7, 11)
	if err != nil {
		t.Fatal(err)
	}
	mt, err := model.NewTileRange3D(5, r)
	if err != nil {
		t.Fatal(err)
	}
	return mt
}

var (
	pngID     = model.CacheIdentifier{LayerName: "topp:states", GridsetID: "EPSG:4326", Format: "image/png"}
	geojsonID = model.CacheIdentifier{LayerName: "topp:states", GridsetID: "EPSG:4326", Format: "application/json;type=geojson"}
)

func TestReseed_RendersAndStoresEveryTile(t *testing.T) {
	store := cache.NewMemory()
	r := &countingRenderer{}
	s := New(store, r, Options{})
	mt := metaTile(t)

	if err := s.Reseed(context.Background(), pngID, mt); err != nil {
		t.Fatal(err)
	}
	if r.count() != 16 || store.Len() != 16 {
		t.Fatalf("rendered=%d stored=%d", r.count(), store.Len())
	}
	got, _ := store.MGet(context.Background(), []string{keys.TileKey(pngID, model.TileIndex3D{X: 5, Y: 9, Z: 5})})
	if len(got) != 1 {
		t.Fatal("tile 5/5/9 not stored under its key")
	}

	if err := s.Reseed(context.Background(), pngID, mt); err != nil {
		t.Fatal(err)
	}
	if r.count() != 32 {
		t.Fatalf("reseed must render again, rendered=%d", r.count())
	}
}

func TestSeed_SkipsCompleteMetaTile(t *testing.T) {
	store := cache.NewMemory()
	r := &countingRenderer{}
	s := New(store, r, Options{})
	mt := metaTile(t)
	ctx := context.Background()

	if err := s.Seed(ctx, pngID, mt); err != nil {
		t.Fatal(err)
	}
	if err := s.Seed(ctx, pngID, mt); err != nil {
		t.Fatal(err)
	}
	if r.count() != 16 {
		t.Fatalf("second seed must not render, rendered=%d", r.count())
	}
}

func TestSeed_RasterRerendersWholeMetaTileVectorOnlyMissing(t *testing.T) {
	ctx := context.Background()
	mt := metaTile(t)
	hole := model.TileIndex3D{X: 6, Y: 10, Z: 5}

	for _, c := range []struct {
		id   model.CacheIdentifier
		want int
	}{
		{pngID, 16},
		{geojsonID, 1},
	} {
		t.Run(c.id.Format, func(t *testing.T) {
			store := cache.NewMemory()
			s := New(store, &countingRenderer{}, Options{})
			if err := s.Reseed(ctx, c.id, mt); err != nil {
				t.Fatal(err)
			}
			if err := store.Del(ctx, keys.TileKey(c.id, hole)); err != nil {
				t.Fatal(err)
			}

			r := &countingRenderer{}
			s = New(store, r, Options{})
			if err := s.Seed(ctx, c.id, mt); err != nil {
				t.Fatal(err)
			}
			if r.count() != c.want {
				t.Fatalf("rendered=%d want %d", r.count(), c.want)
			}
			if store.Len() != 16 {
				t.Fatalf("stored=%d", store.Len())
			}
		})
	}
}

func TestTruncate_DeletesOnlyTheMetaTile(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemory()
	s := New(store, &countingRenderer{}, Options{})
	mt := metaTile(t)
	other, _ := model.RangeOf(0, 0, 3, 3)
	otherMT, _ := model.NewTileRange3D(5, other)

	_ = s.Reseed(ctx, pngID, mt)
	_ = s.Reseed(ctx, pngID, otherMT)
	if err := s.Truncate(ctx, pngID, mt); err != nil {
		t.Fatal(err)
	}
	if store.Len() != 16 {
		t.Fatalf("stored=%d want 16", store.Len())
	}
}

func TestRenderFailureStoresNothing(t *testing.T) {
	store := cache.NewMemory()
	fail := model.TileIndex3D{X: 7, Y: 11, Z: 5}
	s := New(store, &countingRenderer{failOn: &fail}, Options{Concurrency: 2})

	err := s.Reseed(context.Background(), pngID, metaTile(t))
	if err == nil || !strings.Contains(err.Error(), "upstream 500") {
		t.Fatalf("err=%v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("partial meta-tile stored: %d", store.Len())
	}
}

type failingStore struct{ cache.TileStore }

func (failingStore) MGet(context.Context, []string) (map[string][]byte, error) {
	return nil, fmt.Errorf("redis: connection refused")
}

func TestSeed_StoreErrorsPropagate(t *testing.T) {
	s := New(failingStore{}, &countingRenderer{}, Options{})
	if err := s.Seed(context.Background(), pngID, metaTile(t)); err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("err=%v", err)
	}
	if err := New(cache.NewMemory(), nil, Options{}).Reseed(context.Background(), pngID, metaTile(t)); err == nil {
		t.Fatal("reseed without renderer must fail")
	}
}

type gaugeRenderer struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (r *gaugeRenderer) Render(context.Context, model.CacheIdentifier, model.TileIndex3D) ([]byte, error) {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	return []byte("x"), nil
}

func TestSharedPoolBoundsRendersAcrossSeeders(t *testing.T) {
	pool, err := ants.NewPool(2)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Release()

	r := &gaugeRenderer{}
	other, _ := model.RangeOf(0, 0, 3, 3)
	otherMT, _ := model.NewTileRange3D(5, other)

	var wg sync.WaitGroup
	for _, mt := range []model.TileRange3D{metaTile(t), otherMT} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := New(cache.NewMemory(), r, Options{Pool: pool, Concurrency: 8})
			if err := s.Reseed(context.Background(), pngID, mt); err != nil {
				t.Errorf("reseed: %v", err)
			}
		}()
	}
	wg.Wait()
	if p := r.peak.Load(); p > 2 || p < 1 {
		t.Fatalf("peak concurrent renders=%d, pool size 2", p)
	}
}

type panickingRenderer struct{}

func (panickingRenderer) Render(context.Context, model.CacheIdentifier, model.TileIndex3D) ([]byte, error) {
	panic("decoder bug")
}

func TestRenderPanicStoresNothing(t *testing.T) {
	pool, err := ants.NewPool(2)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Release()

	store := cache.NewMemory()
	s := New(store, panickingRenderer{}, Options{Pool: pool})
	err = s.Reseed(context.Background(), pngID, metaTile(t))
	if err == nil || !strings.Contains(err.Error(), "panic: decoder bug") {
		t.Fatalf("panicking render must fail the meta-tile naming the panic, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("stored=%d", store.Len())
	}
}

func TestClosedPoolFailsReseed(t *testing.T) {
	pool, err := ants.NewPool(1)
	if err != nil {
		t.Fatal(err)
	}
	pool.Release()

	s := New(cache.NewMemory(), &countingRenderer{}, Options{Pool: pool})
	if err := s.Reseed(context.Background(), pngID, metaTile(t)); !errors.Is(err, ants.ErrPoolClosed) {
		t.Fatalf("err=%v", err)
	}
}

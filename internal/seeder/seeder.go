// Package seeder renders and stores the tiles of one meta-tile at a time.
package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/mohammed-shakir/tile-seeder/internal/cache"
	"github.com/mohammed-shakir/tile-seeder/internal/cache/keys"
	"github.com/mohammed-shakir/tile-seeder/internal/jobs"
	"github.com/mohammed-shakir/tile-seeder/internal/mime"
	"github.com/mohammed-shakir/tile-seeder/internal/tiling/model"
)

// Renderer produces the encoded bytes of a single tile.
type Renderer interface {
	Render(ctx context.Context, id model.CacheIdentifier, tile model.TileIndex3D) ([]byte, error)
}

type Options struct {
	Logger *slog.Logger
	// TTL of stored tiles; zero keeps them until truncated.
	TTL time.Duration
	// Pool runs tile renders. Sharing one pool across seeders bounds upstream
	// requests process-wide; nil gives the seeder a private pool of Concurrency workers.
	Pool *ants.Pool
	// Concurrency sizes the private pool.
	Concurrency int
}

// Seeder is the jobs.Backend writing to a cache.TileStore.
type Seeder struct {
	store    cache.TileStore
	renderer Renderer
	log      *slog.Logger
	ttl      time.Duration
	pool     *ants.Pool
	ownsPool bool
}

var _ jobs.Backend = (*Seeder)(nil)

func New(store cache.TileStore, renderer Renderer, opts Options) *Seeder {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	s := &Seeder{store: store, renderer: renderer, log: opts.Logger, ttl: opts.TTL, pool: opts.Pool}
	if s.pool == nil {
		// NewPool only fails on invalid options, none are set here.
		s.pool, _ = ants.NewPool(opts.Concurrency)
		s.ownsPool = true
	}
	return s
}

// Close releases the private render pool. A shared pool is left to its owner.
func (s *Seeder) Close() {
	if s.ownsPool {
		s.pool.Release()
	}
}

// Seed renders the tiles missing from the store. For raster formats a single missing
// tile re-renders the whole meta-tile, as the upstream renders meta-tiles as one image.
func (s *Seeder) Seed(ctx context.Context, id model.CacheIdentifier, tiles model.TileRange3D) error {
	all := slices.Collect(tiles.AsTiles())
	ks := keys.TileKeys(id, tiles)
	found, err := s.store.MGet(ctx, ks)
	if err != nil {
		return fmt.Errorf("lookup %d tiles: %w", len(ks), err)
	}
	var missing []model.TileIndex3D
	for i, t := range all {
		if _, ok := found[ks[i]]; !ok {
			missing = append(missing, t)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	t, err := mime.Lookup(id.Format)
	if err != nil {
		return err
	}
	if t.SupportsTiling() {
		missing = all
	}
	return s.renderAndStore(ctx, id, missing)
}

// Reseed renders and stores every tile regardless of what the store holds.
func (s *Seeder) Reseed(ctx context.Context, id model.CacheIdentifier, tiles model.TileRange3D) error {
	return s.renderAndStore(ctx, id, slices.Collect(tiles.AsTiles()))
}

// Truncate deletes every tile of the meta-tile.
func (s *Seeder) Truncate(ctx context.Context, id model.CacheIdentifier, tiles model.TileRange3D) error {
	ks := keys.TileKeys(id, tiles)
	if err := s.store.Del(ctx, ks...); err != nil {
		return fmt.Errorf("delete %d tiles: %w", len(ks), err)
	}
	return nil
}

func (s *Seeder) renderAndStore(ctx context.Context, id model.CacheIdentifier, tiles []model.TileIndex3D) error {
	if s.renderer == nil {
		return fmt.Errorf("no renderer configured for %s", id)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
	)
	kv := make(map[string][]byte, len(tiles))
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	for _, t := range tiles {
		wg.Add(1)
		err := s.pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					fail(fmt.Errorf("render %s: panic: %v", t, rec))
				}
			}()
			if ctx.Err() != nil {
				return
			}
			b, err := s.renderer.Render(ctx, id, t)
			if err != nil {
				fail(fmt.Errorf("render %s: %w", t, err))
				return
			}
			mu.Lock()
			kv[keys.TileKey(id, t)] = b
			mu.Unlock()
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("submit render %s: %w", t, err))
			break
		}
	}
	wg.Wait()
	if firstErr != nil {
		return firstErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.store.MSetWithTTL(ctx, kv, s.ttl); err != nil {
		return fmt.Errorf("store %d tiles: %w", len(kv), err)
	}
	s.log.DebugContext(ctx, "tiles stored", "cache_id", id.String(), "tiles", len(kv))
	return nil
}

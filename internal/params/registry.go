package params

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mohammed-shakir/tile-seeder/internal/cache/keys"
)

// MemoryRegistry keeps parameters ids in process memory.
type MemoryRegistry struct {
	mu  sync.RWMutex
	ids map[string]map[string]struct{}
}

var _ Registry = (*MemoryRegistry)(nil)

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{ids: make(map[string]map[string]struct{})}
}

func (r *MemoryRegistry) ParametersIDs(_ context.Context, layer string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.ids[layer]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Add ignores empty ids since the default partition is always implied.
func (r *MemoryRegistry) Add(_ context.Context, layer string, ids ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.ids[layer]
	if set == nil {
		set = make(map[string]struct{})
		r.ids[layer] = set
	}
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return nil
}

// SetStore is the subset of the Redis client the registry needs.
type SetStore interface {
	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
}

// RedisRegistry shares parameters ids between instances through a Redis set per layer.
type RedisRegistry struct {
	store SetStore
}

var _ Registry = (*RedisRegistry)(nil)

func NewRedisRegistry(store SetStore) *RedisRegistry {
	return &RedisRegistry{store: store}
}

func (r *RedisRegistry) ParametersIDs(ctx context.Context, layer string) ([]string, error) {
	members, err := r.store.SMembers(ctx, keys.ParametersSetKey(layer))
	if err != nil {
		return nil, fmt.Errorf("parameters ids of %q: %w", layer, err)
	}
	out := members[:0]
	for _, m := range members {
		if m != "" {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *RedisRegistry) Add(ctx context.Context, layer string, ids ...string) error {
	nonEmpty := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			nonEmpty = append(nonEmpty, id)
		}
	}
	if err := r.store.SAdd(ctx, keys.ParametersSetKey(layer), nonEmpty...); err != nil {
		return fmt.Errorf("register parameters ids of %q: %w", layer, err)
	}
	return nil
}

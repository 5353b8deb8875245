// Package cache defines the tile store seeding writes to.
package cache

import (
	"context"
	"sync"
	"time"
)

// TileStore holds encoded tiles by key. MGet omits missing keys from its result.
type TileStore interface {
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	MSetWithTTL(ctx context.Context, kv map[string][]byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type entry struct {
	val     []byte
	expires time.Time
}

// Memory is an in-process TileStore.
type Memory struct {
	mu  sync.RWMutex
	m   map[string]entry
	now func() time.Time
}

var _ TileStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{m: make(map[string]entry), now: time.Now}
}

func (s *Memory) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.now()
	out := make(map[string][]byte, len(keys))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range keys {
		e, ok := s.m[k]
		if !ok || (!e.expires.IsZero() && now.After(e.expires)) {
			continue
		}
		out[k] = e.val
	}
	return out, nil
}

func (s *Memory) MSetWithTTL(ctx context.Context, kv map[string][]byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var exp time.Time
	if ttl > 0 {
		exp = s.now().Add(ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range kv {
		s.m[k] = entry{val: v, expires: exp}
	}
	return nil
}

func (s *Memory) Del(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.m, k)
	}
	return nil
}

func (s *Memory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

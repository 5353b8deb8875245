package cluster

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// recentSet remembers the most recent ids offered to it.
type recentSet struct {
	mu  sync.Mutex
	lru *lru.Cache[string, struct{}]
}

func newRecentSet(size int) *recentSet {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, struct{}](size)
	return &recentSet{lru: c}
}

// firstSeen returns true the first time id is offered
func (d *recentSet) firstSeen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lru.Contains(id) {
		return false
	}
	d.lru.Add(id, struct{}{})
	return true
}

func (d *recentSet) add(ids ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		d.lru.Add(id, struct{}{})
	}
}

func (d *recentSet) contains(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lru.Contains(id)
}

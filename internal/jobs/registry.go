package jobs

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/tile-seeder/internal/tiling/model"
)

const numShards = 64

// Registry owns the status of every known job. It is the only place statuses change;
// callers get copies.
type Registry struct {
	seq    atomic.Uint64
	shards [numShards]shard
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*entry
}

type entry struct {
	status model.CacheJobStatus
	// launch order, for stable listings
	seq uint64
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].m = make(map[string]*entry)
	}
	return r
}

func (r *Registry) pick(id string) *shard {
	h := xxhash.Sum64String(id)
	idx := h & (uint64(len(r.shards)) - 1)
	return &r.shards[idx]
}

func (r *Registry) Add(st model.CacheJobStatus) error {
	id := st.JobID()
	if id == "" {
		return fmt.Errorf("%w: empty job id", ErrInvalidRequest)
	}
	s := r.pick(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, id)
	}
	s.m[id] = &entry{status: st, seq: r.seq.Add(1)}
	return nil
}

func (r *Registry) Get(id string) (model.CacheJobStatus, bool) {
	s := r.pick(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.m[id]
	if !ok {
		return model.CacheJobStatus{}, false
	}
	return e.status, true
}

// Transition moves a job towards status to, following the lifecycle rules, and returns
// the resulting status. Finished jobs never change. An aborting job can only end ABORTED
// or FAILED; a completion reported while aborting resolves to ABORTED.
func (r *Registry) Transition(id string, to model.Status, errText string, at time.Time) (model.CacheJobStatus, bool) {
	s := r.pick(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[id]
	if !ok {
		return model.CacheJobStatus{}, false
	}
	st := &e.status
	next, changed := nextStatus(st.Status, to)
	if !changed {
		return *st, true
	}
	st.Status = next
	switch {
	case next == model.StatusRunning:
		st.Started = at
	case next.IsFinished():
		st.Finished = at
		if next == model.StatusFailed {
			st.Error = errText
		}
	}
	return *st, true
}

func nextStatus(from, to model.Status) (model.Status, bool) {
	if from.IsFinished() || from == to {
		return from, false
	}
	switch to {
	case model.StatusRunning:
		if from != model.StatusScheduled {
			return from, false
		}
	case model.StatusAborting:
		// from is SCHEDULED or RUNNING here
	case model.StatusComplete:
		if from == model.StatusAborting {
			return model.StatusAborted, true
		}
	case model.StatusFailed, model.StatusAborted:
	default:
		return from, false
	}
	return to, true
}

// UpdateProgress applies fn to the job's progress unless the job is finished.
func (r *Registry) UpdateProgress(id string, fn func(*model.Progress)) bool {
	s := r.pick(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[id]
	if !ok || e.status.IsFinished() {
		return false
	}
	fn(&e.status.Progress)
	return true
}

// IsAborting reports whether cancellation was requested for the job.
func (r *Registry) IsAborting(id string) bool {
	s := r.pick(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.m[id]
	return ok && e.status.Status == model.StatusAborting
}

// All returns a snapshot of every status in launch order.
func (r *Registry) All() []model.CacheJobStatus {
	return r.collect(func(model.CacheJobStatus) bool { return true })
}

// Alive returns the statuses of jobs that are not finished.
func (r *Registry) Alive() []model.CacheJobStatus {
	return r.collect(func(st model.CacheJobStatus) bool { return !st.IsFinished() })
}

func (r *Registry) collect(keep func(model.CacheJobStatus) bool) []model.CacheJobStatus {
	var es []entry
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for _, e := range s.m {
			if keep(e.status) {
				es = append(es, *e)
			}
		}
		s.mu.RUnlock()
	}
	return sortedStatuses(es)
}

// PruneFinished removes every finished job and returns the removed statuses. All shards are
// locked for the duration so the removal is atomic with respect to other registry calls.
func (r *Registry) PruneFinished() []model.CacheJobStatus {
	for i := range r.shards {
		r.shards[i].mu.Lock()
	}
	defer func() {
		for i := range r.shards {
			r.shards[i].mu.Unlock()
		}
	}()

	var removed []entry
	for i := range r.shards {
		s := &r.shards[i]
		for id, e := range s.m {
			if e.status.IsFinished() {
				removed = append(removed, *e)
				delete(s.m, id)
			}
		}
	}
	return sortedStatuses(removed)
}

func (r *Registry) Len() int {
	total := 0
	for i := range r.shards {
		r.shards[i].mu.RLock()
		total += len(r.shards[i].m)
		r.shards[i].mu.RUnlock()
	}
	return total
}

func sortedStatuses(es []entry) []model.CacheJobStatus {
	slices.SortFunc(es, func(a, b entry) int { return cmp.Compare(a.seq, b.seq) })
	out := make([]model.CacheJobStatus, len(es))
	for i, e := range es {
		out[i] = e.status
	}
	return out
}

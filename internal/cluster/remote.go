package cluster

import (
	"cmp"
	"slices"
	"sync"

	"github.com/mohammed-shakir/tile-seeder/internal/tiling/model"
)

// RemoteJobs keeps the last status reported by each remote instance for each job.
type RemoteJobs struct {
	mu sync.RWMutex
	m  map[string]map[string]model.CacheJobStatus
}

func NewRemoteJobs() *RemoteJobs {
	return &RemoteJobs{m: map[string]map[string]model.CacheJobStatus{}}
}

func (r *RemoteJobs) Update(instance string, st model.CacheJobStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs, ok := r.m[instance]
	if !ok {
		jobs = map[string]model.CacheJobStatus{}
		r.m[instance] = jobs
	}
	jobs[st.JobID()] = st
}

func (r *RemoteJobs) Get(instance, jobID string) (model.CacheJobStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.m[instance][jobID]
	return st, ok
}

// Jobs returns the statuses reported by instance, ordered by job id.
func (r *RemoteJobs) Jobs(instance string) []model.CacheJobStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.CacheJobStatus, 0, len(r.m[instance]))
	for _, st := range r.m[instance] {
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b model.CacheJobStatus) int { return cmp.Compare(a.JobID(), b.JobID()) })
	return out
}

func (r *RemoteJobs) Instances() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.m))
	for id := range r.m {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (r *RemoteJobs) Forget(instance string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, instance)
}

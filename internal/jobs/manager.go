package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/tile-seeder/internal/logger"
	"github.com/mohammed-shakir/tile-seeder/internal/tiling/model"
)

// Backend performs the cache I/O of one meta-tile. Implementations must honor ctx
// cancellation; an error fails the whole job.
type Backend interface {
	Seed(ctx context.Context, id model.CacheIdentifier, tiles model.TileRange3D) error
	Reseed(ctx context.Context, id model.CacheIdentifier, tiles model.TileRange3D) error
	Truncate(ctx context.Context, id model.CacheIdentifier, tiles model.TileRange3D) error
}

type Options struct {
	Logger   *slog.Logger
	Register prometheus.Registerer
	// InstanceID is stamped on the statuses of jobs run here.
	InstanceID string
	// MaxConcurrentJobs bounds running jobs; extra jobs stay SCHEDULED. Zero means unbounded.
	MaxConcurrentJobs int
	NewID             func() string
	Now               func() time.Time
}

// Manager launches cache jobs, tracks them in its Registry and lets callers abort and
// prune them. Each job runs in its own goroutine; the registry is the only state shared
// between jobs.
type Manager struct {
	layers   LayerResolver
	params   ParametersIDResolver
	backend  Backend
	registry *Registry
	log      *slog.Logger
	ms       *metricSet
	instance string
	newID    func() string
	now      func() time.Time
	sem      chan struct{}

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

func NewManager(layers LayerResolver, params ParametersIDResolver, backend Backend, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Manager{
		layers:   layers,
		params:   params,
		backend:  backend,
		registry: NewRegistry(),
		log:      opts.Logger,
		ms:       newMetricSet(opts.Register),
		instance: opts.InstanceID,
		newID:    opts.NewID,
		now:      opts.Now,
		cancels:  make(map[string]context.CancelFunc),
	}
	if opts.MaxConcurrentJobs > 0 {
		m.sem = make(chan struct{}, opts.MaxConcurrentJobs)
	}
	return m
}

func (m *Manager) Registry() *Registry { return m.registry }

func (m *Manager) InstanceID() string { return m.instance }

// NewRequestBuilder returns a fresh builder bound to the manager's resolvers.
func (m *Manager) NewRequestBuilder() RequestBuilder {
	b := NewRequestBuilder(m.layers, m.params)
	b.now = m.now
	return b
}

// LaunchJob registers req under a new id as SCHEDULED and starts it asynchronously.
func (m *Manager) LaunchJob(req model.CacheJobRequest) (model.CacheJobInfo, error) {
	return m.LaunchJobInfo(model.CacheJobInfo{ID: m.newID(), Request: req})
}

// LaunchJobInfo starts a job under an id allocated elsewhere, as done when replicating
// jobs between instances.
func (m *Manager) LaunchJobInfo(info model.CacheJobInfo) (model.CacheJobInfo, error) {
	if info.ID == "" {
		return model.CacheJobInfo{}, fmt.Errorf("%w: empty job id", ErrInvalidRequest)
	}
	if info.Request.Tiles.IsEmpty() {
		return model.CacheJobInfo{}, fmt.Errorf("%w: job %s has no tiles", ErrInvalidRequest, info.ID)
	}
	if _, err := model.ParseAction(string(info.Request.Action)); err != nil {
		return model.CacheJobInfo{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.CacheJobInfo{}, ErrClosed
	}

	st := model.CacheJobStatus{
		JobInfo:    info,
		Status:     model.StatusScheduled,
		InstanceID: m.instance,
		Scheduled:  m.now(),
		Progress:   initialProgress(info.Request.Tiles),
	}
	if err := m.registry.Add(st); err != nil {
		return model.CacheJobInfo{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancels[info.ID] = cancel
	m.wg.Add(1)
	go m.run(ctx, info)

	m.ms.launched.WithLabelValues(string(info.Request.Action)).Inc()
	m.ms.active.Inc()
	m.log.Info("cache job launched",
		"job_id", info.ID,
		"action", string(info.Request.Action),
		"cache_id", info.Request.CacheID.String(),
		"tiles", st.Progress.TilesTotal,
		"meta_tiles", st.Progress.MetaTilesTotal,
	)
	return info, nil
}

func initialProgress(p model.TilePyramid) model.Progress {
	w, h := p.MetaTiling()
	prog := model.Progress{TilesTotal: p.Count().String()}
	if n, err := p.CountMetaTiles(w, h); err == nil {
		prog.MetaTilesTotal = n.String()
	}
	return prog
}

// Jobs returns the infos of every registered job in launch order.
func (m *Manager) Jobs() []model.CacheJobInfo {
	sts := m.registry.All()
	out := make([]model.CacheJobInfo, len(sts))
	for i, st := range sts {
		out[i] = st.JobInfo
	}
	return out
}

// JobStatuses returns a snapshot of every registered status in launch order.
func (m *Manager) JobStatuses() []model.CacheJobStatus {
	return m.registry.All()
}

func (m *Manager) JobStatus(id string) (model.CacheJobStatus, bool) {
	return m.registry.Get(id)
}

// AbortJob requests cancellation of a job. Aborting an aborting job returns ABORTING
// again; finished jobs are returned unchanged and unknown ids report false.
func (m *Manager) AbortJob(id string) (model.CacheJobStatus, bool) {
	st, ok := m.registry.Get(id)
	if !ok || st.IsFinished() {
		return st, ok
	}
	st, ok = m.registry.Transition(id, model.StatusAborting, "", m.now())
	if !ok {
		return st, false
	}
	m.mu.Lock()
	cancel := m.cancels[id]
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if st.Status == model.StatusAborting {
		m.log.Info("cache job abort requested", "job_id", id)
	}
	return st, true
}

// AbortAllJobs requests cancellation of every unfinished job and returns their statuses.
func (m *Manager) AbortAllJobs() []model.CacheJobStatus {
	alive := m.registry.Alive()
	out := make([]model.CacheJobStatus, 0, len(alive))
	for _, st := range alive {
		if cur, ok := m.AbortJob(st.JobID()); ok {
			out = append(out, cur)
		}
	}
	return out
}

// PruneJobs removes every finished job from the registry and returns them.
func (m *Manager) PruneJobs() []model.CacheJobStatus {
	pruned := m.registry.PruneFinished()
	m.ms.pruned.Add(float64(len(pruned)))
	if len(pruned) > 0 {
		m.log.Info("cache jobs pruned", "count", len(pruned))
	}
	return pruned
}

// Wait blocks until every job goroutine has returned or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects new jobs, aborts the running ones and waits for them until ctx is done.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.AbortAllJobs()
	if err := m.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for cache jobs: %w", err)
	}
	return nil
}

func (m *Manager) run(ctx context.Context, info model.CacheJobInfo) {
	defer m.wg.Done()
	id := info.ID
	ctx = logger.WithJobID(ctx, id)
	ctx = logger.WithComponent(ctx, "jobs")
	defer func() {
		m.mu.Lock()
		cancel := m.cancels[id]
		delete(m.cancels, id)
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}()

	if m.sem != nil {
		select {
		case m.sem <- struct{}{}:
			defer func() { <-m.sem }()
		case <-ctx.Done():
			m.finish(ctx, info, model.StatusAborted, nil)
			return
		}
	}

	st, ok := m.registry.Transition(id, model.StatusRunning, "", m.now())
	if !ok {
		return
	}
	if st.Status != model.StatusRunning {
		m.finish(ctx, info, model.StatusAborted, nil)
		return
	}
	m.log.InfoContext(ctx, "cache job started", "cache_id", info.Request.CacheID.String())

	status, err := m.execute(ctx, info)
	m.finish(ctx, info, status, err)
}

// execute walks the job's meta-tiles, checking for cancellation before each one.
func (m *Manager) execute(ctx context.Context, info model.CacheJobInfo) (status model.Status, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			status, err = model.StatusFailed, fmt.Errorf("backend panic: %v", rec)
		}
	}()

	req := info.Request
	op, err := m.operation(req.Action)
	if err != nil {
		return model.StatusFailed, err
	}
	w, h := req.Tiles.MetaTiling()
	metaTiles, err := req.Tiles.AsMetaTiles(w, h)
	if err != nil {
		return model.StatusFailed, err
	}

	for mt := range metaTiles {
		if ctx.Err() != nil || m.registry.IsAborting(info.ID) {
			return model.StatusAborted, nil
		}
		if err := op(ctx, req.CacheID, mt); err != nil {
			if ctx.Err() != nil && m.registry.IsAborting(info.ID) {
				return model.StatusAborted, nil
			}
			return model.StatusFailed, fmt.Errorf("%s %s: %w", req.Action, mt, err)
		}
		tiles := mt.Count().Int64()
		m.registry.UpdateProgress(info.ID, func(p *model.Progress) {
			p.MetaTilesDone++
			p.TilesDone += tiles
		})
		m.ms.metaTiles.WithLabelValues(string(req.Action)).Inc()
		m.log.DebugContext(ctx, "meta tile done", "range", mt.String())
	}
	return model.StatusComplete, nil
}

func (m *Manager) operation(a model.Action) (func(context.Context, model.CacheIdentifier, model.TileRange3D) error, error) {
	if m.backend == nil {
		return nil, errors.New("no seeding backend configured")
	}
	switch a {
	case model.ActionSeed:
		return m.backend.Seed, nil
	case model.ActionReseed:
		return m.backend.Reseed, nil
	case model.ActionTruncate:
		return m.backend.Truncate, nil
	default:
		return nil, fmt.Errorf("unknown action %q", a)
	}
}

func (m *Manager) finish(ctx context.Context, info model.CacheJobInfo, status model.Status, err error) {
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	st, ok := m.registry.Transition(info.ID, status, errText, m.now())
	if !ok {
		return
	}
	m.ms.active.Dec()
	m.ms.finished.WithLabelValues(string(st.Status)).Inc()
	if !st.Started.IsZero() {
		m.ms.duration.WithLabelValues(string(info.Request.Action), string(st.Status)).
			Observe(st.Finished.Sub(st.Started).Seconds())
	}

	attrs := []any{
		"status", string(st.Status),
		"meta_tiles_done", st.Progress.MetaTilesDone,
		"tiles_done", st.Progress.TilesDone,
	}
	if st.Status == model.StatusFailed {
		m.log.ErrorContext(ctx, "cache job failed", append(attrs, "error", errText)...)
		return
	}
	m.log.InfoContext(ctx, "cache job finished", attrs...)
}

package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/tile-seeder/internal/jobs"
	"github.com/mohammed-shakir/tile-seeder/internal/logger"
	"github.com/mohammed-shakir/tile-seeder/internal/tiling/model"
)

var ErrNotRunning = errors.New("cache job manager is not running, join the cluster first")

type Options struct {
	Logger   *slog.Logger
	Register prometheus.Registerer
	// LeaveTimeout bounds how long LeaveCluster waits for aborted jobs.
	LeaveTimeout time.Duration
	// DedupeSize is the number of recent event ids remembered to drop redeliveries.
	DedupeSize int
	NewEventID func() string
	Now        func() time.Time
}

// Manager mirrors job commands across instances. Mutations run on the local manager first
// and are then broadcast; events from other instances are applied to the local manager.
type Manager struct {
	local   *jobs.Manager
	bus     Bus
	remotes *RemoteJobs
	log     *slog.Logger
	ms      *metricSet
	seen    *recentSet
	// ids of jobs pruned here, so late reports of them do not relaunch them
	retired *recentSet
	newID   func() string
	now     func() time.Time
	timeout time.Duration
	running atomic.Bool
}

func New(local *jobs.Manager, bus Bus, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.LeaveTimeout <= 0 {
		opts.LeaveTimeout = 5 * time.Second
	}
	if opts.NewEventID == nil {
		opts.NewEventID = func() string { return uuid.NewString() }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Manager{
		local:   local,
		bus:     bus,
		remotes: NewRemoteJobs(),
		log:     opts.Logger.With("instance_id", local.InstanceID()),
		ms:      newMetricSet(opts.Register),
		seen:    newRecentSet(opts.DedupeSize),
		retired: newRecentSet(opts.DedupeSize),
		newID:   opts.NewEventID,
		now:     opts.Now,
		timeout: opts.LeaveTimeout,
	}
	bus.Subscribe(m.handle)
	return m
}

func (m *Manager) InstanceID() string { return m.local.InstanceID() }

// IsRunning reports whether JoinCluster succeeded and LeaveCluster was not called since.
func (m *Manager) IsRunning() bool { return m.running.Load() }

func (m *Manager) Local() *jobs.Manager { return m.local }

func (m *Manager) Remotes() *RemoteJobs { return m.remotes }

func (m *Manager) NewRequestBuilder() jobs.RequestBuilder { return m.local.NewRequestBuilder() }

func (m *Manager) Jobs() []model.CacheJobInfo { return m.local.Jobs() }

func (m *Manager) JobStatuses() []model.CacheJobStatus { return m.local.JobStatuses() }

func (m *Manager) JobStatus(id string) (model.CacheJobStatus, bool) { return m.local.JobStatus(id) }

// JoinCluster enables mutations and asks every other instance to describe its live jobs.
func (m *Manager) JoinCluster(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return nil
	}
	m.ms.running.Set(1)
	m.log.Info("joined cluster")
	return m.publish(ctx, m.event(EventDescribeJobs))
}

// LeaveCluster disables mutations, aborts every local job, waits up to the leave timeout
// for them to finish, prunes them and broadcasts their final statuses.
func (m *Manager) LeaveCluster(ctx context.Context) error {
	if !m.running.CompareAndSwap(true, false) {
		return nil
	}
	m.ms.running.Set(0)
	m.abortAndWait(ctx)
	pruned := m.prune()
	if len(pruned) > 0 {
		m.log.Debug("broadcasting terminated jobs", "count", len(pruned))
	}
	m.log.Info("left cluster")
	return m.describe(ctx, "", pruned)
}

func (m *Manager) abortAndWait(ctx context.Context) {
	aborting := m.local.AbortAllJobs()
	if len(aborting) == 0 {
		return
	}
	m.log.Debug("aborting all running jobs before leaving cluster", "count", len(aborting))

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	tick := time.NewTicker(max(m.timeout/10, time.Millisecond))
	defer tick.Stop()

	pending := make(map[string]struct{}, len(aborting))
	for _, st := range aborting {
		if !st.IsFinished() {
			pending[st.JobID()] = struct{}{}
		}
	}
	for len(pending) > 0 {
		for id := range pending {
			if st, ok := m.local.JobStatus(id); !ok || st.IsFinished() {
				delete(pending, id)
				m.log.Info("aborted job", "job_id", id, "status", string(st.Status))
			}
		}
		if len(pending) == 0 {
			return
		}
		select {
		case <-tick.C:
		case <-ctx.Done():
			for id := range pending {
				st, _ := m.local.JobStatus(id)
				m.log.Warn("job couldn't be aborted in time",
					"job_id", id, "timeout", m.timeout, "status", string(st.Status))
			}
			return
		}
	}
}

// LaunchJob launches req locally and broadcasts it so other instances run the same job id.
func (m *Manager) LaunchJob(ctx context.Context, req model.CacheJobRequest) (model.CacheJobInfo, error) {
	if !m.IsRunning() {
		return model.CacheJobInfo{}, ErrNotRunning
	}
	info, err := m.local.LaunchJob(req)
	if err != nil {
		return model.CacheJobInfo{}, err
	}
	e := m.event(EventLaunchJob)
	e.Job = &info
	if err := m.publish(ctx, e); err != nil {
		return info, err
	}
	return info, nil
}

// AbortJob aborts the job locally and broadcasts the abort whether or not it was known here.
func (m *Manager) AbortJob(ctx context.Context, id string) (model.CacheJobStatus, bool, error) {
	if !m.IsRunning() {
		return model.CacheJobStatus{}, false, ErrNotRunning
	}
	st, ok := m.local.AbortJob(id)
	e := m.event(EventAbortJob)
	e.JobID = id
	return st, ok, m.publish(ctx, e)
}

// PruneJobs prunes finished local jobs and asks every other instance to do the same.
func (m *Manager) PruneJobs(ctx context.Context) ([]model.CacheJobStatus, error) {
	if !m.IsRunning() {
		return nil, ErrNotRunning
	}
	pruned := m.prune()
	return pruned, m.publish(ctx, m.event(EventPruneJobs))
}

func (m *Manager) prune() []model.CacheJobStatus {
	pruned := m.local.PruneJobs()
	for _, st := range pruned {
		m.retired.add(st.JobID())
	}
	return pruned
}

func (m *Manager) handle(ctx context.Context, e Event) {
	if !m.seen.firstSeen(e.ID) {
		m.ms.events.WithLabelValues(string(e.Type), "duplicate").Inc()
		return
	}
	self := m.InstanceID()
	if !m.IsRunning() || !e.IsFor(self) {
		m.ms.events.WithLabelValues(string(e.Type), "ignored").Inc()
		return
	}
	m.ms.events.WithLabelValues(string(e.Type), "in").Inc()
	ctx = logger.WithInstanceID(ctx, self)

	var err error
	switch e.Type {
	case EventLaunchJob:
		err = m.onLaunch(ctx, e)
	case EventAbortJob:
		if st, ok := m.local.AbortJob(e.JobID); ok {
			err = m.describe(ctx, "", []model.CacheJobStatus{st})
		}
	case EventPruneJobs:
		if pruned := m.prune(); len(pruned) > 0 {
			err = m.describe(ctx, "", pruned)
		}
	case EventDescribeJobs:
		sts := m.local.Registry().Alive()
		if e.IncludeFinished {
			sts = m.local.Registry().All()
		}
		err = m.describe(ctx, e.Source, sts)
	case EventDescribeJobsResponse:
		m.log.Debug("received remote jobs", "count", len(e.Jobs), "remote", e.Source)
		for _, st := range e.Jobs {
			m.remotes.Update(e.Source, st)
			m.mergeLocal(st)
		}
	}
	if err != nil {
		m.log.Error("handling cluster event", "type", string(e.Type), "event_id", e.ID, "err", err)
	}
}

func (m *Manager) onLaunch(ctx context.Context, e Event) error {
	if m.retired.contains(e.Job.ID) {
		return nil
	}
	info, err := m.local.LaunchJobInfo(*e.Job)
	if errors.Is(err, jobs.ErrDuplicateJob) {
		m.log.Debug("job already known", "job_id", e.Job.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("launch remote job %s: %w", e.Job.ID, err)
	}
	st, ok := m.local.JobStatus(info.ID)
	if !ok {
		return nil
	}
	return m.describe(ctx, "", []model.CacheJobStatus{st})
}

// mergeLocal launches a local copy of a live remote job this instance does not know.
func (m *Manager) mergeLocal(remote model.CacheJobStatus) {
	id := remote.JobID()
	if remote.IsFinished() {
		m.log.Debug("remote job is finished, not launching local job", "job_id", id, "status", string(remote.Status))
		return
	}
	if m.retired.contains(id) {
		return
	}
	if existing, ok := m.local.JobStatus(id); ok {
		m.log.Debug("job already present on this instance", "job_id", id, "status", string(existing.Status))
		return
	}
	if !m.IsRunning() {
		return
	}
	m.log.Info("launching local job notified from another instance", "job_id", id)
	if _, err := m.local.LaunchJobInfo(remote.JobInfo); err != nil && !errors.Is(err, jobs.ErrDuplicateJob) {
		m.log.Error("launching remote job", "job_id", id, "err", err)
	}
}

func (m *Manager) describe(ctx context.Context, target string, sts []model.CacheJobStatus) error {
	e := m.event(EventDescribeJobsResponse)
	e.Target = target
	e.Jobs = sts
	return m.publish(ctx, e)
}

func (m *Manager) event(t EventType) Event {
	return Event{ID: m.newID(), Type: t, Source: m.InstanceID(), TS: m.now()}
}

func (m *Manager) publish(ctx context.Context, e Event) error {
	if err := m.bus.Publish(ctx, e); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	m.ms.events.WithLabelValues(string(e.Type), "out").Inc()
	return nil
}

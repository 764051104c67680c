// Package scheduler implements the scheduler core: an in-memory
// next-fire map, a FIFO admission queue, a running-set gate on a global
// concurrency cap, and the dispatch loop that hands admitted runs to the
// sync or STRM worker. Triggering and admission live in one loop rather
// than two separate services, since here they share the same
// concurrency-cap decision.
package scheduler

import (
	"context"
	"runtime"
	"sync"
	"time"

	"cloudgather/internal/cronspec"
	"cloudgather/internal/domain"
	"cloudgather/internal/store"
	logx "cloudgather/pkg/logx"
)

// SyncRunner executes one sync task run. Implemented by a thin adapter
// around internal/syncworker.Run plus cache load/save. A non-nil error
// return means the run failed fatally and the task should land in ERROR.
type SyncRunner func(ctx context.Context, task domain.SyncTask, kind domain.RunKind) (domain.Stats, error)

// StrmRunner executes one STRM task run.
type StrmRunner func(ctx context.Context, task domain.StrmTask, kind domain.RunKind) (domain.Stats, error)

// Config tunes the scheduler loop.
type Config struct {
	// ConcurrentRunCap bounds |running|; <=0 defaults to runtime.NumCPU().
	ConcurrentRunCap int
	// PollInterval bounds how long the loop ever sleeps even with no
	// nextFire earlier than it, so manual store edits made outside a
	// Trigger call (e.g. a restored NextRun) are still picked up promptly.
	PollInterval time.Duration
}

func (c Config) cap() int {
	if c.ConcurrentRunCap > 0 {
		return c.ConcurrentRunCap
	}
	return runtime.NumCPU()
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return 30 * time.Second
}

// admitted is one entry in the FIFO admission queue.
type admitted struct {
	entry domain.RunQueueEntry
}

// Scheduler is the Scheduler Core. One instance per process, shared by
// every task.
type Scheduler struct {
	cfg   Config
	store *store.Store
	log   logx.Logger

	runSync SyncRunner
	runStrm StrmRunner

	mu       sync.Mutex
	running  map[string]bool
	queued   map[string]bool // admission-queue membership: no task twice in the queue
	queue    []admitted
	wake     chan struct{}
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a Scheduler bound to st, dispatching admitted runs
// through runSync/runStrm.
func New(cfg Config, st *store.Store, log logx.Logger, runSync SyncRunner, runStrm StrmRunner) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		cfg:     cfg,
		store:   st,
		log:     log,
		runSync: runSync,
		runStrm: runStrm,
		running: map[string]bool{},
		queued:  map[string]bool{},
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Trigger admits taskId immediately with kind, bypassing nextFire.
// Manual triggers, FULL_OVERWRITE and RECONSTRUCT all enter through this
// same admission path; none of them ever change nextFire.
func (s *Scheduler) Trigger(taskID string, kind domain.RunKind) {
	s.mu.Lock()
	s.admitLocked(taskID, kind)
	s.mu.Unlock()
	s.signal()
}

// admitLocked enqueues taskID/kind if it is not already running or
// queued. Caller must hold s.mu.
func (s *Scheduler) admitLocked(taskID string, kind domain.RunKind) {
	if s.running[taskID] || s.queued[taskID] {
		return
	}
	s.queued[taskID] = true
	s.queue = append(s.queue, admitted{entry: domain.RunQueueEntry{TaskID: taskID, Kind: kind, EnqueueInstant: time.Now()}})
	s.setStatusLocked(taskID, domain.StatusQueued)
}

// setStatusLocked updates the task's live status, trying sync then strm.
// Caller must hold s.mu; the store mutation itself is independently
// locked, so this just dispatches to whichever table owns taskID.
func (s *Scheduler) setStatusLocked(taskID string, status domain.Status) {
	if ok := s.store.MutateSync(taskID, func(t *domain.SyncTask) { t.Status = status }); ok {
		return
	}
	s.store.MutateStrm(taskID, func(t *domain.StrmTask) { t.Status = status })
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start runs the scheduler loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Stop requests the loop to exit and blocks until it has. In-flight
// workers are expected to finish their current file's atomic rename
// before the process actually exits; this call only stops admitting new
// work from the loop's perspective.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		s.admitFireable()
		s.dispatchReady(ctx)

		next := s.earliestNextFire()
		wait := s.cfg.pollInterval()
		if !next.IsZero() {
			if d := time.Until(next); d < wait {
				if d < 0 {
					d = 0
				}
				wait = d
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// admitFireable walks every enabled task whose nextFire has passed and
// admits it with kind SYNC/STRM, per step 2.
func (s *Scheduler) admitFireable() {
	now := time.Now()

	for _, t := range s.store.ListSync() {
		if !t.Enabled {
			continue
		}
		if t.NextRun.IsZero() || !t.NextRun.After(now) {
			s.mu.Lock()
			s.admitLocked(t.ID, domain.RunSync)
			s.mu.Unlock()
		}
	}
	for _, t := range s.store.ListStrm() {
		if !t.Enabled {
			continue
		}
		if t.NextRun.IsZero() || !t.NextRun.After(now) {
			s.mu.Lock()
			s.admitLocked(t.ID, domain.RunStrm)
			s.mu.Unlock()
		}
	}
}

// dispatchReady pops admitted runs while |running| < cap, per step 3.
func (s *Scheduler) dispatchReady(ctx context.Context) {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 || len(s.running) >= s.cfg.cap() {
			s.mu.Unlock()
			return
		}
		head := s.queue[0]
		s.queue = s.queue[1:]
		delete(s.queued, head.entry.TaskID)
		s.running[head.entry.TaskID] = true
		s.mu.Unlock()

		go s.dispatchOne(ctx, head.entry)
	}
}

func (s *Scheduler) dispatchOne(ctx context.Context, entry domain.RunQueueEntry) {
	defer func() {
		s.mu.Lock()
		delete(s.running, entry.TaskID)
		s.mu.Unlock()
		s.signal()
	}()

	if syncTask, ok := s.store.GetSync(entry.TaskID); ok {
		s.runOneSync(ctx, syncTask, entry.Kind)
		return
	}
	if strmTask, ok := s.store.GetStrm(entry.TaskID); ok {
		s.runOneStrm(ctx, strmTask, entry.Kind)
		return
	}
	s.log.Warn("admitted task vanished before dispatch", logx.String("taskId", entry.TaskID))
}

func (s *Scheduler) runOneSync(ctx context.Context, task domain.SyncTask, kind domain.RunKind) {
	s.store.MutateSync(task.ID, func(t *domain.SyncTask) { t.Status = domain.StatusRunning })
	stats, runErr := s.runSync(ctx, task, kind)
	now := time.Now()
	status := domain.StatusIdle
	if runErr != nil {
		status = domain.StatusError
	}
	s.store.MutateSync(task.ID, func(t *domain.SyncTask) {
		t.Status = status
		t.Stats = stats
		t.LastRun = now
		if kind == domain.RunSync {
			if next, err := cronspec.NextFire(t.Cron, now); err == nil {
				t.NextRun = next
			}
		}
	})
	if err := s.store.PersistStructural(); err != nil {
		s.log.Warn("persist structural after sync run failed", logx.String("taskId", task.ID), logx.Err(err))
	}
}

func (s *Scheduler) runOneStrm(ctx context.Context, task domain.StrmTask, kind domain.RunKind) {
	s.store.MutateStrm(task.ID, func(t *domain.StrmTask) { t.Status = domain.StatusRunning })
	stats, runErr := s.runStrm(ctx, task, kind)
	now := time.Now()
	status := domain.StatusIdle
	if runErr != nil {
		status = domain.StatusError
	}
	s.store.MutateStrm(task.ID, func(t *domain.StrmTask) {
		t.Status = status
		t.Stats = stats
		t.LastRun = now
		if kind == domain.RunStrm {
			if next, err := cronspec.NextFire(t.Cron, now); err == nil {
				t.NextRun = next
			}
		}
	})
	if err := s.store.PersistStructural(); err != nil {
		s.log.Warn("persist structural after strm run failed", logx.String("taskId", task.ID), logx.Err(err))
	}
}

// earliestNextFire scans every enabled task's NextRun for the soonest
// upcoming fire instant, used only to size the loop's sleep.
func (s *Scheduler) earliestNextFire() time.Time {
	var earliest time.Time
	consider := func(t time.Time, enabled bool) {
		if !enabled || t.IsZero() {
			return
		}
		if earliest.IsZero() || t.Before(earliest) {
			earliest = t
		}
	}
	for _, t := range s.store.ListSync() {
		consider(t.NextRun, t.Enabled)
	}
	for _, t := range s.store.ListStrm() {
		consider(t.NextRun, t.Enabled)
	}
	return earliest
}

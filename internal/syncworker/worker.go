// Package syncworker implements the directory sync worker: a
// stateless per-invocation engine that walks a source tree, classifies and
// copies files into a target tree, and retires source files under a task's
// delete policy. Filter order, the stability check, the retry protocol, and
// the stats shape follow the same pattern as the rest of the worker layer;
// the bounded per-file parallel pool is built on github.com/sourcegraph/conc.
package syncworker

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"

	"cloudgather/internal/deleteplan"
	"cloudgather/internal/domain"
	"cloudgather/internal/fsx"
	logx "cloudgather/pkg/logx"
)

// ProgressFunc is invoked at least once per 500ms during a run, 
// progress-publishing cadence, and once more at completion.
type ProgressFunc func(domain.Progress)

// Deps bundles the worker's external collaborators.
type Deps struct {
	FS             fsx.FS
	Log            logx.Logger
	StabilityDelay time.Duration // STABILITY_DELAY env var; 0 disables the check.
	OnProgress     ProgressFunc
}

// fileEntry is one source-tree discovery.
type fileEntry struct {
	relPath string
	absPath string
	size    int64
	mtime   time.Time
}

// Result is the outcome of one Run invocation.
type Result struct {
	Stats domain.Stats
	Cache *domain.SyncCache
	Err   error
}

// Run executes one pass of the sync engine for task under runKind
// (RunSync/RunFullOverwrite/RunReconstruct all flow through here; 
// "Full-overwrite mode" and "Reconstruct mode" paragraphs are implemented
// as the two bool branches below).
func Run(ctx context.Context, task *domain.SyncTask, runKind domain.RunKind, cache *domain.SyncCache, deps Deps) Result {
	log := deps.Log.ForTask(task.ID)

	if _, err := deps.FS.Stat(task.Source); err != nil {
		return Result{Err: fmt.Errorf("%w: %s", domain.ErrSourceMissing, task.Source)}
	}

	removed, _ := fsx.CleanupOrphanTemps(deps.FS, task.Target)
	if removed > 0 {
		log.Info("cleaned up orphan temp files", logx.Int("count", removed))
	}

	files, err := discover(deps.FS, task)
	if err != nil {
		return Result{Err: fmt.Errorf("%w: %v", domain.ErrSourceMissing, err)}
	}

	if runKind == domain.RunReconstruct {
		return reconstruct(deps.FS, task, files, cache, log)
	}

	if runKind == domain.RunFullOverwrite {
 // : "the decision rule is bypassed... cache is rebuilt from
		// scratch. No source deletion is attempted regardless of the
		// delete policy."
		cache.Entries = map[string]*domain.SyncCacheEntry{}
	}

	stats := &statCounters{}
	var mu sync.Mutex
	total := len(files)
	var done int32
	lastPublish := time.Now()

	publish := func(force bool) {
		if deps.OnProgress == nil {
			return
		}
		if !force && time.Since(lastPublish) < 500*time.Millisecond {
			return
		}
		lastPublish = time.Now()
		d := int(atomic.LoadInt32(&done))
		pct := 0.0
		if total > 0 {
			pct = float64(d) / float64(total) * 100
		}
		deps.OnProgress(domain.Progress{
			Done: d, Total: total,
			Success: int(atomic.LoadInt32(&stats.success)),
			Skipped: int(atomic.LoadInt32(&stats.skipped)),
			Failed:  int(atomic.LoadInt32(&stats.failed)),
			Percent: pct, UpdatedAt: time.Now(),
		})
	}

	threadCap := task.ThreadCap
	if task.IsSlowStorage && threadCap > 2 {
		threadCap = 2
	}
	if threadCap <= 0 {
		threadCap = 1
	}

	p := pool.New().WithMaxGoroutines(threadCap)
	for _, fe := range files {
		fe := fe
		p.Go(func() {
			defer func() {
				atomic.AddInt32(&done, 1)
				publish(false)
			}()
			outcome := processFile(ctx, task, runKind, fe, cache, &mu, deps, log)
			switch outcome {
			case outcomeSuccess:
				atomic.AddInt32(&stats.success, 1)
			case outcomeSkipped:
				atomic.AddInt32(&stats.skipped, 1)
			case outcomeFilteredOut:
				atomic.AddInt32(&stats.filtered, 1)
			case outcomeFailed:
				atomic.AddInt32(&stats.failed, 1)
			}
		})
	}
	p.Wait()
	publish(true)

	finalStats := domain.Stats{
		Total:           total,
		Success:         int(stats.success),
		Skipped:         int(stats.skipped),
		SkippedFiltered: int(stats.filtered),
		Failed:          int(stats.failed),
	}

	if runKind == domain.RunSync {
		runDeletionPass(deps.FS, task, cache, log)
	}

	if ctx.Err() != nil {
		return Result{Stats: finalStats, Cache: cache, Err: domain.ErrCancelled}
	}
	return Result{Stats: finalStats, Cache: cache}
}

type statCounters struct {
	success, skipped, filtered, failed int32
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeSkipped
	outcomeFilteredOut
	outcomeFailed
)

// discover walks task.Source sequentially in filesystem-given order,
// applying the ignore list — the cheapest possible check — before
// returning candidates for filtering. File processing order downstream is
// whatever this slice's order is; the ordering guarantee ("files
// copied in the sequential order of the source walk") refers to this walk
// order, not completion order.
func discover(fs fsx.FS, task *domain.SyncTask) ([]fileEntry, error) {
	var out []fileEntry
	err := afero.Walk(fs, task.Source, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if shouldIgnore(info.Name()) {
			return nil
		}
		rel, err := filepath.Rel(task.Source, path)
		if err != nil {
			return nil
		}
		out = append(out, fileEntry{relPath: rel, absPath: path, size: info.Size(), mtime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].relPath < out[j].relPath })
	return out, nil
}

// processFile applies filter chain and copy protocol to one file,
// updating cache under mu.
func processFile(ctx context.Context, task *domain.SyncTask, runKind domain.RunKind, fe fileEntry, cache *domain.SyncCache, mu *sync.Mutex, deps Deps, log logx.Logger) outcome {
	if !passesSuffix(task.Suffix, filepath.Base(fe.relPath)) {
		return outcomeFilteredOut
	}
	if !passesSize(task.Size, fe.size) {
		return outcomeFilteredOut
	}

	targetPath := filepath.Join(task.Target, fe.relPath)
	targetInfo, statErr := deps.FS.Stat(targetPath)
	targetExists := statErr == nil
	var targetSize int64
	var targetMtime time.Time
	if targetExists {
		targetSize = targetInfo.Size()
		targetMtime = targetInfo.ModTime()
	}

	fullOverwrite := runKind == domain.RunFullOverwrite
	if !fullOverwrite && !shouldSync(task, targetExists, fe.size, targetSize, fe.mtime, targetMtime) {
		mu.Lock()
		cache.Entries[fe.relPath] = &domain.SyncCacheEntry{
			Size: targetSize, Mtime: targetMtime, Status: domain.CacheSynced,
			LastSyncInstant: cacheOrNow(cache, fe.relPath),
		}
		mu.Unlock()
		return outcomeSkipped
	}

	if deps.StabilityDelay > 0 {
		stable, err := checkStability(ctx, deps.FS, fe.absPath, deps.StabilityDelay)
		if err != nil || !stable {
			log.Warn("skipped active file", logx.String("path", fe.relPath))
			return outcomeSkipped
		}
	}

	if err := copyWithRetry(ctx, deps.FS, fe, targetPath, task, log); err != nil {
		mu.Lock()
		cache.Entries[fe.relPath] = &domain.SyncCacheEntry{Status: domain.CacheFailed}
		mu.Unlock()
		log.Warn("file copy failed", logx.String("path", fe.relPath), logx.Err(err))
		return outcomeFailed
	}

	now := time.Now()
	mu.Lock()
	cache.Entries[fe.relPath] = &domain.SyncCacheEntry{
		Size: fe.size, Mtime: fe.mtime, LastSyncInstant: now,
		FileCreate: fsx.BirthTime(fe.absPath), Status: domain.CacheSynced,
	}
	mu.Unlock()
	return outcomeSuccess
}

func cacheOrNow(cache *domain.SyncCache, rel string) time.Time {
	if e, ok := cache.Entries[rel]; ok && !e.LastSyncInstant.IsZero() {
		return e.LastSyncInstant
	}
	return time.Now()
}

// copyWithRetry implements copy protocol and retry policy: write to
// a sibling ".cgpart" temp, preserve mtime, atomic rename; retry up to
// syncRetryCount times with exponential backoff (1s base, 5s under
// isSlowStorage, cap 30s).
func copyWithRetry(ctx context.Context, fs fsx.FS, fe fileEntry, targetPath string, task *domain.SyncTask, log logx.Logger) error {
	retryCount := 3
	base := time.Second
	if task.IsSlowStorage {
		base = 5 * time.Second
	}
	opts := domain.BackoffOptions{Base: base, MaxDelay: 30 * time.Second, Jitter: 0.2}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 1; attempt <= retryCount+1; attempt++ {
		runCtx := ctx
		var cancel context.CancelFunc
		if task.IsSlowStorage {
			runCtx, cancel = context.WithTimeout(ctx, 10*time.Minute)
		}
		err := copyOnce(fs, fe, targetPath)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt > retryCount {
			break
		}
		delay := domain.Delay(opts, attempt, rng)
		log.Debug("retrying file copy", logx.String("path", fe.relPath), logx.Int("attempt", attempt), logx.Duration("delay", delay))
		timer := time.NewTimer(delay)
		select {
		case <-runCtx.Done():
			timer.Stop()
			return domain.ErrCancelled
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrCopyFailed, lastErr)
}

func copyOnce(fs fsx.FS, fe fileEntry, targetPath string) error {
	src, err := fs.Open(fe.absPath)
	if err != nil {
		return err
	}
	defer src.Close()
	return fsx.AtomicWriteFrom(fs, targetPath, src, fe.mtime)
}

// runDeletionPass implements "Source deletion pass": for every
// SYNCED cache entry, consult the deletion planner, then ascend empty
// parents up to the policy's configured levels.
func runDeletionPass(fs fsx.FS, task *domain.SyncTask, cache *domain.SyncCache, log logx.Logger) {
	if !task.Delete.Enabled {
		return
	}
	now := time.Now()
	for rel, entry := range cache.Entries {
		decision := deleteplan.Evaluate(task.Delete, entry, now)
		if !decision.Delete {
			continue
		}
		absPath := filepath.Join(task.Source, rel)
		if err := fs.Remove(absPath); err != nil {
			log.Warn("source deletion failed", logx.String("path", rel), logx.Err(err))
			continue
		}
		entry.Status = domain.CacheDeleted
		log.Info("deleted source file", logx.String("path", rel))

		if decision.AscendLevels > 0 {
			_ = deleteplan.AscendEmptyParents(
				task.Source, absPath, decision.AscendLevels, task.Delete.ForceDeleteNonempty,
				func(dir string) bool { return isWithinRoot(task.Source, dir) },
				func(dir string) (bool, error) { return fsx.IsEmptyDir(fs, dir) },
				func(dir string) error { return fs.Remove(dir) },
				filepath.Dir,
			)
		}
	}
}

func isWithinRoot(root, dir string) bool {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return false
	}
	return rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.'
}

// reconstruct implements RECONSTRUCT mode: no copying, only cache
// population for files whose target counterpart already matches by size.
func reconstruct(fs fsx.FS, task *domain.SyncTask, files []fileEntry, cache *domain.SyncCache, log logx.Logger) Result {
	matched := 0
	for _, fe := range files {
		targetPath := filepath.Join(task.Target, fe.relPath)
		info, err := fs.Stat(targetPath)
		if err != nil || info.Size() != fe.size {
			continue
		}
		cache.Entries[fe.relPath] = &domain.SyncCacheEntry{
			Size: fe.size, Mtime: fe.mtime, LastSyncInstant: time.Now(), Status: domain.CacheSynced,
		}
		matched++
	}
	log.Info("reconstructed cache from target", logx.Int("matched", matched), logx.Int("scanned", len(files)))
	return Result{Stats: domain.Stats{Total: len(files), Success: matched}, Cache: cache}
}

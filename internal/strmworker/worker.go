// Package strmworker implements the STRM worker: a stateless
// per-invocation engine that crawls a remote OpenList tree and materializes
// .strm pointer files plus selected companion files locally, maintaining
// an STRM-tree cache with the anti-mass-delete safeguard from
// internal/strmworker/protection.go. Concurrency uses the same conc-pool +
// rate-limited pacing idiom as the sync worker.
package strmworker

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"cloudgather/internal/domain"
	"cloudgather/internal/fsx"
	"cloudgather/internal/openlist"
	logx "cloudgather/pkg/logx"
)

// ProgressFunc mirrors syncworker.ProgressFunc for STRM runs.
type ProgressFunc func(domain.Progress)

// Deps bundles the STRM worker's external collaborators.
type Deps struct {
	FS         fsx.FS
	Client     *openlist.Client
	Extensions domain.ExtensionClasses
	Log        logx.Logger
	OnProgress ProgressFunc
}

// Result is the outcome of one Run invocation.
type Result struct {
	Stats domain.Stats
	Cache *domain.StrmCache
	Err   error
}

// Run executes one pass of the STRM engine for task.
func Run(ctx context.Context, task *domain.StrmTask, runKind domain.RunKind, cache *domain.StrmCache, deps Deps) Result {
	log := deps.Log.ForTask(task.ID)

	if runKind == domain.RunReconstruct {
		return reconstructFromTarget(deps.FS, task, cache, log)
	}

	if err := deps.Client.TestConnection(ctx); err != nil {
		return Result{Err: fmt.Errorf("%w: %v", domain.ErrAuth, err)}
	}

	if runKind == domain.RunFullOverwrite {
		cache.Leaves = map[string]*domain.StrmLeaf{}
	}

	var videos []openlist.Entry
	var extras []openlist.Entry
	observed := map[string]bool{}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if task.WaitTimeSeconds > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Duration(task.WaitTimeSeconds)*time.Second), 1)
	}
	firstDir := true

	err := deps.Client.ListAll(ctx, task.Source, 100, func(e openlist.Entry) error {
		if e.IsDir {
			if !firstDir {
				if err := limiter.Wait(ctx); err != nil {
					return err
				}
			}
			firstDir = false
			return nil
		}
		ext := e.Ext()
		switch {
		case contains(deps.Extensions.Video, ext):
			videos = append(videos, e)
			observed[relPath(task.Source, e.Path)] = true
		case task.ExtraSubtitle && contains(deps.Extensions.Subtitle, ext):
			extras = append(extras, e)
		case task.ExtraImage && contains(deps.Extensions.Image, ext):
			extras = append(extras, e)
		case task.ExtraNfo && contains(deps.Extensions.Nfo, ext):
			extras = append(extras, e)
		}
		return nil
	})
	if err != nil {
		return Result{Err: fmt.Errorf("%w: %v", domain.ErrRemote, err)}
	}

	videos = collapseBDMV(videos)

	stats := &strmCounters{}
	total := len(videos) + len(extras)
	var done int32
	var mu sync.Mutex
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

	maxWorkers := task.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	// Videos materialize first and populate cache.Leaves so the extras
	// pass below can attach subtitle/image/nfo siblings to the right leaf
	// for the protection scan to sweep together.
	stemIndex := map[string]string{}
	pv := pool.New().WithMaxGoroutines(maxWorkers)
	for _, v := range videos {
		v := v
		pv.Go(func() {
			defer func() { atomic.AddInt32(&done, 1); publish(false) }()
			rel := relPath(task.Source, v.Path)
			localPath := strmPath(task, rel)
			ok := generateStrm(ctx, task, deps, v, localPath)
			mu.Lock()
			if ok {
				cache.Leaves[rel] = &domain.StrmLeaf{RemotePath: v.Path, LocalStrmPath: localPath, LastSeenScan: cache.ScanCount + 1}
				stemIndex[stemOf(rel)] = rel
				atomic.AddInt32(&stats.success, 1)
			} else {
				atomic.AddInt32(&stats.failed, 1)
			}
			mu.Unlock()
		})
	}
	pv.Wait()

	pe := pool.New().WithMaxGoroutines(maxWorkers)
	for _, e := range extras {
		e := e
		pe.Go(func() {
			defer func() { atomic.AddInt32(&done, 1); publish(false) }()
			rel := relPath(task.Source, e.Path)
			localPath := strmLocalMirror(task, rel)
			if fsx.Exists(deps.FS, localPath) {
				atomic.AddInt32(&stats.skipped, 1)
				return
			}
			if err := downloadExtra(ctx, deps, e, localPath); err != nil {
				log.Warn("extra file download failed", logx.String("path", rel), logx.Err(err))
				atomic.AddInt32(&stats.failed, 1)
				return
			}
			mu.Lock()
			if videoRel, ok := stemIndex[stemOf(rel)]; ok {
				if leaf := cache.Leaves[videoRel]; leaf != nil {
					leaf.ExtraFiles = append(leaf.ExtraFiles, localPath)
				}
			}
			mu.Unlock()
			atomic.AddInt32(&stats.success, 1)
		})
	}
	pe.Wait()
	publish(true)

	protResult := evaluateProtection(task, cache, observed)
	tripped := false
	if protResult.Tripped {
		tripped = true
		log.Warn("protection tripped", logx.Int("missing", len(observed)), logx.Int("threshold", task.ProtectionThreshold))
	} else {
		for _, rel := range protResult.ToDelete {
			leaf := cache.Leaves[rel]
			if leaf == nil {
				continue
			}
			_ = deps.FS.Remove(leaf.LocalStrmPath)
			for _, extra := range leaf.ExtraFiles {
				_ = deps.FS.Remove(extra)
			}
			delete(cache.Leaves, rel)
		}
	}

	if task.SyncLocalDelete {
		syncLocalDeletionsToRemote(ctx, task, deps, cache, log)
	}

	return Result{Stats: domain.Stats{
		Total: total, Success: int(stats.success), Skipped: int(stats.skipped),
		Failed: int(stats.failed), ProtectionTrip: tripped,
	}, Cache: cache}
}

type strmCounters struct {
	success, skipped, failed int32
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func relPath(root, full string) string {
	rel := strings.TrimPrefix(full, strings.TrimRight(root, "/"))
	return strings.TrimPrefix(rel, "/")
}

// strmPath builds the local .strm path for a remote video entry. Flatten
// vs. directory-preserving is controlled by whether the task's target
// already uses a nested mirror; this implementation preserves directory
// structure, matching the "directory-preserving" branch named in
// the schedule design grounding notes and the common case in the prototype.
func strmPath(task *domain.StrmTask, rel string) string {
	dir := filepath.Dir(rel)
	base := filepath.Base(rel)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext) + ".strm"
	if dir == "." {
		return filepath.Join(task.Target, name)
	}
	return filepath.Join(task.Target, dir, name)
}

func strmLocalMirror(task *domain.StrmTask, rel string) string {
	return filepath.Join(task.Target, rel)
}

// stemOf returns rel with its extension stripped, used to associate a
// subtitle/image/nfo file with its sibling video of the same base name.
func stemOf(rel string) string {
	ext := filepath.Ext(rel)
	return strings.TrimSuffix(rel, ext)
}

// generateStrm writes a.strm file per per-mode content rules,
// skipping if a file with the same content already exists.
func generateStrm(ctx context.Context, task *domain.StrmTask, deps Deps, e openlist.Entry, localPath string) bool {
	content := deps.Client.DownloadURL(e, task.Mode)
	if existing, err := afero.ReadFile(deps.FS, localPath); err == nil && string(existing) == content {
		return true
	}
	if err := fsx.AtomicWriteBytes(deps.FS, localPath, []byte(content)); err != nil {
		return false
	}
	return true
}

// downloadExtra fetches e through the OpenList download URL and writes it
// atomically, per "Extra files are fetched through the OpenList
// download URL and written atomically." The Python prototype this was
// ported from only counted extra_synced without actually downloading
// (a documented stub); this is a from-scratch implementation of the real
// behavior per the schedule design grounding note.
func downloadExtra(ctx context.Context, deps Deps, e openlist.Entry, localPath string) error {
	if fsx.Exists(deps.FS, localPath) {
		return nil
	}
	body, err := deps.Client.Download(ctx, e)
	if err != nil {
		return err
	}
	defer body.Close()
	return fsx.AtomicWriteFrom(deps.FS, localPath, body, e.Modified)
}

// syncLocalDeletionsToRemote implements "Local-to-remote deletion":
// for each cache leaf whose .strm is missing locally, request remote
// deletion if the suffix filter admits it.
func syncLocalDeletionsToRemote(ctx context.Context, task *domain.StrmTask, deps Deps, cache *domain.StrmCache, log logx.Logger) {
	byDir := map[string][]string{}
	for _, leaf := range cache.Leaves {
		if fsx.Exists(deps.FS, leaf.LocalStrmPath) {
			continue
		}
		base := filepath.Base(leaf.RemotePath)
		if !task.Suffix.Matches(extOf(base)) {
			continue
		}
		dir := filepath.Dir(leaf.RemotePath)
		byDir[dir] = append(byDir[dir], base)
	}
	for dir, names := range byDir {
		if err := deps.Client.Delete(ctx, dir, names); err != nil {
			log.Warn("remote deletion failed", logx.String("dir", dir), logx.Err(err))
		}
	}
}

func extOf(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}

// reconstructFromTarget implements "Reconstruct for STRM": scan
// targetDir for existing .strm files and rebuild cache leaves with SYNCED
// status (represented here by a zero MissCount leaf with no remote
// verification), via a recursive walk of the existing .strm tree.
func reconstructFromTarget(fs fsx.FS, task *domain.StrmTask, cache *domain.StrmCache, log logx.Logger) Result {
	count := 0
	err := fsx.Walk(fs, task.Target, func(path string, isDir bool) {
		if isDir || !strings.HasSuffix(path, ".strm") {
			return
		}
		rel, rerr := filepath.Rel(task.Target, path)
		if rerr != nil {
			return
		}
		cache.Leaves[rel] = &domain.StrmLeaf{LocalStrmPath: path, LastSeenScan: cache.ScanCount}
		count++
	})
	if err != nil {
		return Result{Err: fmt.Errorf("%w: %v", domain.ErrTargetUnwritable, err)}
	}
	log.Info("reconstructed strm cache from target", logx.Int("count", count))
	return Result{Stats: domain.Stats{Total: count, Success: count}, Cache: cache}
}

package syncworker

import (
	"context"
	"testing"

	"github.com/spf13/afero"

	"cloudgather/internal/domain"
	"cloudgather/internal/fsx"
	logx "cloudgather/pkg/logx"
)

func newTestDeps() Deps {
	return Deps{FS: fsx.NewMem(), Log: logx.Nop()}
}

func TestRunCopiesNewFile(t *testing.T) {
	deps := newTestDeps()
	afero.WriteFile(deps.FS, "/src/a.mkv", []byte("hello"), 0o644)

	task := &domain.SyncTask{ID: "t1", Source: "/src", Target: "/dst", RuleNotExists: true, ThreadCap: 1}
	cache := &domain.SyncCache{TaskID: "t1", Entries: map[string]*domain.SyncCacheEntry{}}

	res := Run(context.Background(), task, domain.RunSync, cache, deps)
	if res.Err != nil {
		t.Fatalf("Run: %v", res.Err)
	}
	if res.Stats.Success != 1 || res.Stats.Total != 1 {
		t.Fatalf("unexpected stats: %+v", res.Stats)
	}
	ok, _ := afero.Exists(deps.FS, "/dst/a.mkv")
	if !ok {
		t.Fatal("expected file to be copied")
	}
}

func TestRunSecondPassSkipsUnchanged(t *testing.T) {
	deps := newTestDeps()
	afero.WriteFile(deps.FS, "/src/a.mkv", []byte("hello"), 0o644)
	task := &domain.SyncTask{ID: "t1", Source: "/src", Target: "/dst", RuleNotExists: true, ThreadCap: 1}
	cache := &domain.SyncCache{TaskID: "t1", Entries: map[string]*domain.SyncCacheEntry{}}

	_ = Run(context.Background(), task, domain.RunSync, cache, deps)
	res := Run(context.Background(), task, domain.RunSync, cache, deps)
	if res.Stats.Success != 0 || res.Stats.Skipped != 1 {
		t.Fatalf("second pass should skip unchanged file, got %+v", res.Stats)
	}
}

func TestRunSuffixExcludeFilter(t *testing.T) {
	deps := newTestDeps()
	afero.WriteFile(deps.FS, "/src/a.mkv", []byte("x"), 0o644)
	afero.WriteFile(deps.FS, "/src/b.nfo", []byte("y"), 0o644)
	task := &domain.SyncTask{
		ID: "t1", Source: "/src", Target: "/dst", RuleNotExists: true, ThreadCap: 1,
		Suffix: domain.SuffixFilter{Mode: domain.SuffixExclude, List: []string{"nfo"}},
	}
	cache := &domain.SyncCache{TaskID: "t1", Entries: map[string]*domain.SyncCacheEntry{}}
	res := Run(context.Background(), task, domain.RunSync, cache, deps)
	if res.Stats.SkippedFiltered != 1 || res.Stats.Success != 1 {
		t.Fatalf("unexpected stats: %+v", res.Stats)
	}
	if ok, _ := afero.Exists(deps.FS, "/dst/b.nfo"); ok {
		t.Fatal("excluded file should not be copied")
	}
}

func TestRunMissingSourceIsFatal(t *testing.T) {
	deps := newTestDeps()
	task := &domain.SyncTask{ID: "t1", Source: "/nope", Target: "/dst", ThreadCap: 1}
	cache := &domain.SyncCache{TaskID: "t1", Entries: map[string]*domain.SyncCacheEntry{}}
	res := Run(context.Background(), task, domain.RunSync, cache, deps)
	if res.Err == nil {
		t.Fatal("expected ErrSourceMissing")
	}
}

func TestRunFullOverwriteBypassesRuleAndDelete(t *testing.T) {
	deps := newTestDeps()
	afero.WriteFile(deps.FS, "/src/a.mkv", []byte("hello"), 0o644)
	afero.WriteFile(deps.FS, "/dst/a.mkv", []byte("hello"), 0o644)
	task := &domain.SyncTask{
		ID: "t1", Source: "/src", Target: "/dst", RuleNotExists: true, ThreadCap: 1,
		Delete: domain.DeletePolicy{Enabled: true, DelayDays: 0},
	}
	cache := &domain.SyncCache{TaskID: "t1", Entries: map[string]*domain.SyncCacheEntry{}}
	res := Run(context.Background(), task, domain.RunFullOverwrite, cache, deps)
	if res.Stats.Success != 1 {
		t.Fatalf("full overwrite should copy even though target already matches, got %+v", res.Stats)
	}
	if ok, _ := afero.Exists(deps.FS, "/src/a.mkv"); !ok {
		t.Fatal("FULL_OVERWRITE must never delete the source")
	}
}

func TestReconstructPopulatesCacheWithoutCopying(t *testing.T) {
	deps := newTestDeps()
	afero.WriteFile(deps.FS, "/src/a.mkv", []byte("hello"), 0o644)
	afero.WriteFile(deps.FS, "/dst/a.mkv", []byte("hello"), 0o644)
	task := &domain.SyncTask{ID: "t1", Source: "/src", Target: "/dst", RuleNotExists: true, ThreadCap: 1}
	cache := &domain.SyncCache{TaskID: "t1", Entries: map[string]*domain.SyncCacheEntry{}}

	res := Run(context.Background(), task, domain.RunReconstruct, cache, deps)
	if res.Stats.Success != 1 {
		t.Fatalf("expected 1 matched entry, got %+v", res.Stats)
	}
	entry, ok := cache.Entries["a.mkv"]
	if !ok || entry.Status != domain.CacheSynced {
		t.Fatalf("expected SYNCED cache entry, got %+v", entry)
	}

	// A following normal run must find nothing new to copy.
	res2 := Run(context.Background(), task, domain.RunSync, cache, deps)
	if res2.Stats.Success != 0 {
		t.Fatalf("normal run after RECONSTRUCT should copy nothing, got %+v", res2.Stats)
	}
}

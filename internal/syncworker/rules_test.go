package syncworker

import (
	"testing"
	"time"

	"cloudgather/internal/domain"
)

func TestShouldIgnore(t *testing.T) {
	cases := map[string]bool{
		".DS_Store": true, "Thumbs.db": true, "movie.mkv": false, "~$doc.docx": true,
	}
	for name, want := range cases {
		if got := shouldIgnore(name); got != want {
			t.Errorf("shouldIgnore(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestPassesSuffixExtensionless(t *testing.T) {
	include := domain.SuffixFilter{Mode: domain.SuffixInclude, List: []string{""}}
	if !passesSuffix(include, "README") {
		t.Fatal("extensionless file should be included when list contains empty string")
	}
	includeNoEmpty := domain.SuffixFilter{Mode: domain.SuffixInclude, List: []string{"mkv"}}
	if passesSuffix(includeNoEmpty, "README") {
		t.Fatal("extensionless file should be skipped under INCLUDE without empty string")
	}
	exclude := domain.SuffixFilter{Mode: domain.SuffixExclude, List: []string{"nfo"}}
	if !passesSuffix(exclude, "README") {
		t.Fatal("extensionless file should be kept under EXCLUDE without empty string")
	}
}

func TestShouldSyncFallbackToNotExists(t *testing.T) {
	task := &domain.SyncTask{}
	if shouldSync(task, true, 10, 10, time.Now(), time.Now()) {
		t.Fatal("with no rules enabled and target existing, must not sync")
	}
	if !shouldSync(task, false, 10, 0, time.Now(), time.Time{}) {
		t.Fatal("with no rules enabled and target missing, must sync (ruleNotExists fallback)")
	}
}

func TestShouldSyncSizeDiff(t *testing.T) {
	task := &domain.SyncTask{RuleSizeDiff: true}
	if !shouldSync(task, true, 200, 100, time.Now(), time.Now()) {
		t.Fatal("size diff should trigger sync")
	}
}

func TestShouldSyncMtimeNewerTolerance(t *testing.T) {
	task := &domain.SyncTask{RuleMtimeNewer: true}
	base := time.Now()
	if shouldSync(task, true, 10, 10, base.Add(500*time.Millisecond), base) {
		t.Fatal("within 1s tolerance must not trigger sync")
	}
	if !shouldSync(task, true, 10, 10, base.Add(2*time.Second), base) {
		t.Fatal("beyond 1s tolerance must trigger sync")
	}
}

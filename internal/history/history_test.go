package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"cloudgather/internal/domain"
)

func TestAppendAndRecentRoundTrip(t *testing.T) {
	st, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	run := Run{
		TaskID: "t1", TaskKind: domain.KindSync, RunKind: domain.RunSync,
		StartedAt: time.Now(), Duration: 2 * time.Second,
		Stats: domain.Stats{Total: 10, Success: 9, Failed: 1},
	}
	if err := st.Append(ctx, run); err != nil {
		t.Fatalf("Append: %v", err)
	}
	failing := run
	failing.Error = "copy failed"
	if err := st.Append(ctx, failing); err != nil {
		t.Fatalf("Append (with error): %v", err)
	}

	recent, err := st.Recent(ctx, "t1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(recent))
	}
	if recent[0].Error != "copy failed" {
		t.Fatalf("expected newest-first ordering with error, got %+v", recent[0])
	}
	if recent[1].Stats.Success != 9 {
		t.Fatalf("unexpected stats round-trip: %+v", recent[1])
	}
}

func TestPruneKeepsOnlyMostRecentPerTask(t *testing.T) {
	st, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	for i := 0; i < retainPerTask+10; i++ {
		run := Run{TaskID: "t1", TaskKind: domain.KindSync, RunKind: domain.RunSync, StartedAt: time.Now()}
		if err := st.Append(ctx, run); err != nil {
			t.Fatalf("Append #%d: %v", i, err)
		}
	}
	recent, err := st.Recent(ctx, "t1", retainPerTask+50)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != retainPerTask {
		t.Fatalf("expected pruning to cap at %d rows, got %d", retainPerTask, len(recent))
	}
}

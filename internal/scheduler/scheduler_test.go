package scheduler

import (
	"context"
	"testing"
	"time"

	"cloudgather/internal/domain"
	"cloudgather/internal/store"
	logx "cloudgather/pkg/logx"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	return st
}

func TestSchedulerAdmitsAndRunsDueTask(t *testing.T) {
	st := newTestStore(t)
	task := domain.SyncTask{ID: "t1", Name: "n", Source: "/src", Target: "/dst", Cron: "*/1 * * * *"}
	if err := st.UpsertSync(task); err != nil {
		t.Fatalf("UpsertSync: %v", err)
	}

	ran := make(chan domain.SyncTask, 1)
	sched := New(Config{ConcurrentRunCap: 2, PollInterval: 20 * time.Millisecond}, st, logx.Nop(),
		func(ctx context.Context, tk domain.SyncTask, kind domain.RunKind) (domain.Stats, error) {
			ran <- tk
			return domain.Stats{Success: 1, Total: 1}, nil
		},
		func(ctx context.Context, tk domain.StrmTask, kind domain.RunKind) (domain.Stats, error) {
			return domain.Stats{}, nil
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	select {
	case tk := <-ran:
		if tk.ID != "t1" {
			t.Fatalf("unexpected task ran: %+v", tk)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for due task to run")
	}

	updated, ok := st.GetSync("t1")
	if !ok {
		t.Fatal("task vanished from store")
	}
	if updated.Stats.Success != 1 {
		t.Fatalf("expected stats to be persisted, got %+v", updated.Stats)
	}
	if updated.NextRun.IsZero() {
		t.Fatal("expected nextRun to be advanced after a SYNC-kind run")
	}
}

func TestSchedulerManualTriggerDoesNotChangeNextRun(t *testing.T) {
	st := newTestStore(t)
	fixedNext := time.Now().Add(time.Hour).Truncate(time.Second)
	task := domain.SyncTask{ID: "t1", Name: "n", Source: "/src", Target: "/dst", Cron: "0 3 * * *", Enabled: true, NextRun: fixedNext}
	if err := st.UpsertSync(task); err != nil {
		t.Fatalf("UpsertSync: %v", err)
	}

	ran := make(chan domain.RunKind, 1)
	sched := New(Config{ConcurrentRunCap: 2, PollInterval: 20 * time.Millisecond}, st, logx.Nop(),
		func(ctx context.Context, tk domain.SyncTask, kind domain.RunKind) (domain.Stats, error) {
			ran <- kind
			return domain.Stats{}, nil
		},
		func(ctx context.Context, tk domain.StrmTask, kind domain.RunKind) (domain.Stats, error) {
			return domain.Stats{}, nil
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	sched.Trigger("t1", domain.RunFullOverwrite)

	select {
	case kind := <-ran:
		if kind != domain.RunFullOverwrite {
			t.Fatalf("expected FULL_OVERWRITE dispatch, got %v", kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for manual trigger to run")
	}

	updated, _ := st.GetSync("t1")
	if !updated.NextRun.Equal(fixedNext) {
		t.Fatalf("manual trigger must not change nextRun: got %v want %v", updated.NextRun, fixedNext)
	}
}

func TestSchedulerFatalRunErrorSetsErrorStatus(t *testing.T) {
	st := newTestStore(t)
	task := domain.SyncTask{ID: "t1", Name: "n", Source: "/src", Target: "/dst", Cron: "0 3 * * *", Enabled: true}
	if err := st.UpsertSync(task); err != nil {
		t.Fatalf("UpsertSync: %v", err)
	}

	done := make(chan struct{}, 1)
	sched := New(Config{ConcurrentRunCap: 2, PollInterval: 20 * time.Millisecond}, st, logx.Nop(),
		func(ctx context.Context, tk domain.SyncTask, kind domain.RunKind) (domain.Stats, error) {
			defer func() { done <- struct{}{} }()
			return domain.Stats{}, domain.ErrSourceMissing
		},
		func(ctx context.Context, tk domain.StrmTask, kind domain.RunKind) (domain.Stats, error) {
			return domain.Stats{}, nil
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	sched.Trigger("t1", domain.RunSync)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for run to finish")
	}

	// dispatchOne clears the running flag and signals before the store
	// mutation below necessarily lands, so poll briefly.
	deadline := time.Now().Add(time.Second)
	for {
		updated, _ := st.GetSync("t1")
		if updated.Status == domain.StatusError {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected status ERROR after fatal run error, got %v", updated.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

package deleteplan

import (
	"testing"
	"time"

	"cloudgather/internal/domain"
)

func TestEvaluateDisabled(t *testing.T) {
	d := Evaluate(domain.DeletePolicy{Enabled: false}, &domain.SyncCacheEntry{Status: domain.CacheSynced}, time.Now())
	if d.Delete {
		t.Fatal("disabled policy must never delete")
	}
}

func TestEvaluateImmediateOnZeroDelay(t *testing.T) {
	entry := &domain.SyncCacheEntry{Status: domain.CacheSynced, LastSyncInstant: time.Now()}
	d := Evaluate(domain.DeletePolicy{Enabled: true, DelayDays: 0, TimeBase: domain.BaseSyncComplete}, entry, time.Now())
	if !d.Delete {
		t.Fatal("delayDays=0 must be eligible immediately")
	}
}

func TestEvaluateDelayedNotYetDue(t *testing.T) {
	entry := &domain.SyncCacheEntry{Status: domain.CacheSynced, LastSyncInstant: time.Now()}
	d := Evaluate(domain.DeletePolicy{Enabled: true, DelayDays: 5, TimeBase: domain.BaseSyncComplete}, entry, time.Now())
	if d.Delete {
		t.Fatal("must not be eligible before delay elapses")
	}
}

func TestEvaluateDelayedDue(t *testing.T) {
	entry := &domain.SyncCacheEntry{Status: domain.CacheSynced, LastSyncInstant: time.Now().Add(-6 * 24 * time.Hour)}
	d := Evaluate(domain.DeletePolicy{Enabled: true, DelayDays: 5, TimeBase: domain.BaseSyncComplete}, entry, time.Now())
	if !d.Delete {
		t.Fatal("must be eligible once delay has elapsed")
	}
}

func TestEvaluateNonSyncedNeverDeletes(t *testing.T) {
	entry := &domain.SyncCacheEntry{Status: domain.CacheFailed}
	d := Evaluate(domain.DeletePolicy{Enabled: true, DelayDays: 0}, entry, time.Now())
	if d.Delete {
		t.Fatal("only SYNCED entries are eligible")
	}
}

func TestEvaluateAscendLevels(t *testing.T) {
	entry := &domain.SyncCacheEntry{Status: domain.CacheSynced, LastSyncInstant: time.Now()}
	d := Evaluate(domain.DeletePolicy{Enabled: true, DelayDays: 0, DeleteParent: true, ParentLevels: 2}, entry, time.Now())
	if !d.Delete || d.AscendLevels != 2 {
		t.Fatalf("expected delete with ascend=2, got %+v", d)
	}
}

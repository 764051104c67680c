package store

import (
	"os"
	"path/filepath"
	"testing"

	"cloudgather/internal/domain"
)

func TestUpsertAndReloadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	task := domain.SyncTask{
		ID: "t1", Name: "T1", Source: "/src", Target: "/dst", Cron: "*/5 * * * *",
		RuleNotExists: true,
	}
	if err := s.UpsertSync(task); err != nil {
		t.Fatalf("UpsertSync: %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok := s2.GetSync("t1")
	if !ok {
		t.Fatal("expected t1 to round-trip")
	}
	if got.Name != "T1" || got.Source != "/src" || got.ThreadCap != 1 {
		t.Fatalf("round-tripped task mismatch: %+v", got)
	}
}

func TestUpsertRejectsMissingFields(t *testing.T) {
	s, _ := Open(t.TempDir())
	err := s.UpsertSync(domain.SyncTask{ID: "x"})
	if err == nil {
		t.Fatal("expected ErrInvalidTask for missing required fields")
	}
}

func TestUpsertRejectsMalformedCron(t *testing.T) {
	s, _ := Open(t.TempDir())
	task := domain.SyncTask{ID: "t1", Name: "T1", Source: "/src", Target: "/dst", Cron: "every 5 minutes"}
	err := s.UpsertSync(task)
	if err == nil {
		t.Fatal("expected ErrInvalidTask for a cron expression without 5 fields")
	}
	if _, ok := s.GetSync("t1"); ok {
		t.Fatal("task with malformed cron should not have been persisted")
	}
}

func TestDeleteTaskRemovesCache(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(dir)
	task := domain.SyncTask{ID: "t1", Name: "T1", Source: "/src", Target: "/dst", Cron: "* * * * *"}
	_ = s.UpsertSync(task)
	cache := &domain.SyncCache{TaskID: "t1", Entries: map[string]*domain.SyncCacheEntry{}}
	if err := s.SaveSyncCache(cache); err != nil {
		t.Fatalf("SaveSyncCache: %v", err)
	}
	if err := s.DeleteTask("t1"); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if _, ok := s.GetSync("t1"); ok {
		t.Fatal("task should be gone")
	}
	if _, err := os.Stat(filepath.Join(dir, "cache", "t1.json")); err == nil {
		t.Fatal("cache file should have been removed")
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(dir)
	st := domain.Settings{OpenList: domain.OpenListSettings{BaseURL: "http://x", Username: "u", PasswordBlob: EncodePassword("p")}}
	if err := s.PutSettings(st); err != nil {
		t.Fatalf("PutSettings: %v", err)
	}
	s2, _ := Open(dir)
	got := s2.Settings()
	if got.OpenList.BaseURL != "http://x" {
		t.Fatalf("settings did not round-trip: %+v", got)
	}
	if DecodePassword(got.OpenList.PasswordBlob) != "p" {
		t.Fatal("password blob did not decode back to original")
	}
}

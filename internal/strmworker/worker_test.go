package strmworker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/afero"

	"cloudgather/internal/domain"
	"cloudgather/internal/fsx"
	"cloudgather/internal/openlist"
	logx "cloudgather/pkg/logx"
)

func fakeRemote(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 200, "data": map[string]string{"token": "tok"}})
	})
	mux.HandleFunc("/api/me", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 200})
	})
	mux.HandleFunc("/api/fs/list", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Path string `json:"path"`
			Page int    `json:"page"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Page > 1 {
			json.NewEncoder(w).Encode(map[string]any{"code": 200, "data": map[string]any{"content": []any{}, "total": 1}})
			return
		}
		var content []map[string]any
		switch req.Path {
		case "/library":
			content = []map[string]any{
				{"name": "movie.mkv", "is_dir": false, "size": 100, "sign": "abc"},
				{"name": "movie.srt", "is_dir": false, "size": 1, "sign": "def"},
			}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": map[string]any{"content": content, "total": len(content)},
		})
	})
	mux.HandleFunc("/d/library/movie.srt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("1\n00:00:00,000 --> 00:00:01,000\nhello\n"))
	})
	return httptest.NewServer(mux)
}

func TestRunGeneratesStrmAndDownloadsExtras(t *testing.T) {
	srv := fakeRemote(t)
	defer srv.Close()

	client := openlist.New(openlist.Config{BaseURL: srv.URL, Username: "u", Password: "p"})
	deps := Deps{
		FS:         fsx.NewMem(),
		Client:     client,
		Extensions: domain.DefaultExtensionClasses(),
		Log:        logx.Nop(),
	}
	task := &domain.StrmTask{
		ID: "s1", Source: "/library", Target: "/strm", Mode: domain.ModeAlistURL,
		MaxWorkers: 2, ExtraSubtitle: true,
		ProtectionThreshold: 100, ProtectionGraceScans: 3,
	}
	cache := &domain.StrmCache{TaskID: "s1", Leaves: map[string]*domain.StrmLeaf{}}

	res := Run(context.Background(), task, domain.RunStrm, cache, deps)
	if res.Err != nil {
		t.Fatalf("Run: %v", res.Err)
	}
	if res.Stats.Success != 2 {
		t.Fatalf("expected 2 successes (video + extra), got %+v", res.Stats)
	}
	content, err := afero.ReadFile(deps.FS, "/strm/movie.strm")
	if err != nil {
		t.Fatalf("expected movie.strm to exist: %v", err)
	}
	want := srv.URL + "/d/library/movie.mkv?sign=abc"
	if string(content) != want {
		t.Fatalf("strm content = %q, want %q", content, want)
	}
	if ok, _ := afero.Exists(deps.FS, "/strm/movie.srt"); !ok {
		t.Fatal("expected subtitle to be downloaded")
	}
	leaf, ok := cache.Leaves["movie.mkv"]
	if !ok {
		t.Fatal("expected cache leaf for movie.mkv")
	}
	if len(leaf.ExtraFiles) != 1 {
		t.Fatalf("expected subtitle attached to leaf, got %+v", leaf)
	}
}

func TestProtectionTripAbortsDeletion(t *testing.T) {
	cache := &domain.StrmCache{TaskID: "s1", Leaves: map[string]*domain.StrmLeaf{
		"a.mkv": {RemotePath: "/library/a.mkv", LocalStrmPath: "/strm/a.strm"},
		"b.mkv": {RemotePath: "/library/b.mkv", LocalStrmPath: "/strm/b.strm"},
	}}
	task := &domain.StrmTask{SyncServerDelete: true, ProtectionThreshold: 1, ProtectionGraceScans: 1}
	result := evaluateProtection(task, cache, map[string]bool{})
	if !result.Tripped {
		t.Fatal("expected protection to trip when all leaves vanish at once")
	}
	if len(result.ToDelete) != 0 {
		t.Fatal("tripped protection must not schedule any deletions")
	}
}

func TestReconstructFromTargetFindsExistingStrm(t *testing.T) {
	fs := fsx.NewMem()
	afero.WriteFile(fs, "/strm/movie.strm", []byte("http://example/movie.mkv"), 0o644)
	task := &domain.StrmTask{ID: "s1", Target: "/strm"}
	cache := &domain.StrmCache{TaskID: "s1", Leaves: map[string]*domain.StrmLeaf{}}

	res := reconstructFromTarget(fs, task, cache, logx.Nop())
	if res.Err != nil {
		t.Fatalf("reconstructFromTarget: %v", res.Err)
	}
	if res.Stats.Success != 1 {
		t.Fatalf("expected 1 leaf discovered, got %+v", res.Stats)
	}
	if _, ok := cache.Leaves["movie.strm"]; !ok {
		t.Fatalf("expected cache leaf for movie.strm, got %+v", cache.Leaves)
	}
}

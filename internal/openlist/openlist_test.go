package openlist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloudgather/internal/domain"
)

func fakeServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 200, "data": map[string]string{"token": "tok"}})
	})
	mux.HandleFunc("/api/auth/login/hash", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Password string `json:"password"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Password != hashedPassword("p") {
			json.NewEncoder(w).Encode(map[string]any{"code": 400, "message": "bad hash"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"code": 200, "data": map[string]string{"token": "tok-hashed"}})
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
		json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": map[string]any{
				"content": []map[string]any{
					{"name": "movie.mkv", "is_dir": false, "size": 100, "sign": "abc"},
				},
				"total": 1,
			},
		})
	})
	mux.HandleFunc("/api/me", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 200})
	})
	return httptest.NewServer(mux)
}

func TestListAndDownloadURL(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()
	c := New(Config{BaseURL: srv.URL, Username: "u", Password: "p"})
	entries, total, err := c.List(context.Background(), "/movies", 1, 50)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 || len(entries) != 1 {
		t.Fatalf("unexpected list result: %+v total=%d", entries, total)
	}
	url := c.DownloadURL(entries[0], domain.ModeAlistURL)
	want := srv.URL + "/d/movies/movie.mkv?sign=abc"
	if url != want {
		t.Fatalf("DownloadURL = %q, want %q", url, want)
	}
}

func TestTestConnection(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()
	c := New(Config{BaseURL: srv.URL, Username: "u", Password: "p"})
	if err := c.TestConnection(context.Background()); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
}

func TestHashedLoginUsesHashEndpoint(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()
	c := New(Config{BaseURL: srv.URL, Username: "u", Password: "p", HashedLogin: true})
	if err := c.TestConnection(context.Background()); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	tok, err := c.tokenOrLogin(context.Background())
	if err != nil {
		t.Fatalf("tokenOrLogin: %v", err)
	}
	if tok != "tok-hashed" {
		t.Fatalf("expected hashed-login token, got %q", tok)
	}
}

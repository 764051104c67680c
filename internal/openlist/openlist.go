// Package openlist implements the OpenList client: an authenticated HTTP
// client against an OpenList/Alist-compatible list+fs API, covering login,
// directory listing, file info, recursive file iteration, file removal, and
// connection testing. Retries use the same exponential-backoff idiom as the
// rest of the worker layer (internal/domain.Delay/DelayWithHint).
package openlist

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cloudgather/internal/domain"
)

// Config binds a Client to one OpenList server. Callers resolve task-level
// overrides against Global Settings before constructing this.
type Config struct {
	BaseURL     string
	PublicURL   string
	Username    string
	Password    string
	HashedLogin bool // use /api/auth/login/hash instead of plaintext /api/auth/login
	IsSlow      bool // widens the read timeout.
	RetryCount  int  // 0 => default of 3.
}

// hashLoginSuffix is appended to the plaintext password before hashing for
// the /api/auth/login/hash endpoint, matching the OpenList/Alist server's
// own hashing scheme.
const hashLoginSuffix = "-https://github.com/OpenListTeam/OpenList"

func hashedPassword(password string) string {
	sum := sha256.Sum256([]byte(password + hashLoginSuffix))
	return hex.EncodeToString(sum[:])
}

// Client is a lazily-authenticated OpenList API client. One Client is
// shared by every STRM task run against the same server; concurrent scans
// share the token and the rate limiter.
type Client struct {
	cfg    Config
	http   *http.Client
	limit  *rate.Limiter
	rng    *rand.Rand

	mu    sync.Mutex
	token string
}

// New builds a Client. The rate limiter paces outbound list/get requests;
// callers additionally sleep task.WaitTime between directory pages as a
// coarser, task-configured politeness knob layered on top of this
// client-wide limiter.
func New(cfg Config) *Client {
	readTimeout := 60 * time.Second
	if cfg.IsSlow {
		readTimeout = 180 * time.Second
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: readTimeout},
		limit: rate.NewLimiter(rate.Limit(8), 4),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Entry is one item returned by List/ListAll, corresponding to
// OpenListFile in the Python prototype.
type Entry struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"` // full remote path, computed by the caller
	IsDir    bool      `json:"is_dir"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Sign     string    `json:"sign"`
	RawURL   string    `json:"raw_url"`
}

// Ext returns the lowercase, dot-stripped extension of Name.
func (e Entry) Ext() string {
	i := strings.LastIndexByte(e.Name, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(e.Name[i+1:])
}

func backoffOpts() domain.BackoffOptions {
	return domain.BackoffOptions{Base: time.Second, MaxDelay: 30 * time.Second, Jitter: 0.2}
}

// login authenticates and caches the bearer token, using the hashed-password
// endpoint when cfg.HashedLogin is set and plaintext login otherwise.
func (c *Client) login(ctx context.Context) error {
	if c.cfg.HashedLogin {
		return c.loginHashed(ctx)
	}
	return c.doLogin(ctx, "/api/auth/login", c.cfg.Password)
}

// loginHashed performs /api/auth/login/hash, sending sha256(password+suffix)
// instead of the plaintext password.
func (c *Client) loginHashed(ctx context.Context) error {
	return c.doLogin(ctx, "/api/auth/login/hash", hashedPassword(c.cfg.Password))
}

func (c *Client) doLogin(ctx context.Context, path, password string) error {
	body, _ := json.Marshal(map[string]string{
		"username": c.cfg.Username,
		"password": password,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: login request: %v", domain.ErrAuth, err)
	}
	defer resp.Body.Close()

	var out struct {
		Code int `json:"code"`
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("%w: decode login response: %v", domain.ErrAuth, err)
	}
	if resp.StatusCode != http.StatusOK || out.Code != 200 || out.Data.Token == "" {
		return fmt.Errorf("%w: %s", domain.ErrAuth, out.Message)
	}
	c.mu.Lock()
	c.token = out.Data.Token
	c.mu.Unlock()
	return nil
}

func (c *Client) tokenOrLogin(ctx context.Context) (string, error) {
	c.mu.Lock()
	tok := c.token
	c.mu.Unlock()
	if tok != "" {
		return tok, nil
	}
	if err := c.login(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	tok = c.token
	c.mu.Unlock()
	return tok, nil
}

// doAuthed performs one authenticated JSON request, transparently
// re-logging in once on a 401 as requires, then retrying idempotent
// reads up to c.cfg.RetryCount times with exponential backoff. Writes
// (idempotent=false) are attempted at most twice.
func (c *Client) doAuthed(ctx context.Context, method, path string, payload any, idempotent bool, out any) error {
	maxAttempts := c.cfg.RetryCount
	if !idempotent && maxAttempts > 2 {
		maxAttempts = 2
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	relogged := false
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limit.Wait(ctx); err != nil {
			return err
		}
		tok, err := c.tokenOrLogin(ctx)
		if err != nil {
			return err
		}

		var body io.Reader
		if payload != nil {
			b, _ := json.Marshal(payload)
			body = bytes.NewReader(b)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", tok)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", domain.ErrRemote, err)
			if !idempotent {
				break
			}
			time.Sleep(domain.Delay(backoffOpts(), attempt, c.rng))
			continue
		}

		if resp.StatusCode == http.StatusUnauthorized && !relogged {
			resp.Body.Close()
			relogged = true
			c.mu.Lock()
			c.token = ""
			c.mu.Unlock()
			continue // retry same attempt count with a fresh login
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			ra := retryAfterFromHeader(resp.Header.Get("Retry-After"))
			resp.Body.Close()
			lastErr = domain.WithRetryAfter(fmt.Errorf("%w: status %d", domain.ErrRemote, resp.StatusCode), ra)
			if !idempotent {
				break
			}
			time.Sleep(domain.DelayWithHint(backoffOpts(), attempt, lastErr, c.rng))
			continue
		}

		defer resp.Body.Close()
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("%w: decode response: %v", domain.ErrRemote, err)
			}
		}
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: exhausted %d attempts", domain.ErrRemote, maxAttempts)
	}
	return lastErr
}

func retryAfterFromHeader(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

type listResponse struct {
	Code int `json:"code"`
	Data struct {
		Content []struct {
			Name     string `json:"name"`
			IsDir    bool   `json:"is_dir"`
			Size     int64  `json:"size"`
			Modified string `json:"modified"`
			Sign     string `json:"sign"`
			RawURL   string `json:"raw_url"`
		} `json:"content"`
		Total int `json:"total"`
	} `json:"data"`
	Message string `json:"message"`
}

// List requests one page of dirPath's children, page size perPage
// (1-based page numbers), mirroring /api/fs/list.
func (c *Client) List(ctx context.Context, dirPath string, page, perPage int) ([]Entry, int, error) {
	var resp listResponse
	err := c.doAuthed(ctx, http.MethodPost, "/api/fs/list", map[string]any{
		"path":     dirPath,
		"page":     page,
		"per_page": perPage,
		"refresh":  false,
	}, true, &resp)
	if err != nil {
		return nil, 0, err
	}
	if resp.Code != 200 {
		return nil, 0, fmt.Errorf("%w: %s", domain.ErrRemote, resp.Message)
	}
	entries := make([]Entry, 0, len(resp.Data.Content))
	for _, c2 := range resp.Data.Content {
		modified, _ := time.Parse(time.RFC3339, c2.Modified)
		entries = append(entries, Entry{
			Name:     c2.Name,
			Path:     joinRemote(dirPath, c2.Name),
			IsDir:    c2.IsDir,
			Size:     c2.Size,
			Modified: modified,
			Sign:     c2.Sign,
			RawURL:   c2.RawURL,
		})
	}
	return entries, resp.Data.Total, nil
}

func joinRemote(dir, name string) string {
	if dir == "" || dir == "/" {
		return "/" + name
	}
	return strings.TrimRight(dir, "/") + "/" + name
}

// ListAll iterates every entry under root (files and directories,
// depth-first), paginating with pageSize per directory, and calling visit
// for each entry. Recursion stops for a directory the moment visit returns
// an error for one of its entries so a cancelled context unwinds promptly.
func (c *Client) ListAll(ctx context.Context, root string, pageSize int, visit func(Entry) error) error {
	if pageSize <= 0 {
		pageSize = 100
	}
	page := 1
	for {
		entries, total, err := c.List(ctx, root, page, pageSize)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := visit(e); err != nil {
				return err
			}
			if e.IsDir {
				if err := c.ListAll(ctx, e.Path, pageSize, visit); err != nil {
					return err
				}
			}
		}
		if page*pageSize >= total || len(entries) == 0 {
			return nil
		}
		page++
	}
}

// Get fetches metadata for a single remote path, mirroring /api/fs/get.
func (c *Client) Get(ctx context.Context, path string) (Entry, error) {
	var resp struct {
		Code int `json:"code"`
		Data struct {
			Name     string `json:"name"`
			IsDir    bool   `json:"is_dir"`
			Size     int64  `json:"size"`
			Modified string `json:"modified"`
			Sign     string `json:"sign"`
			RawURL   string `json:"raw_url"`
		} `json:"data"`
		Message string `json:"message"`
	}
	err := c.doAuthed(ctx, http.MethodPost, "/api/fs/get", map[string]any{"path": path}, true, &resp)
	if err != nil {
		return Entry{}, err
	}
	if resp.Code != 200 {
		return Entry{}, fmt.Errorf("%w: %s", domain.ErrRemote, resp.Message)
	}
	modified, _ := time.Parse(time.RFC3339, resp.Data.Modified)
	return Entry{
		Name: resp.Data.Name, Path: path, IsDir: resp.Data.IsDir, Size: resp.Data.Size,
		Modified: modified, Sign: resp.Data.Sign, RawURL: resp.Data.RawURL,
	}, nil
}

// DownloadURL builds the .strm content / download URL for e under mode,
// following the per-mode content rules.
func (c *Client) DownloadURL(e Entry, mode domain.StrmMode) string {
	switch mode {
	case domain.ModeRawURL:
		if e.RawURL != "" {
			return e.RawURL
		}
		return c.alistURL(e)
	case domain.ModeAlistPath:
		return e.Path
	default:
		return c.alistURL(e)
	}
}

// alistURL builds "<publicBase|base>/d/<encodedPath>?sign=<sign>" per.
func (c *Client) alistURL(e Entry) string {
	base := c.cfg.BaseURL
	if c.cfg.PublicURL != "" {
		base = c.cfg.PublicURL
	}
	encoded := (&url.URL{Path: e.Path}).EscapedPath()
	u := strings.TrimRight(base, "/") + "/d" + encoded
	if e.Sign != "" {
		u += "?sign=" + url.QueryEscape(e.Sign)
	}
	return u
}

// Download streams the file content at e's download URL. It does not go
// through doAuthed's JSON envelope handling since it is a raw byte stream,
// but shares the bearer token and rate limiter.
func (c *Client) Download(ctx context.Context, e Entry) (io.ReadCloser, error) {
	if err := c.limit.Wait(ctx); err != nil {
		return nil, err
	}
	tok, err := c.tokenOrLogin(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.DownloadURL(e, domain.ModeAlistURL), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", tok)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: download %s: %v", domain.ErrRemote, e.Path, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: download %s: status %d", domain.ErrRemote, e.Path, resp.StatusCode)
	}
	return resp.Body, nil
}

// Delete requests remote deletion of names under dir, mirroring
// /api/fs/remove. Attempted at most twice per write policy.
func (c *Client) Delete(ctx context.Context, dir string, names []string) error {
	var resp struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	err := c.doAuthed(ctx, http.MethodPost, "/api/fs/remove", map[string]any{
		"dir":   dir,
		"names": names,
	}, false, &resp)
	if err != nil {
		return err
	}
	if resp.Code != 200 {
		return fmt.Errorf("%w: %s", domain.ErrRemote, resp.Message)
	}
	return nil
}

// TestConnection probes /api/me, falling back to a fresh login if the
// cached token has gone stale, mirroring test_connection in the prototype.
func (c *Client) TestConnection(ctx context.Context) error {
	var resp struct {
		Code int `json:"code"`
	}
	err := c.doAuthed(ctx, http.MethodGet, "/api/me", nil, true, &resp)
	if err == nil && resp.Code == 200 {
		return nil
	}
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	return c.login(ctx)
}

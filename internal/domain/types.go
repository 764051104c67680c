// Package domain holds the data model shared by every CloudGather worker:
// task records, cache trees, and global settings. Nothing in this package
// touches disk or the network; it is the vocabulary the rest of the module
// is written in.
package domain

import "time"

// TaskKind distinguishes the two task record shapes that share the run
// queue and the store's single document.
type TaskKind string

const (
	KindSync TaskKind = "sync"
	KindStrm TaskKind = "strm"
)

// RunKind identifies what a queued run should actually do once dispatched.
// SYNC/STRM are the task's own schedule firing; FULL_OVERWRITE and
// RECONSTRUCT are explicit tool modes triggered through the control
// surface, admitted through the same queue but never touching nextFire.
type RunKind string

const (
	RunSync          RunKind = "SYNC"
	RunStrm          RunKind = "STRM"
	RunFullOverwrite RunKind = "FULL_OVERWRITE"
	RunReconstruct   RunKind = "RECONSTRUCT"
)

// Status is the live lifecycle state of a task. IDLE and ERROR are the only
// states a task may be found in "at rest" (outside a run).
type Status string

const (
	StatusIdle    Status = "IDLE"
	StatusQueued  Status = "QUEUED"
	StatusRunning Status = "RUNNING"
	StatusError   Status = "ERROR"
)

// RuleMode is the suffix-filter matching mode.
type RuleMode string

const (
	SuffixNone    RuleMode = "NONE"
	SuffixInclude RuleMode = "INCLUDE"
	SuffixExclude RuleMode = "EXCLUDE"
)

// DeleteTimeBase selects which instant a delete-delay is measured from.
type DeleteTimeBase string

const (
	BaseSyncComplete DeleteTimeBase = "SYNC_COMPLETE"
	BaseFileCreate   DeleteTimeBase = "FILE_CREATE"
)

// StrmMode selects how a .strm file's single line of content is built.
type StrmMode string

const (
	ModeAlistURL  StrmMode = "AlistURL"
	ModeRawURL    StrmMode = "RawURL"
	ModeAlistPath StrmMode = "AlistPath"
)

// SizeFilter bounds file size; a nil pointer means the bound is open.
type SizeFilter struct {
	MinBytes *int64 `json:"minBytes,omitempty"`
	MaxBytes *int64 `json:"maxBytes,omitempty"`
}

// SuffixFilter is the extension allow/deny list shared by both task kinds.
// List entries are always normalized to lowercase, dot-stripped.
type SuffixFilter struct {
	Mode RuleMode `json:"mode"`
	List []string `json:"list,omitempty"`
}

// Normalize lowercases and strips a leading dot from every list entry, and
// defaults an empty mode to NONE. Mirrors SyncTask.__init__'s normalization
// in the Python prototype this was ported from.
func (f *SuffixFilter) Normalize() {
	if f.Mode == "" {
		f.Mode = SuffixNone
	}
	for i, s := range f.List {
		s = trimLower(s)
		f.List[i] = s
	}
}

func trimLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c - 'A' + 'a'
		}
	}
	s = string(b)
	if len(s) > 0 && s[0] == '.' {
		s = s[1:]
	}
	return s
}

// Matches reports whether ext (already lowercased, no dot) passes the
// filter, per rule 1's extensionless-file handling.
func (f SuffixFilter) Matches(ext string) bool {
	switch f.Mode {
	case SuffixInclude:
		return contains(f.List, ext)
	case SuffixExclude:
		return !contains(f.List, ext)
	default:
		return true
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// DeletePolicy governs source-side deletion after a successful sync.
type DeletePolicy struct {
	Enabled             bool           `json:"enabled"`
	DelayDays           int            `json:"delayDays"`
	TimeBase            DeleteTimeBase `json:"timeBase"`
	DeleteParent        bool           `json:"deleteParent"`
	ParentLevels        int            `json:"parentLevels"`
	ForceDeleteNonempty bool           `json:"forceDeleteNonempty"`
}

// Stats is the outcome of one completed run.
type Stats struct {
	Total           int  `json:"total"`
	Success         int  `json:"success"`
	Skipped         int  `json:"skipped"`
	SkippedFiltered int  `json:"skippedFiltered"`
	Failed          int  `json:"failed"`
	ProtectionTrip  bool `json:"protectionTripped,omitempty"`
}

// Progress is the live counter snapshot published during a run.
type Progress struct {
	Done       int     `json:"done"`
	Total      int     `json:"total"`
	Success    int     `json:"success"`
	Skipped    int     `json:"skipped"`
	Failed     int     `json:"failed"`
	Percent    float64 `json:"percent"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// SyncTask is the "sync" task record, "Task (sync)".
type SyncTask struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Source         string       `json:"source"`
	Target         string       `json:"target"`
	Cron           string       `json:"cron"`
	ThreadCap      int          `json:"threadCap"`
	IsSlowStorage  bool         `json:"isSlowStorage"`
	RuleNotExists  bool         `json:"ruleNotExists"`
	RuleSizeDiff   bool         `json:"ruleSizeDiff"`
	RuleMtimeNewer bool         `json:"ruleMtimeNewer"`
	Size           SizeFilter   `json:"size"`
	Suffix         SuffixFilter `json:"suffix"`
	Delete         DeletePolicy `json:"delete"`
	Enabled        bool         `json:"enabled"`

	LastRun time.Time `json:"lastRun,omitempty"`
	NextRun time.Time `json:"nextRun,omitempty"`

	Status   Status   `json:"-"`
	Stats    Stats    `json:"-"`
	Progress Progress `json:"-"`
}

// WithDefaults normalizes a freshly-decoded SyncTask, mirroring
// SyncTask.__init__'s thread_count clamp and suffix normalization in the
// Python prototype.
func (t *SyncTask) WithDefaults() {
	if t.ThreadCap <= 0 {
		t.ThreadCap = 1
	}
	if t.IsSlowStorage && t.ThreadCap > 2 {
		t.ThreadCap = 2
	}
	t.Suffix.Normalize()
	if t.Suffix.Mode == "" {
		t.Suffix.Mode = SuffixNone
	}
	if t.Delete.TimeBase == "" {
		t.Delete.TimeBase = BaseSyncComplete
	}
	if t.Status == "" {
		t.Status = StatusIdle
	}
}

// AnyRuleEnabled reports whether at least one of the three decision rules
// is turned on; used to fall back to ruleNotExists-only per.
func (t *SyncTask) AnyRuleEnabled() bool {
	return t.RuleNotExists || t.RuleSizeDiff || t.RuleMtimeNewer
}

// StrmTask is the "STRM" task record, "Task (STRM)".
type StrmTask struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Source string   `json:"source"`
	Target string   `json:"target"`
	Cron   string   `json:"cron"`
	Mode   StrmMode `json:"mode"`

	ExtraSubtitle bool `json:"extraSubtitle"`
	ExtraImage    bool `json:"extraImage"`
	ExtraNfo      bool `json:"extraNfo"`

	MaxWorkers      int `json:"maxWorkers"`
	WaitTimeSeconds int `json:"waitTimeSeconds"`

	SyncServerDelete bool `json:"syncServerDelete"`
	SyncLocalDelete  bool `json:"syncLocalDelete"`

	Suffix SuffixFilter `json:"suffix"`

	ProtectionThreshold  int `json:"protectionThreshold"`
	ProtectionGraceScans int `json:"protectionGraceScans"`

	Enabled bool      `json:"enabled"`
	LastRun time.Time `json:"lastRun,omitempty"`
	NextRun time.Time `json:"nextRun,omitempty"`

	Status   Status   `json:"-"`
	Stats    Stats    `json:"-"`
	Progress Progress `json:"-"`
}

// WithDefaults normalizes a freshly-decoded StrmTask.
func (t *StrmTask) WithDefaults() {
	if t.MaxWorkers <= 0 {
		t.MaxWorkers = 4
	}
	if t.MaxWorkers > 10 {
		t.MaxWorkers = 10
	}
	if t.ProtectionThreshold <= 0 {
		t.ProtectionThreshold = 100
	}
	if t.ProtectionGraceScans <= 0 {
		t.ProtectionGraceScans = 3
	}
	if t.Mode == "" {
		t.Mode = ModeAlistURL
	}
	t.Suffix.Normalize()
	if t.Status == "" {
		t.Status = StatusIdle
	}
}

// CacheStatus is a sync-tree cache entry's outcome of its most recent visit.
type CacheStatus string

const (
	CacheSynced  CacheStatus = "SYNCED"
	CacheSkipped CacheStatus = "SKIPPED"
	CacheFailed  CacheStatus = "FAILED"
	CacheDeleted CacheStatus = "DELETED"
	CachePending CacheStatus = "PENDING"
)

// SyncCacheEntry is one row of a sync-tree cache, keyed by source-relative
// path in SyncCache.Entries.
type SyncCacheEntry struct {
	Size            int64       `json:"size"`
	Mtime           time.Time   `json:"mtime"`
	LastSyncInstant time.Time   `json:"lastSyncInstant"`
	FileCreate      time.Time   `json:"fileCreateInstant"`
	Status          CacheStatus `json:"status"`
}

// SyncCache is the persistent per-task sync-tree cache, "Sync-Tree Cache".
type SyncCache struct {
	TaskID  string                     `json:"taskId"`
	Entries map[string]*SyncCacheEntry `json:"entries"`
}

// StrmLeaf is one remote-file observation in an STRM-tree cache.
type StrmLeaf struct {
	RemotePath    string   `json:"remotePath"`
	LocalStrmPath string   `json:"localStrmPath"`
	ExtraFiles    []string `json:"extraFiles,omitempty"`
	LastSeenScan  int64    `json:"lastSeenScan"`
	MissCount     int      `json:"missCount"`
}

// StrmCache is the persistent per-task STRM-tree cache, "STRM-Tree Cache".
// The tree structure itself is represented flatly (leaves keyed by remote
// relative path); parents are resolved by path-prefix rather than explicit
// back-references, per cyclic-reference note.
type StrmCache struct {
	TaskID    string               `json:"taskId"`
	ScanCount int64                `json:"scanCount"`
	Leaves    map[string]*StrmLeaf `json:"leaves"`
}

// ExtensionClasses is the global file-extension classification table.
type ExtensionClasses struct {
	Video    []string `json:"video"`
	Subtitle []string `json:"subtitle"`
	Image    []string `json:"image"`
	Nfo      []string `json:"nfo"`
}

// DefaultExtensionClasses mirrors the OpenList client prototype's constant
// extension tables.
func DefaultExtensionClasses() ExtensionClasses {
	return ExtensionClasses{
		Video:    []string{"mp4", "mkv", "avi", "mov", "wmv", "flv", "m4v", "ts", "m2ts", "webm"},
		Subtitle: []string{"srt", "ass", "ssa", "vtt", "sub"},
		Image:    []string{"jpg", "jpeg", "png", "bmp", "webp"},
		Nfo:      []string{"nfo"},
	}
}

// OpenListSettings is the OpenList connection block of Global Settings.
type OpenListSettings struct {
	BaseURL   string `json:"baseUrl"`
	PublicURL string `json:"publicUrl,omitempty"`
	Username  string `json:"username"`
	// PasswordBlob is a reversible-at-rest encoding, never the plaintext
	// password and never re-served in full; see internal/store/secret.go.
	PasswordBlob string `json:"passwordBlob,omitempty"`
	Token        string `json:"token,omitempty"`
	// HashedLogin selects the hashed-password auth endpoint over plaintext.
	HashedLogin bool `json:"hashedLogin,omitempty"`
}

// Settings is the process-wide Global Settings document, "Global
// Settings".
type Settings struct {
	OpenList   OpenListSettings `json:"openlist"`
	Extensions ExtensionClasses `json:"extensions"`
	RetryCount int              `json:"retryCount"`
}

// WithDefaults fills in the sync retry count default named in.
func (s *Settings) WithDefaults() {
	if s.RetryCount <= 0 {
		s.RetryCount = 3
	}
	if len(s.Extensions.Video) == 0 {
		s.Extensions = DefaultExtensionClasses()
	}
}

// RunQueueEntry is one admitted unit of work, "Run Queue Entry".
type RunQueueEntry struct {
	TaskID         string
	Kind           RunKind
	EnqueueInstant time.Time
}

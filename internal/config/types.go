// Package config is CloudGather's ambient process configuration, distinct
// from the domain Global Settings that internal/store owns (OpenList
// connection, extension classes, retry count). This package only carries
// process-level knobs: timezone, log levels, data directories, the
// concurrent-run cap, and the file-stability delay.
//
// Parsing uses a strict decoder (json.Decoder.DisallowUnknownFields) fed by
// either native JSON or YAML coerced to JSON first, and a ConfigManager
// hot-reloads config via fsnotify and fans out change notifications to
// subscribers.
package config

import (
	"bytes"
	"encoding/json"
)

// Config is the ambient config.yaml document.
type Config struct {
	// Timezone applied to cron evaluation and log timestamps.
	Timezone string `json:"timezone,omitempty"`

	Logging LoggingConfig `json:"logging"`

	// DataDir holds tasks.json, settings.json and cache/*.json
	// (internal/store's document root).
	DataDir string `json:"dataDir"`
	// HistoryPath is the sqlite run-history database file (internal/history).
	HistoryPath string `json:"historyPath,omitempty"`

	// IsDocker widens default timeouts and disables the fsnotify fast path
	// for stability checks, matching "Docker bind mounts don't
	// always deliver mtime events" note.
	IsDocker bool `json:"isDocker,omitempty"`

	// StabilityDelay is how long the Directory Sync Worker waits for a file
	// size to settle before copying it ( "silent period" check). A
	// Go duration string; "0s" disables the check.
	StabilityDelay string `json:"stabilityDelay,omitempty"`

	// ConcurrentRunCap bounds the Scheduler Core's global running-set size;
	// <=0 defaults to runtime.NumCPU().
	ConcurrentRunCap int `json:"concurrentRunCap,omitempty"`
}

// LoggingConfig is the ambient logging block, mapped onto logx.Config.
type LoggingConfig struct {
	Level        string      `json:"level"`
	ConsoleLevel string      `json:"consoleLevel,omitempty"`
	Console      bool        `json:"console"`
	File         LoggingFile `json:"file"`
	Ring         LoggingRing `json:"ring"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
	// SaveDays is LOG_SAVE_DAYS, ; default 7.
	SaveDays int `json:"saveDays,omitempty"`
}

type LoggingRing struct {
	Enabled  bool `json:"enabled"`
	Capacity int  `json:"capacity,omitempty"`
}

// WithDefaults fills in the ambient defaults named in the schedule design/.
func (c *Config) WithDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.HistoryPath == "" {
		c.HistoryPath = "./data/history.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if c.Logging.File.Path == "" {
		c.Logging.File.Path = "logs/cloudgather.log"
	}
	if c.Logging.File.SaveDays <= 0 {
		c.Logging.File.SaveDays = 7
	}
	if c.Logging.Ring.Capacity <= 0 {
		c.Logging.Ring.Capacity = 1000
	}
	if c.StabilityDelay == "" {
		c.StabilityDelay = "5s"
	}
}

// UnmarshalJSON disallows unknown fields so a typo in config.yaml is caught
// at load time rather than silently ignored.
func (c *Config) UnmarshalJSON(b []byte) error {
	type tmp Config
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*c = Config(t)
	return nil
}

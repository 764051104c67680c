package config

import (
	logx "cloudgather/pkg/logx"
	"strings"
)

// SummarizeConfigChange returns a compact list of changed top-level
// sections plus safe structured attrs for a "config reloaded" log line.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	if strings.TrimSpace(oldCfg.Timezone) != strings.TrimSpace(newCfg.Timezone) {
		changed = append(changed, "timezone")
		attrs = append(attrs, logx.String("timezone", strings.TrimSpace(newCfg.Timezone)))
	}

	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.ConsoleLevel != newCfg.Logging.ConsoleLevel ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) ||
		oldCfg.Logging.File.SaveDays != newCfg.Logging.File.SaveDays ||
		oldCfg.Logging.Ring.Enabled != newCfg.Logging.Ring.Enabled {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.ring_enabled", newCfg.Logging.Ring.Enabled),
		)
	}

	if strings.TrimSpace(oldCfg.StabilityDelay) != strings.TrimSpace(newCfg.StabilityDelay) {
		changed = append(changed, "stabilityDelay")
		attrs = append(attrs, logx.String("stabilityDelay", strings.TrimSpace(newCfg.StabilityDelay)))
	}

	if oldCfg.ConcurrentRunCap != newCfg.ConcurrentRunCap {
		changed = append(changed, "concurrentRunCap")
		attrs = append(attrs, logx.Int("concurrentRunCap", newCfg.ConcurrentRunCap))
	}

	return changed, attrs
}

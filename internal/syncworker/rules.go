package syncworker

import (
	"strings"
	"time"

	"cloudgather/internal/domain"
)

// ignoreList names garbage files no sane sync policy ever wants, checked
// before the (configurable)
// suffix/size filters since it is the cheapest possible test.
var ignorePrefixes = []string{"~$", ".~", "#recycle"}
var ignoreNames = map[string]bool{
	".DS_Store": true, "Thumbs.db": true, "@eaDir": true,
}
var ignoreSuffixes = []string{".tmp", ".crdownload", ".part"}

func shouldIgnore(name string) bool {
	if ignoreNames[name] {
		return true
	}
	for _, p := range ignorePrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	for _, sfx := range ignoreSuffixes {
		if sfx != "" && strings.HasSuffix(name, sfx) {
			return true
		}
	}
	return false
}

// ext returns the lowercase, dot-stripped extension of name.
func ext(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}

// passesSuffix implements rule 1, including its extensionless-file
// carve-out: an extensionless file is treated as having the empty
// extension "".
func passesSuffix(f domain.SuffixFilter, name string) bool {
	return f.Matches(ext(name))
}

// passesSize implements rule 2: open bounds when unset.
func passesSize(f domain.SizeFilter, size int64) bool {
	if f.MinBytes != nil && size < *f.MinBytes {
		return false
	}
	if f.MaxBytes != nil && size > *f.MaxBytes {
		return false
	}
	return true
}

// mtimeTolerance is the rule-3 "+1s tolerance" on mtime comparisons.
const mtimeTolerance = 1 * time.Second

// shouldSync implements rule 3's union-of-enabled-rules decision,
// including the "no rule enabled -> behave as ruleNotExists" fallback.
func shouldSync(t *domain.SyncTask, targetExists bool, srcSize, dstSize int64, srcMtime, dstMtime time.Time) bool {
	if !t.AnyRuleEnabled() {
		return !targetExists
	}
	if t.RuleNotExists && !targetExists {
		return true
	}
	if targetExists && t.RuleSizeDiff && srcSize != dstSize {
		return true
	}
	if targetExists && t.RuleMtimeNewer && srcMtime.After(dstMtime.Add(mtimeTolerance)) {
		return true
	}
	return false
}

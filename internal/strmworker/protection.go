package strmworker

import (
	"cloudgather/internal/domain"
)

// protectionResult is the decision produced by evaluateProtection for one
// scan: either the whole deletion phase is aborted ( anti-mass-delete
// outer gate), or a set of leaves has reached graceScans and is due for
// physical deletion.
type protectionResult struct {
	Tripped    bool
	ToDelete   []string // remote relative paths whose leaf is due for deletion
}

// evaluateProtection implements the cache maintenance rule against the set
// of remote paths observed this scan. It mutates cache.Leaves in place:
// reappearing leaves have MissCount reset to 0 (a "recovery" from a
// transient remote glitch), absent leaves have MissCount incremented.
//
// When syncServer is true and the missing count exceeds threshold, the
// entire deletion phase aborts for this scan (no leaf is deleted, not even
// ones already past graceScans) rather than deleting per file up to the
// threshold. See DESIGN.md for the reasoning.
func evaluateProtection(task *domain.StrmTask, cache *domain.StrmCache, observed map[string]bool) protectionResult {
	cache.ScanCount++

	missing := make([]string, 0)
	for rel, leaf := range cache.Leaves {
		if observed[rel] {
			leaf.MissCount = 0
			leaf.LastSeenScan = cache.ScanCount
			continue
		}
		missing = append(missing, rel)
	}

	if task.SyncServerDelete && len(missing) > task.ProtectionThreshold {
		return protectionResult{Tripped: true}
	}

	var toDelete []string
	for _, rel := range missing {
		leaf := cache.Leaves[rel]
		leaf.MissCount++
		if leaf.MissCount >= task.ProtectionGraceScans {
			toDelete = append(toDelete, rel)
		}
	}
	return protectionResult{ToDelete: toDelete}
}

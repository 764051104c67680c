// Package deleteplan implements the Deletion Planner: given a
// task's delete policy and a cache entry, decides whether a source file is
// due for deletion, and how many empty parent levels may be ascended.
package deleteplan

import (
	"time"

	"cloudgather/internal/domain"
)

// Decision is the planner's output for one file.
type Decision struct {
	Delete       bool
	AscendLevels int
}

// Evaluate implements rule against a single cache entry.
func Evaluate(policy domain.DeletePolicy, entry *domain.SyncCacheEntry, now time.Time) Decision {
	if !policy.Enabled || entry == nil || entry.Status != domain.CacheSynced {
		return Decision{}
	}

	var base time.Time
	if policy.TimeBase == domain.BaseFileCreate {
		base = entry.FileCreate
	} else {
		base = entry.LastSyncInstant
	}

	var eligible bool
	if policy.DelayDays == 0 {
		eligible = true
	} else {
		eligible = !base.IsZero() && now.Sub(base) >= time.Duration(policy.DelayDays)*24*time.Hour
	}
	if !eligible {
		return Decision{}
	}

	ascend := 0
	if policy.DeleteParent {
		ascend = policy.ParentLevels
	}
	return Decision{Delete: true, AscendLevels: ascend}
}

// AscendEmptyParents walks up to levels parent directories above filePath,
// removing each as long as it is (a) within root, and (b) either empty or
// force is set. It stops at the first directory that is not removable,
// mirroring "files not yet due for deletion always veto their
// parent's removal" rule: callers only invoke this after the sibling file
// itself has actually been deleted, and IsEmptyDir naturally returns false
// while un-deleted siblings remain.
func AscendEmptyParents(root, filePath string, levels int, force bool, isWithinRoot func(dir string) bool, isEmptyDir func(dir string) (bool, error), removeDir func(dir string) error, parentOf func(p string) string) error {
	dir := parentOf(filePath)
	for i := 0; i < levels; i++ {
		if dir == "" || dir == root || !isWithinRoot(dir) {
			return nil
		}
		empty, err := isEmptyDir(dir)
		if err != nil {
			return err
		}
		if !empty && !force {
			return nil
		}
		if err := removeDir(dir); err != nil {
			return err
		}
		dir = parentOf(dir)
	}
	return nil
}

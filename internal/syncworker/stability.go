package syncworker

import (
	"context"
	"time"

	"cloudgather/internal/fsx"
)

// checkStability samples path's size, sleeps delay, and re-samples,
// reporting whether the size held steady. Driven by the STABILITY_DELAY
// environment variable, mainly useful for sources mounted over network
// filesystems where a writer can still be appending when the walk sees it.
func checkStability(ctx context.Context, fs fsx.FS, path string, delay time.Duration) (bool, error) {
	info1, err := fs.Stat(path)
	if err != nil {
		return false, err
	}
	size1 := info1.Size()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
	}

	info2, err := fs.Stat(path)
	if err != nil {
		return false, err
	}
	return info2.Size() == size1, nil
}

package fsx

import (
	"os"
	"time"
)

// BirthTime returns the filesystem's reported creation time for path where
// the platform exposes one, otherwise its modification time. Neither afero
// nor the standard library expose birth time portably (os.FileInfo only
// guarantees ModTime), so this stays on the standard library rather than
// pulling in a platform-specific creation-time package that nothing else
// in the module would use; see DESIGN.md.
func BirthTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

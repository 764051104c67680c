// Package fsx wraps github.com/spf13/afero so the sync and STRM workers
// can be exercised against an in-memory filesystem in tests while running
// against the real OS filesystem in production, and centralizes the
// write-temp-then-rename atomic-write idiom requires everywhere
// CloudGather touches disk.
package fsx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// FS is the filesystem handle threaded through the workers. Production
// code gets NewOS(); tests get NewMem().
type FS struct {
	afero.Fs
}

// NewOS returns a handle backed by the real operating system filesystem.
func NewOS() FS { return FS{Fs: afero.NewOsFs()} }

// NewMem returns an in-memory filesystem handle, for tests.
func NewMem() FS { return FS{Fs: afero.NewMemMapFs()} }

// TempSuffix is the sibling temp-file suffix used for in-flight copies and
// writes, per copy protocol ("<name>.cgpart").
const TempSuffix = ".cgpart"

// TempPath returns the sibling temp path for a final destination path.
func TempPath(final string) string { return final + TempSuffix }

// AtomicWriteFrom copies all of src into a sibling "<final>.cgpart" file,
// flushes and closes it, then renames it onto final. On any failure the
// temp file is removed. If mtime is non-zero, the final file's
// modification time is set to it after the rename, so the copy preserves
// the source's mtime as requires.
func AtomicWriteFrom(fs FS, final string, src io.Reader, mtime time.Time) error {
	dir := filepath.Dir(final)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp := TempPath(final)
	f, err := fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp %s: %w", tmp, err)
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		_ = fs.Remove(tmp)
		return fmt.Errorf("copy into %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := fs.Rename(tmp, final); err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("rename %s -> %s: %w", tmp, final, err)
	}
	if !mtime.IsZero() {
		_ = fs.Chtimes(final, mtime, mtime)
	}
	return nil
}

// AtomicWriteBytes is AtomicWriteFrom for an in-memory byte slice, used for
// .strm files and small JSON documents.
func AtomicWriteBytes(fs FS, final string, data []byte) error {
	dir := filepath.Dir(final)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp := TempPath(final)
	if err := afero.WriteFile(fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp %s: %w", tmp, err)
	}
	if err := fs.Rename(tmp, final); err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("rename %s -> %s: %w", tmp, final, err)
	}
	return nil
}

// CleanupOrphanTemps removes every "*.cgpart" file under root, invoked at
// the start of each sync run so a crash mid-copy never leaves a phantom
// SYNCED cache entry ( testable property on.cgpart temp files).
func CleanupOrphanTemps(fs FS, root string) (int, error) {
	removed := 0
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // best-effort; a transient stat error shouldn't abort the whole walk
		}
		if info.IsDir() {
			return nil
		}
		if filepath.Ext(path) == TempSuffix {
			if rmErr := fs.Remove(path); rmErr == nil {
				removed++
			}
		}
		return nil
	})
	return removed, err
}

// IsEmptyDir reports whether dir contains no entries.
func IsEmptyDir(fs FS, dir string) (bool, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// Exists reports whether path exists, swallowing stat errors as "no".
func Exists(fs FS, path string) bool {
	ok, _ := afero.Exists(fs, path)
	return ok
}

// Walk visits every path under root, reporting whether each is a
// directory. Stat errors for individual entries are skipped rather than
// aborting the whole walk, matching CleanupOrphanTemps's best-effort style.
func Walk(fs FS, root string, visit func(path string, isDir bool)) error {
	return afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		visit(path, info.IsDir())
		return nil
	})
}

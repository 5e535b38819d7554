// Package fsys is the storage seam of the logger: every component reads and
// mutates the log tree through FS, so tests can run against an in-memory tree.
package fsys

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FS is the subset of filesystem operations the logger needs. Paths are
// absolute. Open, Stat and ReadDir follow symlinks; Lstat, Rename, Remove
// and Readlink act on the link itself.
type FS interface {
	MkdirAll(path string) error
	// Create creates or truncates a regular file.
	Create(path string) (io.WriteCloser, error)
	// CreateExclusive creates a regular file and fails with fs.ErrExist when
	// anything, a dangling symlink included, already occupies path.
	CreateExclusive(path string) (io.WriteCloser, error)
	Open(path string) (io.ReadCloser, error)
	Stat(path string) (fs.FileInfo, error)
	Lstat(path string) (fs.FileInfo, error)
	// ReadDir returns the entries of a directory sorted by name.
	ReadDir(path string) ([]fs.DirEntry, error)
	Rename(oldpath, newpath string) error
	Symlink(target, link string) error
	Readlink(path string) (string, error)
	Remove(path string) error
}

// OS implements FS on the real disk.
type OS struct{}

func (OS) MkdirAll(path string) error { return os.MkdirAll(path, 0o755) }

func (OS) Create(path string) (io.WriteCloser, error) {
	// #nosec G304 -- path is derived from the configured log root.
	return os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
}

func (OS) CreateExclusive(path string) (io.WriteCloser, error) {
	// #nosec G304 -- path is derived from the configured log root.
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
}

func (OS) Open(path string) (io.ReadCloser, error) {
	// #nosec G304 -- path is derived from the configured log root.
	return os.Open(path)
}

func (OS) Stat(path string) (fs.FileInfo, error)      { return os.Stat(path) }
func (OS) Lstat(path string) (fs.FileInfo, error)     { return os.Lstat(path) }
func (OS) ReadDir(path string) ([]fs.DirEntry, error) { return os.ReadDir(path) }
func (OS) Rename(oldpath, newpath string) error       { return os.Rename(oldpath, newpath) }
func (OS) Symlink(target, link string) error          { return os.Symlink(target, link) }
func (OS) Readlink(path string) (string, error)       { return os.Readlink(path) }
func (OS) Remove(path string) error                   { return os.Remove(path) }

// Exists reports whether path resolves to an existing file or directory.
func Exists(fsys FS, path string) bool {
	_, err := fsys.Stat(path)
	return err == nil
}

// RemoveIfExists removes path and ignores a missing entry.
func RemoveIfExists(fsys FS, path string) error {
	if err := fsys.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ReplaceSymlink points link at target by creating a sibling link and
// renaming it over link, so readers never observe a missing link.
func ReplaceSymlink(fsys FS, target, link string) error {
	tmp := filepath.Join(filepath.Dir(link), "."+filepath.Base(link))
	if err := RemoveIfExists(fsys, tmp); err != nil {
		return fmt.Errorf("remove stale %s: %w", tmp, err)
	}
	if err := fsys.Symlink(target, tmp); err != nil {
		return fmt.Errorf("create link %s: %w", tmp, err)
	}
	if err := fsys.Rename(tmp, link); err != nil {
		_ = fsys.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// WriteFileAtomic writes content to a temporary sibling and renames it into place.
func WriteFileAtomic(fsys FS, path string, write func(io.Writer) error) error {
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	w, err := fsys.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	cleanup := true
	defer func() {
		if cleanup {
			_ = fsys.Remove(tmp)
		}
	}()

	if err := write(w); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := fsys.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	cleanup = false
	return nil
}

// Package chain maintains bounded most-recent histories as symlink slots.
//
// Slot k of a chain directory is named Alias repeated k times; slot 1 is the
// newest entry. Chains are not locked: concurrent rotations of the same
// directory may interleave, which is accepted for this advisory history.
package chain

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"shlog/internal/fsys"
)

const (
	// Alias is the slot name unit.
	Alias = "P"
	// Depth is the number of slots a chain keeps.
	Depth = 9
)

// Slot returns the path of slot k (1-based) in dir.
func Slot(dir string, k int) string {
	return filepath.Join(dir, strings.Repeat(Alias, k))
}

// Rotate installs target as the newest entry of the chain rooted at dir,
// evicting the oldest entry when the chain is full. All renames complete
// before the new link is created, so an interrupted rotation loses at most
// the newest entry.
func Rotate(files fsys.FS, target, dir string) error {
	if err := removeSlot(files, Slot(dir, Depth)); err != nil {
		return err
	}
	for k := Depth - 1; k >= 1; k-- {
		from := Slot(dir, k)
		if _, err := files.Lstat(from); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("stat %s: %w", from, err)
		}
		if err := files.Rename(from, Slot(dir, k+1)); err != nil {
			return fmt.Errorf("shift %s: %w", from, err)
		}
	}

	newest := Slot(dir, 1)
	// A concurrent rotation may have recreated slot 1 since the shift.
	if err := removeSlot(files, newest); err != nil {
		return err
	}
	if err := files.Symlink(target, newest); err != nil {
		return fmt.Errorf("link %s: %w", newest, err)
	}
	return nil
}

func removeSlot(files fsys.FS, slot string) error {
	if err := files.Remove(slot); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("evict %s: %w", slot, err)
	}
	return nil
}

// Slots returns the paths of the existing slots of dir, newest first.
// A missing directory has no slots.
func Slots(files fsys.FS, dir string) ([]string, error) {
	var out []string
	for k := 1; k <= Depth; k++ {
		slot := Slot(dir, k)
		if _, err := files.Lstat(slot); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", slot, err)
		}
		out = append(out, slot)
	}
	return out, nil
}

// Targets returns the link targets of the existing slots of dir, newest first.
func Targets(files fsys.FS, dir string) ([]string, error) {
	slots, err := Slots(files, dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(slots))
	for _, slot := range slots {
		target, err := files.Readlink(slot)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", slot, err)
		}
		out = append(out, target)
	}
	return out, nil
}

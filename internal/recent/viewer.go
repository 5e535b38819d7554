// Package recent reads back what was logged today: the recent sanitized
// output and the URLs and paths it mentioned.
package recent

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"go.uber.org/zap"

	"shlog/internal/chain"
	"shlog/internal/config"
	"shlog/internal/fsys"
	"shlog/internal/model"
)

// Viewer prints the sanitized logs of a chain.
type Viewer struct {
	fs  fsys.FS
	cfg config.Config
	log *zap.Logger
}

// NewViewer returns a Viewer over the tree described by cfg.
func NewViewer(files fsys.FS, cfg config.Config, log *zap.Logger) *Viewer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Viewer{fs: files, cfg: cfg, log: log}
}

// Logs writes the sanitized logs of the day chain of now, oldest first. When
// command is set, the global chain of that command is used instead. Slots
// whose log has vanished or was never sanitized are skipped.
func (v *Viewer) Logs(w io.Writer, now time.Time, command string) error {
	dir := v.cfg.DayDir(now, false)
	if command != "" {
		dir = v.cfg.CommandDir(model.CommandName(command), false)
	}

	slots, err := chain.Slots(v.fs, dir)
	if err != nil {
		return err
	}
	for i := len(slots) - 1; i >= 0; i-- {
		if err := v.copy(w, slots[i]); err != nil {
			return err
		}
	}
	return nil
}

func (v *Viewer) copy(w io.Writer, slot string) error {
	r, err := v.fs.Open(slot)
	if errors.Is(err, fs.ErrNotExist) {
		v.log.Debug("skipping dangling slot", zap.String("slot", slot))
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", slot, err)
	}
	defer r.Close()

	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copy %s: %w", slot, err)
	}
	return nil
}

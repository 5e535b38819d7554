// Package gc reclaims disk space from old or oversized logs.
package gc

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"shlog/internal/config"
	"shlog/internal/fsys"
	"shlog/internal/model"
)

// Catalog is told which logs were removed. Failures are logged, never fatal.
type Catalog interface {
	MarkDeleted(paths []string, deletedAt time.Time) error
}

// Collector classifies the logs of every date directory and, when forced,
// removes the ones worth reclaiming. Chain links pointing at removed logs are
// left in place and dangle until rotated out.
type Collector struct {
	fs      fsys.FS
	cfg     config.Config
	catalog Catalog
	log     *zap.Logger
}

// NewCollector returns a Collector. catalog may be nil.
func NewCollector(files fsys.FS, cfg config.Config, catalog Catalog, log *zap.Logger) *Collector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Collector{fs: files, cfg: cfg, catalog: catalog, log: log}
}

// Collect walks the sanitized and raw trees. Without force it only reports
// what would be reclaimed.
func (c *Collector) Collect(now time.Time, force bool) (model.Report, error) {
	var rep model.Report
	for _, base := range []string{c.cfg.Root(false), c.cfg.Root(true)} {
		if err := c.collectBase(&rep, base, now, force); err != nil {
			return rep, err
		}
	}

	if force && c.catalog != nil && len(rep.Paths) > 0 {
		if err := c.catalog.MarkDeleted(rep.Paths, now); err != nil {
			c.log.Warn("catalog update failed", zap.Int("logs", len(rep.Paths)), zap.Error(err))
		}
	}
	return rep, nil
}

func (c *Collector) collectBase(rep *model.Report, base string, now time.Time, force bool) error {
	entries, err := c.fs.ReadDir(base)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", base, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		day, ok := model.ParseDay(entry.Name(), now.Location())
		if !ok {
			continue
		}
		if err := c.collectDay(rep, filepath.Join(base, entry.Name()), now.Sub(day), force); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) collectDay(rep *model.Report, dir string, elapsed time.Duration, force bool) error {
	entries, err := c.fs.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), model.LogExt) {
			continue
		}
		info, err := entry.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("stat %s: %w", entry.Name(), err)
		}

		size := info.Size()
		rep.TotalBytes += size
		rep.TotalCount++
		if !c.reclaimable(size, elapsed) {
			continue
		}

		p := filepath.Join(dir, entry.Name())
		if force {
			err := c.fs.Remove(p)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return fmt.Errorf("remove %s: %w", p, err)
			}
			c.log.Debug("removed log", zap.String("log", p), zap.Int64("size", size))
		}
		rep.ReclaimedBytes += size
		rep.ReclaimedCount++
		rep.Paths = append(rep.Paths, p)
	}
	return nil
}

func (c *Collector) reclaimable(size int64, elapsed time.Duration) bool {
	return size > c.cfg.GC.MaxBytes ||
		(size > c.cfg.GC.StaleBytes && elapsed > c.cfg.GC.StaleAfter)
}

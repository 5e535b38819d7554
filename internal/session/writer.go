// Package session allocates log files at command start and finalizes them
// when the command returns.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"shlog/internal/capture"
	"shlog/internal/chain"
	"shlog/internal/config"
	"shlog/internal/fsys"
	"shlog/internal/model"
	"shlog/internal/sanitize"
)

// Catalog records session lifecycle events. Failures are logged, never fatal.
type Catalog interface {
	RecordSession(sess model.Session) error
	MarkEnded(rawPath string, endedAt time.Time, size int64, sanitized bool) error
}

// Writer begins and ends captured sessions.
type Writer struct {
	fs      fsys.FS
	cfg     config.Config
	mux     capture.Multiplexer
	catalog Catalog
	log     *zap.Logger
}

// NewWriter returns a Writer. mux and catalog may be nil, in which case no
// capture is driven and nothing is cataloged.
func NewWriter(files fsys.FS, cfg config.Config, mux capture.Multiplexer, catalog Catalog, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{fs: files, cfg: cfg, mux: mux, catalog: catalog, log: log}
}

// Begin allocates the raw log for commandLine, starts capture into it and
// registers it in the day and command chains. Once capture has started the
// path is returned even if a later bookkeeping step fails, so the caller can
// still end the session.
func (w *Writer) Begin(ctx context.Context, now time.Time, commandLine string) (string, error) {
	rawDay := w.cfg.DayDir(now, true)
	sanDay := w.cfg.DayDir(now, false)
	for _, dir := range []string{rawDay, sanDay} {
		if err := w.fs.MkdirAll(dir); err != nil {
			return "", fmt.Errorf("create day dir: %w", err)
		}
	}
	for _, raw := range []bool{true, false} {
		if err := fsys.ReplaceSymlink(w.fs, w.cfg.DayDir(now, raw), w.cfg.TodayLink(raw)); err != nil {
			return "", fmt.Errorf("retarget %s: %w", w.cfg.TodayLink(raw), err)
		}
	}

	logPath, err := w.allocate(rawDay, now, commandLine)
	if err != nil {
		return "", err
	}

	if w.mux != nil {
		if err := w.mux.Start(ctx, logPath); err != nil {
			return "", fmt.Errorf("start capture: %w", err)
		}
	}

	sanPath := w.cfg.Sanitized(logPath)
	if err := chain.Rotate(w.fs, logPath, rawDay); err != nil {
		return logPath, fmt.Errorf("rotate day chain: %w", err)
	}
	if err := chain.Rotate(w.fs, sanPath, sanDay); err != nil {
		return logPath, fmt.Errorf("rotate day chain: %w", err)
	}

	command := model.CommandName(commandLine)
	if command != "" {
		if err := w.index(command, logPath, rawDay); err != nil {
			return logPath, err
		}
	}

	w.log.Debug("session started",
		zap.String("log", logPath),
		zap.String("command", command))

	if w.catalog != nil {
		sess := model.Session{
			RawPath:       logPath,
			SanitizedPath: sanPath,
			Command:       command,
			CommandLine:   commandLine,
			StartedAt:     now,
		}
		if err := w.catalog.RecordSession(sess); err != nil {
			w.log.Warn("catalog record failed", zap.String("log", logPath), zap.Error(err))
		}
	}
	return logPath, nil
}

// allocate claims the first free "<clock>-<n>.log" name in dir and writes
// the command header into it. The create is exclusive so shells starting in
// the same second never share a log.
func (w *Writer) allocate(dir string, now time.Time, commandLine string) (string, error) {
	for n := 0; ; n++ {
		p := filepath.Join(dir, model.LogName(now, n))
		f, err := w.fs.CreateExclusive(p)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create log: %w", err)
		}
		if _, err := io.WriteString(f, model.Header(commandLine)); err != nil {
			_ = f.Close()
			return "", fmt.Errorf("write header: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close log: %w", err)
		}
		return p, nil
	}
}

// index links the log into the global and day-scoped command directories,
// raw and sanitized alike, and rotates each of their chains.
func (w *Writer) index(command, logPath, rawDay string) error {
	sanPath := w.cfg.Sanitized(logPath)
	for _, rawDir := range []string{w.cfg.CommandDir(command, true), filepath.Join(rawDay, command)} {
		pairs := [][2]string{
			{rawDir, logPath},
			{w.cfg.Sanitized(rawDir), sanPath},
		}
		for _, p := range pairs {
			dir, target := p[0], p[1]
			if err := w.fs.MkdirAll(dir); err != nil {
				return fmt.Errorf("create command dir: %w", err)
			}
			if err := fsys.ReplaceSymlink(w.fs, target, filepath.Join(dir, filepath.Base(target))); err != nil {
				return fmt.Errorf("link into %s: %w", dir, err)
			}
			if err := chain.Rotate(w.fs, target, dir); err != nil {
				return fmt.Errorf("rotate command chain: %w", err)
			}
		}
	}
	return nil
}

// End stops capture and sanitizes logPath unless it is too large. An empty
// or vanished logPath only stops capture.
func (w *Writer) End(ctx context.Context, now time.Time, logPath string) error {
	if w.mux != nil {
		if err := w.mux.Stop(ctx); err != nil {
			return fmt.Errorf("stop capture: %w", err)
		}
	}
	if logPath == "" {
		return nil
	}
	if !w.cfg.IsRaw(logPath) {
		return fmt.Errorf("%s is not a raw log under %s", logPath, w.cfg.RawRoot())
	}

	info, err := w.fs.Stat(logPath)
	if errors.Is(err, fs.ErrNotExist) {
		w.log.Debug("log vanished before end", zap.String("log", logPath))
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat log: %w", err)
	}

	sanitized := false
	if info.Size() < w.cfg.MaxSanitizeBytes {
		if _, err := sanitize.File(w.fs, logPath, w.cfg.Sanitized(logPath)); err != nil {
			return err
		}
		sanitized = true
	} else {
		w.log.Info("log too large to sanitize",
			zap.String("log", logPath),
			zap.Int64("size", info.Size()))
	}

	if w.catalog != nil {
		if err := w.catalog.MarkEnded(logPath, now, info.Size(), sanitized); err != nil {
			w.log.Warn("catalog update failed", zap.String("log", logPath), zap.Error(err))
		}
	}
	return nil
}

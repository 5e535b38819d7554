package recent

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"go.uber.org/zap"

	"shlog/internal/config"
	"shlog/internal/fsys"
	"shlog/internal/model"
)

var (
	urlRe  = regexp.MustCompile(`https?://[!-~]+/[!-~]+`)
	pathRe = regexp.MustCompile(`(?:^|\s)(/[!-~]+/[!-~]+)`)
)

// Extractor collects the URLs and existing absolute paths printed by the
// commands of a day.
type Extractor struct {
	fs       fsys.FS
	cfg      config.Config
	excludes []glob.Glob
	log      *zap.Logger
}

// NewExtractor compiles the excluded command patterns of cfg.
func NewExtractor(files fsys.FS, cfg config.Config, log *zap.Logger) (*Extractor, error) {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Extractor{fs: files, cfg: cfg, log: log}
	for _, pattern := range cfg.ExcludeCommands {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile exclude pattern %q: %w", pattern, err)
		}
		e.excludes = append(e.excludes, g)
	}
	return e, nil
}

// Paths returns at most limit distinct references found in the raw logs of
// the day of now. Logs are visited newest first and each log is read from its
// last line up, so the first reference returned is the most recent one. A
// non-positive limit uses the configured default.
func (e *Extractor) Paths(now time.Time, limit int) ([]model.Reference, error) {
	if limit <= 0 {
		limit = e.cfg.PathsLimit
	}

	logs, err := e.dayLogs(e.cfg.DayDir(now, true))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []model.Reference
	for _, logPath := range logs {
		refs, err := e.scan(logPath)
		if err != nil {
			return nil, err
		}
		for _, ref := range refs {
			if seen[ref.Ref] {
				continue
			}
			seen[ref.Ref] = true
			out = append(out, ref)
			if len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// dayLogs lists the regular log files of dir, newest first.
func (e *Extractor) dayLogs(dir string) ([]string, error) {
	entries, err := e.fs.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if _, _, ok := model.ParseLogName(entry.Name()); ok {
			names = append(names, entry.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool { return model.LogNameLess(names[j], names[i]) })

	out := make([]string, len(names))
	for i, name := range names {
		out[i] = filepath.Join(dir, name)
	}
	return out, nil
}

// scan returns the references of one log, last line first. Excluded and
// vanished logs yield nothing.
func (e *Extractor) scan(logPath string) ([]model.Reference, error) {
	r, err := e.fs.Open(logPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", logPath, err)
	}
	data, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", logPath, err)
	}

	lines := bytes.Split(data, []byte{'\n'})
	header := model.ParseHeader(string(lines[0]))
	command := model.ProgramName(header)
	if e.excluded(command, header) {
		e.log.Debug("skipping excluded log", zap.String("log", logPath), zap.String("command", command))
		return nil, nil
	}

	var out []model.Reference
	for i := len(lines) - 1; i >= 1; i-- {
		if ref, ok := e.match(lines[i]); ok {
			out = append(out, model.Reference{Ref: ref, Command: command, Source: logPath})
		}
	}
	return out, nil
}

func (e *Extractor) excluded(command, header string) bool {
	if e.cfg.SelfName != "" && strings.Contains(header, e.cfg.SelfName) {
		return true
	}
	for _, g := range e.excludes {
		if g.Match(command) {
			return true
		}
	}
	return false
}

// match returns the first URL of line or, failing that, its first absolute
// path if that path exists.
func (e *Extractor) match(line []byte) (string, bool) {
	if url := urlRe.Find(line); url != nil {
		return string(url), true
	}
	m := pathRe.FindSubmatch(line)
	if m == nil {
		return "", false
	}
	path := string(m[1])
	if !fsys.Exists(e.fs, path) {
		return "", false
	}
	return path, true
}

package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"shlog/internal/capture"
	"shlog/internal/config"
	"shlog/internal/fsys"
	"shlog/internal/store"
)

// app carries the process-wide collaborators. Tests replace the filesystem,
// environment, clock and external command runner.
type app struct {
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string
	now    func() time.Time
	files  fsys.FS
	run    capture.Runner

	configPath string
	dir        string
	verbose    bool

	cfg config.Config
	log *zap.Logger
}

func newApp() *app {
	return &app{
		stdout: os.Stdout,
		stderr: os.Stderr,
		getenv: os.Getenv,
		now:    time.Now,
		files:  fsys.OS{},
		run:    capture.ExecRunner,
	}
}

func main() {
	if err := newApp().rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "shlog: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "shlog",
		Short: "shlog - terminal multiplexer session logger",
		Long: `shlog records the output of every command run inside GNU screen or tmux.

Raw captures live under <dir>/RAW/<date>/, sanitized copies under <dir>/<date>/.
The nine most recent logs of each day and each command are reachable through
the P, PP, ... PPPPPPPPP symlinks. Install the shell hooks with:

  eval "$(shlog init zsh)"`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultPath(), "config file")
	root.PersistentFlags().StringVar(&a.dir, "dir", "", "log root directory (overrides config)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging on stderr")

	root.AddCommand(
		a.startCmd(),
		a.endCmd(),
		a.recentCmd(),
		a.pathsCmd(),
		a.gcCmd(),
		a.historyCmd(),
		a.initCmd(),
	)
	return root
}

// setup loads the configuration and builds the logger.
func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.dir != "" {
		cfg.Dir = a.dir
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	a.cfg = cfg

	if a.log != nil {
		return nil
	}
	log, err := newLogger(cfg.LogLevel, a.verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.log = log
	return nil
}

func newLogger(level string, verbose bool) (*zap.Logger, error) {
	logCfg := zap.NewProductionConfig()
	logCfg.Encoding = "console"
	logCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logCfg.DisableStacktrace = true

	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	logCfg.Level = lvl
	if verbose {
		logCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return logCfg.Build()
}

// openCatalog opens the session catalog, or returns nil when it is disabled
// or unavailable. Capture never fails because of the catalog; the failure is
// logged at lvl. The shell hooks pass debug so a catalog held by another
// shell stays out of the terminal.
func (a *app) openCatalog(lvl zapcore.Level) *store.Store {
	if !a.cfg.Catalog {
		return nil
	}
	st, err := a.openStore()
	if err != nil {
		a.log.Log(lvl, "catalog unavailable", zap.String("path", a.cfg.CatalogPath()), zap.Error(err))
		return nil
	}
	return st
}

func (a *app) openStore() (*store.Store, error) {
	if err := os.MkdirAll(a.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", a.cfg.Dir, err)
	}
	st, err := store.Open(a.cfg.CatalogPath())
	if err != nil {
		return nil, err
	}
	if err := st.InitSchema(); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

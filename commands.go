package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"shlog/internal/capture"
	"shlog/internal/gc"
	"shlog/internal/model"
	"shlog/internal/recent"
	"shlog/internal/session"
	"shlog/internal/store"
)

// --- Capture hooks ---

func (a *app) startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <command line...>",
		Short: "Allocate a log for a command and start capturing into it",
		Long: `Allocates the raw log for the command line, starts the multiplexer capture
and prints the log path without a trailing newline. Does nothing outside
screen or tmux, or over SSH.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runStart(cmd.Context(), strings.Join(args, " "))
		},
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func (a *app) runStart(ctx context.Context, commandLine string) error {
	mux := capture.Detect(a.getenv, a.cfg.Multiplexer, a.run)
	if mux == nil {
		a.log.Debug("not inside a multiplexer, skipping capture")
		return nil
	}

	w, done := a.writer(mux)
	defer done()

	logPath, err := w.Begin(ctx, a.now(), commandLine)
	if logPath != "" {
		fmt.Fprint(a.stdout, logPath)
	}
	return err
}

func (a *app) endCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end [log path]",
		Short: "Stop capturing and sanitize the finished log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var logPath string
			if len(args) == 1 {
				logPath = args[0]
			}
			return a.runEnd(cmd.Context(), logPath)
		},
	}
}

func (a *app) runEnd(ctx context.Context, logPath string) error {
	mux := capture.Detect(a.getenv, a.cfg.Multiplexer, a.run)
	if mux == nil {
		return nil
	}

	w, done := a.writer(mux)
	defer done()
	return w.End(ctx, a.now(), logPath)
}

// writer builds a session writer with the catalog attached when available.
func (a *app) writer(mux capture.Multiplexer) (*session.Writer, func()) {
	st := a.openCatalog(zapcore.DebugLevel)
	if st == nil {
		return session.NewWriter(a.files, a.cfg, mux, nil, a.log), func() {}
	}
	return session.NewWriter(a.files, a.cfg, mux, st, a.log), func() { st.Close() }
}

// --- Read side ---

func (a *app) recentCmd() *cobra.Command {
	var command string
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Print today's most recent sanitized logs, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return recent.NewViewer(a.files, a.cfg, a.log).Logs(a.stdout, a.now(), command)
		},
	}
	cmd.Flags().StringVarP(&command, "command", "c", "", "show the recent logs of this command instead")
	return cmd
}

func (a *app) pathsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "paths",
		Short: "List URLs and existing paths printed by today's commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := recent.NewExtractor(a.files, a.cfg, a.log)
			if err != nil {
				return err
			}
			refs, err := e.Paths(a.now(), limit)
			if err != nil {
				return err
			}
			for _, ref := range refs {
				fmt.Fprintln(a.stdout, ref)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "max references (default from config)")
	return cmd
}

// --- Maintenance ---

func (a *app) gcCmd() *cobra.Command {
	var force, list bool
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Reclaim space from large or stale logs (dry run unless -f)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cat gc.Catalog
			if force {
				if st := a.openCatalog(zapcore.WarnLevel); st != nil {
					defer st.Close()
					cat = st
				}
			}

			rep, err := gc.NewCollector(a.files, a.cfg, cat, a.log).Collect(a.now(), force)
			if err != nil {
				return err
			}
			if list {
				for _, p := range rep.Paths {
					fmt.Fprintln(a.stdout, p)
				}
			}
			if force {
				fmt.Fprintf(a.stdout, "removed %s\n", rep)
			} else {
				fmt.Fprintf(a.stdout, "will remove %s\n", rep)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "actually delete")
	cmd.Flags().BoolVarP(&list, "list", "l", false, "print each selected log")
	return cmd
}

// --- Catalog ---

func (a *app) historyCmd() *cobra.Command {
	var q store.Query
	var since, until string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List cataloged sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tf, err := model.ParseTimeFilter(since, until, a.now())
			if err != nil {
				return err
			}
			q.Time = tf

			if !a.cfg.Catalog {
				return fmt.Errorf("catalog is disabled in %s", a.configPath)
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			sessions, err := st.History(q)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(a.stdout, "No sessions.")
				return nil
			}
			printSessions(a, sessions)
			return nil
		},
	}
	cmd.Flags().IntVarP(&q.Limit, "limit", "n", 20, "max sessions")
	cmd.Flags().StringVarP(&q.Command, "command", "c", "", "only sessions of this command")
	cmd.Flags().StringVarP(&q.Pattern, "search", "s", "", "case-insensitive command line substring")
	cmd.Flags().BoolVar(&q.IncludeDeleted, "all", false, "include sessions removed by gc")
	cmd.Flags().StringVar(&since, "since", "", "start bound (2024-06-01, 2024-06-01T10:00, RFC3339, 30m, 12h, 3d, 1w)")
	cmd.Flags().StringVar(&until, "until", "", "end bound, same formats as --since")
	return cmd
}

func printSessions(a *app, sessions []model.Session) {
	for _, s := range sessions {
		size := "-"
		if s.SizeBytes != nil {
			size = model.HumanSize(*s.SizeBytes)
		}
		state := ""
		switch {
		case s.DeletedAt != nil:
			state = "  (deleted)"
		case s.EndedAt == nil:
			state = "  (running)"
		}
		fmt.Fprintf(a.stdout, "%s  %6s  %s%s\n",
			s.StartedAt.Local().Format("2006-01-02 15:04:05"), size, s.CommandLine, state)
		fmt.Fprintf(a.stdout, "    %s\n", s.SanitizedPath)
	}
}

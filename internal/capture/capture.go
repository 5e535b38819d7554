// Package capture drives the terminal multiplexer that records raw session
// bytes into the log files allocated by the session writer.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Multiplexer starts and stops recording the current pane into a file.
type Multiplexer interface {
	Name() string
	Start(ctx context.Context, path string) error
	Stop(ctx context.Context) error
}

// Runner executes an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// CommandError reports a failed multiplexer command.
type CommandError struct {
	Command []string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command failed: %s: %v", strings.Join(e.Command, " "), e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

func run(ctx context.Context, r Runner, name string, args ...string) error {
	out, err := r(ctx, name, args...)
	if err != nil {
		return &CommandError{Command: append([]string{name}, args...), Output: string(out), Err: err}
	}
	return nil
}

// Screen records through GNU screen's per-window logging.
type Screen struct {
	Run Runner
}

func (Screen) Name() string { return "screen" }

func (s Screen) Start(ctx context.Context, path string) error {
	if err := run(ctx, s.runner(), "screen", "-X", "logfile", path); err != nil {
		return err
	}
	return run(ctx, s.runner(), "screen", "-X", "log", "on")
}

func (s Screen) Stop(ctx context.Context) error {
	return run(ctx, s.runner(), "screen", "-X", "log", "off")
}

func (s Screen) runner() Runner {
	if s.Run == nil {
		return ExecRunner
	}
	return s.Run
}

// Tmux records by piping the current pane into the log file.
type Tmux struct {
	Run Runner
}

func (Tmux) Name() string { return "tmux" }

func (t Tmux) Start(ctx context.Context, path string) error {
	return run(ctx, t.runner(), "tmux", "pipe-pane", "-o", "cat >> "+shellQuote(path))
}

// Stop closes any pipe open on the current pane.
func (t Tmux) Stop(ctx context.Context) error {
	return run(ctx, t.runner(), "tmux", "pipe-pane")
}

func (t Tmux) runner() Runner {
	if t.Run == nil {
		return ExecRunner
	}
	return t.Run
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Detect returns the multiplexer the current process runs under, or nil when
// capture should be skipped: outside a multiplexer or inside an SSH session.
// preferred is "auto", "screen" or "tmux".
func Detect(getenv func(string) string, preferred string, r Runner) Multiplexer {
	if getenv("SSH_TTY") != "" {
		return nil
	}
	inTmux := getenv("TMUX") != ""
	inScreen := getenv("STY") != "" || strings.Contains(getenv("TERM"), "screen")

	switch preferred {
	case "tmux":
		if inTmux {
			return Tmux{Run: r}
		}
	case "screen":
		if inScreen && !inTmux {
			return Screen{Run: r}
		}
	default:
		if inTmux {
			return Tmux{Run: r}
		}
		if inScreen {
			return Screen{Run: r}
		}
	}
	return nil
}

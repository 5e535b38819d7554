package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"shlog/internal/fsys"
)

var clock = time.Date(2024, 6, 15, 10, 30, 5, 0, time.UTC)

type testApp struct {
	*app
	out   *bytes.Buffer
	calls []string
}

// newTestApp builds an app inside screen over files. The config file sets
// the log root to dir and enables the catalog only when asked.
func newTestApp(t *testing.T, files fsys.FS, dir string, catalog bool, env map[string]string) *testApp {
	t.Helper()
	t.Setenv("SHLOG_DIR", "")
	t.Setenv("SHLOG_MULTIPLEXER", "")

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "dir: " + dir + "\ncatalog: " + map[bool]string{true: "true", false: "false"}[catalog] + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o644))

	ta := &testApp{out: &bytes.Buffer{}}
	ta.app = &app{
		stdout:     ta.out,
		stderr:     io.Discard,
		getenv:     func(k string) string { return env[k] },
		now:        func() time.Time { return clock },
		files:      files,
		configPath: cfgPath,
		log:        zaptest.NewLogger(t),
	}
	ta.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		ta.calls = append(ta.calls, name+" "+strings.Join(args, " "))
		return nil, nil
	}
	return ta
}

func (ta *testApp) exec(args ...string) (string, error) {
	ta.out.Reset()
	cfgPath := ta.configPath
	root := ta.rootCmd()
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := root.Execute()
	return ta.out.String(), err
}

func inScreen() map[string]string { return map[string]string{"TERM": "screen-256color"} }

func readAll(t *testing.T, files fsys.FS, path string) string {
	t.Helper()
	r, err := files.Open(path)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

// --- start / end ---

func TestStart_WhenInsideScreen_ShouldPrintPathWithoutNewline(t *testing.T) {
	files := fsys.NewMem()
	ta := newTestApp(t, files, "/logs", false, inScreen())

	out, err := ta.exec("start", "ls", "-l", "--color=auto")
	require.NoError(t, err)

	assert.Equal(t, "/logs/RAW/2024-06-15/10:30:05-0.log", out)
	assert.Equal(t, "$ ls -l --color=auto\n", readAll(t, files, out))
	assert.Equal(t, []string{
		"screen -X logfile /logs/RAW/2024-06-15/10:30:05-0.log",
		"screen -X log on",
	}, ta.calls)
}

func TestStart_WhenOutsideMultiplexer_ShouldDoNothing(t *testing.T) {
	files := fsys.NewMem()
	ta := newTestApp(t, files, "/logs", false, map[string]string{"TERM": "xterm"})

	out, err := ta.exec("start", "--", "make")
	require.NoError(t, err)

	assert.Empty(t, out)
	assert.Empty(t, ta.calls)
	assert.False(t, fsys.Exists(files, "/logs"))
}

func TestStart_WhenOverSSH_ShouldDoNothing(t *testing.T) {
	ta := newTestApp(t, fsys.NewMem(), "/logs", false, map[string]string{"TERM": "screen", "SSH_TTY": "/dev/pts/1"})

	out, err := ta.exec("start", "make")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestEnd_ShouldStopCaptureAndWriteSanitizedLog(t *testing.T) {
	files := fsys.NewMem()
	ta := newTestApp(t, files, "/logs", false, inScreen())
	logPath, err := ta.exec("start", "--", "echo hi")
	require.NoError(t, err)
	w, err := files.Create(logPath)
	require.NoError(t, err)
	_, err = io.WriteString(w, "$ echo hi\n\x1b[1mhi\x1b[0m\r\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = ta.exec("end", "--", logPath)
	require.NoError(t, err)

	assert.Equal(t, "screen -X log off", ta.calls[len(ta.calls)-1])
	assert.Equal(t, "$ echo hi\nhi\n", readAll(t, files, "/logs/2024-06-15/10:30:05-0.log"))
}

func TestEnd_WhenNoPath_ShouldOnlyStopCapture(t *testing.T) {
	ta := newTestApp(t, fsys.NewMem(), "/logs", false, inScreen())

	_, err := ta.exec("end")
	require.NoError(t, err)
	assert.Equal(t, []string{"screen -X log off"}, ta.calls)
}

// --- recent / paths / gc ---

func TestRecent_ShouldPrintSanitizedLogsOldestFirst(t *testing.T) {
	files := fsys.NewMem()
	ta := newTestApp(t, files, "/logs", false, inScreen())
	for _, cmd := range []string{"first", "second"} {
		p, err := ta.exec("start", cmd)
		require.NoError(t, err)
		_, err = ta.exec("end", p)
		require.NoError(t, err)
	}

	out, err := ta.exec("recent")
	require.NoError(t, err)
	assert.Equal(t, "$ first\n$ second\n", out)

	out, err = ta.exec("recent", "-c", "second")
	require.NoError(t, err)
	assert.Equal(t, "$ second\n", out)
}

func TestPaths_ShouldPrintOneReferencePerLine(t *testing.T) {
	files := fsys.NewMem()
	ta := newTestApp(t, files, "/logs", false, inScreen())
	p, err := ta.exec("start", "git", "push")
	require.NoError(t, err)
	w, err := files.Create(p)
	require.NoError(t, err)
	_, err = io.WriteString(w, "$ git push\nremote: https://github.com/org/repo/pull/7\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	out, err := ta.exec("paths")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/org/repo/pull/7 in git@"+p+"\n", out)
}

func TestGC_ShouldDefaultToDryRun(t *testing.T) {
	files := fsys.NewMem()
	ta := newTestApp(t, files, "/logs", false, inScreen())
	require.NoError(t, files.MkdirAll("/logs/RAW/2024-05-01"))
	w, err := files.Create("/logs/RAW/2024-05-01/09:00:00-0.log")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, files.Truncate("/logs/RAW/2024-05-01/09:00:00-0.log", 5_000_000))

	out, err := ta.exec("gc")
	require.NoError(t, err)
	assert.Equal(t, "will remove 5000kB/5000k (1/1 files)\n", out)
	assert.True(t, fsys.Exists(files, "/logs/RAW/2024-05-01/09:00:00-0.log"))

	out, err = ta.exec("gc", "-f", "-l")
	require.NoError(t, err)
	assert.Equal(t, "/logs/RAW/2024-05-01/09:00:00-0.log\nremoved 5000kB/5000k (1/1 files)\n", out)
	assert.False(t, fsys.Exists(files, "/logs/RAW/2024-05-01/09:00:00-0.log"))
}

// --- init / errors ---

func TestInit_ShouldPrintShellHooks(t *testing.T) {
	ta := newTestApp(t, fsys.NewMem(), "/logs", false, nil)

	out, err := ta.exec("init", "zsh")
	require.NoError(t, err)
	assert.Contains(t, out, `export SHLOG_LOGFILE=$(shlog start -- "$1")`)
	assert.Contains(t, out, "precmd_functions+=shlog_end")

	out, err = ta.exec("init", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "trap '__shlog_begin' DEBUG")
}

// bashStub stands in for the binary in the bash hook: it appends its
// arguments to $SHLOG_CALLS and answers start with a log path.
const bashStub = `#!/bin/sh
printf '%s\n' "$*" >> "$SHLOG_CALLS"
[ "$1" = start ] && printf /logs/x.log
exit 0
`

func TestInit_WhenSourcedByInteractiveBash_ShouldStartOneSessionPerCommand(t *testing.T) {
	bash, err := exec.LookPath("bash")
	if err != nil {
		t.Skip("bash not installed")
	}
	dir := t.TempDir()
	stub := filepath.Join(dir, "shlog")
	calls := filepath.Join(dir, "calls")
	require.NoError(t, os.WriteFile(stub, []byte(bashStub), 0o755))

	ta := newTestApp(t, fsys.NewMem(), "/logs", false, nil)
	require.NoError(t, os.WriteFile(ta.configPath, []byte("dir: /logs\nself_name: "+stub+"\n"), 0o644))
	hook, err := ta.exec("init", "bash")
	require.NoError(t, err)
	hookPath := filepath.Join(dir, "hook.bash")
	require.NoError(t, os.WriteFile(hookPath, []byte(hook), 0o644))

	// Empty lines reach a prompt without running anything.
	sh := exec.Command(bash, "--norc", "--noprofile", "-i")
	sh.Stdin = strings.NewReader("source " + hookPath + "\necho hi\n\n\n\ntrue; true\n")
	sh.Env = append(os.Environ(),
		"SHLOG_CALLS="+calls, "HISTFILE=/dev/null", "HISTCONTROL=", "PROMPT_COMMAND=", "PS1=")
	out, err := sh.CombinedOutput()
	require.NoError(t, err, string(out))

	got, err := os.ReadFile(calls)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"start -- echo hi",
		"end -- /logs/x.log",
		"start -- true; true",
		"end -- /logs/x.log",
	}, strings.Split(strings.TrimSuffix(string(got), "\n"), "\n"))
}

func TestInit_WhenShellUnsupported_ShouldFail(t *testing.T) {
	ta := newTestApp(t, fsys.NewMem(), "/logs", false, nil)

	_, err := ta.exec("init", "fish")
	assert.Error(t, err)
}

func TestUnknownCommand_ShouldFail(t *testing.T) {
	ta := newTestApp(t, fsys.NewMem(), "/logs", false, nil)

	_, err := ta.exec("frobnicate")
	assert.Error(t, err)
}

func TestConfig_WhenDirRelative_ShouldFail(t *testing.T) {
	ta := newTestApp(t, fsys.NewMem(), "/logs", false, nil)

	_, err := ta.exec("--dir", "relative/logs", "recent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be absolute")
}

// --- catalog ---

func TestHistory_ShouldListCapturedSessions(t *testing.T) {
	dir := t.TempDir()
	ta := newTestApp(t, fsys.OS{}, dir, true, inScreen())

	p, err := ta.exec("start", "make", "test")
	require.NoError(t, err)
	_, err = ta.exec("end", p)
	require.NoError(t, err)

	out, err := ta.exec("history", "-c", "make")
	require.NoError(t, err)
	assert.Contains(t, out, "make test")
	assert.Contains(t, out, filepath.Join(dir, "2024-06-15", "10:30:05-0.log"))
	assert.NotContains(t, out, "(running)")

	out, err = ta.exec("history", "-s", "nothing-like-this")
	require.NoError(t, err)
	assert.Equal(t, "No sessions.\n", out)
}

func TestStartEnd_WhenCatalogUnavailable_ShouldLogAtDebugOnly(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "catalog.duckdb"), 0o755))
	ta := newTestApp(t, fsys.OS{}, dir, true, inScreen())
	core, logs := observer.New(zapcore.DebugLevel)
	ta.log = zap.New(core)

	p, err := ta.exec("start", "make")
	require.NoError(t, err)
	_, err = ta.exec("end", p)
	require.NoError(t, err)

	unavailable := logs.FilterMessage("catalog unavailable").All()
	require.Len(t, unavailable, 2)
	for _, e := range unavailable {
		assert.Equal(t, zapcore.DebugLevel, e.Level)
	}
	assert.Zero(t, logs.Filter(func(e observer.LoggedEntry) bool { return e.Level >= zapcore.WarnLevel }).Len())
}

func TestGC_WhenForcedAndCatalogUnavailable_ShouldWarn(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "catalog.duckdb"), 0o755))
	ta := newTestApp(t, fsys.OS{}, dir, true, inScreen())
	core, logs := observer.New(zapcore.DebugLevel)
	ta.log = zap.New(core)

	_, err := ta.exec("gc", "-f")
	require.NoError(t, err)

	unavailable := logs.FilterMessage("catalog unavailable").All()
	require.Len(t, unavailable, 1)
	assert.Equal(t, zapcore.WarnLevel, unavailable[0].Level)
}

func TestHistory_WhenCatalogDisabled_ShouldFail(t *testing.T) {
	ta := newTestApp(t, fsys.NewMem(), "/logs", false, nil)

	_, err := ta.exec("history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog is disabled")
}

// --- logger ---

func TestNewLogger_WhenVerbose_ShouldEnableDebug(t *testing.T) {
	log, err := newLogger("warn", true)
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))

	log, err = newLogger("warn", false)
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
}

func TestNewLogger_WhenLevelUnknown_ShouldFail(t *testing.T) {
	_, err := newLogger("loud", false)
	assert.Error(t, err)
}

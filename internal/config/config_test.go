package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Default ---

func TestDefault_ShouldRootUnderTempDir(t *testing.T) {
	c := Default()
	assert.Equal(t, filepath.Join(os.TempDir(), "shlog"), c.Dir)
	assert.Equal(t, int64(100_000_000), c.MaxSanitizeBytes)
	assert.Equal(t, []string{"wl"}, c.ExcludeCommands)
	assert.Equal(t, 100, c.PathsLimit)
	assert.Equal(t, 14*24*time.Hour, c.GC.StaleAfter)
	require.NoError(t, c.Validate())
}

// --- Load ---

func TestLoad_WhenFileMissing_ShouldReturnDefaults(t *testing.T) {
	t.Setenv("SHLOG_DIR", "")
	t.Setenv("SHLOG_MULTIPLEXER", "")

	c, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoad_WhenFileSetsFields_ShouldOverrideDefaults(t *testing.T) {
	t.Setenv("SHLOG_DIR", "")
	t.Setenv("SHLOG_MULTIPLEXER", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
dir: /var/tmp/logs
multiplexer: tmux
exclude_commands: ["wl", "less*"]
gc:
  stale_after: 72h
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/tmp/logs", c.Dir)
	assert.Equal(t, "tmux", c.Multiplexer)
	assert.Equal(t, []string{"wl", "less*"}, c.ExcludeCommands)
	assert.Equal(t, 72*time.Hour, c.GC.StaleAfter)
	assert.Equal(t, int64(1_000_000), c.GC.StaleBytes, "unset keys keep defaults")
}

func TestLoad_WhenEnvSet_ShouldOverrideFile(t *testing.T) {
	t.Setenv("SHLOG_DIR", "/srv/shlog")
	t.Setenv("SHLOG_MULTIPLEXER", "screen")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/srv/shlog", c.Dir)
	assert.Equal(t, "screen", c.Multiplexer)
}

func TestLoad_WhenYAMLInvalid_ShouldReturnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dir: [unterminated"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

// --- Validate ---

func TestValidate_WhenDirRelative_ShouldFail(t *testing.T) {
	c := Default()
	c.Dir = "logs"
	assert.Error(t, c.Validate())
}

func TestValidate_WhenMultiplexerUnknown_ShouldFail(t *testing.T) {
	c := Default()
	c.Multiplexer = "zellij"
	err := c.Validate()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "zellij"))
}

// --- Path layout ---

func TestDayDir_ShouldFormatDateUnderEachRoot(t *testing.T) {
	c := Config{Dir: "/tmp/shlog"}
	day := time.Date(2024, 3, 9, 23, 59, 0, 0, time.Local)

	assert.Equal(t, "/tmp/shlog/RAW/2024-03-09", c.DayDir(day, true))
	assert.Equal(t, "/tmp/shlog/2024-03-09", c.DayDir(day, false))
}

func TestTodayLink_ShouldLiveAtEachRoot(t *testing.T) {
	c := Config{Dir: "/tmp/shlog"}
	assert.Equal(t, "/tmp/shlog/RAW/TODAY", c.TodayLink(true))
	assert.Equal(t, "/tmp/shlog/TODAY", c.TodayLink(false))
}

func TestCommandDir_ShouldLiveAtEachRoot(t *testing.T) {
	c := Config{Dir: "/tmp/shlog"}
	assert.Equal(t, "/tmp/shlog/RAW/make", c.CommandDir("make", true))
	assert.Equal(t, "/tmp/shlog/make", c.CommandDir("make", false))
}

func TestSanitized_WhenPathUnderRaw_ShouldDropRawSegment(t *testing.T) {
	c := Config{Dir: "/tmp/shlog"}
	got := c.Sanitized("/tmp/shlog/RAW/2024-03-09/12:00:00-0.log")
	assert.Equal(t, "/tmp/shlog/2024-03-09/12:00:00-0.log", got)
	assert.True(t, c.IsRaw("/tmp/shlog/RAW/2024-03-09/12:00:00-0.log"))
}

func TestSanitized_WhenRootItselfContainsRAW_ShouldOnlySwapLayoutSegment(t *testing.T) {
	c := Config{Dir: "/data/RAW/shlog"}
	got := c.Sanitized("/data/RAW/shlog/RAW/2024-03-09/x.log")
	assert.Equal(t, "/data/RAW/shlog/2024-03-09/x.log", got)
}

func TestSanitized_WhenPathOutsideRaw_ShouldReturnUnchanged(t *testing.T) {
	c := Config{Dir: "/tmp/shlog"}
	assert.Equal(t, "/elsewhere/x.log", c.Sanitized("/elsewhere/x.log"))
	assert.False(t, c.IsRaw("/tmp/shlog/2024-03-09/x.log"))
}

func TestCatalogPath_ShouldAppendCatalogName(t *testing.T) {
	c := Config{Dir: "/tmp/shlog"}
	assert.Equal(t, "/tmp/shlog/catalog.duckdb", c.CatalogPath())
}

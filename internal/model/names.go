package model

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// LogExt is the extension of every log file.
	LogExt = ".log"
	// ClockLayout is the time layout of log file names.
	ClockLayout = "15:04:05"
	// HeaderPrefix starts the first line of every raw log.
	HeaderPrefix = "$ "
)

var (
	logNameRe = regexp.MustCompile(`^(\d\d:\d\d:\d\d)-(\d+)\.log$`)
	dayNameRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// LogName returns the file name of the n-th log started during the second of t.
func LogName(t time.Time, n int) string {
	return fmt.Sprintf("%s-%d%s", t.Format(ClockLayout), n, LogExt)
}

// ParseLogName splits a log file name into its clock part and counter.
func ParseLogName(name string) (clock string, n int, ok bool) {
	m := logNameRe.FindStringSubmatch(name)
	if m == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], n, true
}

// LogNameLess orders log names chronologically: by clock, then by counter.
// Names that do not parse sort before names that do, lexically among themselves.
func LogNameLess(a, b string) bool {
	ca, na, oka := ParseLogName(a)
	cb, nb, okb := ParseLogName(b)
	switch {
	case !oka && !okb:
		return a < b
	case !oka:
		return true
	case !okb:
		return false
	case ca != cb:
		return ca < cb
	default:
		return na < nb
	}
}

// ParseDay parses a date directory name as local midnight of that day.
func ParseDay(name string, loc *time.Location) (time.Time, bool) {
	if !dayNameRe.MatchString(name) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation("2006-01-02", name, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Header returns the first line written to a raw log.
func Header(commandLine string) string {
	return HeaderPrefix + commandLine + "\n"
}

// ParseHeader returns the command line recorded in a raw log header.
func ParseHeader(line string) string {
	line = strings.TrimRight(line, "\r\n")
	return strings.TrimPrefix(line, HeaderPrefix)
}

// ProgramName returns the program basename of a shell command line as
// typed. Leading subshell parens and whitespace are ignored. The result is
// empty for a blank command line.
func ProgramName(commandLine string) string {
	trimmed := strings.TrimLeft(commandLine, "() \t\r\n\f\v")
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return ""
	}
	return filepath.Base(fields[0])
}

// CommandName is ProgramName made safe for per-command index directories:
// names that would collide with the on-disk layout get an underscore prefix.
func CommandName(commandLine string) string {
	name := ProgramName(commandLine)
	if name != "" && reservedName(name) {
		name = "_" + name
	}
	return name
}

func reservedName(name string) bool {
	switch name {
	case ".", "..", "/", "RAW", "TODAY", ".TODAY":
		return true
	}
	if strings.Trim(name, "P") == "" {
		return true
	}
	if strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".tmp") {
		return true
	}
	return dayNameRe.MatchString(name)
}

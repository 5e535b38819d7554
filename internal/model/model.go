// Package model defines the domain types shared across the application.
package model

import (
	"fmt"
	"time"
)

// Session is one captured command, as recorded in the catalog.
type Session struct {
	ID            int64
	RawPath       string
	SanitizedPath string
	Command       string // basename of the invoked program
	CommandLine   string
	StartedAt     time.Time
	EndedAt       *time.Time
	SizeBytes     *int64
	Sanitized     bool
	DeletedAt     *time.Time
}

// Reference is a URL or existing path found in the output of a recent command.
type Reference struct {
	Ref     string
	Command string
	Source  string // raw log the reference was read from
}

func (r Reference) String() string {
	return fmt.Sprintf("%s in %s@%s", r.Ref, r.Command, r.Source)
}

// Report summarizes a garbage collection pass.
type Report struct {
	ReclaimedBytes int64
	ReclaimedCount int
	TotalBytes     int64
	TotalCount     int
	Paths          []string // logs classified for deletion
}

func (r Report) String() string {
	return fmt.Sprintf("%sB/%s (%d/%d files)",
		HumanSize(r.ReclaimedBytes), HumanSize(r.TotalBytes), r.ReclaimedCount, r.TotalCount)
}

// HumanSize renders n with at least two significant digits in the
// largest of the G, M and k units that allows it.
func HumanSize(n int64) string {
	switch {
	case n >= 10_000_000_000:
		return fmt.Sprintf("%dG", n/1_000_000_000)
	case n >= 10_000_000:
		return fmt.Sprintf("%dM", n/1_000_000)
	case n >= 10_000:
		return fmt.Sprintf("%dk", n/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

// Package store manages the DuckDB session catalog.
//
// The catalog is an index over the log tree: it is never the source of truth
// for log content, and callers treat its failures as non-fatal.
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"shlog/internal/model"

	_ "github.com/duckdb/duckdb-go/v2"
)

// Store wraps a DuckDB connection and exposes catalog operations.
type Store struct {
	db *sql.DB
}

// Open creates a new Store connected to the given DuckDB file.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open duckdb %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// InitSchema creates the catalog tables if they don't exist.
func (s *Store) InitSchema() error {
	if _, err := s.db.Exec(coreSchema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// --- Writes ---

// RecordSession inserts a session started by the session writer.
func (s *Store) RecordSession(sess model.Session) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (raw_path, sanitized_path, command, command_line, started_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (raw_path) DO NOTHING
	`, sess.RawPath, sess.SanitizedPath, sess.Command, sess.CommandLine, sess.StartedAt)
	if err != nil {
		return fmt.Errorf("record session %s: %w", sess.RawPath, err)
	}
	return nil
}

// MarkEnded stores the final size of a capture and whether it was sanitized.
func (s *Store) MarkEnded(rawPath string, endedAt time.Time, size int64, sanitized bool) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET ended_at = ?, size_bytes = ?, sanitized = ?
		WHERE raw_path = ?
	`, endedAt, size, sanitized, rawPath)
	if err != nil {
		return fmt.Errorf("mark ended %s: %w", rawPath, err)
	}
	return nil
}

// MarkDeleted flags the sessions whose raw or sanitized log was removed.
func (s *Store) MarkDeleted(paths []string, deletedAt time.Time) error {
	if len(paths) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		UPDATE sessions SET deleted_at = ?
		WHERE (raw_path = ? OR sanitized_path = ?) AND deleted_at IS NULL
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, p := range paths {
		if _, err := stmt.Exec(deletedAt, p, p); err != nil {
			return fmt.Errorf("mark deleted %s: %w", p, err)
		}
	}
	return tx.Commit()
}

// --- Queries ---

// Query selects catalog sessions.
type Query struct {
	Command        string // exact command basename; empty matches all
	Pattern        string // case-insensitive substring of the command line
	IncludeDeleted bool
	Time           *model.TimeFilter
	Limit          int
}

// History returns matching sessions, newest first.
func (s *Store) History(q Query) ([]model.Session, error) {
	var where []string
	var params []interface{}

	if q.Command != "" {
		where = append(where, "command = ?")
		params = append(params, q.Command)
	}
	if q.Pattern != "" {
		where = append(where, "command_line ILIKE ?")
		params = append(params, "%"+q.Pattern+"%")
	}
	if !q.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	timeClause, params := appendTimeClauses(q.Time, "started_at", len(where) > 0, params)

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	params = append(params, limit)

	query := fmt.Sprintf(`
		SELECT id, raw_path, sanitized_path, command, command_line, started_at,
		       ended_at, size_bytes, sanitized, deleted_at
		FROM sessions
		%s%s
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, clause, timeClause)

	rows, err := s.db.Query(query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		var r model.Session
		var endedAt, deletedAt sql.NullTime
		var size sql.NullInt64
		if err := rows.Scan(&r.ID, &r.RawPath, &r.SanitizedPath, &r.Command, &r.CommandLine,
			&r.StartedAt, &endedAt, &size, &r.Sanitized, &deletedAt); err != nil {
			return nil, err
		}
		if endedAt.Valid {
			r.EndedAt = &endedAt.Time
		}
		if size.Valid {
			r.SizeBytes = &size.Int64
		}
		if deletedAt.Valid {
			r.DeletedAt = &deletedAt.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- helpers ---

// appendTimeClauses builds SQL fragments for time filtering.
// If hasWhere is true, clauses use "AND"; otherwise the first clause uses "WHERE".
func appendTimeClauses(tf *model.TimeFilter, tsCol string, hasWhere bool, params []interface{}) (string, []interface{}) {
	if tf == nil {
		return "", params
	}

	var clauses []string
	if tf.Since != nil {
		clauses = append(clauses, fmt.Sprintf("%s >= ?", tsCol))
		params = append(params, *tf.Since)
	}
	if tf.Until != nil {
		clauses = append(clauses, fmt.Sprintf("%s <= ?", tsCol))
		params = append(params, *tf.Until)
	}

	if len(clauses) == 0 {
		return "", params
	}

	var sb strings.Builder
	for i, c := range clauses {
		if i == 0 && !hasWhere {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		sb.WriteString(c)
	}
	return sb.String(), params
}

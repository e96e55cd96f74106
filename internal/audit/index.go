// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Index is a queryable supplement to the flat audit log, used only by
// `--audit-report`. The flat log remains the authoritative record; the
// index exists so a report can filter by user, command, or time range
// without scanning the whole transcript.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (creating if necessary) a pure-Go SQLite index at path.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit index: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	session_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	user TEXT NOT NULL,
	runas_user TEXT NOT NULL,
	tty TEXT NOT NULL,
	command TEXT NOT NULL,
	success INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_user ON events(user);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Record inserts e into the index. Index failures never latch the
// flat-log writer closed; the index is a convenience, not the record
// of truth.
func (idx *Index) Record(ctx context.Context, e Event) error {
	success := 0
	if e.Success {
		success = 1
	}
	_, err := idx.db.ExecContext(ctx,
		`INSERT INTO events (timestamp, session_id, event_type, user, runas_user, tty, command, success)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.Format(time.RFC3339), e.SessionID, string(e.Type), e.User, e.RunasUser, e.TTY, e.Command, success,
	)
	if err != nil {
		return fmt.Errorf("insert audit index row: %w", err)
	}
	return nil
}

// Report is one row of a `--audit-report` query result.
type Report struct {
	Timestamp time.Time
	User      string
	RunasUser string
	Command   string
	Success   bool
}

// Query returns events for user (all users if empty) between since and
// until, most recent first.
func (idx *Index) Query(ctx context.Context, user string, since, until time.Time) ([]Report, error) {
	rows, err := idx.db.QueryContext(ctx,
		`SELECT timestamp, user, runas_user, command, success FROM events
		 WHERE (? = '' OR user = ?) AND timestamp >= ? AND timestamp <= ?
		 ORDER BY timestamp DESC`,
		user, user, since.Format(time.RFC3339), until.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query audit index: %w", err)
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		var r Report
		var ts string
		var success int
		if err := rows.Scan(&ts, &r.User, &r.RunasUser, &r.Command, &success); err != nil {
			return nil, fmt.Errorf("scan audit index row: %w", err)
		}
		r.Timestamp, _ = time.Parse(time.RFC3339, ts)
		r.Success = success != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Package statedb persists tabtint's runtime state in SQLite: the decision
// last applied to each tmux window, a history of content waits, and the
// heartbeat table daemons use to elect a single primary.
package statedb

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// FileName is the database file inside the tabtint directory.
const FileName = "state.db"

// StateDB wraps a SQLite database. Safe for concurrent use within one
// process; several processes share it through WAL mode and a busy timeout.
type StateDB struct {
	db  *sql.DB
	pid int
}

// DecisionRow is the last decision applied to a window.
type DecisionRow struct {
	WindowID  string // tmux @N
	Session   string
	Window    int
	Rule      string
	Color     string
	Hex       string
	Title     string
	Process   string
	Cwd       string
	AppliedAt time.Time
}

// WaitRow records one finished wait.
type WaitRow struct {
	ID          int64
	Target      string
	Label       string
	Pattern     string
	Outcome     string // matched, timed_out, failed, not_found, canceled
	Occurrences int
	Required    int
	Polls       int
	Elapsed     time.Duration
	StartedAt   time.Time
}

// Open creates or opens a SQLite database at dbPath with WAL mode and busy timeout.
func Open(dbPath string) (*StateDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("statedb: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}
	// One connection per process; other processes are handled by WAL and
	// the busy timeout.
	db.SetMaxOpenConns(1)

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: wal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: busy timeout: %w", err)
	}

	return &StateDB{db: db, pid: os.Getpid()}, nil
}

// Close checkpoints WAL and closes the database.
func (s *StateDB) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// Migrate creates tables if they don't exist.
func (s *StateDB) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []struct{ name, sql string }{
		{"metadata", `
			CREATE TABLE IF NOT EXISTS metadata (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`},
		{"decisions", `
			CREATE TABLE IF NOT EXISTS decisions (
				window_id  TEXT PRIMARY KEY,
				session    TEXT NOT NULL,
				window     INTEGER NOT NULL DEFAULT 0,
				rule       TEXT NOT NULL,
				color      TEXT NOT NULL,
				hex        TEXT NOT NULL,
				title      TEXT NOT NULL,
				process    TEXT NOT NULL DEFAULT '',
				cwd        TEXT NOT NULL DEFAULT '',
				applied_at INTEGER NOT NULL
			)`},
		{"waits", `
			CREATE TABLE IF NOT EXISTS waits (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				target      TEXT NOT NULL,
				label       TEXT NOT NULL DEFAULT '',
				pattern     TEXT NOT NULL,
				outcome     TEXT NOT NULL,
				occurrences INTEGER NOT NULL,
				required    INTEGER NOT NULL,
				polls       INTEGER NOT NULL,
				elapsed_ms  INTEGER NOT NULL,
				started_at  INTEGER NOT NULL
			)`},
		{"daemon heartbeats", `
			CREATE TABLE IF NOT EXISTS daemon_heartbeats (
				pid        INTEGER PRIMARY KEY,
				started    INTEGER NOT NULL,
				heartbeat  INTEGER NOT NULL,
				is_primary INTEGER NOT NULL DEFAULT 0
			)`},
	}
	for _, st := range stmts {
		if _, err := tx.Exec(st.sql); err != nil {
			return fmt.Errorf("statedb: create %s: %w", st.name, err)
		}
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("statedb: set schema version: %w", err)
	}

	return tx.Commit()
}

// --- Decisions ---

// SaveDecision inserts or replaces the decision for d.WindowID.
func (s *StateDB) SaveDecision(d *DecisionRow) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO decisions (
			window_id, session, window, rule, color, hex, title, process, cwd, applied_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.WindowID, d.Session, d.Window, d.Rule, d.Color, d.Hex, d.Title,
		d.Process, d.Cwd, d.AppliedAt.Unix(),
	)
	return err
}

// LoadDecisions returns every stored decision ordered by session and window.
func (s *StateDB) LoadDecisions() ([]*DecisionRow, error) {
	rows, err := s.db.Query(`
		SELECT window_id, session, window, rule, color, hex, title, process, cwd, applied_at
		FROM decisions ORDER BY session, window
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DecisionRow
	for rows.Next() {
		d := &DecisionRow{}
		var applied int64
		if err := rows.Scan(&d.WindowID, &d.Session, &d.Window, &d.Rule, &d.Color,
			&d.Hex, &d.Title, &d.Process, &d.Cwd, &applied); err != nil {
			return nil, err
		}
		d.AppliedAt = time.Unix(applied, 0)
		out = append(out, d)
	}
	return out, rows.Err()
}

// PruneDecisions deletes decisions for windows not in live. An empty live
// set clears the table.
func (s *StateDB) PruneDecisions(live []string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if len(live) == 0 {
		res, err = s.db.Exec("DELETE FROM decisions")
	} else {
		placeholders := strings.Repeat("?,", len(live))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, len(live))
		for i, id := range live {
			args[i] = id
		}
		res, err = s.db.Exec("DELETE FROM decisions WHERE window_id NOT IN ("+placeholders+")", args...)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Waits ---

// RecordWait appends w to the wait history and sets w.ID.
func (s *StateDB) RecordWait(w *WaitRow) error {
	res, err := s.db.Exec(`
		INSERT INTO waits (target, label, pattern, outcome, occurrences, required, polls, elapsed_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		w.Target, w.Label, w.Pattern, w.Outcome, w.Occurrences, w.Required, w.Polls,
		w.Elapsed.Milliseconds(), w.StartedAt.Unix(),
	)
	if err != nil {
		return err
	}
	w.ID, err = res.LastInsertId()
	return err
}

// RecentWaits returns up to limit waits, newest first.
func (s *StateDB) RecentWaits(limit int) ([]*WaitRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, target, label, pattern, outcome, occurrences, required, polls, elapsed_ms, started_at
		FROM waits ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*WaitRow
	for rows.Next() {
		w := &WaitRow{}
		var elapsedMS, started int64
		if err := rows.Scan(&w.ID, &w.Target, &w.Label, &w.Pattern, &w.Outcome,
			&w.Occurrences, &w.Required, &w.Polls, &elapsedMS, &started); err != nil {
			return nil, err
		}
		w.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		w.StartedAt = time.Unix(started, 0)
		out = append(out, w)
	}
	return out, rows.Err()
}

// TrimWaits keeps only the newest keep rows.
func (s *StateDB) TrimWaits(keep int) error {
	_, err := s.db.Exec(`
		DELETE FROM waits WHERE id NOT IN (SELECT id FROM waits ORDER BY id DESC LIMIT ?)
	`, keep)
	return err
}

// --- Heartbeat ---

// RegisterDaemon records this process as a running daemon.
func (s *StateDB) RegisterDaemon() error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO daemon_heartbeats (pid, started, heartbeat, is_primary)
		VALUES (?, ?, ?, 0)
	`, s.pid, now, now)
	return err
}

// Heartbeat updates the heartbeat timestamp for this process.
func (s *StateDB) Heartbeat() error {
	_, err := s.db.Exec(
		"UPDATE daemon_heartbeats SET heartbeat = ? WHERE pid = ?",
		time.Now().Unix(), s.pid,
	)
	return err
}

// UnregisterDaemon removes this process from the heartbeat table.
func (s *StateDB) UnregisterDaemon() error {
	_, err := s.db.Exec("DELETE FROM daemon_heartbeats WHERE pid = ?", s.pid)
	return err
}

// CleanDeadDaemons removes heartbeat entries that haven't been updated within timeout.
func (s *StateDB) CleanDeadDaemons(timeout time.Duration) error {
	cutoff := time.Now().Add(-timeout).Unix()
	_, err := s.db.Exec("DELETE FROM daemon_heartbeats WHERE heartbeat < ?", cutoff)
	return err
}

// --- Primary Election ---

// ElectPrimary attempts to make this daemon the primary. It returns true if
// this process is now (or already was) the primary. Stale primaries are
// cleared and the claim is made in one transaction.
func (s *StateDB) ElectPrimary(timeout time.Duration) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("statedb: begin elect: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := time.Now().Add(-timeout).Unix()

	if _, err := tx.Exec(
		"UPDATE daemon_heartbeats SET is_primary = 0 WHERE heartbeat < ? AND is_primary = 1",
		cutoff,
	); err != nil {
		return false, fmt.Errorf("statedb: clear stale primary: %w", err)
	}

	var existingPID int
	err = tx.QueryRow(
		"SELECT pid FROM daemon_heartbeats WHERE is_primary = 1 AND heartbeat >= ? LIMIT 1",
		cutoff,
	).Scan(&existingPID)
	switch {
	case err == nil:
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("statedb: commit elect: %w", err)
		}
		return existingPID == s.pid, nil
	case !errors.Is(err, sql.ErrNoRows):
		return false, fmt.Errorf("statedb: read primary: %w", err)
	}

	if _, err := tx.Exec(
		"UPDATE daemon_heartbeats SET is_primary = 1 WHERE pid = ?",
		s.pid,
	); err != nil {
		return false, fmt.Errorf("statedb: claim primary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("statedb: commit elect: %w", err)
	}
	return true, nil
}

// ResignPrimary clears the is_primary flag for this process.
func (s *StateDB) ResignPrimary() error {
	_, err := s.db.Exec(
		"UPDATE daemon_heartbeats SET is_primary = 0 WHERE pid = ?",
		s.pid,
	)
	return err
}

// --- Metadata ---

// SetMeta stores value under key, replacing any previous value. The daemon
// keeps the identity of the tmux server its decisions belong to here.
func (s *StateDB) SetMeta(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("statedb: set %s: %w", key, err)
	}
	return nil
}

// GetMeta returns the value stored under key, or "" when unset.
func (s *StateDB) GetMeta(key string) (string, error) {
	var value string
	switch err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value); {
	case errors.Is(err, sql.ErrNoRows):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("statedb: get %s: %w", key, err)
	}
	return value, nil
}

// Package store provides SQLite-backed persistence for vdt session data.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dairui1/vdt/internal/fault"
	"github.com/dairui1/vdt/internal/model"

	_ "modernc.org/sqlite"
)

const schemaVersion = 2

// SQLiteStore implements Store using a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at dbPath.
// It auto-creates the parent directory (e.g. .vdt/) and runs
// schema migrations to ensure the database is up to date.
func New(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single connection for WAL mode simplicity.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate runs schema migrations up to the current version.
func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create version table: %w", err)
	}

	var ver int
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&ver)
	if err == sql.ErrNoRows {
		ver = 0
	} else if err != nil {
		return fmt.Errorf("read version: %w", err)
	}

	if ver < 1 {
		if err := s.migrateV1(); err != nil {
			return err
		}
	}

	if ver < 2 {
		if err := s.migrateV2(); err != nil {
			return err
		}
	}

	return nil
}

func (s *SQLiteStore) migrateV1() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			repo_root  TEXT,
			note       TEXT,
			ttl_days   INTEGER NOT NULL DEFAULT 7,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at)`,
		`CREATE TABLE IF NOT EXISTS session_errors (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			tool       TEXT NOT NULL,
			code       TEXT NOT NULL,
			message    TEXT NOT NULL,
			timestamp  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_errors_session ON session_errors(session_id)`,
		`INSERT INTO schema_version (version) VALUES (1)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate v1: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) migrateV2() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reasoner_attempts (
			id          TEXT PRIMARY KEY,
			session_id  TEXT,
			task        TEXT NOT NULL,
			backend     TEXT NOT NULL,
			attempt     INTEGER NOT NULL,
			fallback    INTEGER NOT NULL DEFAULT 0,
			ok          INTEGER NOT NULL DEFAULT 0,
			code        TEXT,
			error       TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			started_at  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_session ON reasoner_attempts(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_backend ON reasoner_attempts(backend)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_started_at ON reasoner_attempts(started_at)`,
		`UPDATE schema_version SET version = 2`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate v2: %w", err)
		}
	}
	return nil
}

// CreateSession persists a new session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess model.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, repo_root, note, ttl_days, created_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID,
		nullableString(sess.RepoRoot),
		nullableString(sess.Note),
		sess.TTLDays,
		sess.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession returns a session by id, or nil if not found.
func (s *SQLiteStore) GetSession(ctx context.Context, sid string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, repo_root, note, ttl_days, created_at FROM sessions WHERE id = ?`, sid)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListSessions returns sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, opts SessionOpts) ([]model.Session, error) {
	query := "SELECT id, repo_root, note, ttl_days, created_at FROM sessions WHERE 1=1"
	var args []any
	if !opts.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, opts.Since.UTC().Format(time.RFC3339Nano))
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (model.Session, error) {
	var sess model.Session
	var repoRoot, note sql.NullString
	var ts string
	if err := sc.Scan(&sess.ID, &repoRoot, &note, &sess.TTLDays, &ts); err != nil {
		if err == sql.ErrNoRows {
			return sess, err
		}
		return sess, fmt.Errorf("scan session: %w", err)
	}
	sess.RepoRoot = repoRoot.String
	sess.Note = note.String
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return sess, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	sess.CreatedAt = t
	return sess, nil
}

// AppendError adds an entry to a session's error log.
func (s *SQLiteStore) AppendError(ctx context.Context, e model.SessionError) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_errors (session_id, tool, code, message, timestamp) VALUES (?, ?, ?, ?, ?)`,
		e.SessionID, e.Tool, e.Code, e.Message, e.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert session error: %w", err)
	}
	return nil
}

// ListErrors returns a session's error log, oldest first.
func (s *SQLiteStore) ListErrors(ctx context.Context, sid string, limit int) ([]model.SessionError, error) {
	query := `SELECT session_id, tool, code, message, timestamp FROM session_errors
		WHERE session_id = ? ORDER BY id ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, sid)
	if err != nil {
		return nil, fmt.Errorf("list session errors: %w", err)
	}
	defer rows.Close()

	var out []model.SessionError
	for rows.Next() {
		var e model.SessionError
		var ts string
		if err := rows.Scan(&e.SessionID, &e.Tool, &e.Code, &e.Message, &ts); err != nil {
			return nil, fmt.Errorf("scan session error: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordAttempt persists a single reasoner driver attempt.
func (s *SQLiteStore) RecordAttempt(ctx context.Context, a model.Attempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reasoner_attempts (id, session_id, task, backend, attempt, fallback, ok, code, error, duration_ms, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		nullableString(a.SessionID),
		a.Task,
		a.Backend,
		a.Number,
		boolToInt(a.Fallback),
		boolToInt(a.OK),
		nullableString(a.Code),
		nullableString(a.Error),
		a.DurationMS,
		a.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// ListAttempts returns attempts matching the given options, newest first.
func (s *SQLiteStore) ListAttempts(ctx context.Context, opts AttemptOpts) ([]model.Attempt, error) {
	query := `SELECT id, session_id, task, backend, attempt, fallback, ok, code, error, duration_ms, started_at
		FROM reasoner_attempts WHERE 1=1`
	var args []any
	if opts.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, opts.SessionID)
	}
	if opts.Backend != "" {
		query += " AND backend = ?"
		args = append(args, opts.Backend)
	}
	if opts.Task != "" {
		query += " AND task = ?"
		args = append(args, opts.Task)
	}
	query += " ORDER BY started_at DESC, attempt DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []model.Attempt
	for rows.Next() {
		var a model.Attempt
		var sid, code, errMsg sql.NullString
		var fallback, ok int
		if err := rows.Scan(&a.ID, &sid, &a.Task, &a.Backend, &a.Number, &fallback, &ok, &code, &errMsg, &a.DurationMS, &a.StartedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.SessionID = sid.String
		a.Code = code.String
		a.Error = errMsg.String
		a.Fallback = fallback != 0
		a.OK = ok != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

// BackendStats aggregates the attempt history per backend, most used first.
func (s *SQLiteStore) BackendStats(ctx context.Context, since time.Time) ([]BackendStat, error) {
	query := `SELECT
		backend,
		COUNT(*) AS cnt,
		SUM(ok),
		SUM(fallback),
		SUM(CASE WHEN code = ? THEN 1 ELSE 0 END),
		AVG(duration_ms),
		MAX(started_at)
	FROM reasoner_attempts`
	args := []any{string(fault.BackendTimeout)}
	if !since.IsZero() {
		query += " WHERE started_at >= ?"
		args = append(args, since.UTC().Format(time.RFC3339Nano))
	}
	query += " GROUP BY backend ORDER BY cnt DESC, backend ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("backend stats: %w", err)
	}
	defer rows.Close()

	var out []BackendStat
	for rows.Next() {
		var b BackendStat
		var last string
		if err := rows.Scan(&b.Backend, &b.Attempts, &b.Succeeded, &b.Fallbacks, &b.Timeouts, &b.AvgMS, &last); err != nil {
			return nil, fmt.Errorf("scan backend stat: %w", err)
		}
		b.Failed = b.Attempts - b.Succeeded
		b.LastUsedAt, _ = time.Parse(time.RFC3339Nano, last)
		out = append(out, b)
	}
	return out, rows.Err()
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// boolToInt converts a bool to an integer for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullableString returns nil for empty strings, otherwise the string value.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tjfontaine/agent-relay-gateway/internal/domain"
	"github.com/tjfontaine/agent-relay-gateway/internal/storage"
)

// Store is a SQLite implementation of SessionStore
type Store struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

var _ storage.SessionStore = (*Store)(nil)

// New creates a new SQLite store
func New(dbPath string, ttl time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db, ttl: ttl, now: time.Now}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			report_generated INTEGER NOT NULL DEFAULT 0,
			last_report_time INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) InitSession(ctx context.Context, sessionID string) error {
	rec := storage.NewRecord(sessionID, s.now(), s.ttl)

	query := `INSERT INTO sessions (session_id, report_generated, last_report_time, created_at, updated_at, expires_at)
		VALUES (?, 0, 0, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			report_generated = 0,
			last_report_time = 0,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`

	if _, err := s.db.ExecContext(ctx, query, rec.SessionID, rec.CreatedAt, rec.UpdatedAt, rec.ExpiresAt); err != nil {
		return wrapErr("init session", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*domain.ReportRecord, error) {
	query := `SELECT session_id, report_generated, last_report_time, created_at, updated_at, expires_at
		FROM sessions WHERE session_id = ?`

	var (
		rec       domain.ReportRecord
		generated int
	)
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&rec.SessionID, &generated, &rec.LastReportTime, &rec.CreatedAt, &rec.UpdatedAt, &rec.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("get session", err)
	}

	rec.ReportGenerated = generated != 0
	if storage.Expired(&rec, s.now()) {
		return nil, storage.ErrNotFound
	}
	return &rec, nil
}

func (s *Store) MarkReportGenerated(ctx context.Context, sessionID string, at time.Time) error {
	query := `UPDATE sessions SET report_generated = 1, last_report_time = ?, updated_at = ?
		WHERE session_id = ? AND (expires_at = 0 OR expires_at > ?)`

	now := s.now().Unix()
	res, err := s.db.ExecContext(ctx, query, at.Unix(), now, sessionID, now)
	if err != nil {
		return wrapErr("mark report generated", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr("mark report generated", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteExpired removes records past their TTL and returns how many went.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at > 0 AND expires_at <= ?`, s.now().Unix())
	if err != nil {
		return 0, wrapErr("delete expired", err)
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// wrapErr maps a dropped sessions table to ErrNotReady.
func wrapErr(op string, err error) error {
	if strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("%s: %w", op, storage.ErrNotReady)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

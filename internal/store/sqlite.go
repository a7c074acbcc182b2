package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ SessionStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	token             TEXT NOT NULL,
	hash              TEXT NOT NULL,
	issued_at         INTEGER NOT NULL,
	expires_at        INTEGER NOT NULL,
	last_refresh_at   INTEGER,
	active            INTEGER NOT NULL DEFAULT 1,
	deactivate_reason TEXT NOT NULL DEFAULT '',
	deactivated_at    INTEGER
);
`

// SQLiteStore implements SessionStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordSession inserts a new active session and returns its row ID.
func (s *SQLiteStore) RecordSession(ctx context.Context, token, hash string, issuedAt, expiresAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (token, hash, issued_at, expires_at, active) VALUES (?, ?, ?, ?, 1)`,
		token, hash, issuedAt.UnixMilli(), expiresAt.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecordRefresh stamps the last refresh time and the extended expiry.
func (s *SQLiteStore) RecordRefresh(ctx context.Context, id int64, refreshedAt, newExpiry time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_refresh_at = ?, expires_at = ? WHERE id = ?`,
		refreshedAt.UnixMilli(), newExpiry.UnixMilli(), id)
	return err
}

// DeactivateSession marks a session inactive with the reason it ended.
func (s *SQLiteStore) DeactivateSession(ctx context.Context, id int64, reason string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET active = 0, deactivate_reason = ?, deactivated_at = ? WHERE id = ?`,
		reason, at.UnixMilli(), id)
	return err
}

// ListSessions returns the most recent sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, token, hash, issued_at, expires_at, last_refresh_at, active, deactivate_reason, deactivated_at
		 FROM sessions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var (
			rec                      SessionRecord
			issuedAt, expiresAt      int64
			lastRefresh, deactivated sql.NullInt64
			active                   int
		)
		if err := rows.Scan(&rec.ID, &rec.Token, &rec.Hash, &issuedAt, &expiresAt,
			&lastRefresh, &active, &rec.DeactivateReason, &deactivated); err != nil {
			return nil, err
		}
		rec.IssuedAt = time.UnixMilli(issuedAt)
		rec.ExpiresAt = time.UnixMilli(expiresAt)
		rec.Active = active == 1
		if lastRefresh.Valid {
			t := time.UnixMilli(lastRefresh.Int64)
			rec.LastRefreshAt = &t
		}
		if deactivated.Valid {
			t := time.UnixMilli(deactivated.Int64)
			rec.DeactivatedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

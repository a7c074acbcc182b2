// Package store persists session lifecycle audit records.
package store

import (
	"context"
	"time"
)

// SessionRecord is one audited session, from establishment to deactivation.
type SessionRecord struct {
	ID               int64
	Token            string
	Hash             string
	IssuedAt         time.Time
	ExpiresAt        time.Time
	LastRefreshAt    *time.Time
	Active           bool
	DeactivateReason string
	DeactivatedAt    *time.Time
}

// SessionStore is the persistence surface for session audit records.
type SessionStore interface {
	RecordSession(ctx context.Context, token, hash string, issuedAt, expiresAt time.Time) (int64, error)
	RecordRefresh(ctx context.Context, id int64, refreshedAt, newExpiry time.Time) error
	DeactivateSession(ctx context.Context, id int64, reason string, at time.Time) error
	ListSessions(ctx context.Context, limit int) ([]SessionRecord, error)
	Close() error
}

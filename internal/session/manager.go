// Package session manages the authenticated brokerage session: login,
// keepalive heartbeats, proactive token refresh, and teardown.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bistbroker/internal/algolab"
	"bistbroker/internal/util"
)

// API is the slice of the brokerage client the manager drives.
type API interface {
	Login(ctx context.Context, username, password string) (algolab.LoginResult, error)
	RefreshSession(ctx context.Context, creds algolab.Credentials) (time.Time, error)
	Heartbeat(ctx context.Context, creds algolab.Credentials) error
	Logout(ctx context.Context, creds algolab.Credentials) error
}

var _ API = (*algolab.Client)(nil)

// AuditStore records session lifecycle transitions for later inspection.
// The manager treats it as best-effort: audit failures are logged, never
// propagated.
type AuditStore interface {
	RecordSession(ctx context.Context, token, hash string, issuedAt, expiresAt time.Time) (int64, error)
	RecordRefresh(ctx context.Context, id int64, refreshedAt, newExpiry time.Time) error
	DeactivateSession(ctx context.Context, id int64, reason string, at time.Time) error
}

// Session is the manager's view of one authenticated session.
type Session struct {
	Token         string
	Hash          string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	LastRefreshAt time.Time
	Active        bool
}

// Config controls the session lifecycle timers.
type Config struct {
	HeartbeatInterval   time.Duration
	HeartbeatMaxRetries int
	HeartbeatBackoff    time.Duration // step of the linear retry backoff
	RefreshBuffer       time.Duration // refresh fires this long before expiry
}

// Manager owns at most one live session at a time. Authenticate replaces any
// existing session; heartbeat exhaustion, refresh failure, expiry, or an
// explicit Logout all deactivate it. All methods are safe for concurrent use.
type Manager struct {
	api   API
	audit AuditStore
	cfg   Config
	log   *slog.Logger

	mu      sync.Mutex
	cur     *Session
	auditID int64
	cancel  context.CancelFunc
	refresh *time.Timer
}

// NewManager builds a Manager. audit may be nil. Unset timing fields fall
// back to safe defaults so a partial Config never produces a zero-interval
// ticker.
func NewManager(api API, audit AuditStore, cfg Config, log *slog.Logger) *Manager {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.HeartbeatMaxRetries <= 0 {
		cfg.HeartbeatMaxRetries = 3
	}
	if cfg.HeartbeatBackoff <= 0 {
		cfg.HeartbeatBackoff = time.Second
	}
	return &Manager{api: api, audit: audit, cfg: cfg, log: log}
}

// Authenticate logs in, stores the session, and starts the heartbeat loop
// and the refresh timer. An already-active session is torn down first.
func (m *Manager) Authenticate(ctx context.Context, username, password string) error {
	res, err := m.api.Login(ctx, username, password)
	if err != nil {
		return algolab.Classify(err)
	}

	m.mu.Lock()
	if m.cur != nil && m.cur.Active {
		m.teardownLocked("REPLACED")
	}

	now := time.Now()
	m.cur = &Session{
		Token:     res.Token,
		Hash:      res.Hash,
		IssuedAt:  now,
		ExpiresAt: res.ExpiresAt,
		Active:    true,
	}
	m.auditID = 0
	if m.audit != nil {
		id, err := m.audit.RecordSession(ctx, res.Token, res.Hash, now, res.ExpiresAt)
		if err != nil {
			m.log.Warn("recording session audit failed", "err", err)
		} else {
			m.auditID = id
		}
	}

	hbCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.scheduleRefreshLocked()
	m.mu.Unlock()

	go m.heartbeatLoop(hbCtx)

	m.log.Info("session established", "expires_at", res.ExpiresAt)
	return nil
}

// IsAuthenticated reports whether a non-expired active session exists.
func (m *Manager) IsAuthenticated() bool {
	_, err := m.Credentials()
	return err == nil
}

// Credentials returns the live session credentials, or an authentication
// error when no active, unexpired session exists.
func (m *Manager) Credentials() (algolab.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur == nil || !m.cur.Active || !time.Now().Before(m.cur.ExpiresAt) {
		return algolab.Credentials{}, algolab.NewError(algolab.KindAuthentication, "not authenticated")
	}
	return algolab.Credentials{Token: m.cur.Token, Hash: m.cur.Hash}, nil
}

// Token returns the current session token, if any.
func (m *Manager) Token() (string, bool) {
	creds, err := m.Credentials()
	if err != nil {
		return "", false
	}
	return creds.Token, true
}

// Current returns a copy of the current session for observability. The
// second return is false when no session has ever been established.
func (m *Manager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return Session{}, false
	}
	return *m.cur, true
}

// Logout deactivates the session, stops the heartbeat and refresh timers,
// and best-effort invalidates the token server-side. Calling it with no
// active session is a no-op.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	if m.cur == nil || !m.cur.Active {
		m.mu.Unlock()
		return nil
	}
	creds := algolab.Credentials{Token: m.cur.Token, Hash: m.cur.Hash}
	m.teardownLocked("LOGOUT")
	m.mu.Unlock()

	if err := m.api.Logout(ctx, creds); err != nil {
		m.log.Warn("remote logout failed", "err", err)
	}
	m.log.Info("session closed")
	return nil
}

// ---------------------------------------------------------------------------
// Background lifecycle
// ---------------------------------------------------------------------------

func (m *Manager) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			creds, err := m.Credentials()
			if err != nil {
				m.deactivate("EXPIRED")
				return
			}

			hbErr := util.RetryLinear(ctx, m.cfg.HeartbeatMaxRetries, m.cfg.HeartbeatBackoff, func() error {
				return m.api.Heartbeat(ctx, creds)
			})
			if hbErr != nil {
				if ctx.Err() != nil {
					return
				}
				m.log.Error("heartbeat retries exhausted, closing session", "err", hbErr)
				m.Logout(context.Background())
				return
			}
		}
	}
}

func (m *Manager) scheduleRefreshLocked() {
	d := time.Until(m.cur.ExpiresAt) - m.cfg.RefreshBuffer
	if d < 0 {
		d = 0
	}
	m.refresh = time.AfterFunc(d, m.refreshSession)
}

// refreshSession runs once per scheduled refresh point. Success extends the
// session and schedules the next refresh; any failure deactivates the
// session immediately so callers never operate on a token about to expire.
func (m *Manager) refreshSession() {
	m.mu.Lock()
	if m.cur == nil || !m.cur.Active {
		m.mu.Unlock()
		return
	}
	creds := algolab.Credentials{Token: m.cur.Token, Hash: m.cur.Hash}
	m.mu.Unlock()

	newExpiry, err := m.api.RefreshSession(context.Background(), creds)
	if err != nil {
		m.log.Error("session refresh failed, deactivating", "err", err)
		m.deactivate("REFRESH_FAILED")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil || !m.cur.Active {
		return
	}
	now := time.Now()
	m.cur.ExpiresAt = newExpiry
	m.cur.LastRefreshAt = now
	if m.audit != nil && m.auditID != 0 {
		if err := m.audit.RecordRefresh(context.Background(), m.auditID, now, newExpiry); err != nil {
			m.log.Warn("recording refresh audit failed", "err", err)
		}
	}
	m.scheduleRefreshLocked()
	m.log.Info("session refreshed", "expires_at", newExpiry)
}

func (m *Manager) deactivate(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != nil && m.cur.Active {
		m.teardownLocked(reason)
	}
}

// teardownLocked marks the session inactive and stops both the heartbeat
// loop and the refresh timer under the same lock, so no background work can
// observe a half-closed session.
func (m *Manager) teardownLocked(reason string) {
	m.cur.Active = false
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.refresh != nil {
		m.refresh.Stop()
		m.refresh = nil
	}
	if m.audit != nil && m.auditID != 0 {
		if err := m.audit.DeactivateSession(context.Background(), m.auditID, reason, time.Now()); err != nil {
			m.log.Warn("recording deactivation audit failed", "err", err)
		}
	}
}

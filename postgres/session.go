package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/meikuraledutech/fluxflow/gateway"
)

// SessionStore adapts PGStore to gateway.SessionStore. Bindings past their
// expiry are treated as absent.
type SessionStore struct {
	s   *PGStore
	ttl time.Duration
}

// Sessions returns a session store sharing the pool. A zero ttl never
// expires bindings.
func (s *PGStore) Sessions(ttl time.Duration) *SessionStore {
	return &SessionStore{s: s, ttl: ttl}
}

// Get returns nil, nil if the session has no live binding.
func (ss *SessionStore) Get(ctx context.Context, sessionID string) (*gateway.Binding, error) {
	var b gateway.Binding
	err := ss.s.db.QueryRow(ctx,
		`SELECT credential, username, created_at FROM fluxflow_sessions
		 WHERE id = $1 AND (expires_at IS NULL OR expires_at > NOW())`, sessionID,
	).Scan(&b.Credential, &b.Username, &b.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fluxflow: get session: %w", err)
	}
	return &b, nil
}

// Set creates or replaces the binding for sessionID.
func (ss *SessionStore) Set(ctx context.Context, sessionID string, b gateway.Binding) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	var expires *time.Time
	if ss.ttl > 0 {
		t := b.CreatedAt.Add(ss.ttl)
		expires = &t
	}
	_, err := ss.s.db.Exec(ctx,
		`INSERT INTO fluxflow_sessions (id, credential, username, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		     credential = EXCLUDED.credential,
		     username   = EXCLUDED.username,
		     created_at = EXCLUDED.created_at,
		     expires_at = EXCLUDED.expires_at`,
		sessionID, b.Credential, b.Username, b.CreatedAt, expires,
	)
	if err != nil {
		return fmt.Errorf("fluxflow: set session: %w", err)
	}
	return nil
}

// Delete removes the binding. No error if none exists.
func (ss *SessionStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := ss.s.db.Exec(ctx, `DELETE FROM fluxflow_sessions WHERE id = $1`, sessionID); err != nil {
		return fmt.Errorf("fluxflow: delete session: %w", err)
	}
	return nil
}

// PurgeExpired deletes expired bindings and returns how many were removed.
func (ss *SessionStore) PurgeExpired(ctx context.Context) (int64, error) {
	ct, err := ss.s.db.Exec(ctx, `DELETE FROM fluxflow_sessions WHERE expires_at IS NOT NULL AND expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("fluxflow: purge sessions: %w", err)
	}
	return ct.RowsAffected(), nil
}

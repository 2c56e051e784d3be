package postgres

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS fluxflow_kv (
    key        TEXT PRIMARY KEY,
    value      JSONB NOT NULL DEFAULT '[]',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS fluxflow_sessions (
    id         TEXT PRIMARY KEY,
    credential TEXT NOT NULL,
    username   TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    expires_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_fluxflow_sessions_expires ON fluxflow_sessions(expires_at);
`

// CreateSchema creates the fluxflow_kv and fluxflow_sessions tables if they
// don't exist.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// DropSchema drops both tables.
func (s *PGStore) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS fluxflow_sessions, fluxflow_kv CASCADE;`)
	return err
}

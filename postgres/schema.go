package postgres

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS pipelines (
    id         TEXT PRIMARY KEY,
    document   JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_pipelines_updated_at ON pipelines(updated_at);
`

// CreateSchema creates the pipelines table if it doesn't exist.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// DropSchema drops the pipelines table.
func (s *PGStore) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS pipelines CASCADE;`)
	return err
}

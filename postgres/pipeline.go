package postgres

import (
	"bytes"
	"context"
	"fmt"

	"github.com/meikuraledutech/pipeline"
)

// SavePipeline stores doc under id, replacing any previous document.
// Documents whose edges reference unknown nodes or form a cycle are refused.
func (s *PGStore) SavePipeline(ctx context.Context, id string, doc *pipeline.Document) error {
	if err := doc.CheckAcyclic(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := doc.Write(&buf); err != nil {
		return err
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO pipelines (id, document) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document, updated_at = NOW()`,
		id, buf.String(),
	)
	if err != nil {
		return fmt.Errorf("pipeline: save %s: %w", id, err)
	}
	return nil
}

// GetPipeline fetches the document stored under id.
// Returns nil, nil if not found.
func (s *PGStore) GetPipeline(ctx context.Context, id string) (*pipeline.Document, error) {
	var raw []byte
	err := s.db.QueryRow(ctx,
		`SELECT document FROM pipelines WHERE id = $1`, id,
	).Scan(&raw)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("pipeline: get %s: %w", id, err)
	}

	return pipeline.ReadDocument(bytes.NewReader(raw))
}

// ListPipelines returns every stored id, ordered by id.
// Returns an empty slice (not nil) if none found.
func (s *PGStore) ListPipelines(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM pipelines ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("pipeline: list: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pipeline: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pipeline: rows: %w", err)
	}
	return ids, nil
}

// DeletePipeline removes the document stored under id.
// No error if it doesn't exist.
func (s *PGStore) DeletePipeline(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM pipelines WHERE id = $1`, id); err != nil {
		return fmt.Errorf("pipeline: delete %s: %w", id, err)
	}
	return nil
}

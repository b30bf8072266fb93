package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/meikuraledutech/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStore connects to PIPECTL_TEST_DATABASE_URL and starts from an empty
// schema. Tests are skipped without it.
func newStore(t *testing.T) *PGStore {
	t.Helper()
	url := os.Getenv("PIPECTL_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PIPECTL_TEST_DATABASE_URL is not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := New(pool)
	require.NoError(t, s.DropSchema(ctx))
	require.NoError(t, s.CreateSchema(ctx))
	return s
}

func doc() *pipeline.Document {
	return &pipeline.Document{
		Nodes: map[string]pipeline.NodeRecord{
			"a": {Name: "A", ModuleName: "produce"},
			"b": {Name: "B", ModuleName: "consume", X: 4, Y: 2},
		},
		Edges: []pipeline.EdgeRecord{
			{SourceNode: "a", TargetNode: "b"},
			{SourceNode: "a", TargetNode: "b", SourceCache: "result", TargetCache: "result", Sample: "s1"},
		},
		Parameters: map[string]json.RawMessage{
			"a": json.RawMessage(`{"samples":[{"name":"s1"}]}`),
			"b": json.RawMessage(`{"samples":[{"name":"s1"}]}`),
		},
	}
}

func TestIsNoRows(t *testing.T) {
	assert.True(t, isNoRows(pgx.ErrNoRows))
	assert.True(t, isNoRows(fmt.Errorf("wrapped: %w", pgx.ErrNoRows)))
	assert.False(t, isNoRows(errors.New("boom")))
	assert.False(t, isNoRows(nil))
}

func TestPGStore_RoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	got, err := s.GetPipeline(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.SavePipeline(ctx, "p1", doc()))
	got, err = s.GetPipeline(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, doc().Nodes, got.Nodes)
	assert.Equal(t, doc().Edges, got.Edges)
	assert.JSONEq(t, `{"samples":[{"name":"s1"}]}`, string(got.Parameters["b"]))

	// Replace semantics.
	updated := doc()
	updated.Edges = []pipeline.EdgeRecord{}
	require.NoError(t, s.SavePipeline(ctx, "p1", updated))
	got, err = s.GetPipeline(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, got.Edges)
}

func TestPGStore_ListDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ids, err := s.ListPipelines(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{}, ids)

	require.NoError(t, s.SavePipeline(ctx, "b", doc()))
	require.NoError(t, s.SavePipeline(ctx, "a", doc()))
	ids, err = s.ListPipelines(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, s.DeletePipeline(ctx, "a"))
	require.NoError(t, s.DeletePipeline(ctx, "a"))
	ids, err = s.ListPipelines(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

func TestPGStore_RejectsCycle(t *testing.T) {
	s := newStore(t)
	d := doc()
	d.Edges = append(d.Edges, pipeline.EdgeRecord{SourceNode: "b", TargetNode: "a"})
	assert.ErrorIs(t, s.SavePipeline(context.Background(), "p1", d), pipeline.ErrCycleDetected)
}

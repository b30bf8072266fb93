package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/meikuraledutech/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDoc() *pipeline.Document {
	return &pipeline.Document{
		Nodes: map[string]pipeline.NodeRecord{
			"a": {Name: "A", ModuleName: "produce"},
			"b": {Name: "B", ModuleName: "consume", X: 10, Y: 20},
		},
		Edges: []pipeline.EdgeRecord{{SourceNode: "a", TargetNode: "b"}},
		Parameters: map[string]json.RawMessage{
			"a": json.RawMessage(`{"samples":[]}`),
			"b": json.RawMessage(`{"samples":[]}`),
		},
	}
}

func TestSaveAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	got, err := s.GetPipeline(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	doc := sampleDoc()
	require.NoError(t, s.SavePipeline(ctx, "p1", doc))

	// Later changes to the caller's document are not observed.
	doc.Nodes["c"] = pipeline.NodeRecord{ModuleName: "x"}

	got, err = s.GetPipeline(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Nodes, 2)
	assert.Equal(t, 20, got.Nodes["b"].Y)
	assert.Equal(t, sampleDoc().Edges, got.Edges)
	assert.JSONEq(t, `{"samples":[]}`, string(got.Parameters["a"]))
}

func TestSaveRejectsCycle(t *testing.T) {
	s := New()
	doc := sampleDoc()
	doc.Edges = append(doc.Edges, pipeline.EdgeRecord{SourceNode: "b", TargetNode: "a"})

	err := s.SavePipeline(context.Background(), "p1", doc)
	assert.ErrorIs(t, err, pipeline.ErrCycleDetected)

	ids, err := s.ListPipelines(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestListAndDelete(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, id := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, s.SavePipeline(ctx, id, sampleDoc()))
	}

	ids, err := s.ListPipelines(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, ids)

	require.NoError(t, s.DeletePipeline(ctx, "mid"))
	require.NoError(t, s.DeletePipeline(ctx, "mid"))
	ids, err = s.ListPipelines(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, ids)

	require.NoError(t, s.DropSchema(ctx))
	ids, err = s.ListPipelines(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestConcurrentAccess(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p%d", i%5)
			assert.NoError(t, s.SavePipeline(ctx, id, sampleDoc()))
			_, err := s.GetPipeline(ctx, id)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	ids, err := s.ListPipelines(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 5)
}

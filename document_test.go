package pipeline_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/meikuraledutech/pipeline"
	"github.com/meikuraledutech/pipeline/module"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func catalog(t *testing.T) *module.Catalog {
	t.Helper()
	cat, err := module.NewCatalog(
		&module.Definition{Name: "produce", Path: "/opt/produce", Imports: []string{"raw"}, Exports: []string{"result"}},
		&module.Definition{Name: "consume", Path: "/opt/consume", Imports: []string{"result", "extra"}, Exports: []string{"summary"}},
	)
	require.NoError(t, err)
	return cat
}

func buildChain(t *testing.T, cat *module.Catalog) *pipeline.Pipeline {
	t.Helper()
	produce, _ := cat.Lookup("produce")
	consume, _ := cat.Lookup("consume")

	p := pipeline.New()
	x := p.AddNode(produce)
	x.Name = "Produce Data"
	x.Description = "first stage"
	x.Position = pipeline.Position{X: 10, Y: 20}
	y := p.AddNode(consume)
	y.ID = "summarize"
	y.Position = pipeline.Position{X: 200, Y: 20}
	z := p.AddNode(consume)

	for _, n := range []*pipeline.Node{x, y, z} {
		_, err := n.Instance.AddSample("s1")
		require.NoError(t, err)
	}
	require.NoError(t, x.Instance.(*module.Instance).SetFolder("s1", "raw", "/data/raw"))
	y.Instance.(*module.Instance).SetValues(json.RawMessage(`{"mode":"fast"}`))

	require.True(t, p.AddEdge(x, y))
	require.True(t, p.AddEdge(y, z))
	require.NoError(t, p.Bind(y, "s1", "result", x, "result"))
	require.NoError(t, p.Bind(z, "s1", "result", y, "summary"))
	return p
}

func TestSerialize(t *testing.T) {
	cat := catalog(t)
	doc, err := buildChain(t, cat).Serialize()
	require.NoError(t, err)

	require.Len(t, doc.Nodes, 3)
	assert.Equal(t, pipeline.NodeRecord{
		Name:        "Produce Data",
		Description: "first stage",
		X:           10,
		Y:           20,
		ModuleName:  "produce",
	}, doc.Nodes["produce-data"])
	assert.Equal(t, "consume", doc.Nodes["summarize"].ModuleName)
	assert.Equal(t, "consume", doc.Nodes["consume"].ModuleName)

	assert.Equal(t, []pipeline.EdgeRecord{
		{SourceNode: "produce-data", TargetNode: "summarize"},
		{SourceNode: "summarize", TargetNode: "consume"},
		{SourceNode: "produce-data", TargetNode: "summarize", SourceCache: "result", TargetCache: "result", Sample: "s1"},
		{SourceNode: "summarize", TargetNode: "consume", SourceCache: "summary", TargetCache: "result", Sample: "s1"},
	}, doc.Edges)

	assert.Contains(t, string(doc.Parameters["summarize"]), `"mode":"fast"`)
	assert.Contains(t, string(doc.Parameters["produce-data"]), `/data/raw`)
}

func TestSerialize_RoundTrip(t *testing.T) {
	cat := catalog(t)
	first, err := buildChain(t, cat).Serialize()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, first.Write(&buf))
	decoded, err := pipeline.ReadDocument(&buf)
	require.NoError(t, err)

	loaded, err := pipeline.Load(decoded, cat)
	require.NoError(t, err)
	second, err := loaded.Serialize()
	require.NoError(t, err)

	assert.Equal(t, first.Nodes, second.Nodes)
	assert.ElementsMatch(t, first.Edges, second.Edges)
	require.Len(t, second.Parameters, len(first.Parameters))
	for id, params := range first.Parameters {
		assert.JSONEq(t, string(params), string(second.Parameters[id]), id)
	}

	y, err := loaded.NodeByID("summarize")
	require.NoError(t, err)
	ds := y.Instance.Sample("s1").Import("result").Active()
	require.NotNil(t, ds)
	assert.Equal(t, pipeline.KindPipelineLink, ds.Kind)
	assert.Equal(t, "result", ds.SourceCache)
	x, err := loaded.NodeByID("produce-data")
	require.NoError(t, err)
	assert.Equal(t, x.Handle, ds.SourceNode)
}

func TestLoad_BindingWithoutNodeEdge(t *testing.T) {
	cat := catalog(t)
	doc := &pipeline.Document{
		Nodes: map[string]pipeline.NodeRecord{
			"x": {ModuleName: "produce"},
			"y": {ModuleName: "consume"},
		},
		Edges: []pipeline.EdgeRecord{
			{SourceNode: "x", TargetNode: "y", SourceCache: "result", TargetCache: "result", Sample: "s1"},
		},
		Parameters: map[string]json.RawMessage{
			"x": json.RawMessage(`{"samples":[{"name":"s1"}]}`),
			"y": json.RawMessage(`{"samples":[{"name":"s1"}]}`),
		},
	}
	p, err := pipeline.Load(doc, cat)
	require.NoError(t, err)

	x, _ := p.NodeByID("x")
	y, _ := p.NodeByID("y")
	assert.True(t, p.HasEdge(x, y))
	assert.Equal(t, "result", y.Instance.Sample("s1").Import("result").Active().SourceCache)
}

func TestLoad_Errors(t *testing.T) {
	cat := catalog(t)
	tests := []struct {
		name string
		doc  *pipeline.Document
		want error
	}{
		{
			name: "unknown module",
			doc:  &pipeline.Document{Nodes: map[string]pipeline.NodeRecord{"x": {ModuleName: "nope"}}},
			want: pipeline.ErrModuleNotFound,
		},
		{
			name: "unknown edge node",
			doc: &pipeline.Document{
				Nodes: map[string]pipeline.NodeRecord{"x": {ModuleName: "produce"}},
				Edges: []pipeline.EdgeRecord{{SourceNode: "x", TargetNode: "ghost"}},
			},
			want: pipeline.ErrNodeNotFound,
		},
		{
			name: "binding to missing sample",
			doc: &pipeline.Document{
				Nodes: map[string]pipeline.NodeRecord{"x": {ModuleName: "produce"}, "y": {ModuleName: "consume"}},
				Edges: []pipeline.EdgeRecord{
					{SourceNode: "x", TargetNode: "y", SourceCache: "result", TargetCache: "result", Sample: "s1"},
				},
			},
			want: pipeline.ErrSampleNotFound,
		},
		{
			name: "id leaving the export directory",
			doc:  &pipeline.Document{Nodes: map[string]pipeline.NodeRecord{"../escaped": {ModuleName: "produce"}}},
			want: pipeline.ErrInvalidID,
		},
		{
			name: "id with newline",
			doc:  &pipeline.Document{Nodes: map[string]pipeline.NodeRecord{"b\ntouch /tmp/x\n#": {ModuleName: "produce"}}},
			want: pipeline.ErrInvalidID,
		},
		{
			name: "reserved id",
			doc:  &pipeline.Document{Nodes: map[string]pipeline.NodeRecord{"pipeline.json": {ModuleName: "produce"}}},
			want: pipeline.ErrInvalidID,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pipeline.Load(tt.doc, cat)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoad_RejectsReverseEdge(t *testing.T) {
	doc := &pipeline.Document{
		Nodes: map[string]pipeline.NodeRecord{"x": {ModuleName: "produce"}, "y": {ModuleName: "produce"}},
		Edges: []pipeline.EdgeRecord{{SourceNode: "x", TargetNode: "y"}, {SourceNode: "y", TargetNode: "x"}},
	}
	_, err := pipeline.Load(doc, catalog(t))
	assert.Error(t, err)
}

func TestDocument_CheckAcyclic(t *testing.T) {
	nodes := map[string]pipeline.NodeRecord{"a": {}, "b": {}, "c": {}}

	ok := &pipeline.Document{Nodes: nodes, Edges: []pipeline.EdgeRecord{
		{SourceNode: "a", TargetNode: "b"}, {SourceNode: "b", TargetNode: "c"}, {SourceNode: "a", TargetNode: "c"},
	}}
	assert.NoError(t, ok.CheckAcyclic())

	cyclic := &pipeline.Document{Nodes: nodes, Edges: []pipeline.EdgeRecord{
		{SourceNode: "a", TargetNode: "b"}, {SourceNode: "b", TargetNode: "c"}, {SourceNode: "c", TargetNode: "a"},
	}}
	assert.ErrorIs(t, cyclic.CheckAcyclic(), pipeline.ErrCycleDetected)

	dangling := &pipeline.Document{Nodes: nodes, Edges: []pipeline.EdgeRecord{{SourceNode: "a", TargetNode: "z"}}}
	assert.ErrorIs(t, dangling.CheckAcyclic(), pipeline.ErrNodeNotFound)
}

func TestReadDocument_Invalid(t *testing.T) {
	_, err := pipeline.ReadDocument(bytes.NewBufferString("{"))
	assert.Error(t, err)

	doc, err := pipeline.ReadDocument(bytes.NewBufferString(`{"edges":[]}`))
	require.NoError(t, err)
	assert.NotNil(t, doc.Nodes)
	assert.NotNil(t, doc.Parameters)
}

func TestLoad_TieBreakByID(t *testing.T) {
	cat := catalog(t)
	produce, _ := cat.Lookup("produce")

	p := pipeline.New()
	for _, id := range []string{"zeta", "alpha", "mid"} {
		n := p.AddNode(produce)
		n.ID = id
	}
	order, err := p.Traverse()
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, ids(order))

	doc, err := p.Serialize()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, doc.Write(&buf))
	decoded, err := pipeline.ReadDocument(&buf)
	require.NoError(t, err)

	loaded, err := pipeline.Load(decoded, cat)
	require.NoError(t, err)
	order, err = loaded.Traverse()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, ids(order))
}

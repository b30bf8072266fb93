package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// Document is the serialized form of a pipeline.
type Document struct {
	Nodes      map[string]NodeRecord      `json:"nodes"`
	Edges      []EdgeRecord               `json:"edges"`
	Parameters map[string]json.RawMessage `json:"parameters"`
}

// NodeRecord describes one node of a Document.
type NodeRecord struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
	ModuleName  string `json:"module-name"`
}

// EdgeRecord is either a node-level edge or, when the cache fields are set,
// the binding of one import cache to an upstream export cache.
type EdgeRecord struct {
	SourceNode  string `json:"source-node"`
	TargetNode  string `json:"target-node"`
	SourceCache string `json:"source-cache,omitempty"`
	TargetCache string `json:"target-cache,omitempty"`
	Sample      string `json:"sample,omitempty"`
}

// IsBinding reports whether the record carries a cache-level binding.
func (e EdgeRecord) IsBinding() bool {
	return e.SourceCache != "" || e.TargetCache != "" || e.Sample != ""
}

// Serialize stabilizes node identifiers and returns the pipeline document.
func (p *Pipeline) Serialize() (*Document, error) {
	p.EnsureIDs()

	doc := &Document{
		Nodes:      make(map[string]NodeRecord, len(p.order)),
		Edges:      []EdgeRecord{},
		Parameters: make(map[string]json.RawMessage, len(p.order)),
	}

	for _, h := range p.order {
		n := p.nodes[h]
		doc.Nodes[n.ID] = NodeRecord{
			Name:        n.Name,
			Description: n.Description,
			X:           n.Position.X,
			Y:           n.Position.Y,
			ModuleName:  n.Module().ID(),
		}
		params, err := n.Instance.Parameters()
		if err != nil {
			return nil, fmt.Errorf("pipeline: parameters of %s: %w", n.ID, err)
		}
		doc.Parameters[n.ID] = params
	}

	for _, e := range p.Edges() {
		doc.Edges = append(doc.Edges, EdgeRecord{
			SourceNode: p.nodes[e.Source].ID,
			TargetNode: p.nodes[e.Target].ID,
		})
	}

	for _, h := range p.order {
		n := p.nodes[h]
		for _, s := range n.Instance.Samples() {
			for _, c := range s.Imports {
				ds := c.Active()
				if ds == nil || ds.Kind != KindPipelineLink || ds.SourceCache == "" {
					continue
				}
				src := p.nodes[ds.SourceNode]
				if src == nil {
					continue
				}
				doc.Edges = append(doc.Edges, EdgeRecord{
					SourceNode:  src.ID,
					TargetNode:  n.ID,
					SourceCache: ds.SourceCache,
					TargetCache: c.Path,
					Sample:      s.Name,
				})
			}
		}
	}

	return doc, nil
}

// Load rebuilds a pipeline from doc. Nodes are created first, then
// node-level edges, then cache bindings, which need the candidates the edges
// produced. Every node id must pass CheckID.
//
// Documents keep nodes in a JSON object, so the original insertion order is
// not recorded. Nodes are inserted in sorted id order instead, which makes
// the loaded pipeline the same whichever store it came from; Traverse then
// breaks ties between independent nodes by id.
func Load(doc *Document, reg Registry, opts ...Option) (*Pipeline, error) {
	p := New(opts...)

	ids := make([]string, 0, len(doc.Nodes))
	for id := range doc.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	byID := make(map[string]*Node, len(ids))
	for _, id := range ids {
		if err := CheckID(id); err != nil {
			return nil, err
		}
		rec := doc.Nodes[id]
		mod, ok := reg.Lookup(rec.ModuleName)
		if !ok {
			return nil, fmt.Errorf("%w: %q (node %s)", ErrModuleNotFound, rec.ModuleName, id)
		}
		n := p.AddNode(mod)
		n.ID = id
		n.Name = rec.Name
		n.Description = rec.Description
		n.Position = Position{X: rec.X, Y: rec.Y}
		if params, ok := doc.Parameters[id]; ok && len(params) > 0 {
			if err := n.Instance.SetParameters(params); err != nil {
				return nil, fmt.Errorf("pipeline: parameters of %s: %w", id, err)
			}
		}
		byID[id] = n
	}

	lookup := func(e EdgeRecord) (*Node, *Node, error) {
		src, ok := byID[e.SourceNode]
		if !ok {
			return nil, nil, fmt.Errorf("%w: source %q", ErrNodeNotFound, e.SourceNode)
		}
		dst, ok := byID[e.TargetNode]
		if !ok {
			return nil, nil, fmt.Errorf("%w: target %q", ErrNodeNotFound, e.TargetNode)
		}
		return src, dst, nil
	}

	for _, e := range doc.Edges {
		src, dst, err := lookup(e)
		if err != nil {
			return nil, err
		}
		if p.HasEdge(src, dst) {
			continue
		}
		if !p.AddEdge(src, dst) {
			return nil, fmt.Errorf("pipeline: edge %s -> %s rejected", e.SourceNode, e.TargetNode)
		}
	}

	for _, e := range doc.Edges {
		if !e.IsBinding() {
			continue
		}
		src, dst, err := lookup(e)
		if err != nil {
			return nil, err
		}
		if err := p.Bind(dst, e.Sample, e.TargetCache, src, e.SourceCache); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// ReadDocument decodes a document from r.
func ReadDocument(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("pipeline: decode document: %w", err)
	}
	if doc.Nodes == nil {
		doc.Nodes = map[string]NodeRecord{}
	}
	if doc.Parameters == nil {
		doc.Parameters = map[string]json.RawMessage{}
	}
	return &doc, nil
}

// Write encodes the document as indented JSON.
func (d *Document) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("pipeline: encode document: %w", err)
	}
	return nil
}

// CheckAcyclic verifies that every edge references a known node and that the
// edges do not form a cycle.
func (d *Document) CheckAcyclic() error {
	adj := make(map[string][]string)
	for _, e := range d.Edges {
		if _, ok := d.Nodes[e.SourceNode]; !ok {
			return fmt.Errorf("%w: source %q", ErrNodeNotFound, e.SourceNode)
		}
		if _, ok := d.Nodes[e.TargetNode]; !ok {
			return fmt.Errorf("%w: target %q", ErrNodeNotFound, e.TargetNode)
		}
		adj[e.SourceNode] = append(adj[e.SourceNode], e.TargetNode)
	}

	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)

	state := make(map[string]int, len(d.Nodes))
	var dfs func(id string) bool
	dfs = func(id string) bool {
		state[id] = visiting
		for _, next := range adj[id] {
			switch state[next] {
			case visiting:
				return true
			case unvisited:
				if dfs(next) {
					return true
				}
			}
		}
		state[id] = visited
		return false
	}

	for id := range d.Nodes {
		if state[id] == unvisited && dfs(id) {
			return ErrCycleDetected
		}
	}
	return nil
}

// Package pipeline models a graph of module instances whose output caches
// feed the input caches of dependent stages.
//
// A Pipeline owns its nodes and the edge relation between them. Every
// structural mutation ends with a resolver pass that keeps the pipeline-link
// candidates of each import cache in sync with the current edges. Pipelines
// are not safe for concurrent mutation; a single owner drives them.
package pipeline

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Position is the layout position of a node in an editor.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Node wraps one module instance. Handle is the node's identity inside the
// pipeline; ID is the human-readable identifier used in documents and on
// disk, stabilized by EnsureIDs.
type Node struct {
	Handle      uuid.UUID
	ID          string
	Name        string
	Description string
	Position    Position
	Instance    Instance

	unsubscribe func()
}

// Module returns the module the node was instantiated from.
func (n *Node) Module() Module {
	return n.Instance.Module()
}

func (n *Node) String() string {
	if n.ID != "" {
		return n.ID
	}
	if n.Name != "" {
		return n.Name
	}
	return n.Handle.String()
}

// Edge is a directed connection from Source to Target.
type Edge struct {
	Source uuid.UUID
	Target uuid.UUID
}

// Pipeline is a graph of nodes. Nodes iterate in insertion order.
type Pipeline struct {
	nodes   map[uuid.UUID]*Node
	order   []uuid.UUID
	forward map[uuid.UUID]map[uuid.UUID]struct{}
	inverse map[uuid.UUID]map[uuid.UUID]struct{}

	observers []func(Event)
	strict    bool
	logger    *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used for mutation tracing.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithStrictAcyclic makes CanAddEdge reject any edge that would close a
// cycle, not only direct reverse edges.
func WithStrictAcyclic() Option {
	return func(p *Pipeline) {
		p.strict = true
	}
}

// New creates an empty pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		nodes:   make(map[uuid.UUID]*Node),
		forward: make(map[uuid.UUID]map[uuid.UUID]struct{}),
		inverse: make(map[uuid.UUID]map[uuid.UUID]struct{}),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddNode instantiates mod and adds the new node with no edges.
func (p *Pipeline) AddNode(mod Module) *Node {
	n := &Node{
		Handle:   uuid.New(),
		Instance: mod.NewInstance(),
	}
	p.insert(n)
	return n
}

// AddInstance adds a node around an existing instance.
func (p *Pipeline) AddInstance(inst Instance) *Node {
	n := &Node{
		Handle:   uuid.New(),
		Instance: inst,
	}
	p.insert(n)
	return n
}

func (p *Pipeline) insert(n *Node) {
	p.nodes[n.Handle] = n
	p.order = append(p.order, n.Handle)
	n.unsubscribe = n.Instance.Subscribe(func() {
		p.resolve()
		p.emit(Event{Kind: SamplesChanged, Node: n.Handle})
	})
	p.logger.Debug("node added",
		zap.Stringer("handle", n.Handle),
		zap.String("module", n.Module().ID()))
	p.resolve()
	p.emit(Event{Kind: NodeAdded, Node: n.Handle})
}

// RemoveNode isolates n and deletes it. It reports whether n was present.
func (p *Pipeline) RemoveNode(n *Node) bool {
	if n == nil || p.nodes[n.Handle] != n {
		return false
	}
	p.IsolateNode(n)

	delete(p.nodes, n.Handle)
	for i, h := range p.order {
		if h == n.Handle {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	if n.unsubscribe != nil {
		n.unsubscribe()
		n.unsubscribe = nil
	}
	p.logger.Debug("node removed", zap.Stringer("handle", n.Handle))
	p.resolve()
	p.emit(Event{Kind: NodeRemoved, Node: n.Handle})
	return true
}

// IsolateNode removes every edge touching n.
func (p *Pipeline) IsolateNode(n *Node) {
	var touching []Edge
	for _, e := range p.Edges() {
		if e.Source == n.Handle || e.Target == n.Handle {
			touching = append(touching, e)
		}
	}
	for _, e := range touching {
		p.removeEdge(e.Source, e.Target)
	}
}

// CanAddEdge rejects self edges, existing edges and direct reverse edges.
// Longer cycles are only rejected when the pipeline was created with
// WithStrictAcyclic.
func (p *Pipeline) CanAddEdge(source, target *Node) bool {
	if source == nil || target == nil {
		return false
	}
	if source.Handle == target.Handle {
		return false
	}
	if p.nodes[source.Handle] == nil || p.nodes[target.Handle] == nil {
		return false
	}
	if p.hasEdge(source.Handle, target.Handle) || p.hasEdge(target.Handle, source.Handle) {
		return false
	}
	if p.strict && p.WouldCycle(source, target) {
		return false
	}
	return true
}

// AddEdge inserts source→target if CanAddEdge allows it.
func (p *Pipeline) AddEdge(source, target *Node) bool {
	if !p.CanAddEdge(source, target) {
		return false
	}
	link(p.forward, source.Handle, target.Handle)
	link(p.inverse, target.Handle, source.Handle)
	p.logger.Debug("edge added",
		zap.Stringer("source", source.Handle),
		zap.Stringer("target", target.Handle))
	p.resolve()
	p.emit(Event{Kind: EdgeAdded, Source: source.Handle, Target: target.Handle})
	return true
}

// RemoveEdge deletes source→target and reports whether it existed.
func (p *Pipeline) RemoveEdge(source, target *Node) bool {
	if source == nil || target == nil {
		return false
	}
	return p.removeEdge(source.Handle, target.Handle)
}

func (p *Pipeline) removeEdge(source, target uuid.UUID) bool {
	removed := unlink(p.forward, source, target)
	unlink(p.inverse, target, source)
	if removed {
		p.logger.Debug("edge removed",
			zap.Stringer("source", source),
			zap.Stringer("target", target))
	}
	p.resolve()
	if removed {
		p.emit(Event{Kind: EdgeRemoved, Source: source, Target: target})
	}
	return removed
}

// HasEdge reports whether source→target exists.
func (p *Pipeline) HasEdge(source, target *Node) bool {
	if source == nil || target == nil {
		return false
	}
	return p.hasEdge(source.Handle, target.Handle)
}

func (p *Pipeline) hasEdge(source, target uuid.UUID) bool {
	_, ok := p.forward[source][target]
	return ok
}

// WouldCycle reports whether adding source→target would close a cycle, that
// is whether source is reachable from target.
func (p *Pipeline) WouldCycle(source, target *Node) bool {
	if source.Handle == target.Handle {
		return true
	}
	visited := make(map[uuid.UUID]bool)
	var dfs func(h uuid.UUID) bool
	dfs = func(h uuid.UUID) bool {
		if h == source.Handle {
			return true
		}
		visited[h] = true
		for next := range p.forward[h] {
			if !visited[next] && dfs(next) {
				return true
			}
		}
		return false
	}
	return dfs(target.Handle)
}

// Nodes returns the nodes in insertion order.
func (p *Pipeline) Nodes() []*Node {
	out := make([]*Node, 0, len(p.order))
	for _, h := range p.order {
		out = append(out, p.nodes[h])
	}
	return out
}

// Len returns the number of nodes.
func (p *Pipeline) Len() int {
	return len(p.order)
}

// Node returns the node with the given handle, or nil.
func (p *Pipeline) Node(h uuid.UUID) *Node {
	return p.nodes[h]
}

// NodeByID stabilizes identifiers and returns the node with the given id.
func (p *Pipeline) NodeByID(id string) (*Node, error) {
	p.EnsureIDs()
	for _, h := range p.order {
		if n := p.nodes[h]; n.ID == id {
			return n, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, id)
}

// Edges returns all edges ordered by the insertion order of their source,
// then of their target.
func (p *Pipeline) Edges() []Edge {
	var out []Edge
	for _, s := range p.order {
		targets := p.forward[s]
		if len(targets) == 0 {
			continue
		}
		for _, t := range p.order {
			if _, ok := targets[t]; ok {
				out = append(out, Edge{Source: s, Target: t})
			}
		}
	}
	return out
}

// Predecessors returns the nodes with an edge into n, in insertion order.
func (p *Pipeline) Predecessors(n *Node) []*Node {
	return p.collect(p.inverse[n.Handle])
}

// Successors returns the nodes n has an edge to, in insertion order.
func (p *Pipeline) Successors(n *Node) []*Node {
	return p.collect(p.forward[n.Handle])
}

func (p *Pipeline) collect(set map[uuid.UUID]struct{}) []*Node {
	var out []*Node
	for _, h := range p.order {
		if _, ok := set[h]; ok {
			out = append(out, p.nodes[h])
		}
	}
	return out
}

func link(m map[uuid.UUID]map[uuid.UUID]struct{}, from, to uuid.UUID) {
	if m[from] == nil {
		m[from] = make(map[uuid.UUID]struct{})
	}
	m[from][to] = struct{}{}
}

func unlink(m map[uuid.UUID]map[uuid.UUID]struct{}, from, to uuid.UUID) bool {
	set, ok := m[from]
	if !ok {
		return false
	}
	if _, ok := set[to]; !ok {
		return false
	}
	delete(set, to)
	if len(set) == 0 {
		delete(m, from)
	}
	return true
}

package pipeline

import (
	"fmt"

	"go.uber.org/zap"
)

// resolve brings the pipeline-link candidates of every import cache in line
// with the edge set. Active assignments whose candidate disappears are left
// unresolved.
func (p *Pipeline) resolve() {
	added, removed := 0, 0

	for _, e := range p.Edges() {
		target := p.nodes[e.Target]
		for _, s := range target.Instance.Samples() {
			for _, c := range s.Imports {
				if c.LinkFrom(e.Source) == nil {
					c.AddCandidate(PipelineLink(e.Source))
					added++
				}
			}
		}
	}

	for _, h := range p.order {
		n := p.nodes[h]
		for _, s := range n.Instance.Samples() {
			for _, c := range s.Imports {
				for _, ds := range c.Available() {
					if ds.Kind != KindPipelineLink || p.hasEdge(ds.SourceNode, h) {
						continue
					}
					if c.removeCandidate(ds) {
						p.logger.Debug("active data source dropped",
							zap.Stringer("node", n),
							zap.String("sample", s.Name),
							zap.String("cache", c.Path))
					}
					removed++
				}
			}
		}
	}

	if added > 0 || removed > 0 {
		p.logger.Debug("data sources resolved",
			zap.Int("added", added),
			zap.Int("removed", removed))
	}
}

// Bind selects source's pipeline link on target's import cache and points
// it at sourceCache, an export of the same sample on source.
func (p *Pipeline) Bind(target *Node, sample, targetCache string, source *Node, sourceCache string) error {
	if target == nil || p.nodes[target.Handle] != target {
		return fmt.Errorf("%w: bind target", ErrNodeNotFound)
	}
	if source == nil || p.nodes[source.Handle] != source {
		return fmt.Errorf("%w: bind source", ErrNodeNotFound)
	}
	ts := target.Instance.Sample(sample)
	if ts == nil {
		return fmt.Errorf("%w: %s/%s", ErrSampleNotFound, target, sample)
	}
	tc := ts.Import(targetCache)
	if tc == nil {
		return fmt.Errorf("%w: %s/%s/%s", ErrCacheNotFound, target, sample, targetCache)
	}
	ss := source.Instance.Sample(sample)
	if ss == nil {
		return fmt.Errorf("%w: %s/%s", ErrSampleNotFound, source, sample)
	}
	if ss.Export(sourceCache) == nil {
		return fmt.Errorf("%w: %s/%s/%s", ErrCacheNotFound, source, sample, sourceCache)
	}
	ds := tc.LinkFrom(source.Handle)
	if ds == nil {
		return fmt.Errorf("%w: %s -> %s", ErrBindingNotFound, source, target)
	}
	ds.SourceCache = sourceCache
	tc.Assign(ds)

	p.logger.Debug("cache bound",
		zap.Stringer("source", source),
		zap.Stringer("target", target),
		zap.String("sample", sample),
		zap.String("source-cache", sourceCache),
		zap.String("target-cache", targetCache))
	p.emit(Event{Kind: BindingChanged, Source: source.Handle, Target: target.Handle})
	return nil
}

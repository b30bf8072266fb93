package pipeline

// Validate merges the report of every instance and checks the pipeline-link
// bindings of each import cache.
func (p *Pipeline) Validate() Report {
	p.EnsureIDs()

	var r Report
	for _, h := range p.order {
		n := p.nodes[h]
		r.Merge(n.ID, n.Instance.Validate())

		var own Report
		for _, s := range n.Instance.Samples() {
			for _, c := range s.Imports {
				ds := c.Active()
				if ds == nil || ds.Kind != KindPipelineLink {
					continue
				}
				p.checkLink(&own, n, s, c, ds)
			}
		}
		r.Merge(n.ID, own)
	}
	return r
}

func (p *Pipeline) checkLink(r *Report, n *Node, s *Sample, c *Cache, ds *DataSource) {
	src := p.nodes[ds.SourceNode]
	switch {
	case src == nil:
		r.Add(Error, s.Name, c.Path, "linked to a node that is not in the pipeline")
	case !p.hasEdge(ds.SourceNode, n.Handle):
		r.Add(Error, s.Name, c.Path, "linked to %s without an edge", src.ID)
	case ds.SourceCache == "":
		r.Add(Error, s.Name, c.Path, "link from %s has no source cache", src.ID)
	default:
		ss := src.Instance.Sample(s.Name)
		if ss == nil {
			r.Add(Error, s.Name, c.Path, "source %s has no sample %q", src.ID, s.Name)
			return
		}
		if ss.Export(ds.SourceCache) == nil {
			r.Add(Error, s.Name, c.Path, "source %s does not export %q", src.ID, ds.SourceCache)
		}
	}
}

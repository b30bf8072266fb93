package pipeline

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Traverse returns every node once, ordered so that each edge's source
// precedes its target. Among nodes that are ready at the same time, the one
// inserted first comes first. Pipelines rebuilt by Load are inserted in
// sorted id order, so after a reload ties are broken by id.
//
// If the edges contain a cycle the remaining nodes can never be placed and
// an error wrapping ErrCycleDetected is returned.
func (p *Pipeline) Traverse() ([]*Node, error) {
	indegree := make(map[uuid.UUID]int, len(p.order))
	for _, h := range p.order {
		indegree[h] = len(p.inverse[h])
	}

	rank := make(map[uuid.UUID]int, len(p.order))
	for i, h := range p.order {
		rank[h] = i
	}

	// ready is kept sorted by insertion rank.
	var ready []uuid.UUID
	for _, h := range p.order {
		if indegree[h] == 0 {
			ready = append(ready, h)
		}
	}

	out := make([]*Node, 0, len(p.order))
	for len(ready) > 0 {
		h := ready[0]
		ready = ready[1:]
		out = append(out, p.nodes[h])

		for _, t := range p.order {
			if _, ok := p.forward[h][t]; !ok {
				continue
			}
			indegree[t]--
			if indegree[t] == 0 {
				ready = insertByRank(ready, t, rank)
			}
		}
	}

	if len(out) != len(p.order) {
		var stuck []string
		for _, h := range p.order {
			if indegree[h] > 0 {
				stuck = append(stuck, p.nodes[h].String())
			}
		}
		return nil, fmt.Errorf("%w: cannot order nodes [%s]", ErrCycleDetected, strings.Join(stuck, ", "))
	}
	return out, nil
}

func insertByRank(queue []uuid.UUID, h uuid.UUID, rank map[uuid.UUID]int) []uuid.UUID {
	i := 0
	for i < len(queue) && rank[queue[i]] < rank[h] {
		i++
	}
	queue = append(queue, uuid.Nil)
	copy(queue[i+1:], queue[i:])
	queue[i] = h
	return queue
}

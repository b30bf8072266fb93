package pipeline

import (
	"fmt"
	"strconv"

	"github.com/gosimple/slug"
)

// CheckID reports whether id can name a node. Ids become directory names of
// an export, so an id must be a single path segment of letters, digits,
// '-', '_' and '.', must not start with '.' or '-', and must not take the
// name of a file at the root of an export.
func CheckID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if id[0] == '.' || id[0] == '-' {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}
	if id == DocumentFile || id == ScriptFile {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidID, id)
	}
	return nil
}

// EnsureIDs gives every node a unique, human-readable identifier. Nodes are
// visited in insertion order; the first node keeps a contested identifier
// and later ones get a numeric suffix. A declared id that fails CheckID is
// replaced by its slug.
func (p *Pipeline) EnsureIDs() {
	taken := make(map[string]bool, len(p.order))
	for _, h := range p.order {
		n := p.nodes[h]
		base := baseID(n)
		id := base
		for i := 2; taken[id]; i++ {
			id = base + "-" + strconv.Itoa(i)
		}
		taken[id] = true
		n.ID = id
	}
}

func baseID(n *Node) string {
	if n.ID != "" {
		if CheckID(n.ID) == nil {
			return n.ID
		}
		if s := slug.Make(n.ID); CheckID(s) == nil {
			return s
		}
	}
	if s := slug.Make(n.Name); CheckID(s) == nil {
		return s
	}
	if s := slug.Make(n.Module().ID()); CheckID(s) == nil {
		return s
	}
	return "node"
}

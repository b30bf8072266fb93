package export

import (
	"fmt"
	"strings"
)

// Error is a filesystem failure during export, located by node, sample and
// cache where known.
type Error struct {
	Op     string
	Node   string
	Sample string
	Cache  string
	Err    error
}

func (e *Error) Error() string {
	var loc []string
	for _, part := range []string{e.Node, e.Sample, e.Cache} {
		if part != "" {
			loc = append(loc, part)
		}
	}
	if len(loc) == 0 {
		return fmt.Sprintf("export: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("export: %s %s: %v", e.Op, strings.Join(loc, "/"), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

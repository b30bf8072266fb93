package pipeline

import "github.com/google/uuid"

// EventKind identifies the mutation an Event reports.
type EventKind int

const (
	NodeAdded EventKind = iota
	NodeRemoved
	EdgeAdded
	EdgeRemoved
	SamplesChanged
	BindingChanged
)

func (k EventKind) String() string {
	switch k {
	case NodeAdded:
		return "node-added"
	case NodeRemoved:
		return "node-removed"
	case EdgeAdded:
		return "edge-added"
	case EdgeRemoved:
		return "edge-removed"
	case SamplesChanged:
		return "samples-changed"
	case BindingChanged:
		return "binding-changed"
	default:
		return "unknown"
	}
}

// Event describes a completed mutation. Node is set for node and sample
// events, Source and Target for edge and binding events.
type Event struct {
	Kind   EventKind
	Node   uuid.UUID
	Source uuid.UUID
	Target uuid.UUID
}

// OnChange registers fn to be called after every mutation, once the resolver
// pass has completed. Observers run inline and must not mutate the pipeline.
func (p *Pipeline) OnChange(fn func(Event)) {
	p.observers = append(p.observers, fn)
}

func (p *Pipeline) emit(e Event) {
	for _, fn := range p.observers {
		fn(e)
	}
}

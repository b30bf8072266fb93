package pipeline

import (
	"fmt"

	"github.com/google/uuid"
)

// Direction tells whether a cache is read or written by its module.
type Direction int

const (
	Import Direction = iota
	Export
)

func (d Direction) String() string {
	switch d {
	case Import:
		return "import"
	case Export:
		return "export"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// SourceKind tags the variant held by a DataSource.
type SourceKind int

const (
	KindDummy SourceKind = iota
	KindFolderLink
	KindPipelineLink
)

func (k SourceKind) String() string {
	switch k {
	case KindDummy:
		return "dummy"
	case KindFolderLink:
		return "folder-link"
	case KindPipelineLink:
		return "pipeline-link"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DataSource is a tagged union describing where an import cache gets its data.
// Path is set for KindFolderLink, SourceNode and SourceCache for KindPipelineLink.
type DataSource struct {
	Kind        SourceKind
	Path        string
	SourceNode  uuid.UUID
	SourceCache string
}

// Dummy returns a data source that installs nothing.
func Dummy() *DataSource {
	return &DataSource{Kind: KindDummy}
}

// FolderLink returns a data source pointing at an external directory.
func FolderLink(path string) *DataSource {
	return &DataSource{Kind: KindFolderLink, Path: path}
}

// PipelineLink returns a data source bound to an upstream node. The source
// cache is selected later.
func PipelineLink(source uuid.UUID) *DataSource {
	return &DataSource{Kind: KindPipelineLink, SourceNode: source}
}

// Resolved reports whether the data source is usable as-is: a pipeline link
// needs a source cache, a folder link needs a path.
func (ds *DataSource) Resolved() bool {
	switch ds.Kind {
	case KindDummy:
		return true
	case KindFolderLink:
		return ds.Path != ""
	case KindPipelineLink:
		return ds.SourceNode != uuid.Nil && ds.SourceCache != ""
	default:
		return false
	}
}

func (ds *DataSource) String() string {
	switch ds.Kind {
	case KindDummy:
		return "dummy"
	case KindFolderLink:
		return "folder:" + ds.Path
	case KindPipelineLink:
		if ds.SourceCache == "" {
			return "pipeline:" + ds.SourceNode.String()
		}
		return "pipeline:" + ds.SourceNode.String() + "/" + ds.SourceCache
	default:
		return ds.Kind.String()
	}
}

// Cache is a named data slot of a sample.
type Cache struct {
	Path      string
	Direction Direction

	active    *DataSource
	available []*DataSource
}

// NewCache creates an empty cache.
func NewCache(path string, dir Direction) *Cache {
	return &Cache{Path: path, Direction: dir}
}

// Active returns the assigned data source, or nil when unresolved.
func (c *Cache) Active() *DataSource {
	return c.active
}

// Available returns a snapshot of the candidate data sources.
func (c *Cache) Available() []*DataSource {
	out := make([]*DataSource, len(c.available))
	copy(out, c.available)
	return out
}

// AddCandidate appends ds to the candidate list unless it is already present.
func (c *Cache) AddCandidate(ds *DataSource) {
	for _, cur := range c.available {
		if cur == ds {
			return
		}
	}
	c.available = append(c.available, ds)
}

// Assign makes ds the active data source, adding it as a candidate if needed.
func (c *Cache) Assign(ds *DataSource) {
	c.AddCandidate(ds)
	c.active = ds
}

// Clear leaves the cache unresolved.
func (c *Cache) Clear() {
	c.active = nil
}

// LinkFrom returns the pipeline link candidate bound to source, or nil.
func (c *Cache) LinkFrom(source uuid.UUID) *DataSource {
	for _, ds := range c.available {
		if ds.Kind == KindPipelineLink && ds.SourceNode == source {
			return ds
		}
	}
	return nil
}

// removeCandidate drops ds from the candidates and reports whether it was
// the active assignment.
func (c *Cache) removeCandidate(ds *DataSource) bool {
	for i, cur := range c.available {
		if cur != ds {
			continue
		}
		c.available = append(c.available[:i], c.available[i+1:]...)
		if c.active == ds {
			c.active = nil
			return true
		}
		return false
	}
	return false
}

// Sample is a named unit of work inside a module instance. Cache paths are
// unique per direction.
type Sample struct {
	Name    string
	Imports []*Cache
	Exports []*Cache
}

// NewSample creates a sample with one cache per import and export path.
func NewSample(name string, imports, exports []string) *Sample {
	s := &Sample{Name: name}
	for _, p := range imports {
		s.Imports = append(s.Imports, NewCache(p, Import))
	}
	for _, p := range exports {
		s.Exports = append(s.Exports, NewCache(p, Export))
	}
	return s
}

// Import returns the import cache with the given path, or nil.
func (s *Sample) Import(path string) *Cache {
	return findCache(s.Imports, path)
}

// Export returns the export cache with the given path, or nil.
func (s *Sample) Export(path string) *Cache {
	return findCache(s.Exports, path)
}

func findCache(caches []*Cache, path string) *Cache {
	for _, c := range caches {
		if c.Path == path {
			return c
		}
	}
	return nil
}

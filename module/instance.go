package module

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/meikuraledutech/pipeline"
	"github.com/meikuraledutech/pipeline/internal/fsutil"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Instance is the per-node state of a Definition.
type Instance struct {
	def     *Definition
	values  json.RawMessage
	samples []*pipeline.Sample

	subs    map[int]func()
	nextSub int
}

var _ pipeline.Instance = (*Instance)(nil)

func newInstance(d *Definition) *Instance {
	return &Instance{def: d, subs: make(map[int]func())}
}

// parameterDocument is the on-disk parameter file.
type parameterDocument struct {
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Samples    []sampleRecord  `json:"samples"`
}

type sampleRecord struct {
	Name    string            `json:"name"`
	Folders map[string]string `json:"folders,omitempty"`
	Dummy   []string          `json:"dummy,omitempty"`
}

// Module returns the instance's definition.
func (i *Instance) Module() pipeline.Module { return i.def }

// Samples returns the samples in creation order.
func (i *Instance) Samples() []*pipeline.Sample {
	out := make([]*pipeline.Sample, len(i.samples))
	copy(out, i.samples)
	return out
}

// Sample returns the named sample, or nil.
func (i *Instance) Sample(name string) *pipeline.Sample {
	for _, s := range i.samples {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// AddSample creates a sample with one cache per declared import and export.
func (i *Instance) AddSample(name string) (*pipeline.Sample, error) {
	if name == "" {
		return nil, errors.New("module: empty sample name")
	}
	if i.Sample(name) != nil {
		return nil, fmt.Errorf("%w: %q", pipeline.ErrSampleExists, name)
	}
	s := pipeline.NewSample(name, i.def.Imports, i.def.Exports)
	i.samples = append(i.samples, s)
	i.notify()
	return s, nil
}

// RemoveSample deletes the named sample.
func (i *Instance) RemoveSample(name string) bool {
	for idx, s := range i.samples {
		if s.Name == name {
			i.samples = append(i.samples[:idx], i.samples[idx+1:]...)
			i.notify()
			return true
		}
	}
	return false
}

// SetFolder assigns a folder link to an import cache.
func (i *Instance) SetFolder(sample, cache, path string) error {
	c, err := i.importCache(sample, cache)
	if err != nil {
		return err
	}
	c.Assign(pipeline.FolderLink(path))
	return nil
}

// SetDummy assigns a dummy source to an import cache.
func (i *Instance) SetDummy(sample, cache string) error {
	c, err := i.importCache(sample, cache)
	if err != nil {
		return err
	}
	c.Assign(pipeline.Dummy())
	return nil
}

func (i *Instance) importCache(sample, cache string) (*pipeline.Cache, error) {
	s := i.Sample(sample)
	if s == nil {
		return nil, fmt.Errorf("%w: %q", pipeline.ErrSampleNotFound, sample)
	}
	c := s.Import(cache)
	if c == nil {
		return nil, fmt.Errorf("%w: %s/%s", pipeline.ErrCacheNotFound, sample, cache)
	}
	return c, nil
}

// Values returns the user parameters.
func (i *Instance) Values() json.RawMessage { return i.values }

// SetValues replaces the user parameters.
func (i *Instance) SetValues(v json.RawMessage) {
	i.values = v
}

// Parameters returns the parameter document: user values, the sample
// layout and every folder or dummy assignment.
func (i *Instance) Parameters() (json.RawMessage, error) {
	doc := parameterDocument{
		Parameters: i.values,
		Samples:    make([]sampleRecord, 0, len(i.samples)),
	}
	for _, s := range i.samples {
		rec := sampleRecord{Name: s.Name}
		for _, c := range s.Imports {
			ds := c.Active()
			if ds == nil {
				continue
			}
			switch ds.Kind {
			case pipeline.KindFolderLink:
				if rec.Folders == nil {
					rec.Folders = make(map[string]string)
				}
				rec.Folders[c.Path] = ds.Path
			case pipeline.KindDummy:
				rec.Dummy = append(rec.Dummy, c.Path)
			case pipeline.KindPipelineLink:
				// Serialized as an edge record by the pipeline.
			}
		}
		doc.Samples = append(doc.Samples, rec)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("module: %s: encode parameters: %w", i.def.Name, err)
	}
	return out, nil
}

// SetParameters rebuilds the instance from a parameter document. Existing
// samples, and with them any pipeline bindings, are replaced.
func (i *Instance) SetParameters(raw json.RawMessage) error {
	var doc parameterDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("module: %s: decode parameters: %w", i.def.Name, err)
	}

	samples := make([]*pipeline.Sample, 0, len(doc.Samples))
	seen := make(map[string]bool, len(doc.Samples))
	for _, rec := range doc.Samples {
		if rec.Name == "" {
			return fmt.Errorf("module: %s: sample without name", i.def.Name)
		}
		if seen[rec.Name] {
			return fmt.Errorf("%w: %q", pipeline.ErrSampleExists, rec.Name)
		}
		seen[rec.Name] = true

		s := pipeline.NewSample(rec.Name, i.def.Imports, i.def.Exports)
		for path, folder := range rec.Folders {
			c := s.Import(path)
			if c == nil {
				return fmt.Errorf("%w: %s/%s", pipeline.ErrCacheNotFound, rec.Name, path)
			}
			c.Assign(pipeline.FolderLink(folder))
		}
		for _, path := range rec.Dummy {
			c := s.Import(path)
			if c == nil {
				return fmt.Errorf("%w: %s/%s", pipeline.ErrCacheNotFound, rec.Name, path)
			}
			c.Assign(pipeline.Dummy())
		}
		samples = append(samples, s)
	}

	i.values = doc.Parameters
	i.samples = samples
	i.notify()
	return nil
}

// Install writes the parameter file and installs folder links into
// dir/imported. Export directories are created empty.
func (i *Instance) Install(dir string, opts pipeline.InstallOptions) error {
	for _, sub := range []string{pipeline.ImportedDir, pipeline.ExportedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("module: %s: create %s: %w", i.def.Name, sub, err)
		}
	}

	raw, err := i.Parameters()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("module: %s: format parameters: %w", i.def.Name, err)
	}
	buf.WriteByte('\n')
	if err := os.WriteFile(filepath.Join(dir, pipeline.ParametersFile), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("module: %s: write parameters: %w", i.def.Name, err)
	}

	for _, s := range i.samples {
		for _, c := range s.Exports {
			if err := os.MkdirAll(filepath.Join(dir, pipeline.ExportedDir, s.Name, c.Path), 0o755); err != nil {
				return fmt.Errorf("module: %s: create export %s/%s: %w", i.def.Name, s.Name, c.Path, err)
			}
		}
		for _, c := range s.Imports {
			ds := c.Active()
			if ds == nil {
				continue
			}
			switch ds.Kind {
			case pipeline.KindFolderLink:
				link := filepath.Join(dir, pipeline.ImportedDir, s.Name, c.Path)
				err := fsutil.Link(ds.Path, link, fsutil.Options{
					Copy:     opts.ForceCopy,
					Relative: opts.RelativizePaths,
				})
				if err != nil {
					return fmt.Errorf("module: %s: install %s/%s: %w", i.def.Name, s.Name, c.Path, err)
				}
			case pipeline.KindDummy, pipeline.KindPipelineLink:
				// Nothing to install; pipeline links are wired by the exporter.
			}
		}
	}
	return nil
}

// Validate checks the user parameters against the definition's schema and
// reports every import cache without a usable data source.
func (i *Instance) Validate() pipeline.Report {
	var r pipeline.Report

	sch, err := i.def.schema()
	switch {
	case err != nil:
		r.Add(pipeline.Error, "", "", "%v", err)
	case sch != nil:
		values := i.values
		if len(values) == 0 {
			values = json.RawMessage(`{}`)
		}
		inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(values))
		if err != nil {
			r.Add(pipeline.Error, "", "", "parameters are not valid JSON: %v", err)
		} else if err := sch.Validate(inst); err != nil {
			r.Add(pipeline.Error, "", "", "parameters: %v", err)
		}
	}

	if len(i.samples) == 0 {
		r.Add(pipeline.Warning, "", "", "module %s has no samples", i.def.Name)
	}

	for _, s := range i.samples {
		for _, c := range s.Imports {
			ds := c.Active()
			if ds == nil {
				r.Add(pipeline.Error, s.Name, c.Path, "no data source assigned")
				continue
			}
			switch ds.Kind {
			case pipeline.KindDummy:
				r.Add(pipeline.Info, s.Name, c.Path, "dummy data source")
			case pipeline.KindFolderLink:
				if ds.Path == "" {
					r.Add(pipeline.Error, s.Name, c.Path, "folder link without path")
				} else if _, err := os.Stat(ds.Path); err != nil {
					r.Add(pipeline.Error, s.Name, c.Path, "folder %s is not accessible", ds.Path)
				}
			case pipeline.KindPipelineLink:
				// Checked by the pipeline, which knows the source node.
			}
		}
	}
	return r
}

// Subscribe registers fn for sample layout changes.
func (i *Instance) Subscribe(fn func()) func() {
	id := i.nextSub
	i.nextSub++
	i.subs[id] = fn
	return func() { delete(i.subs, id) }
}

func (i *Instance) notify() {
	for _, fn := range i.subs {
		fn()
	}
}

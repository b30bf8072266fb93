// Package module provides the concrete modules nodes are built from: a
// Definition names an executable and the caches each of its samples owns,
// a Catalog resolves definitions by id, and an Instance carries per-node
// samples and parameters.
package module

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/meikuraledutech/pipeline"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ParametersFlag is the flag the executable receives its parameter file with.
const ParametersFlag = "--parameters"

// Definition describes a module. Schema, when set, is a JSON Schema
// (draft 2020-12) for the user parameters of each instance.
type Definition struct {
	Name    string          `json:"id"`
	Path    string          `json:"executable"`
	Imports []string        `json:"imports"`
	Exports []string        `json:"exports"`
	Schema  json.RawMessage `json:"schema,omitempty"`

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

var _ pipeline.Module = (*Definition)(nil)

// ID returns the module name.
func (d *Definition) ID() string { return d.Name }

// Executable returns the program path.
func (d *Definition) Executable() string { return d.Path }

// RunArgs returns the arguments for a run with the given parameter file.
func (d *Definition) RunArgs(parametersFile string) []string {
	return []string{ParametersFlag, parametersFile}
}

// NewInstance returns an instance with no samples.
func (d *Definition) NewInstance() pipeline.Instance {
	return newInstance(d)
}

// Check verifies the definition is usable: it has a name and an executable,
// cache paths are unique per direction and the schema compiles.
func (d *Definition) Check() error {
	if d.Name == "" {
		return errors.New("module: definition without id")
	}
	if d.Path == "" {
		return fmt.Errorf("module: %s: no executable", d.Name)
	}
	for dir, paths := range map[string][]string{"import": d.Imports, "export": d.Exports} {
		seen := make(map[string]bool, len(paths))
		for _, p := range paths {
			if p == "" {
				return fmt.Errorf("module: %s: empty %s path", d.Name, dir)
			}
			if seen[p] {
				return fmt.Errorf("module: %s: duplicate %s %q", d.Name, dir, p)
			}
			seen[p] = true
		}
	}
	_, err := d.schema()
	return err
}

func (d *Definition) schema() (*jsonschema.Schema, error) {
	d.once.Do(func() {
		if len(d.Schema) == 0 {
			return
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(d.Schema))
		if err != nil {
			d.err = fmt.Errorf("module: %s: parse schema: %w", d.Name, err)
			return
		}
		url := "module://" + d.Name + "/parameters.json"
		c := jsonschema.NewCompiler()
		c.DefaultDraft(jsonschema.Draft2020)
		if err := c.AddResource(url, doc); err != nil {
			d.err = fmt.Errorf("module: %s: add schema: %w", d.Name, err)
			return
		}
		d.compiled, d.err = c.Compile(url)
		if d.err != nil {
			d.err = fmt.Errorf("module: %s: compile schema: %w", d.Name, d.err)
		}
	})
	return d.compiled, d.err
}

// Catalog is a registry of definitions keyed by id.
type Catalog struct {
	defs  map[string]*Definition
	order []string
}

var _ pipeline.Registry = (*Catalog)(nil)

// NewCatalog checks and registers defs. Ids must be unique.
func NewCatalog(defs ...*Definition) (*Catalog, error) {
	c := &Catalog{defs: make(map[string]*Definition, len(defs))}
	for _, d := range defs {
		if err := c.Add(d); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add checks and registers d.
func (c *Catalog) Add(d *Definition) error {
	if err := d.Check(); err != nil {
		return err
	}
	if _, ok := c.defs[d.Name]; ok {
		return fmt.Errorf("module: duplicate id %q", d.Name)
	}
	c.defs[d.Name] = d
	c.order = append(c.order, d.Name)
	return nil
}

// Lookup implements pipeline.Registry.
func (c *Catalog) Lookup(id string) (pipeline.Module, bool) {
	d, ok := c.defs[id]
	if !ok {
		return nil, false
	}
	return d, true
}

// Definition returns the definition with the given id, or nil.
func (c *Catalog) Definition(id string) *Definition {
	return c.defs[id]
}

// Definitions returns the definitions in registration order.
func (c *Catalog) Definitions() []*Definition {
	out := make([]*Definition, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.defs[id])
	}
	return out
}

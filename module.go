package pipeline

import "encoding/json"

// Module is an executable processing step that nodes are instantiated from.
type Module interface {
	// ID is the module's stable name, written as "module-name" in documents.
	ID() string
	// Executable is the path of the program the run script invokes.
	Executable() string
	// RunArgs returns the arguments passed to the executable for a given
	// parameter file.
	RunArgs(parametersFile string) []string
	// NewInstance creates a fresh instance with no samples.
	NewInstance() Instance
}

// InstallOptions controls how an instance materializes its data sources.
type InstallOptions struct {
	ForceCopy       bool
	RelativizePaths bool
}

// Instance is the per-node state of a module: its samples, caches and
// parameter document.
type Instance interface {
	Module() Module

	Samples() []*Sample
	Sample(name string) *Sample
	AddSample(name string) (*Sample, error)
	RemoveSample(name string) bool

	// Parameters returns the full parameter document, including sample
	// layout and folder links.
	Parameters() (json.RawMessage, error)
	SetParameters(doc json.RawMessage) error

	// Install writes parameters.json into dir and installs every
	// non-pipeline data source under dir/imported. It creates the
	// dir/exported/<sample>/<path> directories.
	Install(dir string, opts InstallOptions) error

	Validate() Report

	// Subscribe registers fn to be called synchronously after every change
	// of the sample layout. The returned function removes the subscription.
	Subscribe(fn func()) (cancel func())
}

// Registry resolves module ids to modules when loading documents.
type Registry interface {
	Lookup(moduleID string) (Module, bool)
}

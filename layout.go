package pipeline

// Names inside an exported node directory.
const (
	ParametersFile = "parameters.json"
	ImportedDir    = "imported"
	ExportedDir    = "exported"
)

// Files at the root of an export directory. Node ids may not take these
// names.
const (
	DocumentFile = "pipeline.json"
	ScriptFile   = "run.sh"
)

package export

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
)

// Run executes the run script of an exported directory with bash. The
// process is killed when ctx is cancelled. Validity must have been checked
// at export time; Run does not re-check it.
func Run(ctx context.Context, dir string, stdout, stderr io.Writer) error {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("export: resolve %s: %w", dir, err)
	}
	cmd := exec.CommandContext(ctx, "bash", filepath.Join(dir, ScriptFile))
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("export: run %s: %w", ScriptFile, err)
	}
	return nil
}

// Package fsutil installs data directories by symlink or copy.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"

	cp "github.com/otiai10/copy"
)

// Options controls how Link installs a directory.
type Options struct {
	// Copy copies the target tree instead of creating a symlink.
	Copy bool
	// Relative makes symlinks point at a path relative to the link's parent.
	Relative bool
}

// Link makes link resolve to target, replacing whatever is at link. Parent
// directories of link are created.
func Link(target, link string, opts Options) error {
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return fmt.Errorf("fsutil: create parent of %s: %w", link, err)
	}
	if err := os.RemoveAll(link); err != nil {
		return fmt.Errorf("fsutil: clear %s: %w", link, err)
	}

	if opts.Copy {
		if err := cp.Copy(target, link); err != nil {
			return fmt.Errorf("fsutil: copy %s to %s: %w", target, link, err)
		}
		return nil
	}

	dest := target
	if opts.Relative {
		rel, err := RelativeTo(filepath.Dir(link), target)
		if err != nil {
			return err
		}
		dest = rel
	}
	if err := os.Symlink(dest, link); err != nil {
		return fmt.Errorf("fsutil: symlink %s to %s: %w", link, dest, err)
	}
	return nil
}

// RelativeTo returns target expressed relative to base. Both paths are made
// absolute first.
func RelativeTo(base, target string) (string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("fsutil: resolve %s: %w", base, err)
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("fsutil: resolve %s: %w", target, err)
	}
	rel, err := filepath.Rel(absBase, absTarget)
	if err != nil {
		return "", fmt.Errorf("fsutil: relativize %s: %w", target, err)
	}
	return rel, nil
}

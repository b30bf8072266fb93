package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/meikuraledutech/pipeline"
	"github.com/meikuraledutech/pipeline/internal/fsutil"
	"go.uber.org/zap"
)

// File names at the root of an exported tree.
const (
	DocumentFile = pipeline.DocumentFile
	ScriptFile   = pipeline.ScriptFile
)

// Options controls an export.
type Options struct {
	// ForceCopy copies data instead of symlinking it.
	ForceCopy bool
	// RelativizePaths writes links and script paths relative to the export
	// directory, so the tree can be moved.
	RelativizePaths bool
	// PreInitializeLinks wires pipeline links during export instead of
	// leaving them to the run script.
	PreInitializeLinks bool
}

// Exporter writes pipelines to disk.
type Exporter struct {
	logger *zap.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithLogger sets the exporter's logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Exporter) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Exporter.
func New(opts ...Option) *Exporter {
	e := &Exporter{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// handoff is one pipeline link realized on disk.
type handoff struct {
	node   string
	sample string
	cache  string
	from   string // <dir>/<source>/exported/<sample>/<source-cache>
	to     string // <dir>/<node>/imported/<sample>/<cache>
}

// Export writes p into dir. Pipelines whose report has errors are refused
// with an error wrapping pipeline.ErrInvalidPipeline; a pipeline that cannot
// be ordered returns an error wrapping pipeline.ErrCycleDetected. Any
// filesystem failure aborts the export and is returned as *Error.
func (e *Exporter) Export(ctx context.Context, p *pipeline.Pipeline, dir string, opts Options) error {
	report := p.Validate()
	for _, w := range report.Filter(pipeline.Warning) {
		e.logger.Warn("pipeline warning", zap.String("entry", w.String()))
	}
	if err := report.Err(); err != nil {
		return err
	}

	order, err := p.Traverse()
	if err != nil {
		return err
	}

	dir, err = filepath.Abs(dir)
	if err != nil {
		return &Error{Op: "resolve", Err: err}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &Error{Op: "create", Err: err}
	}

	if err := writeDocument(p, filepath.Join(dir, DocumentFile)); err != nil {
		return err
	}

	install := pipeline.InstallOptions{ForceCopy: opts.ForceCopy, RelativizePaths: opts.RelativizePaths}
	for _, n := range p.Nodes() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := n.Instance.Install(filepath.Join(dir, n.ID), install); err != nil {
			return &Error{Op: "install", Node: n.ID, Err: err}
		}
		e.logger.Debug("node installed", zap.String("node", n.ID))
	}

	handoffs := make(map[string][]handoff, len(order))
	for _, n := range order {
		handoffs[n.ID] = links(p, n, dir)
	}

	if opts.PreInitializeLinks {
		for _, n := range order {
			if err := ctx.Err(); err != nil {
				return err
			}
			for _, h := range handoffs[n.ID] {
				err := fsutil.Link(h.from, h.to, fsutil.Options{
					Copy:     opts.ForceCopy,
					Relative: opts.RelativizePaths,
				})
				if err != nil {
					return &Error{Op: "link", Node: h.node, Sample: h.sample, Cache: h.cache, Err: err}
				}
			}
		}
	}

	if err := writeScript(filepath.Join(dir, ScriptFile), dir, order, handoffs, opts); err != nil {
		return err
	}

	e.logger.Info("pipeline exported",
		zap.String("dir", dir),
		zap.Int("nodes", len(order)),
		zap.Bool("pre-initialized", opts.PreInitializeLinks),
		zap.Bool("copy", opts.ForceCopy))
	return nil
}

func writeDocument(p *pipeline.Pipeline, path string) error {
	doc, err := p.Serialize()
	if err != nil {
		return fmt.Errorf("export: serialize: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return &Error{Op: "write " + DocumentFile, Err: err}
	}
	if err := doc.Write(f); err != nil {
		f.Close()
		return &Error{Op: "write " + DocumentFile, Err: err}
	}
	if err := f.Close(); err != nil {
		return &Error{Op: "write " + DocumentFile, Err: err}
	}
	return nil
}

// links collects the pipeline-link handoffs feeding n.
func links(p *pipeline.Pipeline, n *pipeline.Node, dir string) []handoff {
	var out []handoff
	for _, s := range n.Instance.Samples() {
		for _, c := range s.Imports {
			ds := c.Active()
			if ds == nil {
				continue
			}
			switch ds.Kind {
			case pipeline.KindPipelineLink:
				src := p.Node(ds.SourceNode)
				out = append(out, handoff{
					node:   n.ID,
					sample: s.Name,
					cache:  c.Path,
					from:   filepath.Join(dir, src.ID, pipeline.ExportedDir, s.Name, ds.SourceCache),
					to:     filepath.Join(dir, n.ID, pipeline.ImportedDir, s.Name, c.Path),
				})
			case pipeline.KindFolderLink, pipeline.KindDummy:
				// Installed by the instance.
			}
		}
	}
	return out
}

package export

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"al.essio.dev/pkg/shellescape"
	"github.com/meikuraledutech/pipeline"
	"github.com/meikuraledutech/pipeline/internal/fsutil"
)

var scriptTemplate = template.Must(template.New(ScriptFile).Parse(`#!/usr/bin/env bash
# Runs every stage of the pipeline in dependency order.
set -euo pipefail
{{- if .Relative}}
cd "$(dirname "$0")"
{{- end}}
{{range .Modules}}
export {{.Var}}={{.Path}}
{{- end}}
{{range .Stages}}
# {{.ID}} ({{.Module}})
{{- range .Links}}
rm -rf {{.To}}
mkdir -p {{.Parent}}
{{if $.Copy}}cp -R {{.From}} {{.To}}{{else}}ln -s {{.Target}} {{.To}}{{end}}
{{- end}}
pushd {{.Dir}} > /dev/null
"${{.Var}}"{{range .Args}} {{.}}{{end}}
popd > /dev/null
{{end -}}
`))

type scriptData struct {
	Relative bool
	Copy     bool
	Modules  []scriptModule
	Stages   []scriptStage
}

type scriptModule struct {
	Var  string
	Path string
}

type scriptStage struct {
	ID     string
	Module string
	Dir    string
	Var    string
	Args   []string
	Links  []scriptLink
}

type scriptLink struct {
	From   string
	To     string
	Parent string
	Target string
}

func writeScript(path, dir string, order []*pipeline.Node, handoffs map[string][]handoff, opts Options) error {
	data := scriptData{Relative: opts.RelativizePaths, Copy: opts.ForceCopy}

	// display renders a path under dir the way the script refers to it.
	display := func(p string) (string, error) {
		if !opts.RelativizePaths {
			return shellescape.Quote(p), nil
		}
		rel, err := fsutil.RelativeTo(dir, p)
		if err != nil {
			return "", err
		}
		return shellescape.Quote(rel), nil
	}

	vars := make(map[string]string)
	taken := make(map[string]bool)
	for _, n := range order {
		mod := n.Module()
		if _, ok := vars[mod.ID()]; ok {
			continue
		}
		name := moduleVar(mod.ID())
		v := name
		for i := 2; taken[v]; i++ {
			v = name + "_" + strconv.Itoa(i)
		}
		taken[v] = true
		vars[mod.ID()] = v
		data.Modules = append(data.Modules, scriptModule{Var: v, Path: shellescape.Quote(mod.Executable())})
	}

	for _, n := range order {
		mod := n.Module()
		nodeDir, err := display(filepath.Join(dir, n.ID))
		if err != nil {
			return &Error{Op: "script", Node: n.ID, Err: err}
		}
		stage := scriptStage{
			ID:     comment(n.ID),
			Module: comment(mod.ID()),
			Dir:    nodeDir,
			Var:    vars[mod.ID()],
		}
		for _, arg := range mod.RunArgs(pipeline.ParametersFile) {
			stage.Args = append(stage.Args, shellescape.Quote(arg))
		}

		for _, h := range handoffs[n.ID] {
			l, err := scriptLinkFor(h, opts, display)
			if err != nil {
				return &Error{Op: "script", Node: h.node, Sample: h.sample, Cache: h.cache, Err: err}
			}
			stage.Links = append(stage.Links, l)
		}
		data.Stages = append(data.Stages, stage)
	}

	var buf bytes.Buffer
	if err := scriptTemplate.Execute(&buf, data); err != nil {
		return &Error{Op: "script", Err: err}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o755); err != nil {
		return &Error{Op: "write " + ScriptFile, Err: err}
	}
	return nil
}

func scriptLinkFor(h handoff, opts Options, display func(string) (string, error)) (scriptLink, error) {
	var l scriptLink
	var err error
	if l.From, err = display(h.from); err != nil {
		return l, err
	}
	if l.To, err = display(h.to); err != nil {
		return l, err
	}
	if l.Parent, err = display(filepath.Dir(h.to)); err != nil {
		return l, err
	}

	// Symlink targets resolve relative to the link's directory.
	target := h.from
	if opts.RelativizePaths {
		if target, err = fsutil.RelativeTo(filepath.Dir(h.to), h.from); err != nil {
			return l, err
		}
	}
	l.Target = shellescape.Quote(target)
	return l, nil
}

// comment makes s safe to place on a single comment line.
func comment(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == '\u2028' || r == '\u2029' {
			return ' '
		}
		return r
	}, s)
}

// moduleVar derives a shell variable name from a module id.
func moduleVar(id string) string {
	var b strings.Builder
	b.WriteString("MODULE_")
	for _, r := range strings.ToUpper(id) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

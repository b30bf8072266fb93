package export

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/meikuraledutech/pipeline"
	"github.com/meikuraledutech/pipeline/module"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tool writes an executable shell script and returns its path.
func tool(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nset -e\n"+body+"\n"), 0o755))
	return path
}

type fixture struct {
	p *pipeline.Pipeline
	x *pipeline.Node
	y *pipeline.Node
}

// chain builds X --result--> Y over sample s1.
func chain(t *testing.T) fixture {
	t.Helper()
	produce := &module.Definition{
		Name:    "produce",
		Path:    tool(t, "produce", `echo hello > exported/s1/result/out.txt`),
		Exports: []string{"result"},
	}
	consume := &module.Definition{
		Name:    "consume",
		Path:    tool(t, "consume", `cat imported/s1/result/out.txt > exported/s1/summary/out.txt`),
		Imports: []string{"result"},
		Exports: []string{"summary"},
	}

	p := pipeline.New()
	x := p.AddNode(produce)
	x.ID = "X"
	y := p.AddNode(consume)
	y.ID = "Y"
	for _, n := range []*pipeline.Node{x, y} {
		_, err := n.Instance.AddSample("s1")
		require.NoError(t, err)
	}
	require.True(t, p.AddEdge(x, y))
	require.NoError(t, p.Bind(y, "s1", "result", x, "result"))
	return fixture{p: p, x: x, y: y}
}

func readScript(t *testing.T, dir string) string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(dir, ScriptFile))
	require.NoError(t, err)
	return string(raw)
}

func TestExport_Wiring(t *testing.T) {
	f := chain(t)
	dir := t.TempDir()

	err := New().Export(context.Background(), f.p, dir, Options{PreInitializeLinks: true})
	require.NoError(t, err)

	for _, path := range []string{
		DocumentFile,
		ScriptFile,
		filepath.Join("X", pipeline.ParametersFile),
		filepath.Join("Y", pipeline.ParametersFile),
	} {
		assert.FileExists(t, filepath.Join(dir, path))
	}
	assert.DirExists(t, filepath.Join(dir, "X", pipeline.ImportedDir))
	assert.DirExists(t, filepath.Join(dir, "Y", pipeline.ExportedDir, "s1", "summary"))

	// Data written upstream is visible downstream.
	out := filepath.Join(dir, "X", pipeline.ExportedDir, "s1", "result", "out.txt")
	require.NoError(t, os.WriteFile(out, []byte("payload"), 0o644))
	got, err := os.ReadFile(filepath.Join(dir, "Y", pipeline.ImportedDir, "s1", "result", "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	script := readScript(t, dir)
	assert.True(t, strings.HasPrefix(script, "#!/usr/bin/env bash\n"))
	assert.Contains(t, script, "export MODULE_PRODUCE=")
	assert.Contains(t, script, "export MODULE_CONSUME=")
	px := strings.Index(script, `"$MODULE_PRODUCE" --parameters parameters.json`)
	py := strings.Index(script, `"$MODULE_CONSUME" --parameters parameters.json`)
	require.NotEqual(t, -1, px)
	require.NotEqual(t, -1, py)
	assert.Less(t, px, py)
	assert.Contains(t, script, "ln -s "+filepath.Join(dir, "X", "exported", "s1", "result"))

	doc, err := os.Open(filepath.Join(dir, DocumentFile))
	require.NoError(t, err)
	defer doc.Close()
	decoded, err := pipeline.ReadDocument(doc)
	require.NoError(t, err)
	assert.Contains(t, decoded.Edges, pipeline.EdgeRecord{
		SourceNode: "X", TargetNode: "Y", SourceCache: "result", TargetCache: "result", Sample: "s1",
	})
}

func TestExport_ForceCopy(t *testing.T) {
	f := chain(t)
	dir := t.TempDir()

	err := New().Export(context.Background(), f.p, dir, Options{PreInitializeLinks: true, ForceCopy: true})
	require.NoError(t, err)

	info, err := os.Lstat(filepath.Join(dir, "Y", pipeline.ImportedDir, "s1", "result"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Zero(t, info.Mode()&os.ModeSymlink)
	assert.Contains(t, readScript(t, dir), "cp -R ")
}

func TestExport_LinksDeferredToScript(t *testing.T) {
	f := chain(t)
	dir := t.TempDir()

	require.NoError(t, New().Export(context.Background(), f.p, dir, Options{RelativizePaths: true}))

	_, err := os.Lstat(filepath.Join(dir, "Y", pipeline.ImportedDir, "s1", "result"))
	assert.True(t, os.IsNotExist(err))

	script := readScript(t, dir)
	assert.Contains(t, script, `cd "$(dirname "$0")"`)
	assert.Contains(t, script, "ln -s ../../../X/exported/s1/result Y/imported/s1/result")
	assert.Contains(t, script, "pushd X > /dev/null")
	assert.NotContains(t, script, dir)
}

func TestExport_RunScript(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	f := chain(t)
	dir := t.TempDir()
	require.NoError(t, New().Export(context.Background(), f.p, dir, Options{RelativizePaths: true}))

	var stderr strings.Builder
	require.NoError(t, Run(context.Background(), dir, nil, &stderr), stderr.String())

	got, err := os.ReadFile(filepath.Join(dir, "Y", pipeline.ExportedDir, "s1", "summary", "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(got))
}

func TestExport_RefusesInvalidPipeline(t *testing.T) {
	f := chain(t)
	f.y.Instance.Sample("s1").Import("result").Clear()
	dir := filepath.Join(t.TempDir(), "out")

	err := New().Export(context.Background(), f.p, dir, Options{})
	require.ErrorIs(t, err, pipeline.ErrInvalidPipeline)
	assert.NoDirExists(t, dir)
}

func TestExport_Cycle(t *testing.T) {
	def := &module.Definition{Name: "step", Path: "/bin/true"}
	p := pipeline.New()
	a, b, c := p.AddNode(def), p.AddNode(def), p.AddNode(def)
	require.True(t, p.AddEdge(a, b))
	require.True(t, p.AddEdge(b, c))
	require.True(t, p.AddEdge(c, a))

	err := New().Export(context.Background(), p, t.TempDir(), Options{})
	require.ErrorIs(t, err, pipeline.ErrCycleDetected)
	assert.False(t, errors.Is(err, pipeline.ErrInvalidPipeline))
}

func TestExport_FilesystemError(t *testing.T) {
	f := chain(t)
	dir := t.TempDir()
	// A file where the node directory should go.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "X"), nil, 0o644))

	err := New().Export(context.Background(), f.p, dir, Options{})
	var exportErr *Error
	require.ErrorAs(t, err, &exportErr)
	assert.Equal(t, "install", exportErr.Op)
	assert.Equal(t, "X", exportErr.Node)
}

func TestExport_Cancelled(t *testing.T) {
	f := chain(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New().Export(ctx, f.p, t.TempDir(), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestModuleVar(t *testing.T) {
	assert.Equal(t, "MODULE_FAST_QC", moduleVar("fast-qc"))
	assert.Equal(t, "MODULE_STEP2", moduleVar("step2"))
}

func TestExport_UnsafeIDsStayInside(t *testing.T) {
	def := &module.Definition{Name: "step\nrm -rf /", Path: "/bin/true"}
	p := pipeline.New()
	escape := p.AddNode(def)
	escape.ID = "../escaped"
	inject := p.AddNode(def)
	inject.ID = "b\ntouch /tmp/pwned\n#"
	for _, n := range []*pipeline.Node{escape, inject} {
		_, err := n.Instance.AddSample("s1")
		require.NoError(t, err)
	}
	require.True(t, p.AddEdge(escape, inject))

	parent := t.TempDir()
	dir := filepath.Join(parent, "out")
	require.NoError(t, New().Export(context.Background(), p, dir, Options{}))

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	require.Len(t, entries, 1, "nothing written next to the export directory")
	assert.FileExists(t, filepath.Join(dir, escape.ID, pipeline.ParametersFile))
	assert.FileExists(t, filepath.Join(dir, inject.ID, pipeline.ParametersFile))

	for _, line := range strings.Split(readScript(t, dir), "\n") {
		assert.False(t, strings.HasPrefix(line, "touch"), line)
		assert.False(t, strings.HasPrefix(line, "rm -rf /"), line)
	}
}

func TestComment(t *testing.T) {
	assert.Equal(t, "b touch x #", comment("b\ntouch x\r#"))
	assert.Equal(t, "plain-id", comment("plain-id"))
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/meikuraledutech/pipeline"
	"github.com/meikuraledutech/pipeline/export"
	"github.com/meikuraledutech/pipeline/memory"
	"github.com/meikuraledutech/pipeline/module"
	"github.com/meikuraledutech/pipeline/postgres"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// Wire up postgres when DATABASE_URL is set, memory otherwise.
	var store pipeline.Store = memory.New()
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			log.Fatalf("connect: %v", err)
		}
		defer pool.Close()
		store = postgres.New(pool)
	}
	if err := store.CreateSchema(ctx); err != nil {
		log.Fatalf("schema: %v", err)
	}

	// ── Modules ───────────────────────────────────────────────────────
	catalog, err := module.NewCatalog(
		&module.Definition{
			Name:    "trim",
			Path:    "/usr/local/bin/trim-reads",
			Imports: []string{"reads"},
			Exports: []string{"trimmed"},
			Schema:  json.RawMessage(`{"type":"object","properties":{"quality":{"type":"integer","minimum":0}}}`),
		},
		&module.Definition{
			Name:    "align",
			Path:    "/usr/local/bin/align-reads",
			Imports: []string{"reads"},
			Exports: []string{"alignments"},
		},
	)
	if err != nil {
		log.Fatalf("catalog: %v", err)
	}

	// ── Build ─────────────────────────────────────────────────────────
	input, err := os.MkdirTemp("", "reads-")
	if err != nil {
		log.Fatalf("input: %v", err)
	}
	defer os.RemoveAll(input)

	p := pipeline.New(pipeline.WithLogger(logger))
	p.OnChange(func(e pipeline.Event) {
		fmt.Printf("event: %s\n", e.Kind)
	})

	trimDef := catalog.Definition("trim")
	trim := p.AddNode(trimDef)
	trim.Name = "Trim reads"
	trimInst := trim.Instance.(*module.Instance)
	trimInst.SetValues(json.RawMessage(`{"quality":20}`))

	align := p.AddNode(catalog.Definition("align"))
	align.Name = "Align"

	for _, n := range []*pipeline.Node{trim, align} {
		if _, err := n.Instance.AddSample("patient-1"); err != nil {
			log.Fatalf("sample: %v", err)
		}
	}
	if err := trimInst.SetFolder("patient-1", "reads", input); err != nil {
		log.Fatalf("folder: %v", err)
	}

	if !p.AddEdge(trim, align) {
		log.Fatal("edge rejected")
	}
	fmt.Printf("reverse edge allowed: %v\n", p.CanAddEdge(align, trim))

	if err := p.Bind(align, "patient-1", "reads", trim, "trimmed"); err != nil {
		log.Fatalf("bind: %v", err)
	}

	// ── Inspect ───────────────────────────────────────────────────────
	order, err := p.Traverse()
	if err != nil {
		log.Fatalf("order: %v", err)
	}
	p.EnsureIDs()
	for i, n := range order {
		fmt.Printf("%d. %s\n", i+1, n.ID)
	}

	report := p.Validate()
	fmt.Printf("\nreport (%d entries, errors: %v):\n", len(report.Entries), report.HasErrors())
	for _, e := range report.Entries {
		fmt.Println(" ", e)
	}

	// ── Save and reload ───────────────────────────────────────────────
	doc, err := p.Serialize()
	if err != nil {
		log.Fatalf("serialize: %v", err)
	}
	if err := store.SavePipeline(ctx, "reads-qc", doc); err != nil {
		log.Fatalf("save: %v", err)
	}
	stored, err := store.GetPipeline(ctx, "reads-qc")
	if err != nil {
		log.Fatalf("get: %v", err)
	}
	fmt.Println("\npipeline stored:")
	printJSON(stored)

	reloaded, err := pipeline.Load(stored, catalog, pipeline.WithLogger(logger))
	if err != nil {
		log.Fatalf("load: %v", err)
	}
	fmt.Printf("reloaded %d nodes, %d edges\n", reloaded.Len(), len(reloaded.Edges()))

	// ── Export ────────────────────────────────────────────────────────
	out, err := os.MkdirTemp("", "pipeline-")
	if err != nil {
		log.Fatalf("output: %v", err)
	}
	exporter := export.New(export.WithLogger(logger))
	err = exporter.Export(ctx, reloaded, out, export.Options{
		RelativizePaths:    true,
		PreInitializeLinks: true,
	})
	if err != nil {
		log.Fatalf("export: %v", err)
	}
	script, err := os.ReadFile(filepath.Join(out, export.ScriptFile))
	if err != nil {
		log.Fatalf("read script: %v", err)
	}
	fmt.Printf("\nexported to %s\n%s", out, script)

	// ── Cleanup ───────────────────────────────────────────────────────
	if err := store.DeletePipeline(ctx, "reads-qc"); err != nil {
		log.Fatalf("delete: %v", err)
	}
	fmt.Println("pipeline deleted")
}

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

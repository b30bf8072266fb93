package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/meikuraledutech/pipeline"
	"github.com/meikuraledutech/pipeline/memory"
	"github.com/meikuraledutech/pipeline/module"
	"github.com/meikuraledutech/pipeline/postgres"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	errNoDatabase       = errors.New("pipectl: database-url is not set")
	errPipelineNotFound = errors.New("pipectl: pipeline not found")
)

// cli carries the state shared by all commands once configuration is read.
type cli struct {
	v       *viper.Viper
	logger  *zap.Logger
	catalog *module.Catalog
}

func newRootCmd() *cobra.Command {
	c := &cli{v: newViper(), logger: zap.NewNop()}

	root := &cobra.Command{
		Use:          "pipectl",
		Short:        "Build, check and export module pipelines",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = c.logger.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.String(keyConfig, "", "config file (default ./pipectl.yaml)")
	flags.String(keyLogLevel, "info", "log level (debug, info, warn, error)")
	flags.String(keyLogFormat, "console", "log format (console, json)")
	flags.String(keyDatabaseURL, "", "PostgreSQL connection string (env DATABASE_URL)")
	flags.Bool(keyStrict, false, "refuse edges that close a cycle through other nodes")
	for _, key := range []string{keyConfig, keyLogLevel, keyLogFormat, keyDatabaseURL, keyStrict} {
		_ = c.v.BindPFlag(key, flags.Lookup(key))
	}

	root.AddCommand(
		c.validateCmd(),
		c.orderCmd(),
		c.exportCmd(),
		c.runCmd(),
		c.serveCmd(),
		c.schemaCmd(),
		c.pushCmd(),
		c.pullCmd(),
	)
	return root
}

func (c *cli) init() error {
	if err := readConfig(c.v); err != nil {
		return err
	}
	logger, err := newLogger(c.v.GetString(keyLogLevel), c.v.GetString(keyLogFormat))
	if err != nil {
		return err
	}
	c.logger = logger

	cat, err := loadCatalog(c.v)
	if err != nil {
		return err
	}
	c.catalog = cat
	c.logger.Debug("configuration loaded",
		zap.String("config", c.v.ConfigFileUsed()),
		zap.Int("modules", len(cat.Definitions())))
	return nil
}

func (c *cli) pipelineOptions() []pipeline.Option {
	opts := []pipeline.Option{pipeline.WithLogger(c.logger)}
	if c.v.GetBool(keyStrict) {
		opts = append(opts, pipeline.WithStrictAcyclic())
	}
	return opts
}

// load reads a pipeline document from path ("-" for stdin) and rebuilds it.
func (c *cli) load(path string, stdin io.Reader) (*pipeline.Pipeline, error) {
	doc, err := readDocumentFile(path, stdin)
	if err != nil {
		return nil, err
	}
	return pipeline.Load(doc, c.catalog, c.pipelineOptions()...)
}

func readDocumentFile(path string, stdin io.Reader) (*pipeline.Document, error) {
	if path == "-" {
		return pipeline.ReadDocument(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pipectl: %w", err)
	}
	defer f.Close()
	return pipeline.ReadDocument(f)
}

// openStore connects to PostgreSQL when a database URL is configured and
// falls back to an in-memory store otherwise. The returned func releases
// the connection pool.
func (c *cli) openStore(ctx context.Context, required bool) (pipeline.Store, func(), error) {
	url := c.v.GetString(keyDatabaseURL)
	if url == "" {
		if required {
			return nil, nil, errNoDatabase
		}
		c.logger.Warn("no database configured, pipelines are kept in memory")
		return memory.New(), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("pipectl: connect: %w", err)
	}
	return postgres.New(pool), pool.Close, nil
}

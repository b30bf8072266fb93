package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/meikuraledutech/pipeline/export"
	"github.com/meikuraledutech/pipeline/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (c *cli) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <pipeline.json>",
		Short: "Report problems that would prevent an export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.load(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			report := p.Validate()
			for _, e := range report.Entries {
				fmt.Fprintln(cmd.OutOrStdout(), e.String())
			}
			return report.Err()
		},
	}
}

func (c *cli) orderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "order <pipeline.json>",
		Short: "Print node ids in execution order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.load(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			order, err := p.Traverse()
			if err != nil {
				return err
			}
			for _, n := range order {
				fmt.Fprintln(cmd.OutOrStdout(), n.ID)
			}
			return nil
		},
	}
}

func (c *cli) exportCmd() *cobra.Command {
	var opts export.Options
	cmd := &cobra.Command{
		Use:   "export <pipeline.json> <dir>",
		Short: "Write a runnable pipeline tree",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.load(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			e := export.New(export.WithLogger(c.logger))
			return e.Export(cmd.Context(), p, args[1], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.ForceCopy, "force-copy", false, "copy data instead of symlinking")
	cmd.Flags().BoolVar(&opts.RelativizePaths, "relativize", false, "use paths relative to the export directory")
	cmd.Flags().BoolVar(&opts.PreInitializeLinks, "pre-initialize", false, "wire pipeline links now instead of in run.sh")
	return cmd
}

func (c *cli) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <dir>",
		Short: "Execute an exported pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			c.logger.Info("running pipeline", zap.String("dir", args[0]))
			return export.Run(ctx, args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

func (c *cli) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline editing API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, closeStore, err := c.openStore(ctx, false)
			if err != nil {
				return err
			}
			defer closeStore()
			if err := store.CreateSchema(ctx); err != nil {
				return fmt.Errorf("pipectl: schema: %w", err)
			}

			opts := []server.Option{server.WithLogger(c.logger)}
			if c.v.GetBool(keyStrict) {
				opts = append(opts, server.WithStrictAcyclic())
			}
			app := server.New(store, c.catalog, opts...).App()

			errc := make(chan error, 1)
			addr := c.v.GetString(keyAddr)
			go func() {
				c.logger.Info("listening", zap.String("addr", addr))
				errc <- app.Listen(addr)
			}()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
				c.logger.Info("shutting down")
				return app.Shutdown()
			}
		},
	}
	cmd.Flags().String(keyAddr, defaultAddr, "listen address")
	_ = c.v.BindPFlag(keyAddr, cmd.Flags().Lookup(keyAddr))
	return cmd
}

func (c *cli) schemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "create",
			Short: "Create the pipelines table",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				store, closeStore, err := c.openStore(cmd.Context(), true)
				if err != nil {
					return err
				}
				defer closeStore()
				if err := store.CreateSchema(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema created")
				return nil
			},
		},
		&cobra.Command{
			Use:   "drop",
			Short: "Drop the pipelines table",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				store, closeStore, err := c.openStore(cmd.Context(), true)
				if err != nil {
					return err
				}
				defer closeStore()
				if err := store.DropSchema(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema dropped")
				return nil
			},
		},
	)
	return cmd
}

func (c *cli) pushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push <id> <pipeline.json>",
		Short: "Store a pipeline document in the database",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Loading checks modules, edges and bindings before storing.
			p, err := c.load(args[1], cmd.InOrStdin())
			if err != nil {
				return err
			}
			doc, err := p.Serialize()
			if err != nil {
				return err
			}
			store, closeStore, err := c.openStore(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer closeStore()
			return store.SavePipeline(cmd.Context(), args[0], doc)
		},
	}
}

func (c *cli) pullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull <id>",
		Short: "Print a stored pipeline document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := c.openStore(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer closeStore()
			doc, err := store.GetPipeline(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if doc == nil {
				return fmt.Errorf("%w: %s", errPipelineNotFound, args[0])
			}
			return doc.Write(cmd.OutOrStdout())
		},
	}
}

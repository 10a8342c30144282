package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ludo-technologies/connscan/domain"
	"github.com/ludo-technologies/connscan/internal/mcpserver"
)

type serveOptions struct {
	engineFlags
	mcp    bool
	noScan bool
}

func serveCmd() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve [path...]",
		Short: "Watch a source tree and serve live results",
		Long: `Watch a source tree and expose the live aggregate, dashboard and
cache statistics to tools.

With --mcp the results are served as Model Context Protocol tools over
stdin/stdout. Logs go to stderr.

Examples:
  connscan serve --mcp
  connscan serve --mcp --no-scan src/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts, args)
		},
	}

	opts.register(cmd)
	cmd.Flags().BoolVar(&opts.mcp, "mcp", false, "Serve MCP tools over stdio")
	cmd.Flags().BoolVar(&opts.noScan, "no-scan", false, "Skip the initial full scan")
	return cmd
}

func runServe(cmd *cobra.Command, opts *serveOptions, args []string) error {
	if !opts.mcp {
		return domain.NewInvalidInputError("no transport selected, use --mcp", nil)
	}

	cfg, err := loadConfig(opts.configPath, args, opts.overrides(args))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger()
	engine, err := startEngine(ctx, cfg, logger, !opts.noScan, nil)
	if err != nil {
		return err
	}
	defer engine.Stop()

	srv, err := mcpserver.New(engine, logger.WithName("mcp"))
	if err != nil {
		return err
	}
	if err := srv.ServeStdio(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

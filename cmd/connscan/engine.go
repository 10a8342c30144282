package main

import (
	"context"
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/ludo-technologies/connscan/app"
	"github.com/ludo-technologies/connscan/domain"
	"github.com/ludo-technologies/connscan/internal/config"
	"github.com/ludo-technologies/connscan/service"
)

// engineFlags are the configuration overrides shared by scan, watch and serve
type engineFlags struct {
	configPath  string
	include     []string
	exclude     []string
	workers     int
	cacheSize   int
	maxMemory   int64
	noGitignore bool
}

func (f *engineFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Configuration file path")
	cmd.Flags().StringSliceVar(&f.include, "include", nil, "File patterns to include (replaces the configured list)")
	cmd.Flags().StringSliceVar(&f.exclude, "exclude", nil, "Gitignore-style patterns to exclude (added to the configured list)")
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 0, "Number of analysis workers")
	cmd.Flags().IntVar(&f.cacheSize, "cache-size", 0, "Maximum number of cached analysis results")
	cmd.Flags().Int64Var(&f.maxMemory, "max-memory", 0, "Content cache memory bound in bytes")
	cmd.Flags().BoolVar(&f.noGitignore, "no-gitignore", false, "Do not apply .gitignore files")
}

func (f *engineFlags) overrides(paths []string) service.ConfigOverrides {
	return service.ConfigOverrides{
		Paths:           paths,
		IncludePatterns: f.include,
		ExcludePatterns: f.exclude,
		Workers:         f.workers,
		CacheSize:       f.cacheSize,
		MaxMemoryBytes:  f.maxMemory,
		NoGitignore:     f.noGitignore,
	}
}

// loadConfig discovers the configuration starting at the first path
func loadConfig(configPath string, paths []string, overrides service.ConfigOverrides) (*config.Config, error) {
	target := "."
	if len(paths) > 0 {
		target = paths[0]
	}
	return service.NewConfigurationLoader().Load(configPath, target, overrides)
}

// startEngine builds a watching engine, runs the initial scan unless
// skipped and starts streaming
func startEngine(ctx context.Context, cfg *config.Config, logger logr.Logger, initialScan bool, progress domain.ProgressManager) (*app.Engine, error) {
	source, err := app.NewWatchSource(cfg, logger)
	if err != nil {
		return nil, err
	}
	engine, err := app.NewEngine(cfg, app.WithLogger(logger), app.WithSource(source))
	if err != nil {
		return nil, err
	}

	if initialScan {
		report, err := engine.Scan(ctx, nil, progress)
		if err != nil {
			return nil, err
		}
		logger.Info("initial scan complete",
			"files", len(report.Results),
			"violations", report.Aggregate.TotalViolations,
			"errors", len(report.Errors),
			"duration", report.Duration.String())
	}

	if err := engine.Start(ctx); err != nil {
		return nil, err
	}
	return engine, nil
}

// openOutput returns the file at path, or fallback when path is empty
func openOutput(fallback io.Writer, path string) (io.Writer, func() error, error) {
	if path == "" {
		return fallback, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, domain.NewOutputError("failed to create output file", err)
	}
	return f, f.Close, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

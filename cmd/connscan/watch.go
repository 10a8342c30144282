package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ludo-technologies/connscan/app"
	"github.com/ludo-technologies/connscan/domain"
	"github.com/ludo-technologies/connscan/service"
)

type watchOptions struct {
	engineFlags
	format    string
	queueSize int
	debounce  float64
	refresh   int
	noScan    bool
}

func watchCmd() *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch [path...]",
		Short: "Watch a source tree and analyze changes as they happen",
		Long: `Run an initial scan, then watch the tree and re-analyze changed files
and their dependents. A dashboard is printed every refresh interval until
interrupted.

Examples:
  # Watch the current directory
  connscan watch

  # Faster debounce, JSON dashboards every 5 seconds
  connscan watch --debounce 0.2 --refresh 5 --format json src/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, args)
		},
	}

	opts.register(cmd)
	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "Dashboard format: text, json or yaml (default from config)")
	cmd.Flags().IntVar(&opts.queueSize, "queue-size", 0, "Maximum number of pending analysis requests")
	cmd.Flags().Float64Var(&opts.debounce, "debounce", -1, "Seconds a file must be quiet before it is analyzed")
	cmd.Flags().IntVar(&opts.refresh, "refresh", 0, "Seconds between dashboards")
	cmd.Flags().BoolVar(&opts.noScan, "no-scan", false, "Skip the initial full scan")
	return cmd
}

func (o *watchOptions) configOverrides(args []string) service.ConfigOverrides {
	overrides := o.overrides(args)
	overrides.OutputFormat = o.format
	overrides.QueueSize = o.queueSize
	overrides.RefreshSeconds = o.refresh
	if o.debounce >= 0 {
		d := o.debounce
		overrides.DebounceSeconds = &d
	}
	return overrides
}

func runWatch(cmd *cobra.Command, opts *watchOptions, args []string) error {
	cfg, err := loadConfig(opts.configPath, args, opts.configOverrides(args))
	if err != nil {
		return err
	}
	format, err := service.NewConfigurationLoader().OutputFormat(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger()
	progress := service.NewProgressManager(format == domain.OutputFormatText)
	engine, err := startEngine(ctx, cfg, logger, !opts.noScan, progress)
	progress.Close()
	if err != nil {
		return err
	}
	defer engine.Stop()

	engine.OnResult(func(r domain.AnalysisResult) {
		logger.V(1).Info("analyzed", "file", r.FilePath, "kind", r.Kind,
			"violations", len(r.Violations), "cache_hit", r.CacheHit)
	})
	logger.Info("watching", "paths", cfg.Watch.Paths)

	refresh := time.Duration(cfg.Output.RefreshSeconds) * time.Second
	return runDashboard(ctx, engine, format, refresh, cmd.OutOrStdout())
}

// runDashboard prints a frame every refresh until ctx is done, then a
// final frame
func runDashboard(ctx context.Context, engine *app.Engine, format domain.OutputFormat, refresh time.Duration, w io.Writer) error {
	formatter := service.NewOutputFormatter()
	write := func() error {
		data := engine.DashboardData()
		stats := engine.StreamingStats()
		return formatter.WriteDashboard(&data, &stats, format, w)
	}

	ticker := time.NewTicker(refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return write()
		case <-ticker.C:
			if err := write(); err != nil {
				return err
			}
		}
	}
}

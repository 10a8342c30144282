package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ludo-technologies/connscan/app"
	"github.com/ludo-technologies/connscan/domain"
	"github.com/ludo-technologies/connscan/service"
)

type scanOptions struct {
	engineFlags
	format           string
	output           string
	noProgress       bool
	failOnViolations bool
}

func scanCmd() *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan [path...]",
		Short: "Analyze a source tree once and print a report",
		Long: `Analyze every matching file once and print a report.

Paths default to the configured watch paths.

Exit codes:
  0 - Scan completed
  1 - Violations found (with --fail-on-violations) or scan error

Examples:
  # Scan the current directory
  connscan scan

  # JSON report for a subdirectory
  connscan scan --format json src/

  # Fail CI on any violation
  connscan scan --fail-on-violations .`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, opts, args)
		},
	}

	opts.register(cmd)
	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "Output format: text, json or yaml (default from config)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write the report to a file instead of stdout")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable the progress bar")
	cmd.Flags().BoolVar(&opts.failOnViolations, "fail-on-violations", false, "Exit with code 1 when any violation is found")
	return cmd
}

func runScan(cmd *cobra.Command, opts *scanOptions, args []string) error {
	overrides := opts.overrides(args)
	overrides.OutputFormat = opts.format

	cfg, err := loadConfig(opts.configPath, args, overrides)
	if err != nil {
		return err
	}
	format, err := service.NewConfigurationLoader().OutputFormat(cfg)
	if err != nil {
		return err
	}

	logger := newLogger()
	engine, err := app.NewEngine(cfg, app.WithLogger(logger))
	if err != nil {
		return err
	}

	progress := service.NewProgressManager(!opts.noProgress && format == domain.OutputFormatText)
	report, err := engine.Scan(commandContext(cmd), nil, progress)
	progress.Close()
	if err != nil {
		return err
	}

	writer, closeOutput, err := openOutput(cmd.OutOrStdout(), opts.output)
	if err != nil {
		return err
	}
	if err := service.NewOutputFormatter().WriteReport(report, format, writer); err != nil {
		closeOutput()
		return err
	}
	if err := closeOutput(); err != nil {
		return domain.NewOutputError("failed to close output file", err)
	}
	if opts.output != "" {
		logger.Info("report written", "path", opts.output)
	}

	if opts.failOnViolations && report.Aggregate.TotalViolations > 0 {
		return &ExitError{
			Code:    1,
			Message: fmt.Sprintf("%d violation(s) found", report.Aggregate.TotalViolations),
		}
	}
	return nil
}

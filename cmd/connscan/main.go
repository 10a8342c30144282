package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/ludo-technologies/connscan/internal/logging"
	"github.com/ludo-technologies/connscan/internal/version"
)

var (
	// Version information (set via ldflags during build)
	Version = version.Version

	logDebug bool
	logLevel string
	logQuiet bool
)

// ExitError carries a process exit code out of a command
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			if exitErr.Message != "" {
				fmt.Fprintf(os.Stderr, "Error: %s\n", exitErr.Message)
			}
			os.Exit(exitErr.Code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "connscan",
		Short: "connscan - incremental streaming code analysis",
		Long: `connscan watches a source tree and re-analyzes only what changed.
File contents, parse trees and per-file results are cached; dependents of a
changed file are re-analyzed automatically and a live aggregate is kept.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&logDebug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: info, debug or trace")
	rootCmd.PersistentFlags().BoolVarP(&logQuiet, "quiet", "q", false, "Disable logging")

	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

// newLogger builds the CLI logger from the persistent flags
func newLogger() logr.Logger {
	return logging.New(logging.Options{
		Verbosity: logging.VerbosityFor(logDebug, logLevel),
		Quiet:     logQuiet,
	})
}

func versionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				fmt.Fprintln(cmd.OutOrStdout(), version.GetFullVersion())
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "connscan version %s\n", version.GetVersion())
			}
		},
	}

	cmd.Flags().BoolP("verbose", "v", false, "Show detailed version information")
	return cmd
}

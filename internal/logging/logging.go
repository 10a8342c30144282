// Package logging builds the logr.Logger handed to every engine component.
package logging

import (
	"io"
	"log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"

	"github.com/ludo-technologies/connscan/internal/constants"
)

// Options controls the CLI logger
type Options struct {
	// Verbosity is the highest logr V-level that is written
	Verbosity int
	// Output defaults to stderr
	Output io.Writer
	// Quiet discards everything
	Quiet bool
}

// New returns a stdr-backed logger. stdr keeps verbosity in a package
// global, so the last call wins.
func New(opts Options) logr.Logger {
	if opts.Quiet {
		return logr.Discard()
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	stdr.SetVerbosity(clamp(opts.Verbosity))
	return stdr.New(log.New(out, constants.LogPrefix, log.LstdFlags)).WithName(constants.ToolName)
}

// VerbosityFor maps the CLI flags onto a logr level
func VerbosityFor(verbose bool, level string) int {
	switch level {
	case "trace":
		return constants.LogLevelTrace
	case "debug":
		return constants.LogLevelDebug
	case "info":
		return constants.LogLevelInfo
	}
	if verbose {
		return constants.LogLevelDebug
	}
	return constants.LogLevelInfo
}

func clamp(v int) int {
	if v < constants.LogLevelInfo {
		return constants.LogLevelInfo
	}
	if v > constants.LogLevelTrace {
		return constants.LogLevelTrace
	}
	return v
}

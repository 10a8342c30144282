package constants

// Tool name and related constants
const (
	// ToolName is the name of this tool
	ToolName = "connscan"

	// ConfigFileName is the default config file name
	ConfigFileName = ".connscan.toml"

	// EnvVarPrefix is the prefix for environment variables
	EnvVarPrefix = "CONNSCAN"

	// LogPrefix prefixes every log line written by the CLI
	LogPrefix = "connscan: "
)

// Output format constants
const (
	OutputFormatText = "text"
	OutputFormatJSON = "json"
	OutputFormatYAML = "yaml"
)

// Log verbosity levels understood by logr.V
const (
	LogLevelInfo  = 0
	LogLevelDebug = 1
	LogLevelTrace = 2
)

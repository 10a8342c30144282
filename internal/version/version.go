package version

import "fmt"

// Version information (set via ldflags during build)
var (
	// Version is the current version of connscan
	Version = "dev"

	// Commit is the git commit hash
	Commit = "unknown"

	// Date is the build date
	Date = "unknown"

	// BuiltBy indicates how the binary was built
	BuiltBy = "source"
)

// GetVersion returns the current version
func GetVersion() string {
	if Version == "" {
		return "dev"
	}
	return Version
}

// GetFullVersion returns the full version information
func GetFullVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s, by: %s)",
		Version, Commit, Date, BuiltBy)
}

// Info is the build information reported by `version --json` and the MCP server
type Info struct {
	Version string `json:"version" yaml:"version"`
	Commit  string `json:"commit" yaml:"commit"`
	Date    string `json:"date" yaml:"date"`
	BuiltBy string `json:"built_by" yaml:"built_by"`
}

// GetInfo returns the build information
func GetInfo() Info {
	return Info{
		Version: GetVersion(),
		Commit:  Commit,
		Date:    Date,
		BuiltBy: BuiltBy,
	}
}

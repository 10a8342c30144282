package service

import (
	"github.com/ludo-technologies/connscan/domain"
	"github.com/ludo-technologies/connscan/internal/config"
)

// ConfigOverrides are command-line values applied on top of the loaded
// configuration. Zero values mean "not set".
type ConfigOverrides struct {
	Paths           []string
	IncludePatterns []string
	ExcludePatterns []string
	Workers         int
	QueueSize       int
	CacheSize       int
	MaxMemoryBytes  int64
	DebounceSeconds *float64
	OutputFormat    string
	RefreshSeconds  int
	NoGitignore     bool
}

// ConfigurationLoaderImpl loads and merges engine configuration
type ConfigurationLoaderImpl struct{}

// NewConfigurationLoader creates a new configuration loader service
func NewConfigurationLoader() *ConfigurationLoaderImpl {
	return &ConfigurationLoaderImpl{}
}

// Load reads configPath, or discovers a file starting at target, applies
// overrides and validates the result
func (c *ConfigurationLoaderImpl) Load(configPath, target string, overrides ConfigOverrides) (*config.Config, error) {
	cfg, err := config.LoadConfigWithTarget(configPath, target)
	if err != nil {
		return nil, err
	}

	// Overrides can push values out of range, so validate after merging
	merged := c.Merge(cfg, overrides)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// LoadDefaultConfig returns the discovered configuration, or the built-in
// defaults if discovery or parsing fails
func (c *ConfigurationLoaderImpl) LoadDefaultConfig() *config.Config {
	cfg, err := config.LoadConfigWithTarget("", "")
	if err == nil {
		return cfg
	}
	// Fall back to hardcoded default configuration
	return config.DefaultConfig()
}

// Merge returns a copy of base with every set override applied
func (c *ConfigurationLoaderImpl) Merge(base *config.Config, o ConfigOverrides) *config.Config {
	// Start with a copy of base that shares no slices
	merged := *base
	merged.Watch.Paths = append([]string(nil), base.Watch.Paths...)
	merged.Watch.IncludePatterns = append([]string(nil), base.Watch.IncludePatterns...)
	merged.Watch.ExcludePatterns = append([]string(nil), base.Watch.ExcludePatterns...)
	merged.Analysis.AllowedMagicNumbers = append([]float64(nil), base.Analysis.AllowedMagicNumbers...)

	// paths come from command arguments and always win
	if len(o.Paths) > 0 {
		merged.Watch.Paths = append([]string(nil), o.Paths...)
	}
	if len(o.IncludePatterns) > 0 {
		merged.Watch.IncludePatterns = append([]string(nil), o.IncludePatterns...)
	}
	// exclusions add to the configured ones
	merged.Watch.ExcludePatterns = append(merged.Watch.ExcludePatterns, o.ExcludePatterns...)
	if o.NoGitignore {
		merged.Watch.RespectGitignore = false
	}

	// Streaming limits, only when set
	if o.Workers > 0 {
		merged.Streaming.MaxWorkers = o.Workers
		merged.Performance.MaxGoroutines = o.Workers
	}
	if o.QueueSize > 0 {
		merged.Streaming.MaxQueueSize = o.QueueSize
	}
	if o.CacheSize > 0 {
		merged.Streaming.CacheSize = o.CacheSize
	}
	if o.MaxMemoryBytes > 0 {
		merged.Cache.MaxMemoryBytes = o.MaxMemoryBytes
	}
	if o.DebounceSeconds != nil {
		merged.Streaming.DebounceSeconds = *o.DebounceSeconds
	}
	// Output settings
	if o.OutputFormat != "" {
		merged.Output.Format = o.OutputFormat
	}
	if o.RefreshSeconds > 0 {
		merged.Output.RefreshSeconds = o.RefreshSeconds
	}
	return &merged
}

// OutputFormat returns the configured format as a domain value
func (c *ConfigurationLoaderImpl) OutputFormat(cfg *config.Config) (domain.OutputFormat, error) {
	switch f := domain.OutputFormat(cfg.Output.Format); f {
	case domain.OutputFormatText, domain.OutputFormatJSON, domain.OutputFormatYAML:
		return f, nil
	default:
		return "", domain.NewUnsupportedFormatError(cfg.Output.Format)
	}
}

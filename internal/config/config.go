package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ludo-technologies/connscan/domain"
	"github.com/ludo-technologies/connscan/internal/constants"
	"github.com/spf13/viper"
)

// Engine limits. Values outside these ranges are rejected by Validate.
const (
	MinQueueSize       = 10
	MaxQueueSize       = 50000
	MinWorkers         = 1
	MaxWorkers         = 16
	MinResultCacheSize = 100
	MaxResultCacheSize = 100000

	MinPartialResults  = 100
	MaxPartialResults  = 100000
	MinDependencyNodes = 100
	MaxDependencyNodes = 100000
	MinRetentionHours  = 0.1
	MaxRetentionHours  = 168.0

	MinHistorySize = 100
	MaxHistorySize = 10000

	MinAggregationWindowSeconds = 60
	MaxAggregationWindowSeconds = 3600
)

// Worker backoff policies
const (
	BackoffConstant    = "constant"
	BackoffExponential = "exponential"
)

// Defaults
const (
	DefaultMaxMemoryBytes           = 100 * 1024 * 1024
	DefaultMaxPartialResults        = 10000
	DefaultMaxDependencyNodes       = 50000
	DefaultRetentionHours           = 24.0
	DefaultMaxDeltaHistory          = 1000
	DefaultMaxQueueSize             = 1000
	DefaultMaxWorkers               = 4
	DefaultResultCacheSize          = 10000
	DefaultDebounceSeconds          = 0.5
	DefaultPollIntervalSeconds      = 1.0
	DefaultWorkerBackoffSeconds     = 1.0
	DefaultWorkerBackoffMaxSeconds  = 30.0
	DefaultResultQueueSize          = 1000
	DefaultCleanupIntervalSeconds   = 300
	DefaultMaxFileHistory           = 1000
	DefaultMaxTrendPoints           = 1000
	DefaultAggregationWindowSeconds = 600
	DefaultTopFiles                 = 10
	DefaultMaxParameters            = 4
	DefaultMaxFunctionLines         = 60
	DefaultMaxNestingDepth          = 4
	DefaultTimeoutSeconds           = 300
	DefaultRefreshSeconds           = 2
)

// Config represents the main configuration structure
type Config struct {
	// Cache holds ContentCache configuration
	Cache CacheConfig `json:"cache" mapstructure:"cache" yaml:"cache"`

	// Incremental holds IncrementalCache configuration
	Incremental IncrementalConfig `json:"incremental" mapstructure:"incremental" yaml:"incremental"`

	// Streaming holds stream processor configuration
	Streaming StreamingConfig `json:"streaming" mapstructure:"streaming" yaml:"streaming"`

	// Aggregation holds result aggregator configuration
	Aggregation AggregationConfig `json:"aggregation" mapstructure:"aggregation" yaml:"aggregation"`

	// Watch holds file watching configuration
	Watch WatchConfig `json:"watch" mapstructure:"watch" yaml:"watch"`

	// Analysis holds default analyzer thresholds
	Analysis AnalysisConfig `json:"analysis" mapstructure:"analysis" yaml:"analysis"`

	// Performance holds initial scan concurrency settings
	Performance PerformanceConfig `json:"performance" mapstructure:"performance" yaml:"performance"`

	// Output holds output formatting configuration
	Output OutputConfig `json:"output" mapstructure:"output" yaml:"output"`
}

// CacheConfig holds content cache configuration
type CacheConfig struct {
	// MaxMemoryBytes bounds the total size of cached file contents
	MaxMemoryBytes int64 `json:"max_memory_bytes" mapstructure:"max_memory_bytes" yaml:"max_memory_bytes"`
}

// IncrementalConfig holds incremental cache configuration
type IncrementalConfig struct {
	// MaxPartialResults is the number of stored partial results; the oldest
	// 20% are evicted when it is reached
	MaxPartialResults int `json:"max_partial_results" mapstructure:"max_partial_results" yaml:"max_partial_results"`

	// MaxDependencyNodes bounds the dependency graph (100-100000)
	MaxDependencyNodes int `json:"max_dependency_nodes" mapstructure:"max_dependency_nodes" yaml:"max_dependency_nodes"`

	// CacheRetentionHours is how long a partial result stays valid
	CacheRetentionHours float64 `json:"cache_retention_hours" mapstructure:"cache_retention_hours" yaml:"cache_retention_hours"`

	MaxDeltaHistory int `json:"max_delta_history" mapstructure:"max_delta_history" yaml:"max_delta_history"`
}

// StreamingConfig holds stream processor configuration
type StreamingConfig struct {
	MaxQueueSize int `json:"max_queue_size" mapstructure:"max_queue_size" yaml:"max_queue_size"`
	MaxWorkers   int `json:"max_workers" mapstructure:"max_workers" yaml:"max_workers"`

	// CacheSize bounds the number of cached analysis results
	CacheSize int `json:"cache_size" mapstructure:"cache_size" yaml:"cache_size"`

	// DebounceSeconds is the quiet window before a change is emitted
	DebounceSeconds float64 `json:"debounce_seconds" mapstructure:"debounce_seconds" yaml:"debounce_seconds"`

	PollIntervalSeconds float64 `json:"poll_interval_seconds" mapstructure:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	ResultQueueSize     int     `json:"result_queue_size" mapstructure:"result_queue_size" yaml:"result_queue_size"`

	// WorkerBackoffPolicy is how long a worker pauses after a fault:
	// "constant" waits WorkerBackoffSeconds every time, "exponential" doubles
	// from WorkerBackoffSeconds up to WorkerBackoffMaxSeconds and resets on
	// the next successful request
	WorkerBackoffPolicy     string  `json:"worker_backoff_policy" mapstructure:"worker_backoff_policy" yaml:"worker_backoff_policy"`
	WorkerBackoffSeconds    float64 `json:"worker_backoff_seconds" mapstructure:"worker_backoff_seconds" yaml:"worker_backoff_seconds"`
	WorkerBackoffMaxSeconds float64 `json:"worker_backoff_max_seconds" mapstructure:"worker_backoff_max_seconds" yaml:"worker_backoff_max_seconds"`

	// CleanupIntervalSeconds schedules the expired partial result sweep; 0 disables it
	CleanupIntervalSeconds int `json:"cleanup_interval_seconds" mapstructure:"cleanup_interval_seconds" yaml:"cleanup_interval_seconds"`
}

// AggregationConfig holds aggregator configuration
type AggregationConfig struct {
	MaxFileHistory           int `json:"max_file_history" mapstructure:"max_file_history" yaml:"max_file_history"`
	MaxTrendPoints           int `json:"max_trend_points" mapstructure:"max_trend_points" yaml:"max_trend_points"`
	AggregationWindowSeconds int `json:"aggregation_window_seconds" mapstructure:"aggregation_window_seconds" yaml:"aggregation_window_seconds"`
	TopFiles                 int `json:"top_files" mapstructure:"top_files" yaml:"top_files"`
}

// WatchConfig holds file watching configuration
type WatchConfig struct {
	// Paths are the directories to watch
	Paths []string `json:"paths" mapstructure:"paths" yaml:"paths"`

	// IncludePatterns are glob patterns a file must match
	IncludePatterns []string `json:"include_patterns" mapstructure:"include_patterns" yaml:"include_patterns"`

	// ExcludePatterns use gitignore syntax
	ExcludePatterns []string `json:"exclude_patterns" mapstructure:"exclude_patterns" yaml:"exclude_patterns"`

	// RespectGitignore also applies .gitignore files found in watched roots
	RespectGitignore bool `json:"respect_gitignore" mapstructure:"respect_gitignore" yaml:"respect_gitignore"`
}

// AnalysisConfig holds thresholds for the default analyzer
type AnalysisConfig struct {
	// MaxParameters is the positional parameter limit; self and cls are not counted
	MaxParameters int `json:"max_parameters" mapstructure:"max_parameters" yaml:"max_parameters"`

	// MaxFunctionLines is the longest function body accepted
	MaxFunctionLines int `json:"max_function_lines" mapstructure:"max_function_lines" yaml:"max_function_lines"`

	// MaxNestingDepth counts nested control flow blocks; else-if chains count once
	MaxNestingDepth int `json:"max_nesting_depth" mapstructure:"max_nesting_depth" yaml:"max_nesting_depth"`

	// AllowedMagicNumbers are literals never reported
	AllowedMagicNumbers []float64 `json:"allowed_magic_numbers" mapstructure:"allowed_magic_numbers" yaml:"allowed_magic_numbers"`

	// ResolveImports feeds local imports into the dependency graph
	ResolveImports bool `json:"resolve_imports" mapstructure:"resolve_imports" yaml:"resolve_imports"`
}

// PerformanceConfig holds initial scan settings
type PerformanceConfig struct {
	MaxGoroutines  int `json:"max_goroutines" mapstructure:"max_goroutines" yaml:"max_goroutines"`
	TimeoutSeconds int `json:"timeout_seconds" mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// OutputConfig holds configuration for output formatting
type OutputConfig struct {
	// Format specifies the output format: text, json, yaml
	Format string `json:"format" mapstructure:"format" yaml:"format"`

	// RefreshSeconds is how often watch mode prints the dashboard
	RefreshSeconds int `json:"refresh_seconds" mapstructure:"refresh_seconds" yaml:"refresh_seconds"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			MaxMemoryBytes: DefaultMaxMemoryBytes,
		},
		Incremental: IncrementalConfig{
			MaxPartialResults:   DefaultMaxPartialResults,
			MaxDependencyNodes:  DefaultMaxDependencyNodes,
			CacheRetentionHours: DefaultRetentionHours,
			MaxDeltaHistory:     DefaultMaxDeltaHistory,
		},
		Streaming: StreamingConfig{
			MaxQueueSize:            DefaultMaxQueueSize,
			MaxWorkers:              DefaultMaxWorkers,
			CacheSize:               DefaultResultCacheSize,
			DebounceSeconds:         DefaultDebounceSeconds,
			PollIntervalSeconds:     DefaultPollIntervalSeconds,
			ResultQueueSize:         DefaultResultQueueSize,
			WorkerBackoffPolicy:     BackoffConstant,
			WorkerBackoffSeconds:    DefaultWorkerBackoffSeconds,
			WorkerBackoffMaxSeconds: DefaultWorkerBackoffMaxSeconds,
			CleanupIntervalSeconds:  DefaultCleanupIntervalSeconds,
		},
		Aggregation: AggregationConfig{
			MaxFileHistory:           DefaultMaxFileHistory,
			MaxTrendPoints:           DefaultMaxTrendPoints,
			AggregationWindowSeconds: DefaultAggregationWindowSeconds,
			TopFiles:                 DefaultTopFiles,
		},
		Watch: WatchConfig{
			Paths:           []string{"."},
			IncludePatterns: []string{"*.py"},
			ExcludePatterns: []string{
				".git/",
				"__pycache__/",
				".venv/",
				"venv/",
				"node_modules/",
				"build/",
				"dist/",
			},
			RespectGitignore: true,
		},
		Analysis: AnalysisConfig{
			MaxParameters:       DefaultMaxParameters,
			MaxFunctionLines:    DefaultMaxFunctionLines,
			MaxNestingDepth:     DefaultMaxNestingDepth,
			AllowedMagicNumbers: []float64{-1, 0, 1, 2, 10, 100},
			ResolveImports:      true,
		},
		Performance: PerformanceConfig{
			MaxGoroutines:  DefaultMaxWorkers,
			TimeoutSeconds: DefaultTimeoutSeconds,
		},
		Output: OutputConfig{
			Format:         "text",
			RefreshSeconds: DefaultRefreshSeconds,
		},
	}
}

// LoadConfig loads configuration from file or returns default config
func LoadConfig(configPath string) (*Config, error) {
	return LoadConfigWithTarget(configPath, "")
}

// LoadConfigWithTarget loads configuration with target path context.
// Without an explicit path the file is discovered from targetPath upward.
// Environment variables prefixed with CONNSCAN_ override file values.
func LoadConfigWithTarget(configPath string, targetPath string) (*Config, error) {
	if configPath == "" {
		configPath = findDefaultConfig(targetPath)
	}
	return loadConfigFromFile(configPath)
}

// loadConfigFromFile reads and parses a configuration file
func loadConfigFromFile(configPath string) (*Config, error) {
	// Create a new viper instance to avoid race conditions
	v := viper.New()
	config := DefaultConfig()
	setDefaults(v, config)

	v.SetEnvPrefix(constants.EnvVarPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, domain.NewConfigError(fmt.Sprintf("failed to read config file %s", configPath), err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, domain.NewConfigError("failed to unmarshal config", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// setDefaults registers every key so AutomaticEnv can override it
func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("cache.max_memory_bytes", c.Cache.MaxMemoryBytes)

	v.SetDefault("incremental.max_partial_results", c.Incremental.MaxPartialResults)
	v.SetDefault("incremental.max_dependency_nodes", c.Incremental.MaxDependencyNodes)
	v.SetDefault("incremental.cache_retention_hours", c.Incremental.CacheRetentionHours)
	v.SetDefault("incremental.max_delta_history", c.Incremental.MaxDeltaHistory)

	v.SetDefault("streaming.max_queue_size", c.Streaming.MaxQueueSize)
	v.SetDefault("streaming.max_workers", c.Streaming.MaxWorkers)
	v.SetDefault("streaming.cache_size", c.Streaming.CacheSize)
	v.SetDefault("streaming.debounce_seconds", c.Streaming.DebounceSeconds)
	v.SetDefault("streaming.poll_interval_seconds", c.Streaming.PollIntervalSeconds)
	v.SetDefault("streaming.worker_backoff_policy", c.Streaming.WorkerBackoffPolicy)
	v.SetDefault("streaming.worker_backoff_seconds", c.Streaming.WorkerBackoffSeconds)
	v.SetDefault("streaming.worker_backoff_max_seconds", c.Streaming.WorkerBackoffMaxSeconds)
	v.SetDefault("streaming.result_queue_size", c.Streaming.ResultQueueSize)
	v.SetDefault("streaming.cleanup_interval_seconds", c.Streaming.CleanupIntervalSeconds)

	v.SetDefault("aggregation.max_file_history", c.Aggregation.MaxFileHistory)
	v.SetDefault("aggregation.max_trend_points", c.Aggregation.MaxTrendPoints)
	v.SetDefault("aggregation.aggregation_window_seconds", c.Aggregation.AggregationWindowSeconds)
	v.SetDefault("aggregation.top_files", c.Aggregation.TopFiles)

	v.SetDefault("watch.paths", c.Watch.Paths)
	v.SetDefault("watch.include_patterns", c.Watch.IncludePatterns)
	v.SetDefault("watch.exclude_patterns", c.Watch.ExcludePatterns)
	v.SetDefault("watch.respect_gitignore", c.Watch.RespectGitignore)

	v.SetDefault("analysis.max_parameters", c.Analysis.MaxParameters)
	v.SetDefault("analysis.max_function_lines", c.Analysis.MaxFunctionLines)
	v.SetDefault("analysis.max_nesting_depth", c.Analysis.MaxNestingDepth)
	v.SetDefault("analysis.allowed_magic_numbers", c.Analysis.AllowedMagicNumbers)
	v.SetDefault("analysis.resolve_imports", c.Analysis.ResolveImports)

	v.SetDefault("performance.max_goroutines", c.Performance.MaxGoroutines)
	v.SetDefault("performance.timeout_seconds", c.Performance.TimeoutSeconds)

	v.SetDefault("output.format", c.Output.Format)
	v.SetDefault("output.refresh_seconds", c.Output.RefreshSeconds)
}

// searchConfigInDirectory searches for configuration files in a specific directory
func searchConfigInDirectory(dir string, candidates []string) string {
	for _, candidate := range candidates {
		path := filepath.Join(dir, candidate)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// findDefaultConfig looks for default configuration files in common locations
func findDefaultConfig(targetPath string) string {
	candidates := []string{
		"connscan.yaml",
		"connscan.yml",
		".connscan.yaml",
		".connscan.yml",
		constants.ConfigFileName,
		"connscan.json",
		".connscan.json",
	}

	if targetPath != "" {
		absPath, err := filepath.Abs(targetPath)
		if err == nil {
			info, err := os.Stat(absPath)
			if err == nil && !info.IsDir() {
				absPath = filepath.Dir(absPath)
			}

			volume := filepath.VolumeName(absPath)
			for dir := absPath; ; dir = filepath.Dir(dir) {
				if config := searchConfigInDirectory(dir, candidates); config != "" {
					return config
				}

				parent := filepath.Dir(dir)
				if parent == dir ||
					dir == volume ||
					(volume != "" && dir == volume+string(filepath.Separator)) {
					break
				}
			}
		}
	}

	// Fallback to current directory
	if config := searchConfigInDirectory(".", candidates); config != "" {
		return config
	}

	// Check XDG config directory (Linux/Mac standard)
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		if config := searchConfigInDirectory(filepath.Join(xdgConfig, constants.ToolName), candidates); config != "" {
			return config
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		configDir := filepath.Join(home, ".config", constants.ToolName)
		if config := searchConfigInDirectory(configDir, candidates); config != "" {
			return config
		}
		if config := searchConfigInDirectory(home, candidates); config != "" {
			return config
		}
	}

	if envConfig := os.Getenv(constants.EnvVarPrefix + "_CONFIG"); envConfig != "" {
		if _, err := os.Stat(envConfig); err == nil {
			return envConfig
		}
	}

	return ""
}

// Validate checks every range constraint and returns the first violation
func (c *Config) Validate() error {
	if c.Cache.MaxMemoryBytes <= 0 {
		return configErrorf("cache.max_memory_bytes must be > 0, got %d", c.Cache.MaxMemoryBytes)
	}

	inc := c.Incremental
	if inc.MaxPartialResults < MinPartialResults || inc.MaxPartialResults > MaxPartialResults {
		return configErrorf("incremental.max_partial_results must be between %d and %d, got %d",
			MinPartialResults, MaxPartialResults, inc.MaxPartialResults)
	}
	if inc.MaxDependencyNodes < MinDependencyNodes || inc.MaxDependencyNodes > MaxDependencyNodes {
		return configErrorf("incremental.max_dependency_nodes must be between %d and %d, got %d",
			MinDependencyNodes, MaxDependencyNodes, inc.MaxDependencyNodes)
	}
	if inc.CacheRetentionHours < MinRetentionHours || inc.CacheRetentionHours > MaxRetentionHours {
		return configErrorf("incremental.cache_retention_hours must be between %g and %g, got %g",
			MinRetentionHours, MaxRetentionHours, inc.CacheRetentionHours)
	}
	if inc.MaxDeltaHistory < MinHistorySize || inc.MaxDeltaHistory > MaxHistorySize {
		return configErrorf("incremental.max_delta_history must be between %d and %d, got %d",
			MinHistorySize, MaxHistorySize, inc.MaxDeltaHistory)
	}

	s := c.Streaming
	if s.MaxQueueSize < MinQueueSize || s.MaxQueueSize > MaxQueueSize {
		return configErrorf("streaming.max_queue_size must be between %d and %d, got %d",
			MinQueueSize, MaxQueueSize, s.MaxQueueSize)
	}
	if s.MaxWorkers < MinWorkers || s.MaxWorkers > MaxWorkers {
		return configErrorf("streaming.max_workers must be between %d and %d, got %d",
			MinWorkers, MaxWorkers, s.MaxWorkers)
	}
	if s.CacheSize < MinResultCacheSize || s.CacheSize > MaxResultCacheSize {
		return configErrorf("streaming.cache_size must be between %d and %d, got %d",
			MinResultCacheSize, MaxResultCacheSize, s.CacheSize)
	}
	if s.DebounceSeconds < 0 {
		return configErrorf("streaming.debounce_seconds must be >= 0, got %g", s.DebounceSeconds)
	}
	if s.PollIntervalSeconds <= 0 {
		return configErrorf("streaming.poll_interval_seconds must be > 0, got %g", s.PollIntervalSeconds)
	}
	if s.WorkerBackoffSeconds < 0 {
		return configErrorf("streaming.worker_backoff_seconds must be >= 0, got %g", s.WorkerBackoffSeconds)
	}
	switch s.WorkerBackoffPolicy {
	case BackoffConstant:
	case BackoffExponential:
		if s.WorkerBackoffMaxSeconds < s.WorkerBackoffSeconds {
			return configErrorf("streaming.worker_backoff_max_seconds must be >= worker_backoff_seconds, got %g", s.WorkerBackoffMaxSeconds)
		}
	default:
		return configErrorf("streaming.worker_backoff_policy must be %q or %q, got %q",
			BackoffConstant, BackoffExponential, s.WorkerBackoffPolicy)
	}
	if s.ResultQueueSize < MinQueueSize || s.ResultQueueSize > MaxQueueSize {
		return configErrorf("streaming.result_queue_size must be between %d and %d, got %d",
			MinQueueSize, MaxQueueSize, s.ResultQueueSize)
	}
	if s.CleanupIntervalSeconds < 0 {
		return configErrorf("streaming.cleanup_interval_seconds must be >= 0, got %d", s.CleanupIntervalSeconds)
	}

	a := c.Aggregation
	if a.MaxFileHistory < MinHistorySize || a.MaxFileHistory > MaxHistorySize {
		return configErrorf("aggregation.max_file_history must be between %d and %d, got %d",
			MinHistorySize, MaxHistorySize, a.MaxFileHistory)
	}
	if a.MaxTrendPoints < MinHistorySize || a.MaxTrendPoints > MaxHistorySize {
		return configErrorf("aggregation.max_trend_points must be between %d and %d, got %d",
			MinHistorySize, MaxHistorySize, a.MaxTrendPoints)
	}
	if a.AggregationWindowSeconds < MinAggregationWindowSeconds || a.AggregationWindowSeconds > MaxAggregationWindowSeconds {
		return configErrorf("aggregation.aggregation_window_seconds must be between %d and %d, got %d",
			MinAggregationWindowSeconds, MaxAggregationWindowSeconds, a.AggregationWindowSeconds)
	}
	if a.TopFiles < 1 {
		return configErrorf("aggregation.top_files must be >= 1, got %d", a.TopFiles)
	}

	if len(c.Watch.IncludePatterns) == 0 {
		return configErrorf("watch.include_patterns cannot be empty")
	}

	if c.Analysis.MaxParameters < 1 {
		return configErrorf("analysis.max_parameters must be >= 1, got %d", c.Analysis.MaxParameters)
	}
	if c.Analysis.MaxFunctionLines < 1 {
		return configErrorf("analysis.max_function_lines must be >= 1, got %d", c.Analysis.MaxFunctionLines)
	}
	if c.Analysis.MaxNestingDepth < 1 {
		return configErrorf("analysis.max_nesting_depth must be >= 1, got %d", c.Analysis.MaxNestingDepth)
	}

	if c.Performance.MaxGoroutines < 0 {
		return configErrorf("performance.max_goroutines must be >= 0, got %d", c.Performance.MaxGoroutines)
	}
	if c.Performance.TimeoutSeconds < 0 {
		return configErrorf("performance.timeout_seconds must be >= 0, got %d", c.Performance.TimeoutSeconds)
	}

	validFormats := map[string]bool{
		constants.OutputFormatText: true,
		constants.OutputFormatJSON: true,
		constants.OutputFormatYAML: true,
	}
	if !validFormats[c.Output.Format] {
		return configErrorf("invalid output.format '%s', must be one of: text, json, yaml", c.Output.Format)
	}
	if c.Output.RefreshSeconds < 1 {
		return configErrorf("output.refresh_seconds must be >= 1, got %d", c.Output.RefreshSeconds)
	}

	return nil
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(config *Config, path string) error {
	// Create a new viper instance to avoid race conditions
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("cache", config.Cache)
	v.Set("incremental", config.Incremental)
	v.Set("streaming", config.Streaming)
	v.Set("aggregation", config.Aggregation)
	v.Set("watch", config.Watch)
	v.Set("analysis", config.Analysis)
	v.Set("performance", config.Performance)
	v.Set("output", config.Output)

	return v.WriteConfig()
}

func configErrorf(format string, args ...any) error {
	return domain.NewConfigError(fmt.Sprintf(format, args...), nil)
}

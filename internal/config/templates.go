package config

import (
	"strconv"
	"strings"
)

// ProjectType selects which source files a generated config watches
type ProjectType string

const (
	ProjectTypePython     ProjectType = "python"
	ProjectTypeJavaScript ProjectType = "javascript"
	ProjectTypeTypeScript ProjectType = "typescript"
	ProjectTypeMixed      ProjectType = "mixed"
)

// Strictness represents the analysis strictness level
type Strictness string

const (
	StrictnessRelaxed  Strictness = "relaxed"
	StrictnessStandard Strictness = "standard"
	StrictnessStrict   Strictness = "strict"
)

// ProjectPreset holds watch patterns for a project type
type ProjectPreset struct {
	IncludePatterns []string
	ExcludePatterns []string
}

// StrictnessPreset holds analyzer thresholds for a strictness level
type StrictnessPreset struct {
	MaxParameters    int
	MaxFunctionLines int
	MaxNestingDepth  int
}

var commonExcludes = []string{".git/", "build/", "dist/"}

// GetProjectPresets returns presets for different project types
func GetProjectPresets() map[ProjectType]ProjectPreset {
	python := []string{"__pycache__/", ".venv/", "venv/", ".tox/"}
	node := []string{"node_modules/", "*.min.js", "*.bundle.js"}

	return map[ProjectType]ProjectPreset{
		ProjectTypePython: {
			IncludePatterns: []string{"*.py"},
			ExcludePatterns: join(commonExcludes, python),
		},
		ProjectTypeJavaScript: {
			IncludePatterns: []string{"*.js", "*.jsx", "*.mjs", "*.cjs"},
			ExcludePatterns: join(commonExcludes, node),
		},
		ProjectTypeTypeScript: {
			IncludePatterns: []string{"*.ts", "*.tsx", "*.js", "*.jsx"},
			ExcludePatterns: join(commonExcludes, node, []string{"*.d.ts"}),
		},
		ProjectTypeMixed: {
			IncludePatterns: []string{"*.py", "*.js", "*.jsx", "*.ts", "*.tsx"},
			ExcludePatterns: join(commonExcludes, python, node),
		},
	}
}

// GetStrictnessPresets returns analyzer thresholds per strictness level
func GetStrictnessPresets() map[Strictness]StrictnessPreset {
	return map[Strictness]StrictnessPreset{
		StrictnessRelaxed: {
			MaxParameters:    6,
			MaxFunctionLines: 100,
			MaxNestingDepth:  5,
		},
		StrictnessStandard: {
			MaxParameters:    DefaultMaxParameters,
			MaxFunctionLines: DefaultMaxFunctionLines,
			MaxNestingDepth:  DefaultMaxNestingDepth,
		},
		StrictnessStrict: {
			MaxParameters:    3,
			MaxFunctionLines: 40,
			MaxNestingDepth:  3,
		},
	}
}

// ApplyPresets returns the default config with the given presets applied.
// Unknown keys fall back to the generic defaults.
func ApplyPresets(projectType ProjectType, strictness Strictness) *Config {
	cfg := DefaultConfig()
	if preset, ok := GetProjectPresets()[projectType]; ok {
		cfg.Watch.IncludePatterns = append([]string(nil), preset.IncludePatterns...)
		cfg.Watch.ExcludePatterns = append([]string(nil), preset.ExcludePatterns...)
	}
	if strict, ok := GetStrictnessPresets()[strictness]; ok {
		cfg.Analysis.MaxParameters = strict.MaxParameters
		cfg.Analysis.MaxFunctionLines = strict.MaxFunctionLines
		cfg.Analysis.MaxNestingDepth = strict.MaxNestingDepth
	}
	return cfg
}

// GetFullConfigTemplate returns the documented config template as YAML
func GetFullConfigTemplate(projectType ProjectType, strictness Strictness) string {
	cfg := ApplyPresets(projectType, strictness)

	return `# connscan configuration
# Values shown are the defaults unless a preset changed them.
# Every key can be overridden with CONNSCAN_<SECTION>_<KEY> environment variables.

# ============================================================================
# CONTENT CACHE
# ============================================================================
cache:
  # Upper bound on cached file contents, in bytes
  max_memory_bytes: ` + strconv.FormatInt(cfg.Cache.MaxMemoryBytes, 10) + `

# ============================================================================
# INCREMENTAL CACHE
# ============================================================================
incremental:
  # Cached per-file analysis results (100-100000)
  max_partial_results: ` + strconv.Itoa(cfg.Incremental.MaxPartialResults) + `
  # Files tracked in the dependency graph (100-100000)
  max_dependency_nodes: ` + strconv.Itoa(cfg.Incremental.MaxDependencyNodes) + `
  # Partial results older than this are swept (0.1-168)
  cache_retention_hours: ` + formatFloat(cfg.Incremental.CacheRetentionHours) + `
  max_delta_history: ` + strconv.Itoa(cfg.Incremental.MaxDeltaHistory) + `

# ============================================================================
# STREAMING
# ============================================================================
streaming:
  # Pending requests beyond this are rejected (10-50000)
  max_queue_size: ` + strconv.Itoa(cfg.Streaming.MaxQueueSize) + `
  # Concurrent analysis workers (1-16)
  max_workers: ` + strconv.Itoa(cfg.Streaming.MaxWorkers) + `
  # Cached request results (100-100000)
  cache_size: ` + strconv.Itoa(cfg.Streaming.CacheSize) + `
  # Quiet period before a file change is analyzed
  debounce_seconds: ` + formatFloat(cfg.Streaming.DebounceSeconds) + `
  poll_interval_seconds: ` + formatFloat(cfg.Streaming.PollIntervalSeconds) + `
  result_queue_size: ` + strconv.Itoa(cfg.Streaming.ResultQueueSize) + `
  # Pause after a worker fault: constant or exponential (capped, reset on success)
  worker_backoff_policy: ` + cfg.Streaming.WorkerBackoffPolicy + `
  worker_backoff_seconds: ` + formatFloat(cfg.Streaming.WorkerBackoffSeconds) + `
  worker_backoff_max_seconds: ` + formatFloat(cfg.Streaming.WorkerBackoffMaxSeconds) + `
  # 0 disables the expired result sweep
  cleanup_interval_seconds: ` + strconv.Itoa(cfg.Streaming.CleanupIntervalSeconds) + `

# ============================================================================
# AGGREGATION
# ============================================================================
aggregation:
  max_file_history: ` + strconv.Itoa(cfg.Aggregation.MaxFileHistory) + `
  max_trend_points: ` + strconv.Itoa(cfg.Aggregation.MaxTrendPoints) + `
  # Dashboard trend window (60-3600)
  aggregation_window_seconds: ` + strconv.Itoa(cfg.Aggregation.AggregationWindowSeconds) + `
  top_files: ` + strconv.Itoa(cfg.Aggregation.TopFiles) + `

# ============================================================================
# WATCH SCOPE
# ============================================================================
watch:
  paths:` + formatYAMLList(cfg.Watch.Paths) + `
  # Glob patterns matched against file names
  include_patterns:` + formatYAMLList(cfg.Watch.IncludePatterns) + `
  # gitignore syntax, relative to each watched path
  exclude_patterns:` + formatYAMLList(cfg.Watch.ExcludePatterns) + `
  respect_gitignore: ` + strconv.FormatBool(cfg.Watch.RespectGitignore) + `

# ============================================================================
# ANALYSIS
# ============================================================================
analysis:
  max_parameters: ` + strconv.Itoa(cfg.Analysis.MaxParameters) + `
  max_function_lines: ` + strconv.Itoa(cfg.Analysis.MaxFunctionLines) + `
  max_nesting_depth: ` + strconv.Itoa(cfg.Analysis.MaxNestingDepth) + `
  allowed_magic_numbers: [` + formatFloats(cfg.Analysis.AllowedMagicNumbers) + `]
  # Track imports so dependents are re-analyzed when a module changes
  resolve_imports: ` + strconv.FormatBool(cfg.Analysis.ResolveImports) + `

# ============================================================================
# INITIAL SCAN
# ============================================================================
performance:
  max_goroutines: ` + strconv.Itoa(cfg.Performance.MaxGoroutines) + `
  timeout_seconds: ` + strconv.Itoa(cfg.Performance.TimeoutSeconds) + `

# ============================================================================
# OUTPUT
# ============================================================================
output:
  # text, json or yaml
  format: ` + cfg.Output.Format + `
  # Dashboard refresh in watch mode
  refresh_seconds: ` + strconv.Itoa(cfg.Output.RefreshSeconds) + `
`
}

// GetMinimalConfigTemplate returns a minimal config template
func GetMinimalConfigTemplate(projectType ProjectType) string {
	cfg := ApplyPresets(projectType, StrictnessStandard)

	return `# connscan configuration (minimal)
# Run "connscan init" without --minimal for every option.

watch:
  include_patterns:` + formatYAMLList(cfg.Watch.IncludePatterns) + `
  exclude_patterns:` + formatYAMLList(cfg.Watch.ExcludePatterns) + `

streaming:
  max_workers: ` + strconv.Itoa(cfg.Streaming.MaxWorkers) + `
  debounce_seconds: ` + formatFloat(cfg.Streaming.DebounceSeconds) + `
`
}

// formatYAMLList formats a string slice as an indented block sequence
func formatYAMLList(items []string) string {
	if len(items) == 0 {
		return " []"
	}
	var sb strings.Builder
	for _, item := range items {
		sb.WriteString("\n    - ")
		sb.WriteString(strconv.Quote(item))
	}
	return sb.String()
}

func formatFloats(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = formatFloat(v)
	}
	return strings.Join(parts, ", ")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func join(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

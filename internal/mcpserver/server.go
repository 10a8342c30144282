// Package mcpserver exposes the engine's read-only query surface as MCP
// tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/go-logr/logr"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ludo-technologies/connscan/domain"
	"github.com/ludo-technologies/connscan/internal/constants"
	"github.com/ludo-technologies/connscan/internal/version"
)

// Tool names
const (
	ToolAggregatedResult = "get_aggregated_result"
	ToolDashboardData    = "get_dashboard_data"
	ToolCacheStats       = "get_cache_stats"
	ToolStreamingStats   = "get_streaming_stats"
	ToolDependents       = "get_dependents"
)

// AllTools lists every registered tool
var AllTools = []string{ToolAggregatedResult, ToolDashboardData, ToolCacheStats, ToolStreamingStats, ToolDependents}

// QuerySource is the part of the engine the server reads from
type QuerySource interface {
	AggregatedResult() domain.AggregatedResult
	DashboardData() domain.DashboardData
	CacheStats() domain.CacheStats
	IncrementalStats() domain.IncrementalStats
	StreamingStats() domain.StreamingStats
	Dependents(path string) []string
}

// Server wraps the MCP server around a QuerySource
type Server struct {
	mcpServer *server.MCPServer
	source    QuerySource
	logger    logr.Logger
	tools     []string
}

// New registers every tool against source
func New(source QuerySource, logger logr.Logger) (*Server, error) {
	if source == nil {
		return nil, domain.NewInvalidInputError("query source is required", nil)
	}
	s := &Server{
		mcpServer: server.NewMCPServer(constants.ToolName, version.GetVersion(), server.WithToolCapabilities(false)),
		source:    source,
		logger:    logger,
	}
	for _, name := range AllTools {
		if err := s.registerTool(name); err != nil {
			return nil, fmt.Errorf("failed to register tool %s: %w", name, err)
		}
		s.tools = append(s.tools, name)
	}
	return s, nil
}

func (s *Server) registerTool(name string) error {
	switch name {
	case ToolAggregatedResult:
		s.mcpServer.AddTool(mcp.NewTool(name,
			mcp.WithDescription("Current cross-file aggregate: violation totals by type, files analyzed, cache hit rate."),
			mcp.WithBoolean("include_history",
				mcp.Description("Include per-file history and trend data"),
			),
		), s.handleAggregatedResult)
	case ToolDashboardData:
		s.mcpServer.AddTool(mcp.NewTool(name,
			mcp.WithDescription("Live dashboard snapshot: trends, velocity and the files with most violations."),
		), s.handleDashboardData)
	case ToolCacheStats:
		s.mcpServer.AddTool(mcp.NewTool(name,
			mcp.WithDescription("Content cache and incremental cache counters."),
		), s.handleCacheStats)
	case ToolStreamingStats:
		s.mcpServer.AddTool(mcp.NewTool(name,
			mcp.WithDescription("Stream processor counters: queue depth, workers, processed and failed requests."),
		), s.handleStreamingStats)
	case ToolDependents:
		s.mcpServer.AddTool(mcp.NewTool(name,
			mcp.WithDescription("Files that directly depend on a file."),
			mcp.WithString("path",
				mcp.Required(),
				mcp.Description("Absolute path of the file"),
			),
		), s.handleDependents)
	default:
		return fmt.Errorf("unknown tool: %s", name)
	}
	return nil
}

// ListTools returns the registered tool names, sorted
func (s *Server) ListTools() []string {
	out := append([]string(nil), s.tools...)
	sort.Strings(out)
	return out
}

// ServeStdio serves requests on the given streams until ctx is done or
// stdin closes
func (s *Server) ServeStdio(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	s.logger.V(1).Info("serving MCP over stdio", "tools", len(s.tools))
	return server.NewStdioServer(s.mcpServer).Listen(ctx, stdin, stdout)
}

func (s *Server) handleAggregatedResult(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	includeHistory, _ := req.GetArguments()["include_history"].(bool)
	result := s.source.AggregatedResult()
	if !includeHistory {
		result.FileHistory = nil
		result.TrendData = nil
	}
	return jsonResult(result)
}

func (s *Server) handleDashboardData(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.source.DashboardData())
}

// cacheStatsDocument pairs both cache counters in one response
type cacheStatsDocument struct {
	Content     domain.CacheStats       `json:"content"`
	Incremental domain.IncrementalStats `json:"incremental"`
}

func (s *Server) handleCacheStats(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(cacheStatsDocument{
		Content:     s.source.CacheStats(),
		Incremental: s.source.IncrementalStats(),
	})
}

func (s *Server) handleStreamingStats(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.source.StreamingStats())
}

func (s *Server) handleDependents(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, ok := req.GetArguments()["path"].(string)
	if !ok || path == "" {
		return mcp.NewToolResultError("path parameter is required"), nil
	}
	deps := s.source.Dependents(path)
	if deps == nil {
		deps = []string{}
	}
	return jsonResult(map[string]any{"path": path, "dependents": deps})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

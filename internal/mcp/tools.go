package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/adaptive-search/backend/internal/search/controller"
)

func object(props map[string]any, required ...string) mcp.ToolInputSchema {
	return mcp.ToolInputSchema{Type: "object", Properties: props, Required: required}
}

func searchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search",
		Description: "Search indexed documents. The query is rewritten, optimized from past feedback, routed to vector/graph/hybrid retrieval and topic ranked.",
		InputSchema: object(map[string]any{
			"query":      map[string]any{"type": "string", "description": "Natural language query"},
			"session_id": map[string]any{"type": "string", "description": "Optional session to attach the query to"},
		}, "query"),
	}
}

func optimizeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "optimize_query",
		Description: "Show how a query would be rewritten and optimized without searching",
		InputSchema: object(map[string]any{
			"query": map[string]any{"type": "string"},
		}, "query"),
	}
}

func feedbackTool() mcp.Tool {
	return mcp.Tool{
		Name:        "record_feedback",
		Description: "Report which results of a query were useful so future queries improve",
		InputSchema: object(map[string]any{
			"query":           map[string]any{"type": "string"},
			"session_id":      map[string]any{"type": "string"},
			"clicked_results": map[string]any{"type": "array", "items": map[string]any{"type": "integer", "minimum": 0}},
			"satisfaction":    map[string]any{"type": "integer", "minimum": 1, "maximum": 5},
			"result_count":    map[string]any{"type": "integer", "minimum": 0},
		}, "query"),
	}
}

func performanceTool() mcp.Tool {
	return mcp.Tool{
		Name:        "performance_metrics",
		Description: "Optimizer statistics, agent performance and the most used query patterns",
		InputSchema: object(map[string]any{}),
	}
}

func topicsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_topics",
		Description: "Topics discovered in the indexed corpus with their top keywords",
		InputSchema: object(map[string]any{}),
	}
}

func arguments(request mcp.CallToolRequest) map[string]any {
	args, _ := request.Params.Arguments.(map[string]any)
	if args == nil {
		return map[string]any{}
	}
	return args
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// intArg accepts JSON numbers, which decode as float64.
func intArg(args map[string]any, key string) (int, bool, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, false, fmt.Errorf("%s must be an integer", key)
		}
		return int(v), true, nil
	case int:
		return v, true, nil
	default:
		return 0, false, fmt.Errorf("%s must be an integer", key)
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	resp := s.controller.Search(ctx, controller.SearchRequest{
		Query:     stringArg(args, "query"),
		SessionID: stringArg(args, "session_id"),
	})
	if resp.Error != "" {
		return mcp.NewToolResultError(fmt.Sprintf("%s error: %s", resp.ErrorKind, resp.Error)), nil
	}
	return jsonResult(resp)
}

func (s *Server) handleOptimize(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp := s.controller.OptimizeOnly(ctx, stringArg(arguments(request), "query"))
	if resp.Error != "" {
		return mcp.NewToolResultError(fmt.Sprintf("%s error: %s", resp.ErrorKind, resp.Error)), nil
	}
	return jsonResult(resp)
}

func (s *Server) handleFeedback(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	req := controller.FeedbackRequest{
		Query:     stringArg(args, "query"),
		SessionID: stringArg(args, "session_id"),
	}

	if raw, ok := args["clicked_results"].([]any); ok {
		for _, item := range raw {
			f, ok := item.(float64)
			if !ok || f != float64(int(f)) {
				return mcp.NewToolResultError("clicked_results must contain integers"), nil
			}
			req.ClickedResults = append(req.ClickedResults, int(f))
		}
	}
	if rating, ok, err := intArg(args, "satisfaction"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	} else if ok {
		req.Satisfaction = &rating
	}
	count, _, err := intArg(args, "result_count")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	req.ResultCount = count

	if err := s.controller.RecordFeedback(ctx, req); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("feedback recorded"), nil
}

func (s *Server) handlePerformance(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.controller.PerformanceMetrics(ctx))
}

func (s *Server) handleTopics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{"topics": s.controller.TopicSummary()})
}

// Package mcp exposes the search engine as Model Context Protocol tools so
// assistants can search, inspect query optimizations and report feedback.
package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/adaptive-search/backend/internal/search/controller"
	"github.com/adaptive-search/backend/pkg/logger"
)

type Server struct {
	mcp        *server.MCPServer
	controller *controller.Controller
}

func NewServer(name, version string, c *controller.Controller) *Server {
	s := &Server{
		mcp:        server.NewMCPServer(name, version),
		controller: c,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcp.AddTool(searchTool(), s.handleSearch)
	s.mcp.AddTool(optimizeTool(), s.handleOptimize)
	s.mcp.AddTool(feedbackTool(), s.handleFeedback)
	s.mcp.AddTool(performanceTool(), s.handlePerformance)
	s.mcp.AddTool(topicsTool(), s.handleTopics)
}

// Serve answers tool calls on stdio until the client disconnects.
func (s *Server) Serve(ctx context.Context) error {
	logger.Info("MCP server listening on stdio")
	err := server.ServeStdio(s.mcp)
	if err != nil {
		logger.Error("MCP server stopped", zap.Error(err))
	}
	return err
}

package mcptools

import (
	"context"
	"net/http"

	"github.com/codeMaster/reqtrace/internal/service"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// NewServer registers every tool on a fresh MCP server.
func NewServer(store *service.Store, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"reqtrace",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(
			"Requirements tracker. Projects own requirements arranged in a parent/child hierarchy "+
				"and typed trace links between them. Use req_impact before changing a requirement.",
		),
	)
	for _, t := range []tool{
		NewListProjectsTool(store),
		NewListRequirementsTool(store),
		NewGetRequirementTool(store),
		NewCreateRequirementTool(store),
		NewValidateTool(store),
		NewImpactTool(store),
		NewExportTool(store),
	} {
		s.AddTool(t.Definition(), t.Handle)
	}
	return s
}

// Handler serves s over streamable HTTP.
func Handler(s *server.MCPServer) http.Handler {
	return server.NewStreamableHTTPServer(s)
}

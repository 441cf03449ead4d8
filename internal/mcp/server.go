package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cpm-dev/cpm/internal/retrieval"
)

// Server wraps the MCP server with its retrieval engine.
type Server struct {
	server *mcp.Server
	engine *retrieval.Engine
}

// Config holds server dependencies.
type Config struct {
	Engine *retrieval.Engine
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	impl := &mcp.Implementation{
		Name:    "cpm-mcp-server",
		Version: "v0.1.0",
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "query",
		Description: "Search a packet's contents semantically by digest-pinned or aliased oci:// reference. Returns scored chunks with path, span, and snippet.",
	}, makeQueryHandler(cfg.Engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "plan_from_intent",
		Description: "Select among candidate packets for a stated intent, using metadata alone where sufficient and a single probe query only to break ties.",
	}, makePlanHandler(cfg.Engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "digest",
		Description: "Run a query and reduce its results to a deterministic, bounded evidence digest suitable for inlining into a prompt.",
	}, makeDigestHandler(cfg.Engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "status",
		Description: "Report the local packet cache's health (CPM_ROOT reachability and CAS writability).",
	}, makeStatusHandler(cfg.Engine))

	return &Server{server: server, engine: cfg.Engine}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
// Used by transport handlers that need to wrap the server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}

package evidence

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/factcheck/kit"
)

// RegisterMCP registers the evidence tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	ep := s.endpoints()

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name: "evidence_retrieve",
		Description: "Search the web for evidence about a claim. Returns documents from trusted publishers " +
			"that a relevance judge found correlated with the claim, or an error when too few were found.",
		InputSchema: inputSchema(map[string]any{
			"claim":             map[string]any{"type": "string", "description": "Claim to gather evidence for"},
			"query":             map[string]any{"type": "string", "description": "Search query (default: the claim)"},
			"num_results":       map[string]any{"type": "integer", "description": "First search size (default 5)"},
			"min_valid_sources": map[string]any{"type": "integer", "description": "Correlated sources required (default 3)"},
			"max_retries":       map[string]any{"type": "integer", "description": "Rate-limit backoffs allowed (default 3)"},
		}, []string{"claim"}),
	}, ep.retrieve, kit.DecodeArgs[Request])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "evidence_history",
		Description: "List recent evidence retrieval runs, newest first",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max runs (default 50, max 500)"},
		}, nil),
	}, ep.history, kit.DecodeArgs[HistoryRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "evidence_run",
		Description: "Get one retrieval run with its evidence sources",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Run ID"},
		}, []string{"id"}),
	}, ep.run, kit.DecodeArgs[RunRequest])
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

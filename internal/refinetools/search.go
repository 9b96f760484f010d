package refinetools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dverbeek/memwarden/internal/memory"
	"github.com/dverbeek/memwarden/internal/refine"
)

// SearchTool handles the refine_search MCP tool.
type SearchTool struct {
	manager *refine.Manager
}

// NewSearchTool creates a SearchTool.
func NewSearchTool(manager *refine.Manager) *SearchTool {
	return &SearchTool{manager: manager}
}

// Definition returns the MCP tool definition for refine_search.
func (t *SearchTool) Definition() mcp.Tool {
	return mcp.NewTool("refine_search",
		mcp.WithDescription(
			"Search live core memories inside the current refinement session. Use this to find "+
				"redundant, stale, or related memories worth consolidating. Read-only: searches "+
				"never count against the mutation cap. An empty query returns the most recent memories.",
		),
		mcp.WithString("query",
			mcp.Description("Search query, natural language or keywords. Empty for most recent."),
		),
		mcp.WithString("kind",
			mcp.Description("Memory kind to search (default: core)"),
			mcp.Enum(memory.KindValues()...),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max results (default 8)"),
		),
	)
}

// Handle processes the refine_search tool call.
func (t *SearchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cmd := refine.Search{
		Query: req.GetString("query", ""),
		Kind:  memory.Kind(req.GetString("kind", "")),
		Limit: intArg(req, "limit", 0),
	}
	return runCommand(t.manager, cmd), nil
}

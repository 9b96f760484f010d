package refinetools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dverbeek/memwarden/internal/refine"
)

// CompleteTool handles the refine_complete MCP tool.
type CompleteTool struct {
	manager *refine.Manager
}

// NewCompleteTool creates a CompleteTool.
func NewCompleteTool(manager *refine.Manager) *CompleteTool {
	return &CompleteTool{manager: manager}
}

// Definition returns the MCP tool definition for refine_complete.
func (t *CompleteTool) Definition() mcp.Tool {
	return mcp.NewTool("refine_complete",
		mcp.WithDescription(
			"End the current refinement session with a reflective summary of what changed and why. "+
				"The circuit breaker is checked one last time: if core mass has fallen below the "+
				"retention threshold the whole session is rolled back instead, and the result says so. "+
				"Either way a journal memory records the outcome and the session becomes terminal.",
		),
		mcp.WithString("summary",
			mcp.Required(),
			mcp.Description("What this session changed and why, written for your future self"),
		),
	)
}

// Handle processes the refine_complete tool call.
func (t *CompleteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return runCommand(t.manager, refine.Complete{Summary: req.GetString("summary", "")}), nil
}

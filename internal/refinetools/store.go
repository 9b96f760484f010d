package refinetools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dverbeek/memwarden/internal/memory"
)

// RememberTool handles the memory_remember MCP tool.
type RememberTool struct {
	store *memory.Store
}

// NewRememberTool creates a RememberTool.
func NewRememberTool(store *memory.Store) *RememberTool {
	return &RememberTool{store: store}
}

// Definition returns the MCP tool definition for memory_remember.
func (t *RememberTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_remember",
		mcp.WithDescription(
			"Store a new memory outside any refinement session. Use core for durable knowledge "+
				"worth keeping across sessions; journal entries are session notes excluded from "+
				"core mass. New memories are never constitutional; use refine_protect inside a "+
				"session to make one permanent.",
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("The memory content"),
		),
		mcp.WithString("kind",
			mcp.Description("Memory kind (default: core)"),
			mcp.Enum(memory.KindValues()...),
		),
	)
}

type rememberEnvelope struct {
	Type   string        `json:"type"`
	Memory memory.Memory `json:"memory"`
}

// Handle processes the memory_remember tool call.
func (t *RememberTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m, err := t.store.CreateMemory(memory.CreateMemoryParams{
		Content: req.GetString("content", ""),
		Kind:    memory.Kind(req.GetString("kind", "")),
	})
	if err != nil {
		return validationResult("%v", err), nil
	}
	return jsonResult(rememberEnvelope{Type: "remembered", Memory: *m}), nil
}

// ─── StatsTool ──────────────────────────────────────────────────────────────

// StatsTool handles the memory_stats MCP tool.
type StatsTool struct {
	store *memory.Store
}

// NewStatsTool creates a StatsTool.
func NewStatsTool(store *memory.Store) *StatsTool {
	return &StatsTool{store: store}
}

// Definition returns the MCP tool definition for memory_stats.
func (t *StatsTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_stats",
		mcp.WithDescription(
			"Report aggregate memory statistics: live core and journal counts, discarded and "+
				"constitutional totals, core mass in tokens, and session history.",
		),
	)
}

type statsEnvelope struct {
	Type  string       `json:"type"`
	Stats memory.Stats `json:"stats"`
}

// Handle processes the memory_stats tool call.
func (t *StatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := t.store.StoreStats()
	if err != nil {
		return errorResult(fmt.Errorf("collect stats: %w", err)), nil
	}
	return jsonResult(statsEnvelope{Type: "memory_stats", Stats: *stats}), nil
}

package refinetools

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dverbeek/memwarden/internal/refine"
)

// ConsolidateTool handles the refine_consolidate MCP tool.
type ConsolidateTool struct {
	manager *refine.Manager
}

// NewConsolidateTool creates a ConsolidateTool.
func NewConsolidateTool(manager *refine.Manager) *ConsolidateTool {
	return &ConsolidateTool{manager: manager}
}

// Definition returns the MCP tool definition for refine_consolidate.
func (t *ConsolidateTool) Definition() mcp.Tool {
	return mcp.NewTool("refine_consolidate",
		mcp.WithDescription(
			"Merge two or more core memories into a single replacement. The originals are "+
				"soft-discarded and the merged memory takes the earliest original's creation time. "+
				"Counts against the session's mutation cap. Constitutional and journal memories "+
				"cannot be consolidated.",
		),
		mcp.WithString("ids",
			mcp.Required(),
			mcp.Description("JSON array of memory IDs to merge, e.g. \"[\\\"01ABC...\\\", \\\"01DEF...\\\"]\". At least two distinct IDs."),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Content of the merged memory. Should preserve everything still worth knowing from the originals."),
		),
	)
}

// Handle processes the refine_consolidate tool call.
func (t *ConsolidateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	idsRaw := req.GetString("ids", "")

	var ids []string
	if err := json.Unmarshal([]byte(idsRaw), &ids); err != nil {
		return validationResult("'ids' must be a valid JSON array of memory IDs, e.g. [\"01ABC\",\"01DEF\"]: %v", err), nil
	}

	cmd := refine.Consolidate{IDs: ids, Content: req.GetString("content", "")}
	return runCommand(t.manager, cmd), nil
}

// ─── UpdateTool ─────────────────────────────────────────────────────────────

// UpdateTool handles the refine_update MCP tool.
type UpdateTool struct {
	manager *refine.Manager
}

// NewUpdateTool creates an UpdateTool.
func NewUpdateTool(manager *refine.Manager) *UpdateTool {
	return &UpdateTool{manager: manager}
}

// Definition returns the MCP tool definition for refine_update.
func (t *UpdateTool) Definition() mcp.Tool {
	return mcp.NewTool("refine_update",
		mcp.WithDescription(
			"Rewrite one memory's content, keeping its identity and creation time. Use this to "+
				"correct or sharpen a memory rather than replace it. Counts against the session's "+
				"mutation cap. The previous content is snapshotted for rollback.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Memory ID to update"),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Replacement content"),
		),
	)
}

// Handle processes the refine_update tool call.
func (t *UpdateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cmd := refine.Update{
		ID:      req.GetString("id", ""),
		Content: req.GetString("content", ""),
	}
	return runCommand(t.manager, cmd), nil
}

// ─── DeleteTool ─────────────────────────────────────────────────────────────

// DeleteTool handles the refine_delete MCP tool.
type DeleteTool struct {
	manager *refine.Manager
}

// NewDeleteTool creates a DeleteTool.
func NewDeleteTool(manager *refine.Manager) *DeleteTool {
	return &DeleteTool{manager: manager}
}

// Definition returns the MCP tool definition for refine_delete.
func (t *DeleteTool) Definition() mcp.Tool {
	return mcp.NewTool("refine_delete",
		mcp.WithDescription(
			"Soft-discard one memory. Discarded memories leave search and core mass but remain "+
				"recoverable until the session ends, and a rollback restores them. Counts against "+
				"the session's mutation cap. Constitutional memories cannot be deleted.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Memory ID to discard"),
		),
	)
}

// Handle processes the refine_delete tool call.
func (t *DeleteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return runCommand(t.manager, refine.Delete{ID: req.GetString("id", "")}), nil
}

// ─── ProtectTool ────────────────────────────────────────────────────────────

// ProtectTool handles the refine_protect MCP tool.
type ProtectTool struct {
	manager *refine.Manager
}

// NewProtectTool creates a ProtectTool.
func NewProtectTool(manager *refine.Manager) *ProtectTool {
	return &ProtectTool{manager: manager}
}

// Definition returns the MCP tool definition for refine_protect.
func (t *ProtectTool) Definition() mcp.Tool {
	return mcp.NewTool("refine_protect",
		mcp.WithDescription(
			"Mark one memory constitutional. Constitutional memories can never be deleted or "+
				"consolidated away, by this session or any future one, and protection survives "+
				"rollback. Free: never counts against the mutation cap. Idempotent.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Memory ID to protect"),
		),
	)
}

// Handle processes the refine_protect tool call.
func (t *ProtectTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return runCommand(t.manager, refine.Protect{ID: req.GetString("id", "")}), nil
}

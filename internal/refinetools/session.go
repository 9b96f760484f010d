package refinetools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dverbeek/memwarden/internal/memory"
	"github.com/dverbeek/memwarden/internal/refine"
)

// BeginTool handles the refine_begin MCP tool.
type BeginTool struct {
	manager *refine.Manager
}

// NewBeginTool creates a BeginTool.
func NewBeginTool(manager *refine.Manager) *BeginTool {
	return &BeginTool{manager: manager}
}

// Definition returns the MCP tool definition for refine_begin.
func (t *BeginTool) Definition() mcp.Tool {
	return mcp.NewTool("refine_begin",
		mcp.WithDescription(
			"Open a guarded memory refinement session. All curation (consolidate, update, "+
				"delete, protect) happens inside a session, under a mutation cap and a retention "+
				"circuit breaker that rolls everything back if too much core memory disappears. "+
				"Only one session can be active at a time; end it with refine_complete.",
		),
	)
}

type beginEnvelope struct {
	Type    string      `json:"type"`
	Session refine.View `json:"session"`
}

// Handle processes the refine_begin tool call.
func (t *BeginTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := t.manager.Begin()
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(beginEnvelope{Type: "refinement_started", Session: session.View()}), nil
}

// ─── StatusTool ─────────────────────────────────────────────────────────────

// StatusTool handles the refine_status MCP tool.
type StatusTool struct {
	manager *refine.Manager
	store   *memory.Store
}

// NewStatusTool creates a StatusTool.
func NewStatusTool(manager *refine.Manager, store *memory.Store) *StatusTool {
	return &StatusTool{manager: manager, store: store}
}

// Definition returns the MCP tool definition for refine_status.
func (t *StatusTool) Definition() mcp.Tool {
	return mcp.NewTool("refine_status",
		mcp.WithDescription(
			"Report the state of the current refinement session: mutation count against the cap, "+
				"pre-session core mass, and the live retention ratio the circuit breaker watches. "+
				"Works outside a session too, reporting core mass alone.",
		),
	)
}

type statusEnvelope struct {
	Type     string       `json:"type"`
	Session  *refine.View `json:"session"`
	CoreMass int          `json:"core_mass"`
	Ratio    *float64     `json:"retention_ratio,omitempty"`
}

// Handle processes the refine_status tool call.
func (t *StatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mass, err := t.store.CoreMass()
	if err != nil {
		return errorResult(fmt.Errorf("compute core mass: %w", err)), nil
	}

	env := statusEnvelope{Type: "session_status", CoreMass: mass}
	if session := t.manager.Current(); session != nil {
		view := session.View()
		env.Session = &view
		if view.PreSessionMass > 0 {
			ratio := float64(mass) / float64(view.PreSessionMass)
			env.Ratio = &ratio
		}
	}
	return jsonResult(env), nil
}

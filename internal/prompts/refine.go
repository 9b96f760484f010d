package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// RefinePrompt handles the refine-session MCP prompt.
// It guides the AI through a complete guarded refinement session.
type RefinePrompt struct{}

// NewRefinePrompt creates a RefinePrompt.
func NewRefinePrompt() *RefinePrompt {
	return &RefinePrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *RefinePrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("refine-session",
		mcp.WithPromptDescription(
			"Run a guarded memory refinement session. "+
				"Walks through searching for redundant memories, consolidating and "+
				"pruning them under the mutation cap, and completing with a summary.",
		),
		mcp.WithArgument("focus",
			mcp.ArgumentDescription("Optional topic to focus the refinement on (e.g. 'build tooling', 'user preferences')"),
		),
	)
}

// Handle processes the refine-session prompt request.
func (p *RefinePrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	focus := ""
	if args := req.Params.Arguments; args != nil {
		if f, ok := args["focus"]; ok && f != "" {
			focus = f
		}
	}

	focusLine := "Refine whatever looks most redundant or stale."
	if focus != "" {
		focusLine = fmt.Sprintf("Focus the refinement on: %s.", focus)
	}

	return &mcp.GetPromptResult{
		Description: "Run a memory refinement session",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I want you to refine your long-term memory. %s\n\n"+
						"Please:\n"+
						"1. Run `refine_begin` to open a guarded session\n"+
						"2. Use `refine_search` to find overlapping, outdated, or redundant memories\n"+
						"3. Merge duplicates with `refine_consolidate`, fix inaccuracies with `refine_update`, "+
						"discard dead weight with `refine_delete`, and mark anything that must never be lost "+
						"with `refine_protect`\n"+
						"4. Check `refine_status` as you go; you have a limited mutation budget and a "+
						"retention breaker will roll everything back if too much core memory disappears\n"+
						"5. Finish with `refine_complete`, summarizing what you changed and why\n\n"+
						"Work conservatively: prefer consolidating over deleting, and protect before you prune nearby.",
					focusLine,
				)),
			},
		},
	}, nil
}

package prompts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the memory-status MCP prompt.
// It instructs the AI to read and present the state of the memory store.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("memory-status",
		mcp.WithPromptDescription(
			"Review the state of your long-term memory: counts, core mass, "+
				"constitutional memories, and what the last refinement session did.",
		),
	)
}

// Handle processes the memory-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Memory store status",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Please run `memory_stats` and `refine_ledger` to review the state of your long-term memory.\n\n" +
						"Then:\n" +
						"1. Summarize what you currently know: core memory count, core mass, and how much is constitutional\n" +
						"2. Describe what the most recent refinement session changed, and whether it completed or rolled back\n" +
						"3. Point out signs the store needs attention: heavy discard counts, a tripped breaker, or unreversed ledger entries\n" +
						"4. Suggest whether a refinement session is worth running now",
				),
			},
		},
	}, nil
}

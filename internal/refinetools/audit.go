package refinetools

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dverbeek/memwarden/internal/memory"
)

// LedgerTool handles the refine_ledger MCP tool.
type LedgerTool struct {
	store *memory.Store
}

// NewLedgerTool creates a LedgerTool.
func NewLedgerTool(store *memory.Store) *LedgerTool {
	return &LedgerTool{store: store}
}

// Definition returns the MCP tool definition for refine_ledger.
func (t *LedgerTool) Definition() mcp.Tool {
	return mcp.NewTool("refine_ledger",
		mcp.WithDescription(
			"Read a refinement session's mutation ledger: every consolidate, update, delete, and "+
				"protect in order, with the before snapshots rollback uses and reversal stamps for "+
				"entries a rollback has undone. Defaults to the most recent session.",
		),
		mcp.WithString("session_id",
			mcp.Description("Session to audit (default: most recent)"),
		),
	)
}

type ledgerEnvelope struct {
	Type    string               `json:"type"`
	Session memory.SessionRecord `json:"session"`
	Entries []memory.LedgerEntry `json:"entries"`
}

// Handle processes the refine_ledger tool call.
func (t *LedgerTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var (
		rec *memory.SessionRecord
		err error
	)
	if id := req.GetString("session_id", ""); id != "" {
		rec, err = t.store.SessionByID(id)
		if errors.Is(err, memory.ErrSessionGone) {
			return validationResult("unknown session %q", id), nil
		}
	} else {
		rec, err = t.store.LatestSession()
		if errors.Is(err, memory.ErrSessionGone) {
			return validationResult("no refinement sessions recorded yet"), nil
		}
	}
	if err != nil {
		return errorResult(fmt.Errorf("load session: %w", err)), nil
	}

	entries, err := t.store.LedgerEntries(rec.ID)
	if err != nil {
		return errorResult(fmt.Errorf("read ledger: %w", err)), nil
	}
	if entries == nil {
		entries = []memory.LedgerEntry{}
	}

	return jsonResult(ledgerEnvelope{Type: "mutation_ledger", Session: *rec, Entries: entries}), nil
}

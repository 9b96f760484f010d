// Package resources implements MCP resource handlers for the memory store.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (memwarden://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dverbeek/memwarden/internal/memory"
)

// Handler manages memwarden resource endpoints.
type Handler struct {
	store *memory.Store
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(store *memory.Store) *Handler {
	return &Handler{store: store}
}

// StatsResource returns the MCP resource definition for memory statistics.
func (h *Handler) StatsResource() mcp.Resource {
	return mcp.NewResource(
		"memwarden://memory/stats",
		"Memory Statistics",
		mcp.WithResourceDescription("Live memory counts, core mass, and refinement session history"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleStats returns aggregate memory statistics as JSON.
func (h *Handler) HandleStats(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	stats, err := h.store.StoreStats()
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	return jsonResource(req.Params.URI, stats)
}

// LedgerResource returns the MCP resource definition for the most recent
// session's mutation ledger.
func (h *Handler) LedgerResource() mcp.Resource {
	return mcp.NewResource(
		"memwarden://ledger/recent",
		"Recent Mutation Ledger",
		mcp.WithResourceDescription("The most recent refinement session and its mutation ledger"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleLedger returns the latest session row plus its ledger entries.
func (h *Handler) HandleLedger(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	rec, err := h.store.LatestSession()
	if errors.Is(err, memory.ErrSessionGone) {
		return errorResource(req.Params.URI, "no refinement sessions recorded yet"), nil
	}
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}

	entries, err := h.store.LedgerEntries(rec.ID)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	if entries == nil {
		entries = []memory.LedgerEntry{}
	}

	return jsonResource(req.Params.URI, struct {
		Session *memory.SessionRecord `json:"session"`
		Entries []memory.LedgerEntry  `json:"entries"`
	}{rec, entries})
}

// jsonResource marshals v as an application/json resource.
func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}

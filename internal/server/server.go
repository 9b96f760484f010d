// Package server wires all MCP components and creates the server instance.
//
// This is the composition root: it opens the memory store, builds the
// refinement manager, and injects them into the tools/prompts/resources
// that depend on them. No business logic lives here, only wiring.
package server

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dverbeek/memwarden/internal/config"
	"github.com/dverbeek/memwarden/internal/memory"
	"github.com/dverbeek/memwarden/internal/prompts"
	"github.com/dverbeek/memwarden/internal/refine"
	"github.com/dverbeek/memwarden/internal/refinetools"
	"github.com/dverbeek/memwarden/internal/resources"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates and configures the MCP server with all tools, prompts,
// and resources registered. This is the single place where all
// dependencies are resolved.
//
// The returned cleanup function closes the memory store's database
// connection and must be called on shutdown (typically via defer).
// It is always non-nil and safe to call even if initialization failed.
func New(cfg *config.Config) (*server.MCPServer, func(), error) {
	// --- Open the memory store ---
	//
	// Memory is the whole product here: a store that fails to open is
	// fatal, not a degraded mode.

	store, err := memory.New(memory.Config{
		DataDir:          cfg.DataDir,
		MaxSearchResults: cfg.MaxSearchResults,
	})
	if err != nil {
		return nil, noop, fmt.Errorf("opening memory store: %w", err)
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			log.Warn("memory store close", "error", err)
		}
	}

	manager := refine.NewManager(store, refine.Options{
		Threshold:        cfg.RetentionThreshold,
		MaxMutations:     cfg.MaxMutations,
		MaxContentLength: cfg.MaxContentLength,
	})

	// Sessions a crashed process left active are rolled back before the
	// server accepts its first call.
	recovered, err := manager.RecoverStale()
	if err != nil {
		cleanup()
		return nil, noop, fmt.Errorf("recovering stale sessions: %w", err)
	}
	if recovered > 0 {
		log.Info("rolled back stale refinement sessions", "count", recovered)
	}

	// --- Create the MCP server ---

	s := server.NewMCPServer(
		"memwarden",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	registerStoreTools(s, store)
	registerRefineTools(s, manager, store)

	// --- Register prompts ---

	refinePrompt := prompts.NewRefinePrompt()
	s.AddPrompt(refinePrompt.Definition(), refinePrompt.Handle)

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	// --- Register resources ---

	resourceHandler := resources.NewHandler(store)
	s.AddResource(resourceHandler.StatsResource(), resourceHandler.HandleStats)
	s.AddResource(resourceHandler.LedgerResource(), resourceHandler.HandleLedger)

	return s, cleanup, nil
}

// noop is a no-op cleanup function used as the default when
// initialization fails before the store is open.
func noop() {}

// registerStoreTools registers the tools that work outside any
// refinement session.
func registerStoreTools(s *server.MCPServer, store *memory.Store) {
	remember := refinetools.NewRememberTool(store)
	s.AddTool(remember.Definition(), remember.Handle)

	stats := refinetools.NewStatsTool(store)
	s.AddTool(stats.Definition(), stats.Handle)

	ledger := refinetools.NewLedgerTool(store)
	s.AddTool(ledger.Definition(), ledger.Handle)
}

// registerRefineTools registers the guarded session tools.
func registerRefineTools(s *server.MCPServer, manager *refine.Manager, store *memory.Store) {
	// --- Session lifecycle ---
	begin := refinetools.NewBeginTool(manager)
	s.AddTool(begin.Definition(), begin.Handle)

	status := refinetools.NewStatusTool(manager, store)
	s.AddTool(status.Definition(), status.Handle)

	complete := refinetools.NewCompleteTool(manager)
	s.AddTool(complete.Definition(), complete.Handle)

	// --- Curation ---
	search := refinetools.NewSearchTool(manager)
	s.AddTool(search.Definition(), search.Handle)

	consolidate := refinetools.NewConsolidateTool(manager)
	s.AddTool(consolidate.Definition(), consolidate.Handle)

	update := refinetools.NewUpdateTool(manager)
	s.AddTool(update.Definition(), update.Handle)

	del := refinetools.NewDeleteTool(manager)
	s.AddTool(del.Definition(), del.Handle)

	protect := refinetools.NewProtectTool(manager)
	s.AddTool(protect.Definition(), protect.Handle)
}

// serverInstructions returns the system instructions that tell the AI
// how to curate its memory with memwarden.
func serverInstructions() string {
	return `You have access to memwarden, a guarded long-term memory server.

## MEMORY MODEL

- Core memories are your durable knowledge. Their total size in tokens is the "core mass".
- Journal memories are your own session notes; the engine writes one for every finished refinement session.
- Constitutional memories can never be deleted or consolidated. Protection is permanent.

## REMEMBERING

Use memory_remember proactively whenever you learn something worth keeping:
user preferences, project facts, decisions, corrections. New memories are
never constitutional; when losing one would be unacceptable, make it
permanent with refine_protect during a refinement session.

## REFINING

Over time memory accumulates duplicates and stale facts. Periodically run a
refinement session to curate it:

1. refine_begin opens the session.
2. refine_search finds overlapping or outdated memories.
3. refine_consolidate merges duplicates, refine_update fixes inaccuracies,
   refine_delete discards dead weight, refine_protect pins what must survive.
4. refine_complete ends the session with a summary of what changed and why.

Sessions are guarded: at most 10 mutations per session, and a retention
circuit breaker rolls the whole session back if live core mass falls below
60% of what you started with. A rolled back session restores every memory
it touched; protections are the one thing that survives.

Every mutation is recorded in an audit ledger (refine_ledger) with the
before snapshots used for rollback. Work conservatively: prefer
consolidation over deletion, and check refine_status when unsure how much
budget remains.`
}

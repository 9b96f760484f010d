// Memwarden: guarded long-term memory MCP server.
//
// An MCP server that gives AI agents durable, self-curated memory.
// Agents remember facts as they work and periodically refine them inside
// guarded sessions: a mutation cap, a retention circuit breaker, and an
// append-only audit ledger keep self-editing from destroying the very
// memory it is meant to improve.
//
// Usage:
//
//	memwarden serve     # Start MCP server (stdio transport)
//	memwarden stats     # Show memory statistics
//	memwarden version   # Print version
package main

import (
	"os"

	"github.com/dverbeek/memwarden/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

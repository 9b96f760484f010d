// Package cli implements the memwarden CLI commands.
package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/dverbeek/memwarden/internal/config"
)

var dataDirFlag string

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "memwarden",
	Short: "Guarded long-term memory for AI agents",
	Long: "An MCP server that gives an AI agent durable memory it can refine itself:\n" +
		"guarded sessions with a mutation cap, a retention circuit breaker, and a\n" +
		"full audit ledger. SQLite-backed, single binary.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dataDirFlag, "data-dir", "d", "",
		"Data directory (default: $MEMWARDEN_DATA_DIR or ~/.memwarden)")
}

// loadConfig resolves configuration and applies CLI overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if dataDirFlag != "" {
		cfg.DataDir = dataDirFlag
	}
	return cfg, nil
}

// setupLogging routes logs to stderr at the configured level. MCP owns
// stdout, so nothing else may write there.
func setupLogging(cfg *config.Config) {
	log.SetOutput(os.Stderr)
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

package cli

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/charmbracelet/log"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/dverbeek/memwarden/internal/server"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server (stdio transport)",
		Run:   runServe,
	}

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	setupLogging(cfg)

	s, cleanup, err := server.New(cfg)
	if err != nil {
		exitErr("create server", err)
	}

	var once sync.Once
	shutdown := func() { once.Do(cleanup) }
	defer shutdown()

	// ServeStdio returns when stdin closes. A signal closes the store
	// first so WAL checkpoints land, then exits.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutting down", "signal", sig)
		shutdown()
		os.Exit(0)
	}()

	log.Info("memwarden serving on stdio", "version", server.Version, "data_dir", cfg.DataDir)
	if err := mcpserver.ServeStdio(s); err != nil {
		exitErr("serve", err)
	}
}

package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dverbeek/memwarden/internal/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}

	store, err := memory.New(memory.Config{
		DataDir:          cfg.DataDir,
		MaxSearchResults: cfg.MaxSearchResults,
	})
	if err != nil {
		exitErr("open store", err)
	}
	defer store.Close()

	stats, err := store.StoreStats()
	if err != nil {
		exitErr("stats", err)
	}

	b, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(b))
}

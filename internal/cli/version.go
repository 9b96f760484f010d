package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dverbeek/memwarden/internal/server"
)

func init() {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the memwarden version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("memwarden v%s\n", server.Version)
		},
	}

	RootCmd.AddCommand(cmd)
}

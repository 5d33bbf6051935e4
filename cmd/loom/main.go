package main

import (
	"fmt"
	"os"

	"github.com/loomchat/loom-memory/internal/cli"
	"github.com/loomchat/loom-memory/internal/cli/client"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "loom",
		Short: "Loom CLI - Shared memory for multi-model chat",
		Long: `Loom CLI provides commands to manage shared conversation memory
and the knowledge base document index.

Environment variables:
  LOOM_API_KEY   API key for authentication (optional if the server runs without auth)
  LOOM_API_URL   API base URL (default: http://localhost:8080)`,
		Version: version,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-key", "", "API key for authentication (overrides env)")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.FactCmd())
	rootCmd.AddCommand(client.MemoryCmd())
	rootCmd.AddCommand(client.DocumentCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Draftd is a retrieval-augmented chat daemon. It indexes uploaded project
// documents into a local chunk store, assembles bounded working contexts
// for queries, and streams model output to clients over SSE with
// cooperative mid-flight cancellation.
//
// Usage:
//
//	# Start the server with defaults
//	draftd serve
//
//	# Configure via environment
//	DRAFTD_SERVER_PORT=8080 DRAFTD_GENERATION_PROVIDER=anthropic draftd serve
//
//	# Index local files into a project without starting the server
//	draftd index <project-id> notes.txt runbook.md
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "draftd",
	Short: "Retrieval-augmented chat daemon",
	Long: `draftd indexes project documents for semantic search and streams
retrieval-augmented model responses with cancellable delivery.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/draftd/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("draftd\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

// Package cmd implements the stori-rag command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stori-rag",
	Short: "Conversational assistant for the Mexican Revolution corpus",
	Long: `stori-rag serves a retrieval-augmented conversational assistant over a
historical document corpus. It answers questions grounded in the indexed
documents, keeps per-conversation memory, and exposes metrics over HTTP.

Run "stori-rag serve" to start the API server or "stori-rag ingest" to
index documents.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

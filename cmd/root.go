// Package cmd provides CLI commands for the CaseHub server.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "casehub",
	Short: "CaseHub - a support engineering workspace server",
	Long: `CaseHub serves a local support-engineering workspace: live change
notifications over SSE, full-text search across cases and archives, a
tool-calling chat assistant, and ticket-system sync that archives
completed cases.`,
}

func Execute() error {
	return rootCmd.Execute()
}

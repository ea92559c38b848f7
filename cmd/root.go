// Package cmd wires the command-line interface for the Dora backend.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dora",
	Short: "Dora - chat backend with memory and connected accounts",
	Long: `Dora is a chat backend that answers with context: it retrieves the
user's most relevant prior messages via vector similarity and, when asked
about code, augments the conversation with live data from the user's
connected GitHub account.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

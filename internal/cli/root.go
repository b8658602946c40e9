// Package cli wires the analogic command tree: serving the HTTP API,
// running backups by hand, and one-shot maintenance sweeps.
package cli

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "analogic",
	Short: "Encrypted memory system for AI agents",
	Long: "Analogic stores encrypted per-user memories, links them into a typed\n" +
		"association graph, and keeps tiered, checksummed backups of everything.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"path to a YAML config file (environment variables still override)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(purgeCmd)
}

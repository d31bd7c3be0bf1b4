package root

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the courier admin CLI. Subcommands
// (tenant, queue) are attached here.
var rootCmd = &cobra.Command{
	Use:           "courier",
	Short:         "Courier admin CLI",
	Long:          "Administrative utilities for the courier dispatch platform (tenant registry management, queue inspection).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}

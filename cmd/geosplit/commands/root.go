// Package commands implements CLI command handlers for geosplit.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/geosplit/pkg/version"
)

// NewRootCommand assembles the geosplit command tree.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "geosplit",
		Short: "Split OpenStreetMap extracts into size-bounded tiles",
		Long: `geosplit cuts oversized OpenStreetMap extracts into tiles below a size
threshold and maintains an index from each tile to its bounding box.

Commands:
  run       Process every extract in the pending directory
  version   Show version information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(NewRunCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "geosplit %s (commit: %s, built: %s)\n",
				version.Version, version.Commit, version.Date)
		},
	}
}

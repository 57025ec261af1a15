// Package cmd defines and implements the CLI commands for the sitemark
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sitemark",
		Short: "Harvest a domain's pages into Markdown files.",
		Long: `sitemark discovers a domain's pages through robots.txt and sitemaps,
fetches each one with the strategy its domain calls for, converts the HTML
to Markdown, and writes the results into a local output directory.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional; defaults apply without one)")

	cmd.AddCommand(newHarvestCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sweepsim",
		Short: "Encounter sweep simulator",
		Long: `sweepsim simulates an agent fighting every encounter in a catalog,
combines the results into instance and task-set rates, and adjusts
them for the downtime spent replenishing consumed resources.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.sweepsim/config.yaml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newSweepCmd(),
		newServeCmd(),
		newMCPServerCmd(),
		newConfigCmd(),
		newCatalogCmd(),
	)
	return rootCmd
}

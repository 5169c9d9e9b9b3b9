package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "designbridge",
	Short: "Companion process bridging a host image editor's scripting interface",
	Long: `designbridge keeps a local mirror of a host image editor's open
documents and drives edits through its scripting interface.

It applies changes optimistically, confirms them against host results,
and resynchronizes from the host whenever the two disagree.

Quick start:
  designbridge serve     # Connect to the host and start serving
  designbridge validate  # Validate configuration`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "designbridge.yaml", "config file path")
}

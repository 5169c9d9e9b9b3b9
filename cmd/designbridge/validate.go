package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artfold/designbridge/adapters/sqlite"
	"github.com/artfold/designbridge/config"
)

var validateCheckJournal bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the designbridge configuration file.

Checks:
  - YAML syntax is valid
  - Required fields are present
  - Journal database is writable (optional)

Examples:
  designbridge validate
  designbridge validate --config /etc/designbridge/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckJournal, "check-journal", false, "check if the journal database is writable")
}

func runValidate(cmd *cobra.Command, args []string) error {
	fmt.Printf("Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Printf("  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Printf("  %s Config file exists\n", checkMark)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Printf("  %s Config syntax valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Printf("  %s Config syntax valid\n", checkMark)

	fmt.Printf("  %s Bridge: %s", checkMark, cfg.Bridge.Mode)
	if cfg.Bridge.URL != "" {
		fmt.Printf(" (%s)", cfg.Bridge.URL)
	}
	fmt.Println()
	if cfg.Journal.Enabled {
		fmt.Printf("  %s Journal: %s\n", checkMark, cfg.Journal.Path)
	} else {
		fmt.Printf("  %s Journal: disabled\n", checkMark)
	}
	if cfg.Admin.Enabled {
		fmt.Printf("  %s Admin: %s:%d\n", checkMark, cfg.Admin.Host, cfg.Admin.Port)
	}
	if len(cfg.Locks.Extra) > 0 {
		fmt.Printf("  %s Extra locks: %d\n", checkMark, len(cfg.Locks.Extra))
	}

	if validateCheckJournal && cfg.Journal.Enabled {
		if err := checkJournalWritable(cfg.Journal.Path); err != nil {
			fmt.Printf("  %s Journal writable\n", crossMark)
			fmt.Printf("      Error: %v\n", err)
		} else {
			fmt.Printf("  %s Journal writable\n", checkMark)
		}
	}

	fmt.Println()
	fmt.Println("Configuration is valid.")
	return nil
}

func checkJournalWritable(path string) error {
	db, err := sqlite.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()
	return nil
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)

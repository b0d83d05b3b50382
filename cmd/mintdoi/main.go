package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/teranos/mintdoi/cmd/mintdoi/commands"
	"github.com/teranos/mintdoi/errors"
	"github.com/teranos/mintdoi/logger"
	"github.com/teranos/mintdoi/version"
)

var rootCmd = &cobra.Command{
	Use:   "mintdoi",
	Short: "mintdoi - Batch DataCite DOI minting for DSpace repositories",
	Long: `mintdoi - Batch DataCite DOI minting for DSpace / Open Repository.

Reads item ids from CSV files, builds DataCite metadata from each repository
record, mints a draft DOI and writes it back to the record. Runs are durable:
an interrupted run resumes without minting any item twice.

Available commands:
  check  - Validate CSV input and connectivity without side effects
  run    - Transform, mint and patch every record
  status - Show stored runs and per-item state
  am     - Manage configuration (alias: config)

Examples:
  mintdoi check items.csv          # Dry run
  mintdoi run items.csv            # Mint and patch
  mintdoi run --resume <run-id>    # Continue an interrupted run
  mintdoi status <run-id>          # Inspect a run`,
	Version:           version.Get().Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: commands.Prepare,
}

func init() {
	commands.AddGlobalFlags(rootCmd)

	rootCmd.AddCommand(commands.CheckCmd)
	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	// .env only fills variables the environment does not already set
	_ = godotenv.Load()

	err := rootCmd.Execute()
	if err != nil {
		logger.Errorw("Command failed", logger.FieldError, err)
	}
	logger.Cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if hints := errors.FlattenHints(err); hints != "" {
			fmt.Fprintln(os.Stderr, "Hint:", hints)
		}
	}
	os.Exit(commands.ExitCode(err))
}

package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/teranos/mintdoi/am"
	"github.com/teranos/mintdoi/errors"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:     "am",
	Aliases: []string{"config"},
	Short:   "Manage mintdoi configuration",
	Long: `am: Manage mintdoi configuration ("I am")

Configuration sources (later overrides earlier):
1. Default values
2. System config (/etc/mintdoi/am.toml)
3. User config (~/.mintdoi/am.toml)
4. Project config (./am.toml, searching up directories)
5. .env in the working directory
6. Environment variables (MINT__* names)
7. Command line flags

Examples:
  mintdoi am show                 # Show effective configuration
  mintdoi config show --format json
  mintdoi am validate             # Check the configuration is complete
  mintdoi am init                 # Write a starter ./am.toml`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration (credentials masked)",
	RunE:  runAmShow,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show which configuration files were loaded",
	RunE:  runAmWhere,
}

var amInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a starter am.toml with default values",
	Long: `Write a configuration file holding the defaults and empty credentials.
An existing file is rotated to .back1 (up to three backups are kept).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAmInit,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
	AmCmd.AddCommand(amInitCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return err
	}
	data, err := am.Marshal(cfg.Redacted(), configFormat)
	if err != nil {
		return err
	}
	if configFormat != "json" {
		fmt.Fprintln(cmd.OutOrStdout(), "# mintdoi configuration")
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	files := am.LoadedFiles()
	if len(files) == 0 {
		fmt.Fprintln(out, "No configuration files found; using defaults and environment")
		return nil
	}
	fmt.Fprintln(out, "Configuration files (later overrides earlier):")
	for i, f := range files {
		fmt.Fprintf(out, "  %d. %s\n", i+1, f)
	}
	return nil
}

func runAmInit(cmd *cobra.Command, args []string) error {
	path := am.ConfigFileName
	if len(args) == 1 {
		path = args[0]
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, am.ConfigFileName)
	}

	if err := am.WriteConfigFile(path, am.DefaultConfig()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

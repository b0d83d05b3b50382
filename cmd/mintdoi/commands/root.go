package commands

import (
	"github.com/spf13/cobra"

	"github.com/teranos/mintdoi/am"
	"github.com/teranos/mintdoi/errors"
	"github.com/teranos/mintdoi/logger"
)

// Exit codes
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitOperator = 2
)

// flagBindings maps persistent flags onto config keys. Flags only win when
// given explicitly, so env and am.toml values survive an unset flag.
var flagBindings = []struct {
	flag string
	key  string
}{
	{"repo-endpoint", "repository.endpoint"},
	{"datacite-api", "datacite.api"},
	{"prefix", "datacite.prefix"},
	{"affil-name", "affiliation.name"},
	{"affil-ror", "affiliation.ror"},
	{"rps", "batch.rps"},
	{"concurrency", "batch.concurrency"},
	{"retry-count", "batch.retry_count"},
	{"column", "csv.column"},
	{"log-directory", "log.directory"},
	{"run-directory", "run.directory"},
}

// AddGlobalFlags registers the persistent flags shared by every command
func AddGlobalFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	f.CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	f.String("config", "", "Read configuration from this file instead of searching for "+am.ConfigFileName)
	f.Bool("json", false, "Log as JSON on stderr")

	f.String("repo-endpoint", "", "Repository base URL. Env: "+am.EnvName("repository.endpoint"))
	f.String("datacite-api", "", "DataCite API base. Env: "+am.EnvName("datacite.api"))
	f.String("prefix", "", "DOI prefix. Env: "+am.EnvName("datacite.prefix"))
	f.String("affil-name", "", "Affiliation name applied to every creator. Env: "+am.EnvName("affiliation.name"))
	f.String("affil-ror", "", "Affiliation ROR id. Env: "+am.EnvName("affiliation.ror"))
	f.Float64("rps", 0, "DataCite requests per second. Env: "+am.EnvName("batch.rps"))
	f.Int("concurrency", 0, "Concurrent workers. Env: "+am.EnvName("batch.concurrency"))
	f.Int("retry-count", 0, "Attempts per item per stage. Env: "+am.EnvName("batch.retry_count"))
	f.String("column", "", "CSV column holding item ids. Env: "+am.EnvName("csv.column"))
	f.String("log-directory", "", "Directory for run log files. Env: "+am.EnvName("log.directory"))
	f.String("run-directory", "", "Directory for run state and reports. Env: "+am.EnvName("run.directory"))

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return errors.Mark(err, errors.ErrInvalidConfig)
	})
}

// Prepare binds flags into the configuration and initializes the logger.
// Used as the root PersistentPreRunE.
func Prepare(cmd *cobra.Command, args []string) error {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		am.SetConfigFile(path)
	}

	v := am.GetViper()
	for _, b := range flagBindings {
		if f := cmd.Flags().Lookup(b.flag); f != nil {
			if err := v.BindPFlag(b.key, f); err != nil {
				return errors.Wrapf(err, "bind --%s", b.flag)
			}
		}
	}

	cfg, err := am.Load()
	if err != nil {
		return err
	}

	verbosity, _ := cmd.Flags().GetCount("verbose")
	jsonLogs, _ := cmd.Flags().GetBool("json")
	opts := logger.Options{JSONOutput: jsonLogs, Verbosity: verbosity}
	// Only runs leave a log file behind
	if cmd.Name() == "run" {
		opts.Directory = cfg.Log.Directory
	}
	if err := logger.Initialize(opts); err != nil {
		return errors.Wrap(err, "failed to initialize logger")
	}
	logger.Debugw("Logger initialized", "command", cmd.Name(), "level", logger.LevelName(verbosity))
	return nil
}

// ExitCode maps a command error to the process exit code
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.IsOperatorError(err):
		return ExitOperator
	default:
		return ExitFailure
	}
}

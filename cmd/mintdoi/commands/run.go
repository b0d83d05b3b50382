package commands

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/mintdoi/am"
	"github.com/teranos/mintdoi/batch"
	"github.com/teranos/mintdoi/csvinput"
	"github.com/teranos/mintdoi/errors"
	"github.com/teranos/mintdoi/logger"
	"github.com/teranos/mintdoi/metrics"
)

// RunCmd runs the full pipeline: fetch, transform, mint, patch
var RunCmd = &cobra.Command{
	Use:   "run [csv-or-dir ...]",
	Short: "Transform, mint and patch every record",
	Long: `Run mints a draft DOI for every item id in the CSV input and writes it
back onto the repository record.

State is kept in <run dir>/mintdoi.db so an interrupted run can be resumed;
items that already received a DOI are never minted again. At the end the
report, reminders and metrics are written to <run dir>/<run id>/.

Examples:
  mintdoi run items.csv
  mintdoi run ./batches/ --rps 2 --concurrency 4
  mintdoi run --resume 5f0c6a3e-8a53-4d7c-9d43-3f0a4f8e2b11`,
	RunE: runRun,
}

var (
	resumeRunID  string
	reportFormat string
)

func init() {
	RunCmd.Flags().StringVar(&resumeRunID, "resume", "", "Resume a stored run instead of reading CSV input")
	RunCmd.Flags().StringVar(&reportFormat, "report-format", "json", "Report format: json, yaml")
	RunCmd.Flags().Bool("ask-datacite-token", false, "Prompt for the DataCite token")
}

func runRun(cmd *cobra.Command, args []string) error {
	switch reportFormat {
	case "json", "yaml", "yml":
	default:
		return errors.NewConfigError("unsupported report format: %s (supported: json, yaml)", reportFormat)
	}
	if resumeRunID != "" && len(args) > 0 {
		return errors.NewConfigError("--resume takes its items from the stored run; drop the CSV arguments")
	}

	cfg, err := loadValidated(cmd)
	if err != nil {
		return err
	}

	var input *csvinput.Input
	source := ""
	if resumeRunID == "" {
		input, err = csvinput.Load(dataPaths(args, cfg), cfg.CSV.Column)
		if err != nil {
			return err
		}
		source = input.Source()
		if bad := csvinput.NonUUIDs(input.IDs); len(bad) > 0 {
			pterm.Warning.Printf("%d id(s) do not look like UUIDs\n", len(bad))
		}
	}

	c, err := newClients(cfg)
	if err != nil {
		return err
	}
	conn, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	bcfg := batchConfig(cfg, source)

	total := 0
	if input != nil {
		total = len(input.IDs)
	} else if total, err = remaining(cmd, store, resumeRunID); err != nil {
		return err
	}
	bar := startProgress(cmd, total)
	if bar != nil {
		bcfg.OnCommit = func(item *batch.Item) {
			if item.Stage.IsTerminal() {
				bar.Increment()
			}
		}
	}
	orch := batch.NewOrchestrator(store, c.stages(m), bcfg, logger.Logger)

	var report *batch.Report
	var runErr error
	if resumeRunID != "" {
		pterm.Info.Printf("Resuming run %s (%d item(s) left)\n", resumeRunID, total)
		report, runErr = orch.Resume(ctx, resumeRunID)
	} else {
		pterm.Info.Printf("Minting DOIs for %d item(s)\n", total)
		report, runErr = orch.Run(ctx, input.IDs)
	}
	if bar != nil {
		_, _ = bar.Stop()
	}
	if report == nil {
		return runErr
	}

	if err := writeOutputs(cfg, report, m); err != nil {
		return errors.WithSecondaryError(err, runErr)
	}
	printSummary(cmd, report)
	return runErr
}

// remaining counts the items of a stored run that are not yet terminal
func remaining(cmd *cobra.Command, store *batch.Store, runID string) (int, error) {
	counts, err := store.CountByStage(cmd.Context(), runID)
	if err != nil {
		return 0, err
	}
	n := 0
	for stage, c := range counts {
		if !stage.IsTerminal() {
			n += c
		}
	}
	return n, nil
}

// startProgress shows a progress bar on stderr unless logs are going there
func startProgress(cmd *cobra.Command, total int) *pterm.ProgressbarPrinter {
	verbosity, _ := cmd.Flags().GetCount("verbose")
	if total == 0 || verbosity > 0 || logger.JSONOutput {
		return nil
	}
	bar, err := pterm.DefaultProgressbar.
		WithTotal(total).
		WithTitle("Items").
		WithWriter(cmd.ErrOrStderr()).
		WithRemoveWhenDone(true).
		Start()
	if err != nil {
		return nil
	}
	return bar
}

// writeOutputs writes the report, reminders and metrics into the run's directory
func writeOutputs(cfg *am.Config, report *batch.Report, m *metrics.Metrics) error {
	runDir, err := report.Write(cfg.Run.Directory, reportFormat)
	if err != nil {
		return err
	}
	metricsPath, err := m.WriteTextfile(runDir)
	if err != nil {
		logger.Warnw("Failed to write metrics", logger.FieldError, err)
	} else {
		logger.Debugw("Metrics written", "path", metricsPath)
	}
	logger.Infow("Report written", logger.FieldRunID, report.RunID, "path", runDir)
	pterm.Info.Printf("Report written to %s\n", runDir)
	if logger.LogFile != "" {
		pterm.Info.Printf("Log written to %s\n", logger.LogFile)
	}
	return nil
}

func printSummary(cmd *cobra.Command, report *batch.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderCounts(report))
	if failures := renderFailures(report); failures != "" {
		fmt.Fprintln(out, failures)
	}

	reminders := report.Reminders()
	if len(reminders) > 0 {
		pterm.Info.Printf("%d DOI(s) need manual follow-up (see %s):\n", len(reminders),
			filepath.Join(report.RunID, batch.RemindersFileName))
		for _, r := range reminders {
			fmt.Fprintln(out, "  "+r)
		}
	}

	switch {
	case report.Status == batch.RunStatusInterrupted:
		pterm.Warning.Printf("Run %s was interrupted\n", report.RunID)
	case report.Counts.Failed > 0:
		pterm.Warning.Printf("Run %s completed with %d failure(s)\n", report.RunID, report.Counts.Failed)
	default:
		pterm.Success.Printf("Run %s completed\n", report.RunID)
	}
}

package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teranos/mintdoi/am"
	"github.com/teranos/mintdoi/batch"
)

// StatusCmd shows stored run state
var StatusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show stored runs or the per-item state of one run",
	Long: `Without arguments, status lists the most recent runs in the run directory.
With a run id it prints every item's stage, attempt, DOI and last error.

Examples:
  mintdoi status
  mintdoi status 5f0c6a3e-8a53-4d7c-9d43-3f0a4f8e2b11`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var statusLimit int

func init() {
	StatusCmd.Flags().IntVar(&statusLimit, "limit", 20, "Number of runs to list")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return err
	}
	conn, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		runs, err := store.ListRuns(ctx, statusLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(out, "No runs yet")
			return nil
		}
		fmt.Fprintln(out, renderRuns(runs))
		return nil
	}

	run, err := store.GetRun(ctx, args[0])
	if err != nil {
		return err
	}
	items, err := store.ListItems(ctx, run.ID)
	if err != nil {
		return err
	}
	counts, err := store.CountByStage(ctx, run.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Run %s (%s), %d item(s): %s\n", run.ID, run.Status, len(items), formatCounts(counts))
	fmt.Fprintln(out, renderItems(items))
	return nil
}

// formatCounts lists non-zero stage counts in pipeline order
func formatCounts(counts map[batch.Stage]int) string {
	var parts []string
	for _, s := range batch.AllStages() {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", s, n))
		}
	}
	return strings.Join(parts, " ")
}

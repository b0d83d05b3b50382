package commands

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/mintdoi/batch"
	"github.com/teranos/mintdoi/csvinput"
	"github.com/teranos/mintdoi/errors"
	"github.com/teranos/mintdoi/logger"
)

// CheckCmd validates input and connectivity without minting anything
var CheckCmd = &cobra.Command{
	Use:   "check [csv-or-dir ...]",
	Short: "Check CSV input and connectivity (dry run)",
	Long: `Check reads the CSV input, probes the repository and DataCite, then
fetches and transforms every record. Nothing is minted, patched or stored.

Ids that do not look like UUIDs are reported as warnings.

Examples:
  mintdoi check items.csv
  mintdoi check ./batches/ --column uuid`,
	RunE: runCheck,
}

func init() {
	CheckCmd.Flags().Bool("ask-datacite-token", false, "Prompt for the DataCite token")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadValidated(cmd)
	if err != nil {
		return err
	}

	input, err := csvinput.Load(dataPaths(args, cfg), cfg.CSV.Column)
	if err != nil {
		return err
	}
	pterm.Info.Printf("Read %d item ids from %d file(s)\n", len(input.IDs), len(input.Files))
	if bad := csvinput.NonUUIDs(input.IDs); len(bad) > 0 {
		pterm.Warning.Printf("%d id(s) do not look like UUIDs: %s\n", len(bad), strings.Join(firstN(bad, 5), ", "))
	}

	c, err := newClients(cfg)
	if err != nil {
		return err
	}
	orch := batch.NewOrchestrator(nil, c.stages(nil), batchConfig(cfg, input.Source()), logger.Logger)

	report, err := orch.Check(cmd.Context(), input.IDs, c.probes())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderCheck(report))

	if !report.OK() {
		return errors.New("check found problems")
	}
	pterm.Success.Println("Check passed")
	return nil
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return append(s[:n:n], "...")
	}
	return s
}

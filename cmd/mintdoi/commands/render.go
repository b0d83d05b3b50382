package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/teranos/mintdoi/batch"
	"github.com/teranos/mintdoi/errors"
)

// maxErrorWidth truncates error text in tables; the report keeps it whole
const maxErrorWidth = 80

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func table(rows [][]string) string {
	out, err := pterm.DefaultTable.WithHasHeader().WithData(rows).Srender()
	if err != nil {
		return fmt.Sprintf("render table: %v\n", err)
	}
	return out
}

// renderCounts is the per-stage summary of a run report
func renderCounts(r *batch.Report) string {
	c := r.Counts
	return table([][]string{
		{"Done", "Skipped", "Failed", "Unfinished", "Total", "Registrar calls", "Elapsed"},
		{
			strconv.Itoa(c.Done), strconv.Itoa(c.Skipped), strconv.Itoa(c.Failed),
			strconv.Itoa(c.Unfinished), strconv.Itoa(c.Total),
			strconv.FormatInt(r.RegistrarCalls, 10), r.Elapsed.Round(time.Millisecond).String(),
		},
	})
}

// renderFailures lists failed and skipped items, or "" when there are none
func renderFailures(r *batch.Report) string {
	rows := [][]string{{"Item", "Stage", "Kind", "Reason"}}
	for _, item := range r.Items {
		if item.Stage != batch.StageFailed && item.Stage != batch.StageSkipped {
			continue
		}
		stage := string(item.Stage)
		if item.FailedStage != "" {
			stage += " (" + string(item.FailedStage) + ")"
		}
		kind, reason := "", ""
		if item.Error != nil {
			kind, reason = item.Error.Kind, truncate(item.Error.Message, maxErrorWidth)
		}
		rows = append(rows, []string{item.ID, stage, kind, reason})
	}
	if len(rows) == 1 {
		return ""
	}
	return table(rows)
}

// renderItems is the persisted per-item state of a run
func renderItems(items []*batch.Item) string {
	rows := [][]string{{"#", "Item", "Stage", "Attempt", "DOI", "Last error"}}
	for _, item := range items {
		stage := string(item.Stage)
		if item.FailedStage != "" {
			stage += " (" + string(item.FailedStage) + ")"
		}
		lastErr := ""
		if item.LastError != nil {
			lastErr = item.LastError.Kind + ": " + truncate(item.LastError.Message, maxErrorWidth)
		}
		rows = append(rows, []string{
			strconv.Itoa(item.Position + 1), item.ID, stage, strconv.Itoa(item.Attempt), item.Identifier, lastErr,
		})
	}
	return table(rows)
}

// renderRuns lists stored runs, newest first
func renderRuns(runs []*batch.Run) string {
	rows := [][]string{{"Run", "Status", "Created", "Finished", "Source"}}
	for _, run := range runs {
		finished := ""
		if run.FinishedAt != nil {
			finished = run.FinishedAt.Local().Format(time.DateTime)
		}
		rows = append(rows, []string{
			run.ID, string(run.Status), run.CreatedAt.Local().Format(time.DateTime), finished, truncate(run.Source, 60),
		})
	}
	return table(rows)
}

// renderCheck is the dry-run result: service probes then records
func renderCheck(r *batch.CheckReport) string {
	var b strings.Builder

	probes := [][]string{{"Service", "Result"}}
	for _, p := range r.Probes {
		result := pterm.Green("ok")
		if p.Err != nil {
			result = pterm.Red(errors.KindOf(p.Err)) + " " + truncate(p.Err.Error(), maxErrorWidth)
		}
		probes = append(probes, []string{p.Service, result})
	}
	b.WriteString(table(probes))
	b.WriteString("\n")

	items := [][]string{{"Item", "Result", "Detail"}}
	for _, item := range r.Items {
		switch {
		case item.Err != nil:
			items = append(items, []string{item.ID, pterm.Red(errors.KindOf(item.Err)), truncate(item.Err.Error(), maxErrorWidth)})
		case item.ExistingDOI != "":
			items = append(items, []string{item.ID, pterm.Yellow("skip"), "already has DOI " + item.ExistingDOI})
		default:
			detail := truncate(item.Title, maxErrorWidth)
			if len(item.ORCIDs) > 0 {
				detail += " [ORCIDs to pair: " + strings.Join(item.ORCIDs, ", ") + "]"
			}
			items = append(items, []string{item.ID, pterm.Green("ok"), detail})
		}
	}
	b.WriteString(table(items))
	return b.String()
}

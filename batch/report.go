package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teranos/mintdoi/errors"
)

// Report file names inside <run dir>/<run id>/
const (
	ReportFileName    = "report"
	RemindersFileName = "reminders.txt"
)

// Counts tallies items by final stage
type Counts struct {
	Done    int `json:"done" yaml:"done"`
	Skipped int `json:"skipped" yaml:"skipped"`
	Failed  int `json:"failed" yaml:"failed"`
	// Unfinished items were left mid-pipeline by a cancelled run
	Unfinished int `json:"unfinished" yaml:"unfinished"`
	Total      int `json:"total" yaml:"total"`
}

// ItemOutcome is the final state of one item
type ItemOutcome struct {
	ID          string     `json:"id" yaml:"id"`
	Stage       Stage      `json:"stage" yaml:"stage"`
	FailedStage Stage      `json:"failed_stage,omitempty" yaml:"failed_stage,omitempty"`
	Identifier  string     `json:"doi,omitempty" yaml:"doi,omitempty"`
	LandingURL  string     `json:"url,omitempty" yaml:"url,omitempty"`
	ORCIDs      []string   `json:"orcids,omitempty" yaml:"orcids,omitempty"`
	Error       *ItemError `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report summarises a run. It is built once from committed state and not changed afterwards.
type Report struct {
	RunID          string        `json:"run_id" yaml:"run_id"`
	Source         string        `json:"source,omitempty" yaml:"source,omitempty"`
	Status         RunStatus     `json:"status" yaml:"status"`
	CreatedAt      time.Time     `json:"created_at" yaml:"created_at"`
	Elapsed        time.Duration `json:"elapsed_ns" yaml:"elapsed_ns"`
	RegistrarCalls int64         `json:"registrar_calls" yaml:"registrar_calls"`
	Counts         Counts        `json:"counts" yaml:"counts"`
	Items          []ItemOutcome `json:"items" yaml:"items"`
	Abandoned      []string      `json:"abandoned,omitempty" yaml:"abandoned,omitempty"`
}

// BuildReport derives a report from a run's items
func BuildReport(run *Run, items []*Item) *Report {
	r := &Report{
		RunID:     run.ID,
		Source:    run.Source,
		Status:    run.Status,
		CreatedAt: run.CreatedAt,
		Items:     make([]ItemOutcome, 0, len(items)),
	}

	for _, it := range items {
		switch it.Stage {
		case StageDone:
			r.Counts.Done++
		case StageSkipped:
			r.Counts.Skipped++
		case StageFailed:
			r.Counts.Failed++
		default:
			r.Counts.Unfinished++
		}
		r.Counts.Total++

		outcome := ItemOutcome{
			ID:          it.ID,
			Stage:       it.Stage,
			FailedStage: it.FailedStage,
			Identifier:  it.Identifier,
			LandingURL:  it.LandingURL,
			ORCIDs:      append([]string(nil), it.ORCIDs...),
		}
		if it.LastError != nil {
			e := *it.LastError
			outcome.Error = &e
		}
		r.Items = append(r.Items, outcome)
	}
	return r
}

// Failed returns the failed items
func (r *Report) Failed() []ItemOutcome {
	var out []ItemOutcome
	for _, it := range r.Items {
		if it.Stage == StageFailed {
			out = append(out, it)
		}
	}
	return out
}

// Reminders lists the manual follow-ups: every minted DOI must be added to
// its landing page, and ORCID iDs of multi-creator records must be paired
// with their authors by hand.
func (r *Report) Reminders() []string {
	var out []string
	for _, it := range r.Items {
		if it.Identifier == "" {
			continue
		}
		line := fmt.Sprintf("Add %s to %s", it.Identifier, it.LandingURL)
		if len(it.ORCIDs) > 0 {
			line += " and add the following ORCID iD(s) to their corresponding author(s): " +
				strings.Join(it.ORCIDs, ", ")
		}
		out = append(out, line)
	}
	return out
}

// Marshal encodes the report as json or yaml
func (r *Report) Marshal(format string) ([]byte, error) {
	switch format {
	case "", "json":
		return json.MarshalIndent(r, "", "  ")
	case "yaml", "yml":
		return yaml.Marshal(r)
	default:
		return nil, errors.NewConfigError("unsupported report format %q (use json or yaml)", format)
	}
}

// Write stores the report and the reminder list under dir/<run id>/ and
// returns the directory used.
func (r *Report) Write(dir, format string) (string, error) {
	data, err := r.Marshal(format)
	if err != nil {
		return "", err
	}
	switch format {
	case "":
		format = "json"
	case "yml":
		format = "yaml"
	}

	runDir := filepath.Join(dir, r.RunID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", errors.Wrap(err, "failed to create run directory")
	}

	reportPath := filepath.Join(runDir, ReportFileName+"."+format)
	if err := os.WriteFile(reportPath, data, 0644); err != nil {
		return "", errors.Wrapf(err, "failed to write %s", reportPath)
	}

	reminders := r.Reminders()
	body := strings.Join(reminders, "\n")
	if len(reminders) > 0 {
		body += "\n"
	}
	remindersPath := filepath.Join(runDir, RemindersFileName)
	if err := os.WriteFile(remindersPath, []byte(body), 0644); err != nil {
		return "", errors.Wrapf(err, "failed to write %s", remindersPath)
	}
	return runDir, nil
}

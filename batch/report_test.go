package batch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/teranos/mintdoi/errors"
)

func sampleReport() *Report {
	run := &Run{ID: "run-7", Status: RunStatusCompleted}
	return BuildReport(run, []*Item{
		{ID: "single", Stage: StageDone, Identifier: "10.80000/a1", LandingURL: "https://repo.example.edu/handle/1/1"},
		{ID: "multi", Stage: StageDone, Identifier: "10.80000/a2", LandingURL: "https://repo.example.edu/handle/1/2",
			ORCIDs: []string{"0000-0002-1825-0097", "0000-0001-5109-3700"}},
		{ID: "skipped", Stage: StageSkipped, LastError: &ItemError{Kind: "ConflictError", Message: "record already has DOI 10.1/x"}},
		{ID: "failed", Stage: StageFailed, FailedStage: StageFetching, LastError: &ItemError{Kind: "NotFound", Message: "404"}},
		{ID: "patch-failed", Stage: StageFailed, FailedStage: StagePatching, Identifier: "10.80000/a3", LandingURL: "https://repo.example.edu/handle/1/3"},
		{ID: "left", Stage: StageMinting},
	})
}

func TestBuildReportCounts(t *testing.T) {
	r := sampleReport()

	assert.Equal(t, Counts{Done: 2, Skipped: 1, Failed: 2, Unfinished: 1, Total: 6}, r.Counts)
	failed := r.Failed()
	require.Len(t, failed, 2)
	assert.Equal(t, StageFetching, failed[0].FailedStage)
	assert.Equal(t, "NotFound", failed[0].Error.Kind)
}

func TestReminders(t *testing.T) {
	reminders := sampleReport().Reminders()

	require.Len(t, reminders, 3)
	assert.Equal(t, "Add 10.80000/a1 to https://repo.example.edu/handle/1/1", reminders[0])
	assert.Equal(t, "Add 10.80000/a2 to https://repo.example.edu/handle/1/2 and add the following ORCID iD(s) "+
		"to their corresponding author(s): 0000-0002-1825-0097, 0000-0001-5109-3700", reminders[1])
	assert.Contains(t, reminders[2], "10.80000/a3")
}

func TestReportWrite(t *testing.T) {
	dir := t.TempDir()
	r := sampleReport()

	runDir, err := r.Write(dir, "json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run-7"), runDir)

	data, err := os.ReadFile(filepath.Join(runDir, "report.json"))
	require.NoError(t, err)
	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, r.Counts, decoded.Counts)
	assert.Equal(t, "10.80000/a1", decoded.Items[0].Identifier)

	reminders, err := os.ReadFile(filepath.Join(runDir, RemindersFileName))
	require.NoError(t, err)
	assert.Contains(t, string(reminders), "Add 10.80000/a1 to")
}

func TestReportWriteYAML(t *testing.T) {
	dir := t.TempDir()

	runDir, err := sampleReport().Write(dir, "yml")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(runDir, "report.yaml"))
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, "run-7", decoded["run_id"])
}

func TestReportUnknownFormat(t *testing.T) {
	_, err := sampleReport().Write(t.TempDir(), "xml")
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}

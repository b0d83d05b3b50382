package batch

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/teranos/mintdoi/errors"
)

// Store persists runs and their items
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a store over a migrated database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// CreateRun inserts run and one Pending item per distinct id, in input order.
// The item set is fixed from here on.
func (s *Store) CreateRun(ctx context.Context, run *Run, ids []string) (int, error) {
	ids = Dedupe(ids)
	if len(ids) == 0 {
		return 0, errors.Mark(errors.Newf("run %s has no items", run.ID), errors.ErrNoInput)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin run transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batch_runs (id, source, concurrency, rps, retry_count, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.Concurrency, run.RPS, run.RetryCount, run.Status, run.CreatedAt)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to create run %s", run.ID)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO batch_items (run_id, id, position, stage, attempt, version, updated_at)
		VALUES (?, ?, ?, ?, 0, 0, ?)`)
	if err != nil {
		return 0, errors.Wrap(err, "failed to prepare item insert")
	}
	defer stmt.Close()

	for i, id := range ids {
		if _, err := stmt.ExecContext(ctx, run.ID, id, i, StagePending, run.CreatedAt); err != nil {
			return 0, errors.Wrapf(err, "failed to seed item %s", id)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit run")
	}
	return len(ids), nil
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + StandardRunSelectColumns() + ` FROM batch_runs WHERE id = ?`
	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Mark(errors.Newf("run not found: %s", id), errors.ErrNotFound)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get run")
	}
	return run, nil
}

// ListRuns returns the most recent runs first
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT ` + StandardRunSelectColumns() + ` FROM batch_runs ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan run")
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// FinishRun records how a run ended
func (s *Store) FinishRun(ctx context.Context, id string, status RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batch_runs SET status = ?, finished_at = ? WHERE id = ?`,
		status, s.now(), id)
	if err != nil {
		return errors.Wrapf(err, "failed to finish run %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Mark(errors.Newf("run not found: %s", id), errors.ErrNotFound)
	}
	return nil
}

// ReopenRun marks a previously finished run as running again for resume
func (s *Store) ReopenRun(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE batch_runs SET status = ?, finished_at = NULL WHERE id = ?`, RunStatusRunning, id)
	return errors.Wrapf(err, "failed to reopen run %s", id)
}

// GetItem retrieves one item of a run
func (s *Store) GetItem(ctx context.Context, runID, id string) (*Item, error) {
	query := `SELECT ` + StandardItemSelectColumns() + ` FROM batch_items WHERE run_id = ? AND id = ?`
	item, err := scanItem(s.db.QueryRowContext(ctx, query, runID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Mark(errors.Newf("item not found: %s/%s", runID, id), errors.ErrNotFound)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get item")
	}
	return item, nil
}

// ListItems returns every item of a run in input order
func (s *Store) ListItems(ctx context.Context, runID string) ([]*Item, error) {
	return s.queryItems(ctx, `WHERE run_id = ? ORDER BY position`, runID)
}

// ListNonTerminal returns the items of a run that still have work to do
func (s *Store) ListNonTerminal(ctx context.Context, runID string) ([]*Item, error) {
	return s.queryItems(ctx, `WHERE run_id = ? AND stage NOT IN (?, ?, ?) ORDER BY position`,
		runID, StageDone, StageSkipped, StageFailed)
}

func (s *Store) queryItems(ctx context.Context, where string, args ...interface{}) ([]*Item, error) {
	query := `SELECT ` + StandardItemSelectColumns() + ` FROM batch_items ` + where
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list items")
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan item")
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate items")
	}
	return items, nil
}

// CountByStage returns the number of items of a run in each stage
func (s *Store) CountByStage(ctx context.Context, runID string) (map[Stage]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, COUNT(*) FROM batch_items WHERE run_id = ? GROUP BY stage`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count items")
	}
	defer rows.Close()

	counts := make(map[Stage]int)
	for rows.Next() {
		var stage Stage
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan stage count")
		}
		counts[stage] = n
	}
	return counts, rows.Err()
}

// Commit writes next over the stored row at next.Version. The update is a
// single statement, so a Minted stage and its identifier land together or not
// at all. A row changed since it was read returns ErrStaleCommit. On success
// next.Version and next.UpdatedAt reflect the stored row.
func (s *Store) Commit(ctx context.Context, next *Item) error {
	if next.Stage.AtOrPast(StageMinted) && !next.Minted() {
		return errors.AssertionFailedf("item %s reached %s without an identifier", next.ID, next.Stage)
	}

	var orcids sql.NullString
	if len(next.ORCIDs) > 0 {
		data, err := json.Marshal(next.ORCIDs)
		if err != nil {
			return errors.Wrap(err, "failed to marshal orcids")
		}
		orcids = sql.NullString{String: string(data), Valid: true}
	}

	var kind, message sql.NullString
	if next.LastError != nil {
		kind = sql.NullString{String: next.LastError.Kind, Valid: true}
		message = sql.NullString{String: next.LastError.Message, Valid: true}
	}

	updatedAt := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE batch_items SET
			stage = ?, failed_stage = ?, attempt = ?,
			raw_metadata = ?, payload = ?, identifier = ?, landing_url = ?, orcids = ?,
			last_error_kind = ?, last_error_message = ?,
			version = version + 1, updated_at = ?
		WHERE run_id = ? AND id = ? AND version = ?`,
		next.Stage, nullString(string(next.FailedStage)), next.Attempt,
		nullBytes(next.RawMetadata), nullBytes(next.Payload), nullString(next.Identifier),
		nullString(next.LandingURL), orcids,
		kind, message,
		updatedAt,
		next.RunID, next.ID, next.Version)
	if err != nil {
		err = errors.Wrapf(err, "failed to commit item %s", next.ID)
		return errors.WithDetail(err, fmt.Sprintf("Stage: %s, version: %d", next.Stage, next.Version))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read commit result")
	}
	if n == 0 {
		return errors.Mark(
			errors.Newf("item %s changed since version %d", next.ID, next.Version),
			errors.ErrStaleCommit)
	}

	next.Version++
	next.UpdatedAt = updatedAt
	return nil
}

// Dedupe trims ids and drops blanks and repeats, keeping first occurrences in order
func Dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

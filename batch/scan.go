package batch

import (
	"database/sql"
	"encoding/json"

	"github.com/teranos/mintdoi/errors"
)

// ItemScanArgs holds the nullable columns of a batch_items row while scanning
type ItemScanArgs struct {
	FailedStage      sql.NullString
	RawMetadata      sql.NullString
	Payload          sql.NullString
	Identifier       sql.NullString
	LandingURL       sql.NullString
	ORCIDs           sql.NullString
	LastErrorKind    sql.NullString
	LastErrorMessage sql.NullString
}

// GetItemScanArgs returns an ItemScanArgs ready for scanning
func GetItemScanArgs() *ItemScanArgs {
	return &ItemScanArgs{}
}

// GetItemScanTargets returns scan destinations in StandardItemSelectColumns order
func GetItemScanTargets(item *Item, args *ItemScanArgs) []interface{} {
	return []interface{}{
		&item.RunID,
		&item.ID,
		&item.Position,
		&item.Stage,
		&args.FailedStage,
		&item.Attempt,
		&args.RawMetadata,
		&args.Payload,
		&args.Identifier,
		&args.LandingURL,
		&args.ORCIDs,
		&args.LastErrorKind,
		&args.LastErrorMessage,
		&item.Version,
		&item.UpdatedAt,
	}
}

// ProcessItemScanArgs copies scanned nullable columns into item
func ProcessItemScanArgs(item *Item, args *ItemScanArgs) error {
	if args.FailedStage.Valid {
		item.FailedStage = Stage(args.FailedStage.String)
	}
	if args.RawMetadata.Valid {
		item.RawMetadata = []byte(args.RawMetadata.String)
	}
	if args.Payload.Valid {
		item.Payload = []byte(args.Payload.String)
	}
	if args.Identifier.Valid {
		item.Identifier = args.Identifier.String
	}
	if args.LandingURL.Valid {
		item.LandingURL = args.LandingURL.String
	}
	if args.ORCIDs.Valid && args.ORCIDs.String != "" {
		if err := json.Unmarshal([]byte(args.ORCIDs.String), &item.ORCIDs); err != nil {
			return errors.Wrapf(err, "failed to unmarshal orcids for item %s", item.ID)
		}
	}
	if args.LastErrorKind.Valid || args.LastErrorMessage.Valid {
		item.LastError = &ItemError{
			Kind:    args.LastErrorKind.String,
			Message: args.LastErrorMessage.String,
		}
	}
	if !item.Stage.Valid() {
		return errors.Newf("item %s has unknown stage %q", item.ID, item.Stage)
	}
	return nil
}

// scanItem scans a single item from anything with a Scan method
func scanItem(row interface{ Scan(...interface{}) error }) (*Item, error) {
	var item Item
	args := GetItemScanArgs()
	if err := row.Scan(GetItemScanTargets(&item, args)...); err != nil {
		return nil, err
	}
	if err := ProcessItemScanArgs(&item, args); err != nil {
		return nil, err
	}
	return &item, nil
}

// StandardItemSelectColumns returns the column list for item SELECT queries
func StandardItemSelectColumns() string {
	return `run_id, id, position, stage, failed_stage, attempt,
		raw_metadata, payload, identifier, landing_url, orcids,
		last_error_kind, last_error_message, version, updated_at`
}

// StandardRunSelectColumns returns the column list for run SELECT queries
func StandardRunSelectColumns() string {
	return `id, source, concurrency, rps, retry_count, status, created_at, finished_at`
}

func scanRun(row interface{ Scan(...interface{}) error }) (*Run, error) {
	var run Run
	var finished sql.NullTime
	if err := row.Scan(&run.ID, &run.Source, &run.Concurrency, &run.RPS,
		&run.RetryCount, &run.Status, &run.CreatedAt, &finished); err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) sql.NullString {
	return sql.NullString{String: string(b), Valid: len(b) > 0}
}

// Package batch drives every record of a run through fetch, transform, mint
// and patch under bounded concurrency, committing each stage to sqlite so an
// interrupted run can resume without minting twice.
package batch

import (
	"time"

	"github.com/teranos/mintdoi/errors"
)

// Stage is an item's position in the pipeline
type Stage string

const (
	StagePending      Stage = "pending"
	StageFetching     Stage = "fetching"
	StageFetched      Stage = "fetched"
	StageTransforming Stage = "transforming"
	StageTransformed  Stage = "transformed"
	StageMinting      Stage = "minting"
	StageMinted       Stage = "minted"
	StagePatching     Stage = "patching"
	StageDone         Stage = "done"
	StageSkipped      Stage = "skipped"
	StageFailed       Stage = "failed"
)

// order ranks pipeline stages; terminal side states have no rank
var order = map[Stage]int{
	StagePending:      0,
	StageFetching:     1,
	StageFetched:      2,
	StageTransforming: 3,
	StageTransformed:  4,
	StageMinting:      5,
	StageMinted:       6,
	StagePatching:     7,
	StageDone:         8,
}

// transitions lists every allowed forward move. Failed is reachable from any
// in-flight stage and is handled separately.
var transitions = map[Stage][]Stage{
	StagePending:      {StageFetching},
	StageFetching:     {StageFetched},
	StageFetched:      {StageTransforming, StageSkipped},
	StageTransforming: {StageTransformed},
	StageTransformed:  {StageMinting},
	StageMinting:      {StageMinted},
	StageMinted:       {StagePatching},
	StagePatching:     {StageDone, StageSkipped},
}

// IsTerminal reports whether no further work is scheduled for the stage
func (s Stage) IsTerminal() bool {
	return s == StageDone || s == StageSkipped || s == StageFailed
}

// InFlight reports whether the stage is one whose action talks to a collaborator
func (s Stage) InFlight() bool {
	switch s {
	case StageFetching, StageTransforming, StageMinting, StagePatching:
		return true
	}
	return false
}

// Valid reports whether s is a known stage
func (s Stage) Valid() bool {
	_, ranked := order[s]
	return ranked || s == StageSkipped || s == StageFailed
}

// AtOrPast reports whether s is at or beyond other in pipeline order.
// Side states are never at or past a pipeline stage.
func (s Stage) AtOrPast(other Stage) bool {
	a, okA := order[s]
	b, okB := order[other]
	return okA && okB && a >= b
}

// CanTransition reports whether the state machine allows from -> to
func CanTransition(from, to Stage) bool {
	if to == StageFailed {
		return from.InFlight()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllStages returns every stage in pipeline order followed by the side states
func AllStages() []Stage {
	return []Stage{
		StagePending, StageFetching, StageFetched, StageTransforming, StageTransformed,
		StageMinting, StageMinted, StagePatching, StageDone, StageSkipped, StageFailed,
	}
}

// ItemError is the last failure recorded against an item
type ItemError struct {
	Kind    string `json:"kind" yaml:"kind"`
	Message string `json:"message" yaml:"message"`
}

func newItemError(err error) *ItemError {
	if err == nil {
		return nil
	}
	return &ItemError{Kind: errors.KindOf(err), Message: err.Error()}
}

// Item is one record under processing
type Item struct {
	RunID    string
	ID       string
	Position int
	Stage    Stage
	// FailedStage is the in-flight stage an item was in when it failed
	FailedStage Stage
	// Attempt counts failed attempts of the current stage; reset on transition.
	// On a Failed item it is the number of attempts made at FailedStage,
	// the last one included: 1 for a non-retryable error.
	Attempt int

	RawMetadata []byte
	Payload     []byte
	Identifier  string
	LandingURL  string
	// ORCIDs found on a multi-creator record, left for manual association
	ORCIDs []string

	LastError *ItemError
	Version   int64
	UpdatedAt time.Time
}

// Clone returns a deep copy; commits work on a copy so a failed write leaves
// the caller's view untouched.
func (it *Item) Clone() *Item {
	c := *it
	c.RawMetadata = append([]byte(nil), it.RawMetadata...)
	c.Payload = append([]byte(nil), it.Payload...)
	c.ORCIDs = append([]string(nil), it.ORCIDs...)
	if it.LastError != nil {
		e := *it.LastError
		c.LastError = &e
	}
	return &c
}

// Advance returns a copy moved to stage to, with attempts reset and the last error cleared
func (it *Item) Advance(to Stage) (*Item, error) {
	if !CanTransition(it.Stage, to) {
		return nil, errors.Mark(
			errors.Newf("item %s cannot move from %s to %s", it.ID, it.Stage, to),
			errors.ErrIllegalTransition)
	}
	next := it.Clone()
	next.Stage = to
	next.Attempt = 0
	next.LastError = nil
	return next, nil
}

// Fail returns a copy in Failed, recording the stage it failed at and why.
// The failing attempt is counted, so Attempt ends as the attempts made.
func (it *Item) Fail(cause error) (*Item, error) {
	next, err := it.Advance(StageFailed)
	if err != nil {
		return nil, err
	}
	next.FailedStage = it.Stage
	next.Attempt = it.Attempt + 1
	next.LastError = newItemError(cause)
	return next, nil
}

// Retry returns a copy that stays in its stage with one more failed attempt
func (it *Item) Retry(cause error) (*Item, error) {
	if !it.Stage.InFlight() {
		return nil, errors.Mark(
			errors.Newf("item %s cannot retry outside an in-flight stage (%s)", it.ID, it.Stage),
			errors.ErrIllegalTransition)
	}
	next := it.Clone()
	next.Attempt++
	next.LastError = newItemError(cause)
	return next, nil
}

// Minted reports whether an identifier has been committed for the item
func (it *Item) Minted() bool {
	return it.Identifier != ""
}

// Run is one invocation over a fixed set of items
type Run struct {
	ID          string
	Source      string
	Concurrency int
	RPS         float64
	RetryCount  int
	Status      RunStatus
	CreatedAt   time.Time
	FinishedAt  *time.Time
}

// RunStatus is the lifecycle of a run row
type RunStatus string

const (
	RunStatusRunning     RunStatus = "running"
	RunStatusCompleted   RunStatus = "completed"
	RunStatusInterrupted RunStatus = "interrupted"
)

package batch

import (
	"context"
	"time"

	"github.com/teranos/mintdoi/errors"
	"github.com/teranos/mintdoi/ratelimit"
	"github.com/teranos/mintdoi/transform"
)

// RepositoryClient is the source repository holding the records
type RepositoryClient interface {
	GetRecord(ctx context.Context, id string) (transform.Metadata, error)
	// Authenticate returns a session token for write calls
	Authenticate(ctx context.Context) (string, error)
	PatchIdentifier(ctx context.Context, id, doi, token string) error
}

// Registrar issues draft identifiers
type Registrar interface {
	Mint(ctx context.Context, payload transform.Payload) (doi, url string, err error)
}

// Prober checks that a service is reachable and accepts our credentials
type Prober interface {
	Probe(ctx context.Context) error
}

// Observer is told about stage outcomes; the metrics package implements it
type Observer interface {
	StageFinished(stage Stage, outcome string, elapsed time.Duration)
	RegistrarCall(outcome string)
	Retried(stage Stage, kind string)
	ItemFinished(stage Stage)
}

type nopObserver struct{}

func (nopObserver) StageFinished(Stage, string, time.Duration) {}
func (nopObserver) RegistrarCall(string)                       {}
func (nopObserver) Retried(Stage, string)                      {}
func (nopObserver) ItemFinished(Stage)                         {}

// Stage outcomes reported to an Observer
const (
	OutcomeOK      = "ok"
	OutcomeRetry   = "retry"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
	OutcomeAborted = "aborted"
)

// Stages runs the action behind each in-flight stage
type Stages struct {
	Repository  RepositoryClient
	Registrar   Registrar
	Transformer *transform.Transformer
	// Limiter gates registrar calls only; the repository is unthrottled
	Limiter  *ratelimit.Limiter
	Observer Observer
}

func (s *Stages) observer() Observer {
	if s.Observer == nil {
		return nopObserver{}
	}
	return s.Observer
}

// Begin moves an item resting between stages into its next in-flight stage.
// A fetched record that already carries a DOI is moved to Skipped instead.
// In-flight items (resumed or retried) are returned unchanged.
func (s *Stages) Begin(item *Item) (*Item, error) {
	switch item.Stage {
	case StagePending:
		return item.Advance(StageFetching)
	case StageFetched:
		if m, err := transform.DecodeMetadata(item.RawMetadata); err == nil {
			if doi := m.ExistingIdentifier(); doi != "" {
				next, err := item.Advance(StageSkipped)
				if err != nil {
					return nil, err
				}
				next.LastError = &ItemError{
					Kind:    errors.KindOf(errors.ErrConflict),
					Message: "record already has DOI " + doi,
				}
				return next, nil
			}
		}
		return item.Advance(StageTransforming)
	case StageTransformed:
		return item.Advance(StageMinting)
	case StageMinted:
		return item.Advance(StagePatching)
	default:
		return item, nil
	}
}

// Execute performs the action of item's in-flight stage and returns the item
// advanced to the resting stage that follows, carrying any data produced.
func (s *Stages) Execute(ctx context.Context, item *Item) (*Item, error) {
	switch item.Stage {
	case StageFetching:
		return s.fetch(ctx, item)
	case StageTransforming:
		return s.transform(item)
	case StageMinting:
		return s.mint(ctx, item)
	case StagePatching:
		return s.patch(ctx, item)
	default:
		return nil, errors.Mark(
			errors.Newf("item %s has no action in stage %s", item.ID, item.Stage),
			errors.ErrIllegalTransition)
	}
}

func (s *Stages) fetch(ctx context.Context, item *Item) (*Item, error) {
	m, err := s.Repository.GetRecord(ctx, item.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %s", item.ID)
	}
	raw, err := m.Encode()
	if err != nil {
		return nil, err
	}
	next, err := item.Advance(StageFetched)
	if err != nil {
		return nil, err
	}
	next.RawMetadata = raw
	return next, nil
}

func (s *Stages) transform(item *Item) (*Item, error) {
	m, err := transform.DecodeMetadata(item.RawMetadata)
	if err != nil {
		return nil, err
	}
	res, err := s.Transformer.Transform(m)
	if err != nil {
		return nil, errors.Wrapf(err, "transform %s", item.ID)
	}
	payload, err := res.Payload.Encode()
	if err != nil {
		return nil, err
	}
	next, err := item.Advance(StageTransformed)
	if err != nil {
		return nil, err
	}
	next.Payload = payload
	next.LandingURL = res.Payload.Data.Attributes.URL
	next.ORCIDs = res.UnassociatedORCIDs
	return next, nil
}

// mint registers a draft DOI. An item that already holds an identifier is
// advanced without calling the registrar.
func (s *Stages) mint(ctx context.Context, item *Item) (*Item, error) {
	if item.Minted() {
		return item.Advance(StageMinted)
	}

	payload, err := transform.DecodePayload(item.Payload)
	if err != nil {
		return nil, err
	}

	if s.Limiter != nil {
		if err := s.Limiter.Acquire(ctx); err != nil {
			return nil, err
		}
	}

	doi, url, err := s.Registrar.Mint(ctx, payload)
	if err != nil {
		s.observer().RegistrarCall(errors.KindOf(err))
		return nil, errors.Wrapf(err, "mint %s", item.ID)
	}
	s.observer().RegistrarCall(OutcomeOK)
	if doi == "" {
		return nil, errors.Mark(errors.Newf("registrar returned no DOI for %s", item.ID), errors.ErrSchema)
	}

	next, err := item.Advance(StageMinted)
	if err != nil {
		return nil, err
	}
	next.Identifier = doi
	if url != "" {
		next.LandingURL = url
	}
	return next, nil
}

func (s *Stages) patch(ctx context.Context, item *Item) (*Item, error) {
	if !item.Minted() {
		return nil, errors.AssertionFailedf("item %s is patching without an identifier", item.ID)
	}
	token, err := s.Repository.Authenticate(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "authenticate for patch")
	}
	if err := s.Repository.PatchIdentifier(ctx, item.ID, item.Identifier, token); err != nil {
		return nil, errors.Wrapf(err, "patch %s", item.ID)
	}
	return item.Advance(StageDone)
}

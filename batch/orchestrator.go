package batch

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/mintdoi/errors"
	"github.com/teranos/mintdoi/logger"
	"github.com/teranos/mintdoi/ratelimit"
	"github.com/teranos/mintdoi/retry"
	"github.com/teranos/mintdoi/transform"
)

// Config holds the per-run limits
type Config struct {
	Source         string
	Concurrency    int
	RPS            float64
	RetryCount     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Timeout cancels the run when positive
	Timeout time.Duration
	// OnCommit, when set, receives a copy of every committed item from a
	// single goroutine. Updates are dropped while it falls behind.
	OnCommit func(*Item)
}

func (c Config) policy(retryCount int) retry.Policy {
	p := retry.DefaultPolicy(retryCount)
	if c.InitialBackoff > 0 {
		p.InitialInterval = c.InitialBackoff
	}
	if c.MaxBackoff > 0 {
		p.MaxInterval = c.MaxBackoff
	}
	return p
}

// Orchestrator owns runs: it seeds or resumes item state, drives the worker
// pool to completion or cancellation and assembles the outcome report.
type Orchestrator struct {
	store  *Store
	stages Stages
	cfg    Config
	logger *zap.SugaredLogger
	newID  func() string
}

// NewOrchestrator creates an orchestrator. stages.Limiter may be nil, in
// which case each run gets a limiter at its own configured rate.
func NewOrchestrator(store *Store, stages Stages, cfg Config, log *zap.SugaredLogger) *Orchestrator {
	if log == nil {
		log = logger.Logger
	}
	return &Orchestrator{
		store:  store,
		stages: stages,
		cfg:    cfg,
		logger: log.Named("batch"),
		newID:  func() string { return uuid.NewString() },
	}
}

// Run starts a fresh run over ids. Blank and repeated ids are dropped.
func (o *Orchestrator) Run(ctx context.Context, ids []string) (*Report, error) {
	ids = Dedupe(ids)
	if len(ids) == 0 {
		return nil, errors.Mark(errors.New("no record identifiers to process"), errors.ErrNoInput)
	}
	if err := o.preflight(ctx); err != nil {
		return nil, err
	}

	run := &Run{
		ID:          o.newID(),
		Source:      o.cfg.Source,
		Concurrency: o.cfg.Concurrency,
		RPS:         o.cfg.RPS,
		RetryCount:  o.cfg.RetryCount,
	}
	n, err := o.store.CreateRun(ctx, run, ids)
	if err != nil {
		return nil, err
	}
	o.logger.Infow("Run created", logger.FieldRunID, run.ID, logger.FieldCount, n)

	return o.execute(ctx, run)
}

// Resume continues an interrupted run. Membership and limits come from the
// stored run; items that already hold an identifier are never minted again.
func (o *Orchestrator) Resume(ctx context.Context, runID string) (*Report, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := o.preflight(ctx); err != nil {
		return nil, err
	}
	if err := o.store.ReopenRun(ctx, run.ID); err != nil {
		return nil, err
	}
	o.logger.Infow("Resuming run", logger.FieldRunID, run.ID)

	return o.execute(ctx, run)
}

// preflight fails the run before scheduling when a service rejects us outright
func (o *Orchestrator) preflight(ctx context.Context) error {
	if _, err := o.stages.Repository.Authenticate(ctx); err != nil {
		return errors.Wrap(err, "repository login failed")
	}
	if p, ok := o.stages.Registrar.(Prober); ok {
		if err := p.Probe(ctx); err != nil {
			return errors.Wrap(err, "registrar unreachable")
		}
	}
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, run *Run) (*Report, error) {
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}
	ctx = logger.WithRunID(ctx, run.ID)

	items, err := o.store.ListNonTerminal(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	stages := o.stages
	if stages.Limiter == nil {
		limiter, err := ratelimit.New(run.RPS)
		if err != nil {
			return nil, err
		}
		stages.Limiter = limiter
	}

	queue := NewQueue(o.store, len(items))
	if o.cfg.OnCommit != nil {
		stop := o.forwardCommits(queue)
		defer stop()
	}
	pool := NewWorkerPool(ctx, queue, &stages, o.cfg.policy(run.RetryCount),
		PoolConfig{Workers: run.Concurrency}, o.logger.With(logger.FieldRunID, run.ID))

	pending := pool.Submit(items)
	start := time.Now()
	pool.Start()
	waitErr := pool.Wait(ctx)
	pool.Stop()

	// The run row is written even when ctx is done
	finishCtx := context.WithoutCancel(ctx)
	all, err := o.store.ListItems(finishCtx, run.ID)
	if err != nil {
		return nil, err
	}

	runErr := waitErr
	if runErr == nil {
		if n := countUnfinished(all); n > 0 {
			runErr = errors.Newf("%d item(s) left unfinished", n)
		}
	}

	status := RunStatusCompleted
	if runErr != nil {
		status = RunStatusInterrupted
	}
	if err := o.store.FinishRun(finishCtx, run.ID, status); err != nil {
		return nil, err
	}
	run.Status = status

	report := BuildReport(run, all)
	report.Abandoned = pool.Abandoned()
	report.RegistrarCalls = stages.Limiter.Stats().Acquired
	report.Elapsed = time.Since(start)

	o.logger.Infow("Run finished",
		logger.FieldStatus, status,
		logger.FieldCount, pending,
		"done", report.Counts.Done,
		"skipped", report.Counts.Skipped,
		"failed", report.Counts.Failed,
		"unfinished", report.Counts.Unfinished,
		logger.FieldDurationMS, report.Elapsed.Milliseconds())

	if runErr != nil {
		err := errors.Wrapf(runErr, "run %s interrupted", run.ID)
		return report, errors.WithHintf(err, "resume with: mintdoi run --resume %s", run.ID)
	}
	return report, nil
}

func countUnfinished(items []*Item) int {
	n := 0
	for _, it := range items {
		if !it.Stage.IsTerminal() {
			n++
		}
	}
	return n
}

// forwardCommits feeds queue updates to OnCommit until the returned stop is called
func (o *Orchestrator) forwardCommits(queue *Queue) func() {
	updates := queue.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for item := range updates {
			o.cfg.OnCommit(item)
		}
	}()
	return func() {
		queue.Unsubscribe(updates)
		close(updates)
		<-done
	}
}

// ProbeResult is the outcome of one service probe
type ProbeResult struct {
	Service string `json:"service" yaml:"service"`
	Err     error  `json:"-" yaml:"-"`
}

// CheckItem is the dry-run outcome for one record
type CheckItem struct {
	ID string `json:"id" yaml:"id"`
	// ExistingDOI is set when the record would be skipped
	ExistingDOI string   `json:"existing_doi,omitempty" yaml:"existing_doi,omitempty"`
	Title       string   `json:"title,omitempty" yaml:"title,omitempty"`
	ORCIDs      []string `json:"orcids,omitempty" yaml:"orcids,omitempty"`
	Err         error    `json:"-" yaml:"-"`
}

// CheckReport is the result of a dry run
type CheckReport struct {
	Probes []ProbeResult
	Items  []CheckItem
}

// OK reports whether every probe and every record passed
func (r *CheckReport) OK() bool {
	for _, p := range r.Probes {
		if p.Err != nil {
			return false
		}
	}
	for _, item := range r.Items {
		if item.Err != nil {
			return false
		}
	}
	return true
}

// Check fetches and transforms every record without persisting anything and
// probes both services. Nothing is minted or patched.
func (o *Orchestrator) Check(ctx context.Context, ids []string, probes map[string]Prober) (*CheckReport, error) {
	ids = Dedupe(ids)
	if len(ids) == 0 {
		return nil, errors.Mark(errors.New("no record identifiers to check"), errors.ErrNoInput)
	}

	report := &CheckReport{Items: make([]CheckItem, len(ids))}
	names := make([]string, 0, len(probes))
	for name := range probes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		report.Probes = append(report.Probes, ProbeResult{Service: name})
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range report.Probes {
		p := &report.Probes[i]
		prober := probes[p.Service]
		g.Go(func() error {
			p.Err = prober.Probe(gctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(max(1, o.cfg.Concurrency))
	for i, id := range ids {
		g.Go(func() error {
			report.Items[i] = o.checkItem(gctx, id)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}

func (o *Orchestrator) checkItem(ctx context.Context, id string) CheckItem {
	result := CheckItem{ID: id}

	m, err := o.stages.Repository.GetRecord(logger.WithItemID(ctx, id), id)
	if err != nil {
		result.Err = err
		return result
	}
	result.Title = m.First(transform.FieldTitle)
	if doi := m.ExistingIdentifier(); doi != "" {
		result.ExistingDOI = doi
		return result
	}

	res, err := o.stages.Transformer.Transform(m)
	if err != nil {
		result.Err = err
		return result
	}
	result.ORCIDs = res.UnassociatedORCIDs
	return result
}

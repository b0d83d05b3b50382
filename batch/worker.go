package batch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/mintdoi/db"
	"github.com/teranos/mintdoi/errors"
	"github.com/teranos/mintdoi/logger"
	"github.com/teranos/mintdoi/retry"
)

// poolLogger wraps zap.SugaredLogger with lifecycle methods for the pool.
// Uses different log levels for visual distinction:
// - DEBUG level → STARTING (✿ opening operations)
// - WARN level → CLOSING (❀ closing operations)
// - INFO level → per-item stage transitions
type poolLogger struct {
	*zap.SugaredLogger
}

// Starting logs an opening (✿) event
func (l poolLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw("✿ "+msg, keysAndValues...)
}

// Closing logs a closing (❀) event
func (l poolLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw("❀ "+msg, keysAndValues...)
}

func (l poolLogger) with(keysAndValues ...interface{}) poolLogger {
	return poolLogger{l.SugaredLogger.With(keysAndValues...)}
}

// PoolConfig contains configuration for the worker pool
type PoolConfig struct {
	Workers int `json:"workers"`
	// StopTimeout bounds how long Stop waits for in-flight stages to commit
	StopTimeout time.Duration `json:"stop_timeout"`
}

// DefaultPoolConfig returns the configuration used when nothing is set
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{Workers: 2, StopTimeout: 30 * time.Second}
}

// WorkerPool advances items through their stages with a fixed number of
// concurrent workers. Each dequeue runs one stage and commits its result
// before the item becomes eligible again.
type WorkerPool struct {
	queue    *Queue
	stages   *Stages
	policy   retry.Policy
	observer Observer

	workers     int
	stopTimeout time.Duration

	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup // worker goroutines and delayed retries

	remaining sync.WaitGroup // items not yet terminal or abandoned
	drained   chan struct{}
	drainOnce sync.Once

	mu        sync.Mutex
	abandoned []string
	processed int

	logger poolLogger
}

// NewWorkerPool creates a pool whose workers stop when ctx is cancelled
func NewWorkerPool(ctx context.Context, queue *Queue, stages *Stages, policy retry.Policy, cfg PoolConfig, log *zap.SugaredLogger) *WorkerPool {
	if log == nil {
		log = logger.Logger
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultPoolConfig().StopTimeout
	}

	workerCtx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		queue:       queue,
		stages:      stages,
		policy:      policy,
		observer:    stages.observer(),
		workers:     cfg.Workers,
		stopTimeout: cfg.StopTimeout,
		parentCtx:   ctx,
		ctx:         workerCtx,
		cancel:      cancel,
		drained:     make(chan struct{}),
		logger:      poolLogger{log.Named("worker")},
	}
}

// Submit queues items for processing. Terminal items are ignored. Must be
// called before Start.
func (wp *WorkerPool) Submit(items []*Item) int {
	n := 0
	for _, item := range items {
		if item.Stage.IsTerminal() {
			continue
		}
		wp.remaining.Add(1)
		wp.queue.Enqueue(item)
		n++
	}
	return n
}

// Start launches the workers
func (wp *WorkerPool) Start() {
	wp.logger.Starting("Starting worker pool", "workers", wp.workers, logger.FieldCount, wp.queue.Len())

	go func() {
		wp.remaining.Wait()
		wp.drainOnce.Do(func() { close(wp.drained) })
	}()

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Wait blocks until the pool drains or ctx is done
func (wp *WorkerPool) Wait(ctx context.Context) error {
	select {
	case <-wp.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the workers and waits for in-flight stages to finish their
// commit. Items keep their last committed stage.
func (wp *WorkerPool) Stop() {
	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Starting("Worker pool stopped", "processed", wp.Processed())
	case <-time.After(wp.stopTimeout):
		wp.logger.Closing("Worker pool stop timed out, workers may still be committing", "timeout", wp.stopTimeout)
	}
}

// Abandoned lists items that could not be committed and were dropped from the run
func (wp *WorkerPool) Abandoned() []string {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return append([]string(nil), wp.abandoned...)
}

// Processed reports how many stage dispatches completed
func (wp *WorkerPool) Processed() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.processed
}

// Workers returns the number of concurrent workers configured for this pool
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for {
		item, err := wp.queue.Dequeue(wp.ctx)
		if err != nil {
			return
		}
		wp.process(id, item)

		wp.mu.Lock()
		wp.processed++
		wp.mu.Unlock()
	}
}

// process runs one stage of item and decides where it goes next
func (wp *WorkerPool) process(workerID int, item *Item) {
	ctx := logger.WithItemID(logger.WithRunID(wp.ctx, item.RunID), item.ID)
	log := wp.logger.with(logger.FieldWorker, workerID, logger.FieldItemID, item.ID)

	current, err := wp.stages.Begin(item)
	if err != nil {
		wp.abandon(log, item, err)
		return
	}
	if current != item {
		if err := wp.commit(ctx, current); err != nil {
			wp.abandon(log, item, err)
			return
		}
		log.Infow("Stage started", logger.FieldFromStage, item.Stage, logger.FieldStage, current.Stage)
	}
	if current.Stage.IsTerminal() {
		wp.finish(log, current)
		return
	}

	start := time.Now()
	next, actErr := wp.stages.Execute(ctx, current)
	elapsed := time.Since(start)

	if actErr == nil {
		if err := wp.commit(ctx, next); err != nil {
			if next.Minted() && !current.Minted() {
				log.Errorw("Minted DOI could not be recorded", logger.FieldDOI, next.Identifier, logger.FieldError, err)
			}
			wp.abandon(log, current, err)
			return
		}
		wp.observer.StageFinished(current.Stage, OutcomeOK, elapsed)
		log.Infow("Stage complete",
			logger.FieldFromStage, current.Stage,
			logger.FieldStage, next.Stage,
			logger.FieldDurationMS, elapsed.Milliseconds())
		wp.release(log, next)
		return
	}

	wp.handleFailure(ctx, log, current, actErr, elapsed)
}

func (wp *WorkerPool) handleFailure(ctx context.Context, log poolLogger, item *Item, cause error, elapsed time.Duration) {
	attempt := item.Attempt + 1

	// Only the run's own context ends an item without a verdict
	if ctx.Err() != nil {
		wp.observer.StageFinished(item.Stage, OutcomeAborted, elapsed)
		log.Closing("Run cancelled, item left at last committed stage", logger.FieldStage, item.Stage)
		wp.remaining.Done()
		return
	}

	decision := wp.policy.Decide(cause, attempt)
	if decision.Class == retry.Aborted {
		// A context error from below while the run is live is a timeout
		cause = errors.Mark(cause, errors.ErrTransientNetwork)
		decision = wp.policy.Decide(cause, attempt)
	}

	// The record gained a DOI under us: nothing to write back
	if errors.Is(cause, errors.ErrConflict) && CanTransition(item.Stage, StageSkipped) {
		next, err := item.Advance(StageSkipped)
		if err == nil {
			next.LastError = newItemError(cause)
			err = wp.commit(ctx, next)
		}
		if err != nil {
			wp.abandon(log, item, err)
			return
		}
		wp.observer.StageFinished(item.Stage, OutcomeSkipped, elapsed)
		wp.release(log, next)
		return
	}

	if decision.Retry {
		next, err := item.Retry(cause)
		if err == nil {
			err = wp.commit(ctx, next)
		}
		if err != nil {
			wp.abandon(log, item, err)
			return
		}
		wp.observer.StageFinished(item.Stage, OutcomeRetry, elapsed)
		wp.observer.Retried(item.Stage, errors.KindOf(cause))
		log.Debugw("Retrying stage",
			logger.FieldStage, item.Stage,
			logger.FieldAttempt, attempt,
			logger.FieldMaxTries, wp.policy.MaxAttempts,
			logger.FieldBackoff, decision.Delay,
			logger.FieldError, cause)
		wp.requeueAfter(next, decision.Delay)
		return
	}

	next, err := item.Fail(cause)
	if err == nil {
		err = wp.commit(ctx, next)
	}
	if err != nil {
		wp.abandon(log, item, err)
		return
	}
	wp.observer.StageFinished(item.Stage, OutcomeFailed, elapsed)
	log.Warnw("Item failed",
		logger.FieldStage, item.Stage,
		logger.FieldAttempt, attempt,
		logger.FieldErrorKind, errors.KindOf(cause),
		logger.FieldError, cause)
	wp.release(log, next)
}

// commit stores next, retrying busy or failed writes with the stage backoff.
// A stale version, a closed database, a constraint violation or a cancelled
// run is not retried.
func (wp *WorkerPool) commit(ctx context.Context, next *Item) error {
	attempts := wp.policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		// Commits use the pool's parent context so cancellation never splits
		// an action from its record.
		err = wp.queue.Commit(context.WithoutCancel(ctx), next)
		if err == nil || !retryableCommit(err) || attempt == attempts {
			return err
		}
		select {
		case <-time.After(wp.policy.Delay(attempt)):
		case <-wp.parentCtx.Done():
			return errors.WithSecondaryError(wp.parentCtx.Err(), err)
		}
	}
	return err
}

func retryableCommit(err error) bool {
	switch {
	case errors.Is(err, errors.ErrStaleCommit):
		return false
	case db.IsDatabaseClosed(err), db.IsConstraintViolation(err):
		return false
	case db.IsBusy(err):
		return true
	}
	return true
}

// release requeues a non-terminal item or finishes a terminal one
func (wp *WorkerPool) release(log poolLogger, item *Item) {
	if item.Stage.IsTerminal() {
		wp.finish(log, item)
		return
	}
	wp.queue.Enqueue(item)
}

func (wp *WorkerPool) finish(log poolLogger, item *Item) {
	wp.observer.ItemFinished(item.Stage)
	log.Infow("Item finished", logger.FieldStage, item.Stage, logger.FieldDOI, item.Identifier)
	wp.remaining.Done()
}

// requeueAfter puts item back after delay without holding a worker
func (wp *WorkerPool) requeueAfter(item *Item, delay time.Duration) {
	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		select {
		case <-time.After(delay):
			wp.queue.Enqueue(item)
		case <-wp.ctx.Done():
			wp.remaining.Done()
		}
	}()
}

func (wp *WorkerPool) abandon(log poolLogger, item *Item, err error) {
	if wp.ctx.Err() == nil {
		log.Errorw("Item abandoned, state could not be committed",
			logger.FieldStage, item.Stage, logger.FieldError, err)
	}
	wp.mu.Lock()
	wp.abandoned = append(wp.abandoned, item.ID)
	wp.mu.Unlock()
	wp.remaining.Done()
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/topoplan/topoplan/pkg/telemetry"
)

// Executor runs a plan stage by stage. Stages execute strictly in
// order; actions within a stage run concurrently through a bounded
// worker pool. Retryable failures are retried with class-aware
// exponential backoff, and a failed action causes every later action
// that depends on its entity to be skipped.
type Executor struct {
	provisioner Provisioner
	log         *telemetry.Logger
	metrics     *telemetry.Metrics
	events      *telemetry.EventPublisher
}

// NewExecutor creates an executor backed by the given provisioner.
// Metrics and events may be nil.
func NewExecutor(
	provisioner Provisioner,
	log *telemetry.Logger,
	metrics *telemetry.Metrics,
	events *telemetry.EventPublisher,
) *Executor {
	if log == nil {
		log = telemetry.FromContext(context.Background())
	}
	return &Executor{
		provisioner: provisioner,
		log:         log,
		metrics:     metrics,
		events:      events,
	}
}

// runLedger tracks per-action outcomes during a run. All access goes
// through the mutex because workers complete concurrently.
type runLedger struct {
	mu      sync.Mutex
	results map[string]ActionResult

	// failedEntities holds entity ids whose action failed or was
	// skipped. Later actions touching these entities, including the
	// create half of a replace whose delete half failed, are skipped.
	failedEntities map[string]bool
}

func newRunLedger() *runLedger {
	return &runLedger{
		results:        make(map[string]ActionResult),
		failedEntities: make(map[string]bool),
	}
}

func (l *runLedger) store(result ActionResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results[result.ActionID] = result
	if result.Status == ActionStatusFailed || result.Status == ActionStatusSkipped {
		l.failedEntities[result.EntityID] = true
	}
}

// skipReason reports whether the action must be skipped because one of
// its dependencies, or an earlier action on the same entity, failed.
func (l *runLedger) skipReason(action Action) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failedEntities[action.EntityID] {
		return fmt.Sprintf("earlier action on %s failed", action.EntityID), true
	}
	for _, dep := range action.DependsOn {
		if l.failedEntities[dep] {
			return fmt.Sprintf("dependency %s failed", dep), true
		}
	}
	return "", false
}

func (l *runLedger) get(actionID string) (ActionResult, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.results[actionID]
	return r, ok
}

// Run executes the plan and returns a run report with one result per
// action. Cancellation is honored between stages: actions already
// running finish, everything not yet started is marked cancelled.
func (e *Executor) Run(ctx context.Context, plan *Plan, opts RunOptions) (*Run, error) {
	if plan == nil {
		return nil, NewPermanentError("plan is nil", nil).WithCode(ErrCodeValidation)
	}
	if e.provisioner == nil && !opts.DryRun {
		return nil, NewPermanentError("no provisioner configured", nil).WithCode(ErrCodeValidation)
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = DefaultRunOptions().MaxParallel
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	run := &Run{
		ID:        uuid.New().String(),
		PlanID:    plan.ID,
		Status:    RunStatusRunning,
		StartedAt: time.Now(),
	}

	log := e.log.WithRunID(run.ID)
	log.Infof("run started: plan=%s stages=%d actions=%d dry_run=%v",
		plan.ID, len(plan.Stages), plan.Summary.Total, opts.DryRun)

	e.metrics.RecordRunStarted(plan.Destroy)
	e.events.PublishRunStarted(run.ID, plan.ID)

	ledger := newRunLedger()
	cancelled := false

	for _, stage := range plan.Stages {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		log.Debugf("stage %d started with %d actions", stage.Index, len(stage.Actions))
		e.events.PublishStageStarted(run.ID, stage.Index, len(stage.Actions))
		e.metrics.RecordStageExecuted()

		e.runStage(ctx, run.ID, stage, opts, ledger)
	}

	// Everything without a result never started.
	for _, action := range plan.Actions() {
		if _, ok := ledger.get(action.ID); !ok {
			ledger.store(cancelledResult(action))
		}
	}

	run.Results = collectResults(plan, ledger)
	run.Summary = summarizeRun(run.Results)
	run.Status = finalRunStatus(run.Summary, cancelled)

	completedAt := time.Now()
	run.CompletedAt = &completedAt
	run.Duration = completedAt.Sub(run.StartedAt)

	e.metrics.RecordRunCompleted(string(run.Status), run.Duration)
	e.events.PublishRunCompleted(run.ID, string(run.Status), run.Duration)
	log.Infof("run completed: status=%s succeeded=%d failed=%d skipped=%d cancelled=%d",
		run.Status, run.Summary.Succeeded, run.Summary.Failed,
		run.Summary.Skipped, run.Summary.Cancelled)

	return run, nil
}

// runStage executes one stage through a worker pool bounded by
// opts.MaxParallel. It returns after every action in the stage has a
// terminal result.
func (e *Executor) runStage(
	ctx context.Context,
	runID string,
	stage PlanStage,
	opts RunOptions,
	ledger *runLedger,
) {
	if len(stage.Actions) == 0 {
		return
	}

	workers := opts.MaxParallel
	if len(stage.Actions) < workers {
		workers = len(stage.Actions)
	}

	queue := make(chan Action, len(stage.Actions))
	for _, action := range stage.Actions {
		queue <- action
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for action := range queue {
				if ctx.Err() != nil {
					ledger.store(cancelledResult(action))
					continue
				}
				if reason, skip := ledger.skipReason(action); skip {
					e.recordSkipped(runID, action, reason, ledger)
					continue
				}
				result := e.executeAction(ctx, runID, action, opts)
				ledger.store(result)
			}
		}()
	}
	wg.Wait()
}

// executeAction runs one action with bounded retries. Only transient,
// throttled and conflict errors are retried; each retry waits with
// exponential backoff and jitter.
func (e *Executor) executeAction(
	ctx context.Context,
	runID string,
	action Action,
	opts RunOptions,
) ActionResult {
	log := e.log.WithRunID(runID).WithActionID(action.ID).WithEntityID(action.EntityID)
	e.events.PublishActionStarted(runID, action.ID, action.EntityID, string(action.Operation))

	start := time.Now()
	result := ActionResult{
		ActionID:  action.ID,
		EntityID:  action.EntityID,
		Operation: action.Operation,
		StartedAt: start,
		LiveID:    action.LiveID,
	}

	var err error
	for attempt := 0; ; attempt++ {
		result.Attempts = attempt + 1

		var applied ActionResult
		applied, err = e.applyOnce(ctx, action, opts)
		if err == nil {
			if applied.LiveID != "" {
				result.LiveID = applied.LiveID
			}
			break
		}

		if !IsRetryable(err) || attempt >= opts.MaxRetries || ctx.Err() != nil {
			break
		}

		e.metrics.RecordActionRetry(string(action.Operation))
		e.events.PublishActionRetried(runID, action.ID, action.EntityID, attempt+1, err.Error())
		log.Warnf("retrying %s after %v (attempt %d/%d)",
			action.Operation, err, attempt+1, opts.MaxRetries+1)

		select {
		case <-time.After(backoffDelay(attempt, err)):
		case <-ctx.Done():
			err = ctx.Err()
		}
		if ctx.Err() != nil {
			break
		}
	}

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(start)

	switch {
	case err == nil:
		result.Status = ActionStatusSucceeded
		e.events.PublishActionCompleted(runID, action.ID, action.EntityID, result.Duration)
		log.Debugf("%s succeeded after %d attempt(s)", action.Operation, result.Attempts)
	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		result.Status = ActionStatusCancelled
		result.Error = NewPermanentError("run cancelled", err).
			WithCode(ErrCodeCancelled).
			WithEntity(action.EntityID).
			WithOperation(string(action.Operation))
	default:
		result.Status = ActionStatusFailed
		result.Error = classifyActionError(err, action)
		e.metrics.RecordError(string(result.Error.Class), result.Error.Code)
		e.events.PublishActionFailed(runID, action.ID, action.EntityID, err.Error())
		log.WithError(err).Errorf("%s failed after %d attempt(s)", action.Operation, result.Attempts)
	}

	e.metrics.RecordActionExecuted(
		string(action.Operation), string(result.Status), string(action.Kind), result.Duration)
	return result
}

// applyOnce performs a single attempt, enforcing the per-action
// timeout. A deadline hit counts as transient so the attempt can be
// retried; outer-context cancellation is passed through unchanged.
func (e *Executor) applyOnce(ctx context.Context, action Action, opts RunOptions) (ActionResult, error) {
	if opts.DryRun {
		return ActionResult{ActionID: action.ID, LiveID: action.LiveID}, nil
	}

	attemptCtx := ctx
	cancel := context.CancelFunc(func() {})
	if opts.ActionTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, opts.ActionTimeout)
	}
	defer cancel()

	result, err := e.provisioner.Apply(attemptCtx, action)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return result, NewTransientError("action timed out", err).
			WithCode(ErrCodeTimeout).
			WithEntity(action.EntityID).
			WithOperation(string(action.Operation))
	}
	return result, err
}

// recordSkipped marks an action skipped without running it.
func (e *Executor) recordSkipped(runID string, action Action, reason string, ledger *runLedger) {
	now := time.Now()
	ledger.store(ActionResult{
		ActionID:    action.ID,
		EntityID:    action.EntityID,
		Operation:   action.Operation,
		Status:      ActionStatusSkipped,
		StartedAt:   now,
		CompletedAt: now,
		Error: NewPermanentError(reason, nil).
			WithCode(ErrCodeDependencyFailed).
			WithEntity(action.EntityID).
			WithOperation(string(action.Operation)),
	})
	e.metrics.RecordActionExecuted(
		string(action.Operation), string(ActionStatusSkipped), string(action.Kind), 0)
	e.events.PublishActionSkipped(runID, action.ID, action.EntityID, reason)
	e.log.WithRunID(runID).WithEntityID(action.EntityID).Warnf("skipped: %s", reason)
}

// backoffDelay computes the wait before the next attempt. Throttled
// errors start from a larger base than conflicts and plain transients.
func backoffDelay(attempt int, err error) time.Duration {
	base := 1 * time.Second
	if IsThrottled(err) {
		base = 5 * time.Second
	} else if IsConflict(err) {
		base = 2 * time.Second
	}

	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if delay > time.Minute {
		delay = time.Minute
	}

	// Jitter within ±25% to avoid synchronized retries.
	factor := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(delay) * factor)
}

// classifyActionError ensures the final error is a classified
// EngineError with entity and operation context attached.
func classifyActionError(err error, action Action) *EngineError {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		if engineErr.Entity == "" {
			engineErr.Entity = action.EntityID
		}
		if engineErr.Operation == "" {
			engineErr.Operation = string(action.Operation)
		}
		return engineErr
	}
	return NewPermanentError("provisioner failed", err).
		WithCode(ErrCodeProvisionerFailed).
		WithEntity(action.EntityID).
		WithOperation(string(action.Operation))
}

func cancelledResult(action Action) ActionResult {
	now := time.Now()
	return ActionResult{
		ActionID:    action.ID,
		EntityID:    action.EntityID,
		Operation:   action.Operation,
		Status:      ActionStatusCancelled,
		StartedAt:   now,
		CompletedAt: now,
	}
}

// collectResults orders the ledger by plan position.
func collectResults(plan *Plan, ledger *runLedger) []ActionResult {
	out := make([]ActionResult, 0, plan.Summary.Total)
	for _, action := range plan.Actions() {
		if r, ok := ledger.get(action.ID); ok {
			out = append(out, r)
		}
	}
	return out
}

func summarizeRun(results []ActionResult) RunSummary {
	summary := RunSummary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case ActionStatusSucceeded:
			summary.Succeeded++
		case ActionStatusFailed:
			summary.Failed++
		case ActionStatusSkipped:
			summary.Skipped++
		case ActionStatusCancelled:
			summary.Cancelled++
		}
	}
	return summary
}

func finalRunStatus(summary RunSummary, cancelled bool) RunStatus {
	switch {
	case cancelled || summary.Cancelled > 0:
		return RunStatusCancelled
	case summary.Failed == 0 && summary.Skipped == 0:
		return RunStatusSucceeded
	case summary.Succeeded > 0:
		return RunStatusPartial
	default:
		return RunStatusFailed
	}
}

package engine

import (
	"context"
	"time"
)

// Provisioner applies a single plan action against the live environment.
// Implementations translate an Action into the underlying API calls and
// report the resulting live identifier. Errors should be classified
// EngineErrors so the executor can decide whether to retry.
type Provisioner interface {
	// Apply executes one action. The returned result carries the live id
	// assigned to created entities. Apply must honor ctx cancellation.
	Apply(ctx context.Context, action Action) (ActionResult, error)
}

// ProvisionerFunc adapts a function to the Provisioner interface.
type ProvisionerFunc func(ctx context.Context, action Action) (ActionResult, error)

// Apply implements Provisioner.
func (f ProvisionerFunc) Apply(ctx context.Context, action Action) (ActionResult, error) {
	return f(ctx, action)
}

// RunOptions controls how a plan is executed.
type RunOptions struct {
	// MaxParallel bounds the number of actions running concurrently
	// within a stage. Zero or negative selects the default.
	MaxParallel int

	// MaxRetries is the number of additional attempts after the first
	// for actions that fail with a retryable error.
	MaxRetries int

	// ActionTimeout bounds a single attempt of one action. Zero
	// disables the per-action timeout.
	ActionTimeout time.Duration

	// DryRun simulates every action as an immediate success without
	// calling the provisioner.
	DryRun bool
}

// DefaultRunOptions returns the options used when none are supplied.
func DefaultRunOptions() RunOptions {
	return RunOptions{
		MaxParallel:   10,
		MaxRetries:    2,
		ActionTimeout: 5 * time.Minute,
	}
}

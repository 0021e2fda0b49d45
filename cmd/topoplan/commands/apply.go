package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/topoplan/topoplan/pkg/engine"
)

func newApplyCommand() *cobra.Command {
	var (
		planFile    string
		maxParallel int
		maxRetries  int
		timeout     time.Duration
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Execute a plan stage by stage",
		Long: `Execute a previously built plan. Stages run sequentially; actions
within a stage run in parallel up to the concurrency limit.

Only the built-in dry-run driver ships with this binary. Applying a
plan for real requires embedding the executor with a provisioner for
the target environment.`,
		Example: `  # Simulate a plan without touching anything
  topoplan apply --plan plan.json --dry-run

  # Simulate with a lower concurrency limit and run history
  topoplan apply --plan plan.json --dry-run --max-parallel 2 --store history.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tel, err := newTelemetry()
			if err != nil {
				return err
			}
			defer tel.Shutdown(cmd.Context())
			ctx := tel.WithContext(cmd.Context())

			if !dryRun {
				return fmt.Errorf("no provisioner driver is built in, rerun with --dry-run")
			}

			plan, err := readPlanFile(planFile)
			if err != nil {
				return err
			}

			opts := engine.DefaultRunOptions()
			opts.DryRun = dryRun
			if maxParallel > 0 {
				opts.MaxParallel = maxParallel
			}
			if maxRetries >= 0 {
				opts.MaxRetries = maxRetries
			}
			if timeout > 0 {
				opts.ActionTimeout = timeout
			}

			executor := engine.NewExecutor(nil, tel.Logger, tel.Metrics, tel.Events)
			run, err := executor.Run(ctx, plan, opts)
			if err != nil {
				return err
			}

			if err := persistRun(ctx, run); err != nil {
				return err
			}

			printRunSummary(run)
			if run.Status != engine.RunStatusSucceeded {
				return fmt.Errorf("run %s %s", run.ID, run.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&planFile, "plan", "", "plan file produced by topoplan plan")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "concurrent actions per stage (0 uses the default)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", -1, "retries per action for transient failures (-1 uses the default)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-action timeout (0 uses the default)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "simulate every action without a provisioner")
	_ = cmd.MarkFlagRequired("plan")

	return cmd
}

func readPlanFile(path string) (*engine.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}
	var plan engine.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("decoding plan %s: %w", path, err)
	}
	return &plan, nil
}

// persistRun writes the run and its per-action results to the history
// store when one is configured.
func persistRun(ctx context.Context, run *engine.Run) error {
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return nil
	}
	defer store.Close()
	if err := store.CreateRun(ctx, run); err != nil {
		return err
	}
	for _, result := range run.Results {
		if err := store.AppendActionResult(ctx, run.ID, result); err != nil {
			return err
		}
	}
	return nil
}

func printRunSummary(run *engine.Run) {
	if jsonOutput {
		_ = json.NewEncoder(os.Stdout).Encode(run)
		return
	}
	fmt.Printf("run %s %s: %d actions (succeeded %d, failed %d, skipped %d)\n",
		run.ID, run.Status, run.Summary.Total,
		run.Summary.Succeeded, run.Summary.Failed, run.Summary.Skipped)
	for _, r := range run.Results {
		if r.Status == engine.ActionStatusSucceeded {
			continue
		}
		fmt.Printf("  [%s] %s %s", r.Status, r.Operation, r.EntityID)
		if r.Error != nil {
			fmt.Printf(": %s", r.Error.Message)
		}
		fmt.Println()
	}
}

package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/topoplan/topoplan/pkg/config"
	"github.com/topoplan/topoplan/pkg/engine"
	"github.com/topoplan/topoplan/pkg/topology"
)

func newPlanCommand() *cobra.Command {
	var (
		desiredFile  string
		observedFile string
		outFile      string
		dotFile      string
		destroy      bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Build a staged convergence plan",
		Long: `Build an execution plan by diffing desired state against observed
state and staging the resulting actions by their dependencies.

Replaced entities are split into a delete action in the teardown phase
and a create action in the build phase, and entities depending on a
replaced one are replaced with it.`,
		Example: `  # Plan the creation of a topology from scratch
  topoplan plan --desired topology.yaml --out plan.json

  # Converge observed state onto desired state
  topoplan plan --desired topology.yaml --observed live.yaml --out plan.json

  # Plan a teardown with a stage graph visualization
  topoplan plan --desired topology.yaml --destroy --dot stages.dot`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tel, err := newTelemetry()
			if err != nil {
				return err
			}
			defer tel.Shutdown(cmd.Context())
			ctx := tel.WithContext(cmd.Context())

			loader := config.NewLoader(tel.Logger)
			desired, err := loader.LoadDesired(desiredFile)
			if err != nil {
				return err
			}

			var observed *topology.Topology
			if observedFile != "" {
				observed, err = loader.LoadObserved(observedFile)
				if err != nil {
					return err
				}
			} else {
				observed, err = topology.Build(&topology.Description{Name: desired.Name})
				if err != nil {
					return err
				}
			}

			planner := engine.NewPlanner()
			var plan *engine.Plan
			if destroy {
				target := desired
				if observedFile != "" {
					target = observed
				}
				plan, err = planner.BuildDestroyPlan(target)
			} else {
				plan, err = planner.BuildPlan(desired, observed)
			}
			if err != nil {
				return err
			}
			tel.Metrics.RecordPlanBuilt(plan.Destroy)

			if err := writePlanFile(outFile, plan); err != nil {
				return err
			}
			if dotFile != "" {
				if err := writeStageGraph(dotFile, desired); err != nil {
					return err
				}
			}

			if store, err := openStore(ctx); err != nil {
				return err
			} else if store != nil {
				defer store.Close()
				if err := store.SavePlan(ctx, plan); err != nil {
					return err
				}
			}

			printPlanSummary(plan, outFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&desiredFile, "desired", "", "desired-state document")
	cmd.Flags().StringVar(&observedFile, "observed", "", "observed-state document (empty means nothing exists yet)")
	cmd.Flags().StringVarP(&outFile, "out", "o", "plan.json", "output plan file path")
	cmd.Flags().StringVar(&dotFile, "dot", "", "output DOT stage graph file (optional)")
	cmd.Flags().BoolVar(&destroy, "destroy", false, "plan a full teardown instead of a convergence")
	_ = cmd.MarkFlagRequired("desired")

	return cmd
}

func writePlanFile(path string, plan *engine.Plan) error {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing plan: %w", err)
	}
	return nil
}

func writeStageGraph(path string, t *topology.Topology) error {
	dot, err := engine.NewStageResolver(t).ToDOT()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(dot), 0o644); err != nil {
		return fmt.Errorf("writing stage graph: %w", err)
	}
	return nil
}

func printPlanSummary(plan *engine.Plan, outFile string) {
	if jsonOutput {
		_ = json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"plan_id": plan.ID,
			"out":     outFile,
			"stages":  len(plan.Stages),
			"summary": plan.Summary,
		})
		return
	}
	fmt.Printf("plan %s: %d actions in %d stages (create %d, update %d, replace %d, delete %d)\n",
		plan.ID, plan.Summary.Total, len(plan.Stages),
		plan.Summary.ToCreate, plan.Summary.ToUpdate, plan.Summary.ToReplace, plan.Summary.ToDelete)
	fmt.Printf("wrote %s\n", outFile)
}

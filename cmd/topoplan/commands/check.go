package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/topoplan/topoplan/pkg/config"
	"github.com/topoplan/topoplan/pkg/rules"
)

func newCheckCommand() *cobra.Command {
	var (
		ruleDirs  []string
		threshold string
		watch     bool
	)

	cmd := &cobra.Command{
		Use:   "check <file>",
		Short: "Evaluate compliance rules against a topology",
		Long: `Evaluate the built-in compliance rules, plus any Rego rule packs,
against a topology document.

The command exits non-zero when any failed finding meets or exceeds the
threshold severity.`,
		Example: `  # Check with the built-in rules
  topoplan check topology.yaml

  # Fail on warnings too, with extra Rego rules
  topoplan check topology.yaml --threshold warn --rules ./rules

  # Re-evaluate whenever the document or a rule pack changes
  topoplan check topology.yaml --rules ./rules --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tel, err := newTelemetry()
			if err != nil {
				return err
			}
			defer tel.Shutdown(cmd.Context())
			ctx := tel.WithContext(cmd.Context())

			sev, err := rules.ParseSeverity(threshold)
			if err != nil {
				return err
			}

			cfg := rules.DefaultConfig()
			cfg.Threshold = sev

			registry := rules.DefaultRegistry(cfg, tel.Logger, tel.Metrics, tel.Events)
			ruleLoader := rules.NewLoader(tel.Logger)
			if len(ruleDirs) > 0 {
				loaded, err := ruleLoader.LoadFromPaths(ruleDirs)
				if err != nil {
					return err
				}
				for _, r := range loaded {
					registry.Register(r)
				}
			}

			docLoader := config.NewLoader(tel.Logger)
			check := func() (*rules.Report, error) {
				topo, err := docLoader.LoadDesired(args[0])
				if err != nil {
					return nil, err
				}
				report := registry.EvaluateAll(ctx, topo)
				printReport(os.Stdout, report)
				if err := persistReport(ctx, topo.Name, report); err != nil {
					return nil, err
				}
				return report, nil
			}

			if !watch {
				report, err := check()
				if err != nil {
					return err
				}
				if !report.Passed(sev) {
					return fmt.Errorf("findings at or above %s threshold", sev)
				}
				return nil
			}

			// Watch mode keeps evaluating until interrupted; breaches are
			// reported per pass instead of terminating the process.
			if _, err := check(); err != nil {
				tel.Logger.WithError(err).Error("evaluation failed")
			}
			rerun := func() error {
				_, err := check()
				return err
			}
			if err := docLoader.Watch(ctx, []string{args[0]}, rerun); err != nil {
				return err
			}
			if len(ruleDirs) > 0 {
				reload := func(loaded []rules.Rule) error {
					for _, r := range loaded {
						registry.Remove(r.ID())
						registry.Register(r)
					}
					return rerun()
				}
				if err := ruleLoader.Watch(ctx, ruleDirs, reload); err != nil {
					return err
				}
			}
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&ruleDirs, "rules", nil, "Rego rule files or directories")
	cmd.Flags().StringVar(&threshold, "threshold", string(rules.SeverityCritical), "failure threshold (info, warn, critical)")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-evaluate on document or rule changes")

	return cmd
}

func printReport(w io.Writer, report *rules.Report) {
	if jsonOutput {
		_ = json.NewEncoder(w).Encode(report)
		return
	}

	if len(report.Findings) == 0 {
		fmt.Fprintf(w, "all %d rules passed (%s)\n", report.Rules, report.Duration.Round(time.Millisecond))
		return
	}
	fmt.Fprintf(w, "%d findings from %d rules (%s)\n",
		len(report.Findings), report.Rules, report.Duration.Round(time.Millisecond))
	for _, f := range report.Findings {
		fmt.Fprintf(w, "  [%s] %s: %s", f.Severity, f.RuleID, f.Message)
		if len(f.EntityIDs) > 0 {
			fmt.Fprintf(w, " (%s)", strings.Join(f.EntityIDs, ", "))
		}
		fmt.Fprintln(w)
	}
}

// persistReport writes the report to the history store when one is
// configured.
func persistReport(ctx context.Context, topologyName string, report *rules.Report) error {
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return nil
	}
	defer store.Close()
	return store.SaveReport(ctx, uuid.NewString(), topologyName, report)
}

// Package commands implements the topoplan CLI.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/topoplan/topoplan/pkg/stores"
	"github.com/topoplan/topoplan/pkg/telemetry"
)

var (
	// Global flags
	verbose    bool
	jsonOutput bool
	storePath  string
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "topoplan",
		Short: "Topoplan - network topology compliance and provisioning planner",
		Long: `Topoplan validates typed network topologies, evaluates compliance
rules against them, and plans the convergence of observed state onto
desired state.

Features:
  - Typed topology documents in YAML or CUE
  - Eager structural validation reporting every defect
  - Dependency staging with minimal-cycle diagnostics
  - Built-in and Rego compliance rules with severities
  - Desired/observed diffing with replace cascades
  - Stage-sequential parallel plan execution`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "SQLite database for plan/run/report history (optional)")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newCheckCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}

// newTelemetry builds the process-wide telemetry handle from the global
// flags.
func newTelemetry() (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Output = "stderr"
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return telemetry.NewTelemetry(cfg)
}

// openStore opens the history store when --store is set. Returns nil
// without error when it is not.
func openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if storePath == "" {
		return nil, nil
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: storePath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

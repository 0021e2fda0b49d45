package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/topoplan/topoplan/pkg/config"
	"github.com/topoplan/topoplan/pkg/topology"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a topology document",
		Long: `Validate a topology document structurally.

Validation is eager: every defect in the document is reported in one
pass, not just the first one found.`,
		Example: `  # Validate a desired-state document
  topoplan validate topology.yaml

  # Validate a CUE document with machine-readable output
  topoplan validate topology.cue --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tel, err := newTelemetry()
			if err != nil {
				return err
			}
			defer tel.Shutdown(cmd.Context())

			loader := config.NewLoader(tel.Logger)
			desc, err := loader.LoadDescription(args[0])
			if err != nil {
				return err
			}

			topo, err := topology.Build(desc)
			var structural *topology.StructuralError
			if errors.As(err, &structural) {
				printDefects(args[0], structural)
				return fmt.Errorf("%d structural defects", len(structural.Defects))
			}
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
					"file":     args[0],
					"name":     topo.Name,
					"entities": topo.Len(),
					"valid":    true,
				})
			}
			fmt.Printf("%s: topology %q is valid (%d entities)\n", args[0], topo.Name, topo.Len())
			return nil
		},
	}
	return cmd
}

func printDefects(file string, structural *topology.StructuralError) {
	if jsonOutput {
		_ = json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"file":    file,
			"valid":   false,
			"defects": structural.Defects,
		})
		return
	}
	fmt.Printf("%s: %d structural defects\n", file, len(structural.Defects))
	for _, d := range structural.Defects {
		fmt.Printf("  - %s\n", d)
	}
}

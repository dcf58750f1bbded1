package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rendis/stepflow/pkg/schema"
	"github.com/rendis/stepflow/pkg/workflow"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>...",
	Short: "Check workflow documents",
	Long: `Loads each workflow document, checks it against the document schema and
the graph rules (no cycles, every step reaches a terminal step, every step
is reachable from the first), and prints errors and warnings.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := builtinActions()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		failed := 0
		for _, path := range args {
			w, err := workflow.LoadFile(path, reg, workflow.WithLogger(logger))
			if err != nil {
				failed++
				fmt.Fprintf(out, "%s: invalid\n", path)
				if findings := schema.ValidationErrors(err); len(findings) > 0 {
					for _, f := range findings {
						fmt.Fprintf(out, "  error: %s\n", f.String())
					}
				} else {
					fmt.Fprintf(out, "  error: %s\n", err.Error())
				}
				continue
			}

			fmt.Fprintf(out, "%s: workflow %q is valid (%d steps)\n", path, w.Name(), len(w.Steps()))
			for _, warn := range w.Validate().Warnings {
				fmt.Fprintf(out, "  warning: %s\n", warn.String())
			}
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d workflow(s) invalid", failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

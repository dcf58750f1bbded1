package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/stepflow/pkg/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Run a workflow document once",
	Long: `Loads and commits a workflow document, runs it with the given trigger
payload and prints the run result as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		trigger, err := readTrigger(cmd)
		if err != nil {
			return err
		}

		reg, err := builtinActions()
		if err != nil {
			return err
		}
		w, err := workflow.LoadFile(args[0], reg, workflow.WithLogger(logger))
		if err != nil {
			return err
		}

		result, err := w.Execute(cmd.Context(), trigger)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("trigger", "", "Trigger payload as a JSON document")
	runCmd.Flags().String("trigger-file", "", "Read the trigger payload from a JSON file")
	runCmd.MarkFlagsMutuallyExclusive("trigger", "trigger-file")
}

// readTrigger decodes the trigger payload. No payload runs with nil.
func readTrigger(cmd *cobra.Command) (any, error) {
	raw, _ := cmd.Flags().GetString("trigger")
	if path, _ := cmd.Flags().GetString("trigger-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read trigger file: %w", err)
		}
		raw = string(data)
	}
	if raw == "" {
		return nil, nil
	}

	var trigger any
	if err := json.Unmarshal([]byte(raw), &trigger); err != nil {
		return nil, fmt.Errorf("trigger is not valid JSON: %w", err)
	}
	return trigger, nil
}

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/stepflow/internal/diagram"
	"github.com/rendis/stepflow/pkg/workflow"
)

var diagramCmd = &cobra.Command{
	Use:   "diagram <file>",
	Short: "Render a workflow's state machine",
	Long: `Compiles a workflow document and renders its state machine, including
the idle, success and failure states, as Mermaid, ASCII or PNG.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		outPath, _ := cmd.Flags().GetString("out")

		reg, err := builtinActions()
		if err != nil {
			return err
		}
		w, err := workflow.LoadFile(args[0], reg, workflow.WithLogger(logger))
		if err != nil {
			return err
		}

		model := diagram.Build(w.Machine(), nil)

		var data []byte
		switch format {
		case "mermaid":
			data = []byte(diagram.RenderMermaid(model))
		case "ascii":
			data = []byte(diagram.RenderASCII(model))
		case "png":
			if outPath == "" {
				return fmt.Errorf("png output requires --out")
			}
			data, err = diagram.RenderImage(cmd.Context(), model)
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown format %q (want mermaid, ascii or png)", format)
		}

		return writeOutput(cmd.OutOrStdout(), outPath, data)
	},
}

func init() {
	rootCmd.AddCommand(diagramCmd)
	diagramCmd.Flags().StringP("format", "f", "mermaid", "Output format: mermaid, ascii or png")
	diagramCmd.Flags().StringP("out", "o", "", "Write to this file instead of stdout")
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "" {
		_, err := stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

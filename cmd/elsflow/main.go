// elsflow is the operator CLI for the standards normalization pipeline:
// start a run over a document, re-run a single stage, or inspect a run.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/elsflow/elsflow/internal/app"
	"github.com/elsflow/elsflow/internal/config"
	"github.com/elsflow/elsflow/internal/models"
	"github.com/elsflow/elsflow/internal/pipeline"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:           "elsflow",
		Short:         "Normalize early learning standards documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newRerunCmd(), newStatusCmd())

	if err := root.Execute(); err != nil {
		slog.Error("Command failed.", "error", err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var (
		country      string
		state        string
		year         int
		manifestPath string
	)
	cmd := &cobra.Command{
		Use:   "run <document>",
		Short: "Run the full pipeline over a document (local path or gs:// URI)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta := models.DocumentMeta{}
			if manifestPath != "" {
				loaded, err := config.LoadDocumentMeta(manifestPath)
				if err != nil {
					return err
				}
				meta = *loaded
			}

			a, err := app.New(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.Orchestrator.Execute(cmd.Context(), pipeline.RunRequest{
				DocumentRef:  args[0],
				Jurisdiction: models.Jurisdiction{Country: country, State: state, Year: year},
				DocMeta:      meta,
			})
			if run != nil {
				printRun(run)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&country, "country", "", "two-letter country code (required)")
	cmd.Flags().StringVar(&state, "state", "", "state or region code (required)")
	cmd.Flags().IntVar(&year, "year", 0, "document version year (required)")
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "YAML manifest with document metadata")
	_ = cmd.MarkFlagRequired("country")
	_ = cmd.MarkFlagRequired("state")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

func newRerunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rerun <run-id> <stage>",
		Short: "Re-run a single stage of an existing run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.Orchestrator.RerunStage(cmd.Context(), args[0], args[1])
			if run != nil {
				printRun(run)
			}
			return err
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the recorded state of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.Orchestrator.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printRun(run)
			return nil
		},
	}
}

func printRun(run *models.Run) {
	out, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		slog.Error("Failed to render run.", "error", err)
		return
	}
	fmt.Println(string(out))
}

package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/adaptive-search/backend/internal/app"
	"github.com/adaptive-search/backend/internal/evaluation"
)

func evaluateCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Measure search quality",
	}

	var limit int
	interactions := &cobra.Command{
		Use:   "interactions",
		Short: "Summarize recorded sessions, feedback and query logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(cmd, func(ctx context.Context, a *app.App, out io.Writer) error {
				report, err := a.Evaluator.Interactions(ctx, limit)
				if err != nil {
					return err
				}
				return writeJSON(out, report)
			})
		},
	}
	interactions.Flags().IntVar(&limit, "limit", 1000, "most recent records to include")

	dataset := &cobra.Command{
		Use:   "dataset <file.json>",
		Short: "Run a labelled query dataset and report hit rate and MRR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			ds, err := evaluation.LoadDataset(f)
			if err != nil {
				return err
			}
			return e.withApp(cmd, func(ctx context.Context, a *app.App, out io.Writer) error {
				report, err := a.Evaluator.RunDataset(ctx, ds)
				if err != nil {
					return err
				}
				fmt.Fprint(out, evaluation.FormatDatasetReport(report))
				return nil
			})
		},
	}

	cmd.AddCommand(interactions, dataset)
	return cmd
}

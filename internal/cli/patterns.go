package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/adaptive-search/backend/internal/app"
	"github.com/adaptive-search/backend/internal/search/optimizer"
)

func patternsCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Export or import learned query patterns",
		Long: `Query patterns are what the optimizer learns from feedback. Export them
to move learning between deployments or to review it. Files ending in
.yaml or .yml are YAML, anything else is JSON. Use "-" to write to stdout.`,
	}

	var format string
	export := &cobra.Command{
		Use:   "export <path>",
		Short: "Write all query patterns to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(cmd, func(ctx context.Context, a *app.App, out io.Writer) error {
				if args[0] == "-" {
					f, err := optimizer.ParseFormat(format)
					if err != nil {
						return err
					}
					_, err = a.Controller.WritePatterns(out, f)
					return err
				}
				n, err := a.Controller.ExportPatterns(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Exported %d patterns to %s\n", n, args[0])
				return nil
			})
		},
	}
	export.Flags().StringVar(&format, "format", "yaml", "format when writing to stdout (json|yaml)")

	importCmd := &cobra.Command{
		Use:   "import <path>",
		Short: "Merge query patterns from a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err != nil {
				return err
			}
			return e.withApp(cmd, func(ctx context.Context, a *app.App, out io.Writer) error {
				n, err := a.Controller.ImportPatterns(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Imported %d patterns from %s\n", n, args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(export, importCmd)
	return cmd
}

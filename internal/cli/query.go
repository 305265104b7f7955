package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adaptive-search/backend/internal/app"
	"github.com/adaptive-search/backend/internal/search/controller"
)

func searchCommand(e *env) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a query through the full search pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return e.withApp(cmd, func(ctx context.Context, a *app.App, out io.Writer) error {
				resp := a.Controller.Search(ctx, controller.SearchRequest{Query: query})
				if asJSON {
					if err := writeJSON(out, resp); err != nil {
						return err
					}
				} else {
					printSearch(out, resp)
				}
				if resp.Error != "" {
					return fmt.Errorf("%s error: %s", resp.ErrorKind, resp.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw response")
	return cmd
}

func optimizeCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "optimize <query>",
		Short: "Show how a query would be rewritten and optimized",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return e.withApp(cmd, func(ctx context.Context, a *app.App, out io.Writer) error {
				resp := a.Controller.OptimizeOnly(ctx, query)
				if resp.Error != "" {
					return fmt.Errorf("%s error: %s", resp.ErrorKind, resp.Error)
				}
				return writeJSON(out, resp)
			})
		},
	}
}

func printSearch(w io.Writer, resp *controller.SearchResponse) {
	qp := resp.QueryProcessing
	fmt.Fprintf(w, "Query:     %s\n", qp.OriginalQuery)
	if qp.OptimizedQuery != "" && qp.OptimizedQuery != qp.OriginalQuery {
		fmt.Fprintf(w, "Optimized: %s\n", qp.OptimizedQuery)
	}
	if qp.Intent != "" {
		fmt.Fprintf(w, "Intent:    %s\n", qp.Intent)
	}
	fmt.Fprintf(w, "Agents:    %s (%d ms)\n\n", strings.Join(resp.Metadata.AgentsUsed, ", "), resp.Metadata.ProcessingTimeMS)

	if len(resp.SearchResults) == 0 {
		fmt.Fprintln(w, "No results.")
	}
	for i, r := range resp.SearchResults {
		fmt.Fprintf(w, "%d. [%.3f %s] %s\n", i+1, r.Score, r.Source, snippet(r.Content, 160))
	}
	if len(resp.QuerySuggestions) > 0 {
		fmt.Fprintf(w, "\nTry also: %s\n", strings.Join(resp.QuerySuggestions, "; "))
	}
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

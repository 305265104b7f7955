package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/adaptive-search/backend/internal/app"
	searchmcp "github.com/adaptive-search/backend/internal/mcp"
)

func mcpCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "MCP server commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the search engine as MCP tools on stdio",
		Long: `Start a Model Context Protocol server on stdio. Assistants can call
search, optimize_query, record_feedback, performance_metrics and
list_topics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			cmd.SetContext(ctx)

			return e.withApp(cmd, func(ctx context.Context, a *app.App, _ io.Writer) error {
				name, version := a.Config.MCP.Name, a.Config.MCP.Version
				if version == "" {
					version = appVersion
				}
				if err := searchmcp.NewServer(name, version, a.Controller).Serve(ctx); err != nil {
					return fmt.Errorf("running MCP server: %w", err)
				}
				return nil
			})
		},
	})
	return cmd
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adaptive-search/backend/internal/app"
	"github.com/adaptive-search/backend/internal/ingestion"
)

var errIngestionDisabled = errors.New("ingestion needs the vector store, set zilliz.enabled")

func ingestCommand(e *env) *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "ingest <file|url>...",
		Short: "Index documents into the vector store and knowledge graph",
		Long: `Index local files or web pages. HTML is cleaned before chunking, other
files are indexed as plain text. Each document is chunked, embedded and
written to the vector store; Q&A pairs and entities go to the graph when
neo4j is enabled.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(cmd, func(ctx context.Context, a *app.App, out io.Writer) error {
				if a.Processor == nil {
					return errIngestionDisabled
				}
				failed := 0
				for _, target := range args {
					in, err := loadInput(ctx, a.Fetcher, target)
					if err == nil {
						if title != "" {
							in.Title = title
						}
						var res *ingestion.Result
						if res, err = a.Processor.ProcessDocument(ctx, in); err == nil {
							fmt.Fprintf(out, "%s: %s, %d chunks, %d questions, %d entities\n",
								target, res.DocID, res.Chunks, res.Questions, res.Entities)
							if res.GraphError != "" {
								fmt.Fprintf(out, "  graph: %s\n", res.GraphError)
							}
							continue
						}
					}
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", target, err)
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d documents failed", failed, len(args))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title for every document (default: HTML title)")
	return cmd
}

func loadInput(ctx context.Context, fetcher *ingestion.Fetcher, target string) (ingestion.Input, error) {
	if ingestion.ValidURL(target) {
		return fetcher.Fetch(ctx, target)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return ingestion.Input{}, err
	}
	in := ingestion.Input{Source: target, Content: string(data)}
	switch strings.ToLower(filepath.Ext(target)) {
	case ".html", ".htm":
		in.ContentType = "text/html"
	default:
		in.ContentType = "text/plain"
	}
	return in, nil
}

package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adaptive-search/backend/internal/app"
)

func topicsCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Fit or inspect the topic model used for ranking",
	}

	var (
		limit int
		file  string
	)
	fit := &cobra.Command{
		Use:   "fit",
		Short: "Fit the topic model on the indexed corpus or a text file",
		Long: `Fit the topic model and save it to engine.topicModelPath.

Without --file the model is fitted on up to --limit indexed documents.
With --file every non-empty line of the file is one document.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var corpus []string
			if file != "" {
				docs, err := readLines(file)
				if err != nil {
					return err
				}
				corpus = docs
			}
			return e.withApp(cmd, func(ctx context.Context, a *app.App, out io.Writer) error {
				n := len(corpus)
				if corpus != nil {
					if err := a.Controller.FitTopics(ctx, corpus); err != nil {
						return err
					}
				} else {
					var err error
					if n, err = a.Controller.FitTopicsFromCorpus(ctx, limit); err != nil {
						return err
					}
				}
				fmt.Fprintf(out, "Fitted topic model on %d documents\n", n)
				printTopics(out, a)
				return nil
			})
		},
	}
	fit.Flags().IntVar(&limit, "limit", 0, "maximum indexed documents to use (0 = all)")
	fit.Flags().StringVar(&file, "file", "", "text file with one document per line")

	list := &cobra.Command{
		Use:   "list",
		Short: "Show the discovered topics and their keywords",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(cmd, func(ctx context.Context, a *app.App, out io.Writer) error {
				printTopics(out, a)
				return nil
			})
		},
	}

	cmd.AddCommand(fit, list)
	return cmd
}

func printTopics(w io.Writer, a *app.App) {
	topics := a.Controller.TopicSummary()
	if len(topics) == 0 {
		fmt.Fprintln(w, "No topic model fitted.")
		return
	}
	for _, t := range topics {
		fmt.Fprintf(w, "Topic %d (%d docs, confidence %.2f): %s\n",
			t.TopicID, t.DocumentCount, t.AverageConfidence, strings.Join(t.Keywords, ", "))
	}
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return lines, nil
}

// Package cli implements searchctl, the operator command line for the
// search engine: pattern export and import, topic fitting, ad hoc queries,
// evaluation reports, document ingestion and the MCP server.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/adaptive-search/backend/internal/app"
	"github.com/adaptive-search/backend/pkg/config"
	"github.com/adaptive-search/backend/pkg/logger"
)

var (
	appVersion = "dev"
	appCommit  = "none"
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit string) {
	appVersion = version
	appCommit = commit
}

// buildApp is replaced in tests.
var buildApp = app.Build

type env struct {
	configPath string
	logLevel   string
}

// open loads configuration and builds the engine. Logs always go to stderr
// because stdout carries command output and the MCP transport.
func (e *env) open(ctx context.Context) (*app.App, error) {
	cfg, err := config.LoadFrom(e.configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if e.logLevel != "" {
		level = e.logLevel
	}
	if err := logger.Init(level, "console", "stderr"); err != nil {
		return nil, err
	}
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("building search engine: %w", err)
	}
	return a, nil
}

// withApp runs fn against a freshly built engine and closes it afterwards,
// which also flushes queued pattern writes.
func (e *env) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App, out io.Writer) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		a.Close()
		logger.Sync()
	}()
	return fn(ctx, a, cmd.OutOrStdout())
}

// NewRootCommand assembles searchctl.
func NewRootCommand() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:   "searchctl",
		Short: "Operate the adaptive search engine",
		Long: `searchctl runs queries against the adaptive search engine and manages
the state it learns from: query patterns, the topic model and the indexed
corpus. It reads the same configuration as the API server.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&e.configPath, "config", "", "config file (default ./config.yaml)")
	root.PersistentFlags().StringVar(&e.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		versionCommand(),
		searchCommand(e),
		optimizeCommand(e),
		patternsCommand(e),
		topicsCommand(e),
		evaluateCommand(e),
		ingestCommand(e),
		mcpCommand(e),
	)
	return root
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "searchctl %s\ncommit: %s\n", appVersion, appCommit)
		},
	}
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

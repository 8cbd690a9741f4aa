// Package cmd implements the rpinsight command-line interface.
package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rpinsight/rpinsight/internal/app"
	"github.com/rpinsight/rpinsight/internal/config"
	"github.com/rpinsight/rpinsight/internal/log"
)

var (
	flagVerbose  bool
	flagJSONLogs bool
)

var rootCmd = &cobra.Command{
	Use:   "rpinsight",
	Short: "AI-powered insights over ReportPortal test data",
	Long: `rpinsight syncs test execution data from a ReportPortal instance into
a local vector store and answers natural-language questions about it.

Typical workflow:

  rpinsight sync --mode full        # first run: mirror everything
  rpinsight sync                    # afterwards: incremental updates
  rpinsight ask "why are the checkout tests failing?"`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLogs, "json-logs", false, "write logs as JSON")
}

func newLogger() log.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: flagJSONLogs})
}

// setupApp loads configuration and wires the application.
func setupApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.Setup(ctx, cfg, newLogger())
}

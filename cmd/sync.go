package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rpinsight/rpinsight/internal/datasync"
	"github.com/rpinsight/rpinsight/internal/entity"
)

var (
	flagSyncMode     string
	flagSyncProjects []string
	flagSyncKinds    []string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync ReportPortal data into the document store",
	Long: `Sync fetches records from the configured ReportPortal instance and
stores them as searchable documents.

Full mode mirrors the instance authoritatively; incremental mode adds
new and recently-modified records plus failed/broken ones regardless
of age.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		mode, err := datasync.ParseMode(flagSyncMode)
		if err != nil {
			return err
		}

		var kinds []entity.Kind
		for _, s := range flagSyncKinds {
			kind, err := entity.ParseKind(s)
			if err != nil {
				return err
			}
			kinds = append(kinds, kind)
		}

		ctx := cmd.Context()
		a, err := setupApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Orchestrator.Sync(ctx, mode, flagSyncProjects, kinds)
		if err != nil {
			return err
		}

		fmt.Printf("Sync completed in %s (mode: %s, run: %s)\n",
			result.Duration.Round(10*time.Millisecond), result.Mode, result.RunID)
		for _, kind := range entity.AllKinds() {
			if n, ok := result.Counts[kind]; ok {
				fmt.Printf("  %-10s %d\n", kind, n)
			}
		}
		if len(result.Errors) > 0 {
			fmt.Printf("Completed with %d error(s):\n", len(result.Errors))
			for _, e := range result.Errors {
				fmt.Printf("  %s: %s\n", e.Kind, e.Message)
			}
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVarP(&flagSyncMode, "mode", "m", "incremental", "sync mode: full or incremental")
	syncCmd.Flags().StringSliceVarP(&flagSyncProjects, "project", "p", nil, "restrict to specific projects (repeatable)")
	syncCmd.Flags().StringSliceVarP(&flagSyncKinds, "type", "t", nil, "restrict to specific entity types (repeatable)")
	rootCmd.AddCommand(syncCmd)
}

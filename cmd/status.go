package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rpinsight/rpinsight/internal/entity"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show document counts and the last sync run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := setupApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.Orchestrator.Status(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Documents: %d\n", status.Storage.Total)
		for _, kind := range entity.AllKinds() {
			if n, ok := status.Storage.ByKind[kind]; ok {
				fmt.Printf("  %-10s %d\n", kind, n)
			}
		}
		if status.LastSyncTime.IsZero() {
			fmt.Println("Last sync: never (this process)")
		} else {
			fmt.Printf("Last sync: %s (mode: %s)\n",
				status.LastSyncTime.Format("2006-01-02 15:04:05"), status.LastMode)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rpinsight/rpinsight/internal/entity"
	"github.com/rpinsight/rpinsight/internal/store"
)

var (
	flagSearchKinds []string
	flagSearchLimit int
)

var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Semantic search over synced documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		if strings.TrimSpace(text) == "" {
			return errors.New("search text cannot be empty")
		}

		var opts []store.SearchOption
		opts = append(opts, store.WithLimit(flagSearchLimit))
		if len(flagSearchKinds) > 0 {
			var kinds []entity.Kind
			for _, s := range flagSearchKinds {
				kind, err := entity.ParseKind(s)
				if err != nil {
					return err
				}
				kinds = append(kinds, kind)
			}
			opts = append(opts, store.WithKinds(kinds...))
		}

		ctx := cmd.Context()
		a, err := setupApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.Store.Search(ctx, text, opts...)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No matching documents.")
			return nil
		}

		for i, res := range results {
			fmt.Printf("%d. [%s] %s (distance %.4f)\n", i+1, res.Kind, res.ID, res.Distance)
			fmt.Printf("   %s\n", firstLine(res.Content, 120))
		}
		return nil
	},
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

func init() {
	searchCmd.Flags().StringSliceVarP(&flagSearchKinds, "type", "t", nil, "restrict to specific entity types (repeatable)")
	searchCmd.Flags().IntVarP(&flagSearchLimit, "limit", "n", 10, "maximum number of results")
	rootCmd.AddCommand(searchCmd)
}

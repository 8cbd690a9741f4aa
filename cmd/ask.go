package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/rpinsight/rpinsight/internal/rag"
)

var (
	flagAskResults int
	flagAskStream  bool
	flagAskSources bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a natural-language question about the synced data",
	Long: `Ask retrieves the most relevant synced documents for the question,
optionally computes metrics over them, and generates an answer with
the configured model.

Examples:

  rpinsight ask "how many launches failed this week?"
  rpinsight ask --stream "why are the payment tests broken?"
  rpinsight ask --sources "show me recent error logs"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		if strings.TrimSpace(question) == "" {
			return errors.New("question cannot be empty")
		}

		ctx := cmd.Context()
		a, err := setupApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		answer, err := a.Pipeline.Query(ctx, question, rag.Options{
			ResultCount:    flagAskResults,
			IncludeResults: flagAskSources,
			Stream:         flagAskStream,
		})
		if err != nil {
			return err
		}

		if flagAskStream {
			for fragment, err := range answer.Stream {
				if err != nil {
					return err
				}
				fmt.Print(fragment)
			}
			fmt.Println()
		} else {
			fmt.Println(renderMarkdown(answer.Content))
		}

		if flagAskSources {
			fmt.Printf("\nSources (%d):\n", len(answer.Results))
			for i, res := range answer.Results {
				fmt.Printf("%d. [%s] %s (distance %.4f)\n", i+1, res.Kind, res.ID, res.Distance)
			}
		}
		return nil
	},
}

// renderMarkdown converts the answer to styled terminal output,
// falling back to plain text if the renderer cannot be built.
func renderMarkdown(markdown string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return markdown
	}
	rendered, err := r.Render(markdown)
	if err != nil {
		return markdown
	}
	return strings.TrimSuffix(rendered, "\n")
}

func init() {
	askCmd.Flags().IntVarP(&flagAskResults, "results", "n", 0, "number of documents to retrieve (default from config)")
	askCmd.Flags().BoolVar(&flagAskStream, "stream", false, "stream the answer as it is generated")
	askCmd.Flags().BoolVar(&flagAskSources, "sources", false, "list the retrieved source documents")
	rootCmd.AddCommand(askCmd)
}

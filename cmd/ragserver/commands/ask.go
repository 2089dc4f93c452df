package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/paperless-rag/ragserver-go/internal/answer"
	"github.com/paperless-rag/ragserver-go/internal/logging"
)

// NewAskCmd constructs the `ragserver ask` command, which sends a single
// natural-language question through the RAG pipeline and prints the answer
// with its citations to stdout.
func NewAskCmd() *cobra.Command {
	var topK int
	var allowGeneralChat bool
	var tags []string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question over the ingested document corpus",
		Long: `Ask a natural-language question over the documents ingested into the
vector store. Retrieves supporting chunks, calls the configured LLM, and
prints the answer plus its source citations.

Examples:
  ragserver ask "what does the Q3 invoice from Acme say about late fees?"
  ragserver ask --top-k 10 "summarize the vendor contracts tagged legal"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			p, err := buildPipeline(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer p.close()

			question := args[0]
			resp, err := p.answer.Ask(ctx, answer.AskRequest{
				Query:            question,
				TopK:             topK,
				FilterTags:       tags,
				AllowGeneralChat: allowGeneralChat,
			})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			fmt.Fprintln(os.Stdout, resp.Answer)
			if len(resp.Citations) > 0 {
				fmt.Fprintln(os.Stdout, "\nSources:")
				for _, c := range resp.Citations {
					fmt.Fprintf(os.Stdout, "  - %s (page %d, score %.2f): %s\n", c.Title, c.Page, c.Score, c.URL)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&topK, "top-k", 0, "Number of chunks to retrieve (default: server-configured)")
	cmd.Flags().BoolVar(&allowGeneralChat, "allow-general-chat", false, "Allow a non-document-grounded answer when retrieval finds nothing")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "Restrict retrieval to documents carrying this tag (repeatable)")

	return cmd
}

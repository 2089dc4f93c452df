package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/paperless-rag/ragserver-go/internal/ingest"
	"github.com/paperless-rag/ragserver-go/internal/logging"
)

// NewIngestCmd constructs the `ragserver ingest` command, which runs the
// ingestion pipeline against the document-management service from the
// command line, either for a single document or the full corpus.
func NewIngestCmd() *cobra.Command {
	var docID int
	var forceReindex bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest documents from the document-management service into the vector store",
		Long: `Fetch document text from the document-management service, chunk and embed
it, and upsert it into the Qdrant vector store.

With --doc-id, ingests a single document. Without it, runs a full batch
ingest over every document the DMS reports.

Examples:
  ragserver ingest --doc-id 42
  ragserver ingest --doc-id 42 --force-reindex
  ragserver ingest`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			p, err := buildPipeline(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer p.close()

			if cmd.Flags().Changed("doc-id") {
				result := p.ingestor.IngestOne(ctx, docID, forceReindex)
				log.Info("ingest complete",
					slog.Int("doc_id", result.DocID),
					slog.String("title", result.Title),
					slog.String("status", result.Status),
					slog.Int("chunks_created", result.ChunksCreated),
					slog.Int("pages_processed", result.PagesProcessed),
				)
				if result.Status == "failed" || result.Status == "error" {
					return fmt.Errorf("ingest: document %d %s: %s", result.DocID, result.Status, result.Error)
				}
				return nil
			}

			var succeeded, failed int
			err = p.ingestor.IngestAll(ctx, nil, forceReindex, func(result ingest.IngestResult) {
				if result.Status == ingest.StatusSuccess || result.Status == ingest.StatusSkipped {
					succeeded++
				} else {
					failed++
				}
				log.Info("document ingested",
					slog.Int("doc_id", result.DocID),
					slog.String("status", result.Status),
					slog.Int("chunks_created", result.ChunksCreated),
				)
			})
			log.Info("batch ingest complete", slog.Int("succeeded", succeeded), slog.Int("failed", failed))
			return err
		},
	}

	cmd.Flags().IntVar(&docID, "doc-id", 0, "Ingest only this document ID")
	cmd.Flags().BoolVar(&forceReindex, "force-reindex", false, "Delete and re-create chunks even if the document was already ingested")

	return cmd
}

package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/paperless-rag/ragserver-go/internal/logging"
	"github.com/paperless-rag/ragserver-go/internal/server"
)

// NewServeCmd constructs the `ragserver serve` command, which starts the
// HTTP server exposing the question-answering, ingestion, and document
// passthrough API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ragserver HTTP server",
		Long: `Start the ragserver HTTP server.

The server exposes POST /ask for question answering, POST /ingest and
GET /ingest/history for driving ingestion, and read-only passthroughs to the
document-management service (GET /documents, GET /documents/{id},
GET /documents/search, GET /stats), plus GET /health, GET /ready, and
GET /metrics.

Examples:
  ragserver serve
  ragserver serve --port 9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()

			p, err := buildPipeline(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer p.close()

			if !cmd.Flags().Changed("host") && p.cfg.Server.Host != "" {
				host = p.cfg.Server.Host
			}
			if !cmd.Flags().Changed("port") && p.cfg.Server.Port > 0 {
				port = p.cfg.Server.Port
			}

			srv, err := server.New(buildServerDeps(p), &server.Config{
				Host:           host,
				Port:           port,
				Logger:         log,
				Pingers:        buildPingers(p),
				EmbeddingModel: p.cfg.Embedding.Model,
				ChatModel:      p.cfg.LLM.Model,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8088, "TCP port to listen on")

	return cmd
}

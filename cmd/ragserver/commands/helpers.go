package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/paperless-rag/ragserver-go/internal/answer"
	"github.com/paperless-rag/ragserver-go/internal/chunk"
	"github.com/paperless-rag/ragserver-go/internal/config"
	"github.com/paperless-rag/ragserver-go/internal/dms"
	"github.com/paperless-rag/ragserver-go/internal/embedder"
	"github.com/paperless-rag/ragserver-go/internal/ingest"
	"github.com/paperless-rag/ragserver-go/internal/llm"
	"github.com/paperless-rag/ragserver-go/internal/rag"
	"github.com/paperless-rag/ragserver-go/internal/server"
)

// pipeline bundles the constructed dependency graph shared by serve, ask,
// and ingest. close releases the vector store connection and ledger
// handle; callers should defer it once pipeline is built successfully.
type pipeline struct {
	dms       *dms.Client
	store     rag.VectorStore
	retriever *rag.Retriever
	llmClient *llm.Client
	ledger    ingest.Ledger
	ingestor  *ingest.Ingestor
	answer    *answer.Service
	cfg       *config.Config
	close     func()
}

// buildPipeline wires the full RAG dependency graph from environment
// configuration: DMS client, embedder, Qdrant store, retriever, LLM client,
// ingest ledger and ingestor, and the answer service. It ensures the
// Qdrant collection exists for the embedder's dimension before returning.
func buildPipeline(ctx context.Context, log *slog.Logger) (*pipeline, error) {
	cfg := config.Env()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := embedder.ValidateForRAG(cfg, log); err != nil {
		return nil, fmt.Errorf("pipeline: embedder configuration invalid: %w", err)
	}

	dmsClient := dms.New(dms.Config{BaseURL: cfg.DMS.BaseURL, APIToken: cfg.DMS.APIToken})

	emb, err := embedder.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("pipeline: failed to initialise embedder: %w", err)
	}

	store, err := rag.NewQdrantStore(rag.QdrantConfig{
		URL:        cfg.Qdrant.URL,
		Collection: cfg.Qdrant.Collection,
		APIKey:     cfg.Qdrant.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: failed to connect to Qdrant at %s: %w", cfg.Qdrant.URL, err)
	}
	closeStore := func() { _ = store.Close() }

	if err := store.EnsureCollection(ctx, emb.Dimension()); err != nil {
		closeStore()
		return nil, fmt.Errorf("pipeline: failed to ensure collection %q: %w", cfg.Qdrant.Collection, err)
	}
	log.Info("qdrant collection ready",
		slog.String("url", cfg.Qdrant.URL),
		slog.String("collection", cfg.Qdrant.Collection),
		slog.Int("dimension", emb.Dimension()),
	)

	retriever, err := rag.NewRetriever(emb, store)
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("pipeline: failed to create retriever: %w", err)
	}

	llmClient := llm.New(llm.Config{
		BaseURL:      cfg.LLM.BaseURL,
		APIKey:       cfg.LLM.APIKey,
		DefaultModel: cfg.LLM.Model,
	})

	ledger, err := ingest.NewLedger(cfg.Ingest.LedgerPath)
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("pipeline: failed to open ingest ledger %s: %w", cfg.Ingest.LedgerPath, err)
	}
	closeAll := func() {
		closeStore()
		_ = ledger.Close()
	}

	chunker := chunk.New(cfg.Embedding.Model)
	ingestor := ingest.NewIngestor(dmsClient, chunker, emb, store, ledger, ingest.Config{
		ChunkTokens:   cfg.RAG.ChunkTokens,
		OverlapTokens: cfg.RAG.ChunkOverlap,
		Concurrency:   cfg.Ingest.Concurrency,
	})

	answerSvc := answer.New(retriever, llmClient, dmsClient, answer.Config{
		DefaultTopK:       cfg.RAG.TopK,
		MaxSnippetsTokens: cfg.RAG.MaxSnippetsTokens,
	})

	return &pipeline{
		dms:       dmsClient,
		store:     store,
		retriever: retriever,
		llmClient: llmClient,
		ledger:    ledger,
		ingestor:  ingestor,
		answer:    answerSvc,
		cfg:       cfg,
		close:     closeAll,
	}, nil
}

// buildPingers constructs the readiness/health probes for the given
// pipeline's dependencies.
func buildPingers(p *pipeline) []server.Pinger {
	return []server.Pinger{
		server.NewDMSPinger(p.dms),
		server.NewQdrantPinger(p.store),
		server.NewLLMPinger(p.llmClient),
	}
}

// buildServerDeps adapts a pipeline into server.Deps.
func buildServerDeps(p *pipeline) server.Deps {
	return server.Deps{
		DMS:         p.dms,
		VectorStore: p.store,
		Answer:      p.answer,
		Ingestor:    p.ingestor,
		Ledger:      p.ledger,
	}
}

package server

import (
	"context"
	"fmt"
	"time"

	"github.com/paperless-rag/ragserver-go/internal/dms"
	"github.com/paperless-rag/ragserver-go/internal/rag"
)

// dmsPingClient is the subset of *dms.Client DMSPinger depends on.
type dmsPingClient interface {
	ListDocuments(ctx context.Context, updatedAfter *time.Time, pageSize int, ordering string) (*dms.PagedDocuments, error)
}

// DMSPinger probes the document-management service with a minimal one-page
// listing request. It satisfies the Pinger interface and is used by
// GET /ready and GET /health.
type DMSPinger struct {
	client dmsPingClient
}

// NewDMSPinger constructs a DMSPinger for the given DMS client.
func NewDMSPinger(client dmsPingClient) *DMSPinger {
	return &DMSPinger{client: client}
}

// Name returns the dependency label used in health/readiness responses.
func (p *DMSPinger) Name() string { return "dms" }

// Ping fetches a single-document page as a reachability check.
func (p *DMSPinger) Ping(ctx context.Context) error {
	if _, err := p.client.ListDocuments(ctx, nil, 1, ""); err != nil {
		return fmt.Errorf("list documents failed: %w", err)
	}
	return nil
}

// vectorStorePingClient is the subset of rag.VectorStore QdrantPinger depends on.
type vectorStorePingClient interface {
	GetCollectionStats(ctx context.Context) (rag.CollectionStats, error)
}

// QdrantPinger probes the vector store by requesting its collection stats.
// It satisfies the Pinger interface and is used by GET /ready and GET /health.
type QdrantPinger struct {
	store vectorStorePingClient
}

// NewQdrantPinger constructs a QdrantPinger for the given VectorStore.
func NewQdrantPinger(store vectorStorePingClient) *QdrantPinger {
	return &QdrantPinger{store: store}
}

// Name returns the dependency label used in health/readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls GetCollectionStats as a reachability check.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if _, err := p.store.GetCollectionStats(ctx); err != nil {
		return fmt.Errorf("collection stats failed: %w", err)
	}
	return nil
}

// llmPingClient is the subset of *llm.Client LLMPinger depends on.
type llmPingClient interface {
	Ping(ctx context.Context) error
}

// LLMPinger probes the chat-completions gateway with a lightweight
// model-listing request rather than a token-consuming completion call.
// It satisfies the Pinger interface and is used by GET /ready and GET /health.
type LLMPinger struct {
	client llmPingClient
}

// NewLLMPinger constructs an LLMPinger for the given chat-completions client.
func NewLLMPinger(client llmPingClient) *LLMPinger {
	return &LLMPinger{client: client}
}

// Name returns the dependency label used in health/readiness responses.
func (p *LLMPinger) Name() string { return "llm" }

// Ping delegates to the client's own lightweight reachability check.
func (p *LLMPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

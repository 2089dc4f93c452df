// Package rag defines the interfaces and value types shared by the vector
// store and retrieval components. Concrete implementations (Qdrant, the
// hybrid Retriever) satisfy these interfaces so the rest of the pipeline
// never depends on a specific backend.
package rag

import (
	"context"
	"time"
)

// Chunk is the unit of retrieval: a bounded passage of a document plus the
// metadata needed to filter, cite, and re-rank it.
type Chunk struct {
	// ID is the deterministic ChunkId: hash of (doc_id, page_or_0, chunk_index).
	ID string

	// Text is the normalized UTF-8 passage.
	Text string

	// DocID is the owning document's identifier.
	DocID int

	// Title is the document title, denormalized at ingestion time.
	Title string

	// Page is the 1-based page number, or 0 if the source was unpaginated.
	Page int

	// FileType is the document's file extension, denormalized for filtering.
	FileType string

	// Tags is the document's tag set, denormalized for filtering.
	Tags []string

	// IngestedAt is the UTC timestamp this chunk was written.
	IngestedAt time.Time

	// TokenCount is an estimate of Text's token length, ceil(len(Text)/4) as
	// computed by tokenbudget.Estimate; it is not counted with the chunker's
	// tokenizer.
	TokenCount int

	// ChunkIndex is the 0-based ordinal within the document's ingest pass.
	ChunkIndex int

	// Vector is the embedding produced by Embedder, length == Dimension().
	Vector []float32
}

// ScoredChunk pairs a Chunk with its similarity score from a search.
type ScoredChunk struct {
	Chunk
	Score float32
}

// Filter restricts a Search/Scroll/DeleteByFilter call to matching points.
// A zero Filter matches everything. Tags, if non-empty, matches when the
// chunk's tag set intersects Tags at all.
type Filter struct {
	DocID *int
	Tags  []string
}

// CollectionStats summarizes a vector collection's size and health.
type CollectionStats struct {
	PointsCount   uint64
	VectorsCount  uint64
	SegmentsCount uint64
	Status        string
}

// Page is one page of a Scroll call.
type Page struct {
	Chunks     []Chunk
	NextOffset string // empty when there are no more pages
}

// TagCount pairs a tag with the number of chunks carrying it.
type TagCount struct {
	Tag   string
	Count int
}

// ChunkSummary aggregates collection-wide chunk statistics, mirroring the
// original implementation's get_chunks_summary.
type ChunkSummary struct {
	TotalChunks           int
	UniqueDocuments       int
	TotalTokens           int
	AverageTokensPerChunk float64
	FileTypeDistribution  map[string]int
	TopTags               []TagCount
}

// VectorStore is the façade over the external vector index: collection
// lifecycle, upsert, delete-by-filter, similarity search, and pagination.
// Implementations must be safe for concurrent use.
type VectorStore interface {
	// EnsureCollection creates the collection if missing with cosine distance
	// and vector size dim. If the collection already exists, it verifies the
	// stored dimension equals dim and fails fatally on mismatch rather than
	// recreating the collection.
	EnsureCollection(ctx context.Context, dim int) error

	// Upsert idempotently writes chunks, keyed by Chunk.ID.
	Upsert(ctx context.Context, chunks []Chunk) error

	// DeleteByFilter removes every point matching filter.
	DeleteByFilter(ctx context.Context, filter Filter) error

	// Search performs a cosine similarity search, returning up to topK
	// results sorted descending by score, with scores below scoreThreshold
	// dropped.
	Search(ctx context.Context, queryVector []float32, topK int, filter Filter, scoreThreshold float32) ([]ScoredChunk, error)

	// Scroll pages through points matching filter. offset is opaque and
	// supplied from a prior Page.NextOffset; pass "" to start from the
	// beginning.
	Scroll(ctx context.Context, filter Filter, limit int, offset string) (Page, error)

	// GetCollectionStats returns size and health information about the
	// collection.
	GetCollectionStats(ctx context.Context) (CollectionStats, error)

	// GetChunksSummary aggregates statistics (chunk/document counts, token
	// average, file type distribution, most common tags) across every chunk
	// in the collection.
	GetChunksSummary(ctx context.Context) (ChunkSummary, error)

	// Close releases any resources held by the store.
	Close() error
}

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Dimension returns the fixed length of vectors this embedder produces.
	Dimension() int

	// Encode converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

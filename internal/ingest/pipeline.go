package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paperless-rag/ragserver-go/internal/chunk"
	"github.com/paperless-rag/ragserver-go/internal/dms"
	"github.com/paperless-rag/ragserver-go/internal/extract"
	"github.com/paperless-rag/ragserver-go/internal/logging"
	"github.com/paperless-rag/ragserver-go/internal/rag"
	"github.com/paperless-rag/ragserver-go/internal/ragerr"
	"github.com/paperless-rag/ragserver-go/internal/tokenbudget"
)

// Status values for IngestResult.
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
	StatusError   = "error"
)

// Reason values for a skipped or failed IngestResult.
const (
	ReasonAlreadyExists   = "already_exists"
	ReasonNoTextExtracted = "no_text_extracted"
	ReasonNoChunksCreated = "no_chunks_created"
)

// chunkNamespace is the fixed namespace used to derive deterministic,
// version-5 chunk UUIDs from (doc_id, page_or_0, chunk_index). Any fixed
// UUID works here — it only needs to be stable across ingest runs.
var chunkNamespace = uuid.MustParse("7b6f3c2a-7f2e-4e8a-9a1d-7c5b9b8f1a2d")

// chunkID derives the deterministic ChunkId for a chunk produced at the
// given 1-based page (or 0 for unpaginated sources) and 0-based chunk index
// within a document.
func chunkID(docID, page, chunkIndex int) string {
	name := fmt.Sprintf("%d:%d:%d", docID, page, chunkIndex)
	return uuid.NewSHA1(chunkNamespace, []byte(name)).String()
}

// IngestResult is the machine-readable outcome of one IngestOne call.
type IngestResult struct {
	DocID          int
	Title          string
	Status         string
	ChunksCreated  int
	PagesProcessed int
	Reason         string
	Error          string
}

// DMSClient is the subset of dms.Client the ingestor depends on.
type DMSClient interface {
	GetDocument(ctx context.Context, docID int) (*dms.Document, error)
	DownloadDocument(ctx context.Context, docID int) ([]byte, error)
	ListDocuments(ctx context.Context, updatedAfter *time.Time, pageSize int, ordering string) (*dms.PagedDocuments, error)
}

// Ingestor composes the DMSClient, Extractor, Chunker, Embedder, and
// VectorStore into a per-document ingestion pipeline with idempotency,
// reindex semantics, and progress accounting.
type Ingestor struct {
	dms      DMSClient
	chunker  *chunk.Chunker
	embedder rag.Embedder
	store    rag.VectorStore
	ledger   Ledger
	locks    *docLocks

	chunkTokens  int
	overlapTokens int
	concurrency  int
}

// Config holds the tuning parameters for an Ingestor.
type Config struct {
	// ChunkTokens is the chunk window width in tokens. Defaults to
	// chunk.DefaultChunkTokens if zero.
	ChunkTokens int
	// OverlapTokens is the overlap between adjacent chunk windows in tokens.
	// Defaults to chunk.DefaultOverlapTokens if zero.
	OverlapTokens int
	// Concurrency bounds the number of documents IngestAll processes
	// in flight at once. Defaults to 1 (strictly sequential) if zero,
	// protecting upstream quotas on the DMS, embedder, and vector store.
	Concurrency int
}

// NewIngestor constructs an Ingestor from its dependencies.
func NewIngestor(dmsClient DMSClient, chunker *chunk.Chunker, embedder rag.Embedder, store rag.VectorStore, ledger Ledger, cfg Config) *Ingestor {
	if cfg.ChunkTokens <= 0 {
		cfg.ChunkTokens = chunk.DefaultChunkTokens
	}
	if cfg.OverlapTokens <= 0 {
		cfg.OverlapTokens = chunk.DefaultOverlapTokens
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Ingestor{
		dms:           dmsClient,
		chunker:       chunker,
		embedder:      embedder,
		store:         store,
		ledger:        ledger,
		locks:         newDocLocks(),
		chunkTokens:   cfg.ChunkTokens,
		overlapTokens: cfg.OverlapTokens,
		concurrency:   cfg.Concurrency,
	}
}

// IngestOne runs the full fetch → extract → chunk → embed → upsert pipeline
// for a single document, recording the outcome in the ledger regardless of
// success or failure.
func (ig *Ingestor) IngestOne(ctx context.Context, docID int, forceReindex bool) IngestResult {
	unlock := ig.locks.lock(docID)
	defer unlock()

	started := time.Now()
	result := ig.ingestOne(ctx, docID, forceReindex)
	ig.record(ctx, result, started)
	return result
}

func (ig *Ingestor) ingestOne(ctx context.Context, docID int, forceReindex bool) IngestResult {
	// 1. Fetch Document metadata.
	doc, err := ig.dms.GetDocument(ctx, docID)
	if err != nil {
		return IngestResult{DocID: docID, Status: StatusError, Error: err.Error()}
	}

	// 2. Skip check, unless a reindex was explicitly requested.
	if !forceReindex {
		exists, err := ig.hasExistingChunks(ctx, doc.ID)
		if err != nil {
			logging.FromContext(ctx).Warn("ingest: skip-check failed, proceeding with ingestion",
				slog.Int("doc_id", doc.ID), slog.Any("error", err))
		} else if exists {
			return IngestResult{DocID: doc.ID, Title: doc.Title, Status: StatusSkipped, Reason: ReasonAlreadyExists}
		}
	}

	// 3. Download and extract.
	data, err := ig.dms.DownloadDocument(ctx, doc.ID)
	if err != nil {
		return IngestResult{DocID: doc.ID, Title: doc.Title, Status: StatusError, Error: err.Error()}
	}
	units := extract.Extract(doc.OriginalFileName, data)
	if len(units) == 0 {
		return IngestResult{DocID: doc.ID, Title: doc.Title, Status: StatusFailed, Reason: ReasonNoTextExtracted}
	}

	// 4. Chunk every unit, assigning chunk_index in emission order.
	chunks, texts := ig.buildChunks(doc, units)

	// 5. No chunks is a distinct, named failure.
	if len(chunks) == 0 {
		return IngestResult{DocID: doc.ID, Title: doc.Title, Status: StatusFailed, Reason: ReasonNoChunksCreated, PagesProcessed: len(units)}
	}

	// 6. Embed in a single batch.
	vectors, err := ig.embedder.Encode(ctx, texts)
	if err != nil {
		return IngestResult{DocID: doc.ID, Title: doc.Title, Status: StatusError, Error: err.Error()}
	}
	if len(vectors) != len(chunks) {
		return IngestResult{DocID: doc.ID, Title: doc.Title, Status: StatusError,
			Error: fmt.Sprintf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))}
	}
	ingestedAt := time.Now().UTC()
	for i := range chunks {
		chunks[i].Vector = vectors[i]
		chunks[i].IngestedAt = ingestedAt
	}

	// 7. Force-reindex clears any prior chunks for this document first.
	if forceReindex {
		if err := ig.store.DeleteByFilter(ctx, rag.Filter{DocID: &doc.ID}); err != nil {
			return IngestResult{DocID: doc.ID, Title: doc.Title, Status: StatusError, Error: err.Error()}
		}
	}

	// 8. Upsert the new chunk set, keyed by deterministic ChunkId.
	if err := ig.store.Upsert(ctx, chunks); err != nil {
		return IngestResult{DocID: doc.ID, Title: doc.Title, Status: StatusError, Error: err.Error()}
	}

	// 9. Success.
	return IngestResult{
		DocID:          doc.ID,
		Title:          doc.Title,
		Status:         StatusSuccess,
		ChunksCreated:  len(chunks),
		PagesProcessed: len(units),
	}
}

// hasExistingChunks reports whether any chunk for docID is already present
// in the vector store.
func (ig *Ingestor) hasExistingChunks(ctx context.Context, docID int) (bool, error) {
	page, err := ig.store.Scroll(ctx, rag.Filter{DocID: &docID}, 1, "")
	if err != nil {
		return false, err
	}
	return len(page.Chunks) > 0, nil
}

// buildChunks runs the chunker over every extracted unit and assembles the
// rag.Chunk records, assigning chunk_index sequentially across the whole
// document. Zero-length chunks are discarded.
func (ig *Ingestor) buildChunks(doc *dms.Document, units []extract.Unit) ([]rag.Chunk, []string) {
	var chunks []rag.Chunk
	var texts []string
	index := 0

	for _, unit := range units {
		for _, piece := range ig.chunker.Chunk(unit.Text, ig.chunkTokens, ig.overlapTokens) {
			if piece == "" {
				continue
			}
			chunks = append(chunks, rag.Chunk{
				ID:         chunkID(doc.ID, unit.Page, index),
				Text:       piece,
				DocID:      doc.ID,
				Title:      doc.Title,
				Page:       unit.Page,
				FileType:   doc.FileType,
				Tags:       doc.Tags,
				TokenCount: tokenbudget.Estimate(piece),
				ChunkIndex: index,
			})
			texts = append(texts, piece)
			index++
		}
	}
	return chunks, texts
}

// record writes rec as an IngestRecord to the ledger. Ledger write failures
// are logged but never surface to the caller of IngestOne.
func (ig *Ingestor) record(ctx context.Context, result IngestResult, started time.Time) {
	if ig.ledger == nil {
		return
	}
	rec := IngestRecord{
		DocID:          result.DocID,
		Title:          result.Title,
		Status:         result.Status,
		ChunksCreated:  result.ChunksCreated,
		PagesProcessed: result.PagesProcessed,
		Reason:         result.Reason,
		Error:          result.Error,
		StartedAt:      started,
		FinishedAt:     time.Now(),
	}
	if err := ig.ledger.Append(ctx, rec); err != nil {
		logging.FromContext(ctx).Warn("ingest: failed to write ledger record",
			slog.Int("doc_id", result.DocID), slog.Any("error", err))
	}
}

// IngestAll drives a sequence of IngestOne calls over the DMS-paged document
// list, continuing past individual document failures. progress, if non-nil,
// is invoked once per document with its IngestResult; it may be called from
// multiple goroutines when Concurrency > 1, but never concurrently with
// itself. Up to ig.concurrency documents are in flight at once; per-document
// atomicity of delete+upsert is preserved regardless, since IngestOne
// serializes on a per-doc_id lock. The batch surveys ctx between documents
// and stops cleanly at the next boundary once it is cancelled.
func (ig *Ingestor) IngestAll(ctx context.Context, updatedAfter *time.Time, forceReindex bool, progress func(IngestResult)) error {
	var progressMu sync.Mutex
	report := func(IngestResult) {}
	if progress != nil {
		report = func(r IngestResult) {
			progressMu.Lock()
			defer progressMu.Unlock()
			progress(r)
		}
	}

	const pageSize = 100
	ordering := "id"

	sem := make(chan struct{}, ig.concurrency)
	var wg sync.WaitGroup

	seen := 0
pages:
	for {
		select {
		case <-ctx.Done():
			break pages
		default:
		}

		page, err := ig.dms.ListDocuments(ctx, updatedAfter, pageSize, ordering)
		if err != nil {
			wg.Wait()
			return ragerr.New(ragerr.UpstreamDMSError, "ingest", "IngestAll", 0, err)
		}

		for _, doc := range page.Results {
			select {
			case <-ctx.Done():
				break pages
			default:
			}

			docID := doc.ID
			sem <- struct{}{}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				report(ig.IngestOne(ctx, docID, forceReindex))
			}()
		}

		seen += len(page.Results)
		if len(page.Results) < pageSize || seen >= page.Count {
			break
		}
	}

	wg.Wait()
	return nil
}

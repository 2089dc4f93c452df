package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/paperless-rag/ragserver-go/internal/answer"
	"github.com/paperless-rag/ragserver-go/internal/dms"
	"github.com/paperless-rag/ragserver-go/internal/ingest"
	"github.com/paperless-rag/ragserver-go/internal/rag"
	"github.com/prometheus/client_golang/prometheus"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 0.0.0.0).
	Host string
	// Port is the TCP port to listen on (default: 8088).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /ready
	// and GET /health. If empty, both report healthy with no checks.
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP (requests/second).
	// Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// EmbeddingModel is the configured embedding model identifier, reported by GET /stats.
	EmbeddingModel string
	// ChatModel is the configured default chat model identifier, reported by GET /stats.
	ChatModel string
	// MetricsRegistry is used to register server metrics. Defaults to
	// prometheus.DefaultRegisterer if nil.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer if nil.
	MetricsGatherer prometheus.Gatherer
}

// Deps are the constructed dependencies a Server dispatches requests to.
type Deps struct {
	// DMS is the document-management service client, used for document
	// listing/lookup/search passthroughs.
	DMS *dms.Client
	// VectorStore backs GET /stats' collection size reporting.
	VectorStore rag.VectorStore
	// Answer handles POST /ask.
	Answer *answer.Service
	// Ingestor handles POST /ingest.
	Ingestor *ingest.Ingestor
	// Ledger backs GET /ingest/history.
	Ledger ingest.Ledger
}

// Server is the HTTP server that exposes the RAG API.
type Server struct {
	deps Deps
	cfg  *Config

	httpServer *http.Server
	log        *slog.Logger
	pingers    []Pinger
	stopRL     func()
	metrics    *serverMetrics

	// bgCtx is cancelled on Shutdown. Background work spawned by a handler
	// (e.g. a batch ingest run) must use this instead of the triggering
	// request's context, since the latter is cancelled as soon as the
	// handler returns.
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// askRequestBody is the JSON body for POST /ask.
type askRequestBody struct {
	// Query is the natural-language question.
	Query string `json:"query"`
	// TopK overrides the default number of chunks retrieved, if positive.
	TopK int `json:"top_k,omitempty"`
	// FilterTags restricts retrieval to chunks from documents carrying any of these tags.
	FilterTags []string `json:"filter_tags,omitempty"`
	// AllowGeneralChat permits a non-document-grounded LLM answer when
	// retrieval yields nothing or the query does not look document-related.
	AllowGeneralChat bool `json:"allow_general_chat,omitempty"`
	// History is prior turns of the conversation, oldest first.
	History []chatTurn `json:"history,omitempty"`
	// Model overrides the default chat model for this request.
	Model string `json:"model,omitempty"`
}

// chatTurn is one entry of askRequestBody.History.
type chatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// citationBody is the JSON rendering of answer.Citation.
type citationBody struct {
	DocID   int     `json:"doc_id"`
	Title   string  `json:"title"`
	Page    int     `json:"page,omitempty"`
	Score   float32 `json:"score"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
}

// askResponseBody is the JSON response for POST /ask.
type askResponseBody struct {
	Answer    string         `json:"answer"`
	Citations []citationBody `json:"citations"`
	Query     string         `json:"query"`
	ModelUsed string         `json:"model_used"`
}

// ingestRequestBody is the JSON body for POST /ingest.
type ingestRequestBody struct {
	// DocID, if set, ingests a single document synchronously.
	DocID *int `json:"doc_id,omitempty"`
	// ForceReindex deletes and rewrites any existing chunks for the target document(s).
	ForceReindex bool `json:"force_reindex,omitempty"`
	// UpdatedAfter restricts a batch ingest to documents modified after this instant.
	UpdatedAfter *time.Time `json:"updated_after,omitempty"`
}

// ingestResultBody is the JSON rendering of one ingest.IngestResult.
type ingestResultBody struct {
	DocID          int    `json:"doc_id"`
	Title          string `json:"title,omitempty"`
	Status         string `json:"status"`
	ChunksCreated  int    `json:"chunks_created,omitempty"`
	PagesProcessed int    `json:"pages_processed,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Error          string `json:"error,omitempty"`
}

// ingestResponseBody is the JSON response for POST /ingest.
type ingestResponseBody struct {
	// Mode is "sync" when doc_id was set, "batch" otherwise.
	Mode string `json:"mode"`
	// Result is populated for Mode == "sync".
	Result *ingestResultBody `json:"result,omitempty"`
	// Started is true for Mode == "batch" once the background run has been launched.
	Started bool `json:"started,omitempty"`
}

// ingestHistoryResponseBody is the JSON response for GET /ingest/history.
type ingestHistoryResponseBody struct {
	Records []ingestRecordBody `json:"records"`
}

// ingestRecordBody is the JSON rendering of one ingest.IngestRecord.
type ingestRecordBody struct {
	DocID          int       `json:"doc_id"`
	Title          string    `json:"title,omitempty"`
	Status         string    `json:"status"`
	ChunksCreated  int       `json:"chunks_created,omitempty"`
	PagesProcessed int       `json:"pages_processed,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Error          string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// documentBody is the JSON rendering of one dms.Document.
type documentBody struct {
	ID               int      `json:"id"`
	Title            string   `json:"title"`
	OriginalFileName string   `json:"original_file_name"`
	FileType         string   `json:"file_type"`
	Tags             []string `json:"tags,omitempty"`
}

// documentsResponseBody is the JSON response for GET /documents and GET /documents/search.
type documentsResponseBody struct {
	Count     int            `json:"count"`
	Documents []documentBody `json:"documents"`
}

// statsResponseBody is the JSON response for GET /stats.
type statsResponseBody struct {
	DocumentCount   int               `json:"document_count"`
	ChunkCount      uint64            `json:"chunk_count"`
	VectorCount     uint64            `json:"vector_count"`
	CollectionState string            `json:"collection_state"`
	EmbeddingModel  string            `json:"embedding_model"`
	ChatModel       string            `json:"chat_model"`
	ChunkSummary    *chunkSummaryBody `json:"chunk_summary,omitempty"`
}

// chunkSummaryBody is the JSON rendering of rag.ChunkSummary, included in
// GET /stats when the caller passes ?summary=true.
type chunkSummaryBody struct {
	TotalChunks           int            `json:"total_chunks"`
	UniqueDocuments       int            `json:"unique_documents"`
	AverageTokensPerChunk float64        `json:"average_tokens_per_chunk"`
	FileTypeDistribution  map[string]int `json:"file_type_distribution"`
	TopTags               map[string]int `json:"top_tags"`
}

// indexResponseBody is the JSON response for GET /.
type indexResponseBody struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Endpoints   []string `json:"endpoints"`
}

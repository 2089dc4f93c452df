package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/paperless-rag/ragserver-go/internal/answer"
	"github.com/paperless-rag/ragserver-go/internal/dms"
	"github.com/paperless-rag/ragserver-go/internal/ingest"
	"github.com/paperless-rag/ragserver-go/internal/logging"
	"github.com/paperless-rag/ragserver-go/internal/ragerr"
	"github.com/paperless-rag/ragserver-go/internal/tokenbudget"
)

// maxRequestBodyBytes bounds every JSON request body this server accepts.
const maxRequestBodyBytes = 1 << 20 // 1 MiB

// defaultDocumentsLimit is used by GET /documents and /documents/search when
// the caller omits a limit.
const defaultDocumentsLimit = 25

// writeJSON encodes v as the JSON response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as a JSON error body, using ragerr.HTTPStatus to
// pick the status code when err carries a structured Kind.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := ragerr.HTTPStatus(ragerr.KindOf(err))
	logging.FromContext(r.Context()).Error("request failed", slog.Any("error", err))
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleAsk handles POST /ask.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)

	var body askRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Query) == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	history := make([]tokenbudget.Message, len(body.History))
	for i, h := range body.History {
		history[i] = tokenbudget.Message{Role: h.Role, Content: h.Content}
	}

	start := time.Now()
	resp, err := s.deps.Answer.Ask(r.Context(), answer.AskRequest{
		Query:            body.Query,
		TopK:             body.TopK,
		FilterTags:       body.FilterTags,
		AllowGeneralChat: body.AllowGeneralChat,
		History:          history,
		Model:            body.Model,
	})
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.askRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.askDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		writeError(w, r, err)
		return
	}

	citations := make([]citationBody, len(resp.Citations))
	for i, c := range resp.Citations {
		citations[i] = citationBody{
			DocID: c.DocID, Title: c.Title, Page: c.Page, Score: c.Score, URL: c.URL, Snippet: c.Snippet,
		}
	}
	writeJSON(w, http.StatusOK, askResponseBody{
		Answer:    resp.Answer,
		Citations: citations,
		Query:     resp.Query,
		ModelUsed: resp.ModelUsed,
	})
}

// handleIngest handles POST /ingest. A request naming doc_id ingests that
// document synchronously and returns its result; otherwise a background
// batch run is launched over the DMS listing and the response reports only
// that the run started.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)

	var body ingestRequestBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	if body.DocID != nil {
		start := time.Now()
		result := s.deps.Ingestor.IngestOne(r.Context(), *body.DocID, body.ForceReindex)
		s.metrics.ingestRequestsTotal.WithLabelValues(result.Status).Inc()
		s.metrics.ingestDurationSeconds.Observe(time.Since(start).Seconds())

		writeJSON(w, http.StatusOK, ingestResponseBody{
			Mode:   "sync",
			Result: toIngestResultBody(result),
		})
		return
	}

	log := logging.FromContext(r.Context())
	go func() {
		// s.bgCtx, not r.Context(): the request context is cancelled as
		// soon as this handler returns, which happens immediately below.
		bgCtx := logging.WithLogger(s.bgCtx, log)
		err := s.deps.Ingestor.IngestAll(bgCtx, body.UpdatedAfter, body.ForceReindex, func(result ingest.IngestResult) {
			s.metrics.ingestRequestsTotal.WithLabelValues(result.Status).Inc()
		})
		if err != nil {
			log.Error("batch ingest failed", slog.Any("error", err))
		}
	}()

	writeJSON(w, http.StatusAccepted, ingestResponseBody{Mode: "batch", Started: true})
}

func toIngestResultBody(r ingest.IngestResult) *ingestResultBody {
	return &ingestResultBody{
		DocID: r.DocID, Title: r.Title, Status: r.Status,
		ChunksCreated: r.ChunksCreated, PagesProcessed: r.PagesProcessed,
		Reason: r.Reason, Error: r.Error,
	}
}

// handleIngestHistory handles GET /ingest/history.
func (s *Server) handleIngestHistory(w http.ResponseWriter, r *http.Request) {
	n := defaultDocumentsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}

	records, err := s.deps.Ledger.Recent(r.Context(), n)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]ingestRecordBody, len(records))
	for i, rec := range records {
		out[i] = ingestRecordBody{
			DocID: rec.DocID, Title: rec.Title, Status: rec.Status,
			ChunksCreated: rec.ChunksCreated, PagesProcessed: rec.PagesProcessed,
			Reason: rec.Reason, Error: rec.Error,
			StartedAt: rec.StartedAt, FinishedAt: rec.FinishedAt,
		}
	}
	writeJSON(w, http.StatusOK, ingestHistoryResponseBody{Records: out})
}

// handleDocuments handles GET /documents with limit/offset pagination.
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultDocumentsLimit)
	offset := queryInt(r, "offset", 0)

	page, err := s.deps.DMS.ListDocumentsPage(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documentsResponseBody{Count: page.Count, Documents: toDocumentBodies(page.Results)})
}

// handleDocument handles GET /documents/{id}.
func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid document id", http.StatusBadRequest)
		return
	}

	doc, err := s.deps.DMS.GetDocument(r.Context(), id)
	if err != nil {
		if ragerr.KindOf(err) == ragerr.NotFound {
			http.Error(w, "document not found", http.StatusNotFound)
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentBody(*doc))
}

// handleDocumentsSearch handles GET /documents/search?q=&limit=, ranking
// title-substring matches with exact prefix matches first, then
// lexicographically.
func (s *Server) handleDocumentsSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		http.Error(w, "q is required", http.StatusBadRequest)
		return
	}
	limit := queryInt(r, "limit", defaultDocumentsLimit)

	docs, err := s.deps.DMS.SearchDocumentsByTitle(r.Context(), q, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	lowerQ := strings.ToLower(q)
	sort.SliceStable(docs, func(i, j int) bool {
		iPrefix := strings.HasPrefix(strings.ToLower(docs[i].Title), lowerQ)
		jPrefix := strings.HasPrefix(strings.ToLower(docs[j].Title), lowerQ)
		if iPrefix != jPrefix {
			return iPrefix
		}
		return docs[i].Title < docs[j].Title
	})

	writeJSON(w, http.StatusOK, documentsResponseBody{Count: len(docs), Documents: toDocumentBodies(docs)})
}

// handleStats handles GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.VectorStore.GetCollectionStats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	docCount := 0
	if page, err := s.deps.DMS.ListDocuments(r.Context(), nil, 1, ""); err == nil {
		docCount = page.Count
	}

	resp := statsResponseBody{
		DocumentCount:   docCount,
		ChunkCount:      stats.PointsCount,
		VectorCount:     stats.VectorsCount,
		CollectionState: stats.Status,
		EmbeddingModel:  s.cfg.EmbeddingModel,
		ChatModel:       s.cfg.ChatModel,
	}

	if r.URL.Query().Get("summary") == "true" {
		summary, err := s.deps.VectorStore.GetChunksSummary(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		topTags := make(map[string]int, len(summary.TopTags))
		for _, t := range summary.TopTags {
			topTags[t.Tag] = t.Count
		}
		resp.ChunkSummary = &chunkSummaryBody{
			TotalChunks:           summary.TotalChunks,
			UniqueDocuments:       summary.UniqueDocuments,
			AverageTokensPerChunk: summary.AverageTokensPerChunk,
			FileTypeDistribution:  summary.FileTypeDistribution,
			TopTags:               topTags,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func toDocumentBody(d dms.Document) documentBody {
	return documentBody{ID: d.ID, Title: d.Title, OriginalFileName: d.OriginalFileName, FileType: d.FileType, Tags: d.Tags}
}

func toDocumentBodies(docs []dms.Document) []documentBody {
	out := make([]documentBody, len(docs))
	for i, d := range docs {
		out[i] = toDocumentBody(d)
	}
	return out
}

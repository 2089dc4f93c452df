package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/paperless-rag/ragserver-go/internal/answer"
	"github.com/paperless-rag/ragserver-go/internal/chunk"
	"github.com/paperless-rag/ragserver-go/internal/dms"
	"github.com/paperless-rag/ragserver-go/internal/ingest"
	"github.com/paperless-rag/ragserver-go/internal/llm"
	"github.com/paperless-rag/ragserver-go/internal/rag"
	"github.com/paperless-rag/ragserver-go/internal/tokenbudget"
)

// --- fakes -------------------------------------------------------------

type fakeRetriever struct {
	results []rag.ScoredChunk
	err     error
}

func (f *fakeRetriever) HybridSearch(ctx context.Context, query string, topK int, filterTags []string, keywordBoost float32) ([]rag.ScoredChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type fakeLLM struct {
	completion llm.Completion
	err        error
}

func (f *fakeLLM) Complete(ctx context.Context, messages []tokenbudget.Message, model string) (llm.Completion, error) {
	if f.err != nil {
		return llm.Completion{}, f.err
	}
	return f.completion, nil
}

type fakeURLBuilder struct{}

func (fakeURLBuilder) BuildDocumentURL(docID int) string {
	return fmt.Sprintf("https://dms.example.com/documents/%d/", docID)
}

type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) Dimension() int { return f.dim }
func (f *fakeEmbedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

type fakeVectorStore struct {
	stats      rag.CollectionStats
	statsErr   error
	summary    rag.ChunkSummary
	summaryErr error
}

func (f *fakeVectorStore) EnsureCollection(ctx context.Context, dim int) error { return nil }
func (f *fakeVectorStore) Upsert(ctx context.Context, chunks []rag.Chunk) error {
	return nil
}
func (f *fakeVectorStore) DeleteByFilter(ctx context.Context, filter rag.Filter) error { return nil }
func (f *fakeVectorStore) Search(ctx context.Context, queryVector []float32, topK int, filter rag.Filter, scoreThreshold float32) ([]rag.ScoredChunk, error) {
	return nil, nil
}
func (f *fakeVectorStore) Scroll(ctx context.Context, filter rag.Filter, limit int, offset string) (rag.Page, error) {
	return rag.Page{}, nil
}
func (f *fakeVectorStore) GetCollectionStats(ctx context.Context) (rag.CollectionStats, error) {
	if f.statsErr != nil {
		return rag.CollectionStats{}, f.statsErr
	}
	return f.stats, nil
}
func (f *fakeVectorStore) GetChunksSummary(ctx context.Context) (rag.ChunkSummary, error) {
	return f.summary, f.summaryErr
}
func (f *fakeVectorStore) Close() error { return nil }

type fakeLedger struct {
	records []ingest.IngestRecord
}

func (f *fakeLedger) Append(ctx context.Context, rec ingest.IngestRecord) error {
	f.records = append(f.records, rec)
	return nil
}
func (f *fakeLedger) Recent(ctx context.Context, n int) ([]ingest.IngestRecord, error) {
	if n < len(f.records) {
		return f.records[:n], nil
	}
	return f.records, nil
}
func (f *fakeLedger) Close() error { return nil }

// newDMSTestServer returns a real *dms.Client wired against an httptest
// server serving the given paperless-ngx-shaped document list JSON.
func newDMSTestServer(t *testing.T, handler http.HandlerFunc) *dms.Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return dms.New(dms.Config{BaseURL: ts.URL, APIToken: "test-token"})
}

func newFullTestServer(t *testing.T, dmsHandler http.HandlerFunc) *Server {
	t.Helper()
	dmsClient := newDMSTestServer(t, dmsHandler)

	svc := answer.New(&fakeRetriever{}, &fakeLLM{completion: llm.Completion{Answer: "the answer", Model: "test-model"}}, fakeURLBuilder{}, answer.Config{})

	store := &fakeVectorStore{stats: rag.CollectionStats{PointsCount: 10, VectorsCount: 10, SegmentsCount: 1, Status: "green"}}
	ledger := &fakeLedger{}
	ingestor := ingest.NewIngestor(dmsClient, chunk.New(""), &fakeEmbedder{dim: 8}, store, ledger, ingest.Config{})

	s, err := New(Deps{
		DMS:         dmsClient,
		VectorStore: store,
		Answer:      svc,
		Ingestor:    ingestor,
		Ledger:      ledger,
	}, &Config{EmbeddingModel: "embed-test", ChatModel: "chat-test", MetricsRegistry: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// --- handleAsk -----------------------------------------------------------

func TestHandleAsk_RejectsEmptyQuery(t *testing.T) {
	t.Parallel()
	s := newFullTestServer(t, func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(`{"query":""}`))
	w := httptest.NewRecorder()
	s.handleAsk(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", w.Code)
	}
}

func TestHandleAsk_GeneralChatFallback(t *testing.T) {
	t.Parallel()
	s := newFullTestServer(t, func(w http.ResponseWriter, r *http.Request) {})

	body := `{"query":"what is the weather today?","allow_general_chat":true}`
	req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.handleAsk(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d — body %s", w.Code, w.Body.String())
	}
	var resp askResponseBody
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Answer != "the answer" {
		t.Errorf("answer = %q", resp.Answer)
	}
}

// --- handleStats -----------------------------------------------------------

func TestHandleStats(t *testing.T) {
	t.Parallel()
	s := newFullTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count":3,"next":null,"previous":null,"results":[]}`))
	})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	s.handleStats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d — body %s", w.Code, w.Body.String())
	}
	var resp statsResponseBody
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.DocumentCount != 3 {
		t.Errorf("DocumentCount = %d, want 3", resp.DocumentCount)
	}
	if resp.ChunkCount != 10 {
		t.Errorf("ChunkCount = %d, want 10", resp.ChunkCount)
	}
	if resp.EmbeddingModel != "embed-test" || resp.ChatModel != "chat-test" {
		t.Errorf("models = %q/%q", resp.EmbeddingModel, resp.ChatModel)
	}
}

func TestHandleStats_WithChunkSummary(t *testing.T) {
	t.Parallel()
	s := newFullTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count":1,"next":null,"previous":null,"results":[]}`))
	})
	s.deps.VectorStore.(*fakeVectorStore).summary = rag.ChunkSummary{
		TotalChunks:           4,
		UniqueDocuments:       2,
		AverageTokensPerChunk: 12.5,
		FileTypeDistribution:  map[string]int{"pdf": 3, "docx": 1},
		TopTags:               []rag.TagCount{{Tag: "finance", Count: 3}, {Tag: "hr", Count: 1}},
	}

	req := httptest.NewRequest(http.MethodGet, "/stats?summary=true", nil)
	w := httptest.NewRecorder()
	s.handleStats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d — body %s", w.Code, w.Body.String())
	}
	var resp statsResponseBody
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ChunkSummary == nil {
		t.Fatal("ChunkSummary = nil, want populated")
	}
	if resp.ChunkSummary.TotalChunks != 4 || resp.ChunkSummary.UniqueDocuments != 2 {
		t.Errorf("summary = %+v", resp.ChunkSummary)
	}
	if resp.ChunkSummary.TopTags["finance"] != 3 {
		t.Errorf("TopTags[finance] = %d, want 3", resp.ChunkSummary.TopTags["finance"])
	}
}

func TestHandleStats_WithoutSummaryParamOmitsField(t *testing.T) {
	t.Parallel()
	s := newFullTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count":1,"next":null,"previous":null,"results":[]}`))
	})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	s.handleStats(w, req)

	var resp statsResponseBody
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ChunkSummary != nil {
		t.Errorf("ChunkSummary = %+v, want nil", resp.ChunkSummary)
	}
}

// --- handleDocument --------------------------------------------------------

func TestHandleDocument_NotFound(t *testing.T) {
	t.Parallel()
	s := newFullTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/documents/42", nil)
	req.SetPathValue("id", "42")
	w := httptest.NewRecorder()
	s.handleDocument(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", w.Code)
	}
}

func TestHandleDocument_InvalidID(t *testing.T) {
	t.Parallel()
	s := newFullTestServer(t, func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/documents/abc", nil)
	req.SetPathValue("id", "abc")
	w := httptest.NewRecorder()
	s.handleDocument(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", w.Code)
	}
}

func TestHandleDocument_Found(t *testing.T) {
	t.Parallel()
	s := newFullTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":7,"title":"Invoice","original_file_name":"invoice.pdf","tags":["billing"]}`))
	})

	req := httptest.NewRequest(http.MethodGet, "/documents/7", nil)
	req.SetPathValue("id", "7")
	w := httptest.NewRecorder()
	s.handleDocument(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d — body %s", w.Code, w.Body.String())
	}
	var body documentBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ID != 7 || body.Title != "Invoice" {
		t.Errorf("body = %+v", body)
	}
}

// --- handleDocuments ---------------------------------------------------

func TestHandleDocuments_Pagination(t *testing.T) {
	t.Parallel()
	var gotPage, gotPageSize string
	s := newFullTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPage = r.URL.Query().Get("page")
		gotPageSize = r.URL.Query().Get("page_size")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count":0,"next":null,"previous":null,"results":[]}`))
	})

	req := httptest.NewRequest(http.MethodGet, "/documents?limit=25&offset=50", nil)
	w := httptest.NewRecorder()
	s.handleDocuments(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", w.Code)
	}
	if gotPage != "3" || gotPageSize != "25" {
		t.Errorf("page=%q page_size=%q, want 3/25", gotPage, gotPageSize)
	}
}

// --- handleDocumentsSearch -----------------------------------------------

func TestHandleDocumentsSearch_RequiresQuery(t *testing.T) {
	t.Parallel()
	s := newFullTestServer(t, func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/documents/search", nil)
	w := httptest.NewRecorder()
	s.handleDocumentsSearch(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", w.Code)
	}
}

func TestHandleDocumentsSearch_PrefixMatchesRankFirst(t *testing.T) {
	t.Parallel()
	s := newFullTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count":2,"next":null,"previous":null,"results":[
			{"id":1,"title":"Zebra Invoice","original_file_name":"a.pdf"},
			{"id":2,"title":"Invoice 2024","original_file_name":"b.pdf"}
		]}`))
	})

	req := httptest.NewRequest(http.MethodGet, "/documents/search?q=invoice", nil)
	w := httptest.NewRecorder()
	s.handleDocumentsSearch(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d — body %s", w.Code, w.Body.String())
	}
	var resp documentsResponseBody
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Documents) != 2 {
		t.Fatalf("want 2 documents, got %d", len(resp.Documents))
	}
	if resp.Documents[0].Title != "Invoice 2024" {
		t.Errorf("first result = %q, want prefix match first", resp.Documents[0].Title)
	}
}

// --- handleIngest ----------------------------------------------------------

func TestHandleIngest_SyncSingleDocument(t *testing.T) {
	t.Parallel()
	s := newFullTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(r.URL.Path, "/download"):
			_, _ = w.Write([]byte("plain text content"))
		default:
			_, _ = w.Write([]byte(`{"id":9,"title":"Memo","original_file_name":"memo.txt"}`))
		}
	})

	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(`{"doc_id":9}`))
	w := httptest.NewRecorder()
	s.handleIngest(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d — body %s", w.Code, w.Body.String())
	}
	var resp ingestResponseBody
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Mode != "sync" || resp.Result == nil {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Result.DocID != 9 {
		t.Errorf("DocID = %d, want 9", resp.Result.DocID)
	}
}

func TestHandleIngest_BatchStartsAsync(t *testing.T) {
	t.Parallel()
	s := newFullTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count":0,"next":null,"previous":null,"results":[]}`))
	})

	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	s.handleIngest(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("want 202, got %d", w.Code)
	}
	var resp ingestResponseBody
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Mode != "batch" || !resp.Started {
		t.Fatalf("resp = %+v", resp)
	}
}

// --- handleIngestHistory -----------------------------------------------

func TestHandleIngestHistory(t *testing.T) {
	t.Parallel()
	s := newFullTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	ledger := s.deps.Ledger.(*fakeLedger)
	ledger.records = []ingest.IngestRecord{
		{DocID: 1, Title: "A", Status: ingest.StatusSuccess, StartedAt: time.Now(), FinishedAt: time.Now()},
	}

	req := httptest.NewRequest(http.MethodGet, "/ingest/history", nil)
	w := httptest.NewRecorder()
	s.handleIngestHistory(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", w.Code)
	}
	var resp ingestHistoryResponseBody
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Records) != 1 || resp.Records[0].DocID != 1 {
		t.Errorf("records = %+v", resp.Records)
	}
}

// --- pure helpers ------------------------------------------------------

func TestQueryInt(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodGet, "/?limit=5&bad=-1", nil)
	if got := queryInt(req, "limit", 10); got != 5 {
		t.Errorf("limit = %d, want 5", got)
	}
	if got := queryInt(req, "missing", 10); got != 10 {
		t.Errorf("missing = %d, want fallback 10", got)
	}
	if got := queryInt(req, "bad", 10); got != 10 {
		t.Errorf("bad = %d, want fallback 10 for negative value", got)
	}
}

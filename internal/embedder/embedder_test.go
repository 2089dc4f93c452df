package embedder

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/paperless-rag/ragserver-go/internal/config"
	"github.com/paperless-rag/ragserver-go/internal/ragerr"
)

func TestOpenAIEmbedder_Encode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		var req openaiEmbedRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(openaiEmbedResponse{
			Data: []struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{
				{Embedding: []float32{0.1, 0.2}, Index: 1},
				{Embedding: []float32{0.3, 0.4}, Index: 0},
			},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "bge-m3", Dimensions: 2})
	if e.Dimension() != 2 {
		t.Fatalf("Dimension() = %d, want 2", e.Dimension())
	}

	got, err := e.Encode(t.Context(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if got[0][0] != 0.3 || got[1][0] != 0.1 {
		t.Errorf("Encode() did not re-sort by index: %+v", got)
	}
}

func TestOpenAIEmbedder_UpstreamErrorSurfacesAsEmbeddingError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "invalid key"}})
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL, APIKey: "bad", Model: "bge-m3"})
	_, err := e.Encode(t.Context(), []string{"x"})
	if ragerr.KindOf(err) != ragerr.EmbeddingError {
		t.Errorf("KindOf = %v, want EmbeddingError", ragerr.KindOf(err))
	}
}

func TestOllamaEmbedder_Encode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbedResponse{
			Embeddings: [][]float32{{0.1, 0.2}, {0.3, 0.4}},
		})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Model: "nomic-embed-text", Dimensions: 768})
	got, err := e.Encode(t.Context(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(got))
	}
}

func TestNewFromConfig_OllamaDefaults(t *testing.T) {
	cfg := &config.Config{}
	cfg.Embedding.Provider = "ollama"

	emb, err := NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewFromConfig() error: %v", err)
	}
	if emb.Dimension() != defaultOllamaDimensions {
		t.Errorf("Dimension() = %d, want %d", emb.Dimension(), defaultOllamaDimensions)
	}
}

func TestNewFromConfig_OpenAIRequiresAPIKey(t *testing.T) {
	cfg := &config.Config{}
	cfg.Embedding.Provider = "openai"

	if _, err := NewFromConfig(cfg); err == nil {
		t.Fatal("expected error when EMBEDDING_API_KEY is missing")
	}
}

func TestNewFromConfig_UnknownProvider(t *testing.T) {
	cfg := &config.Config{}
	cfg.Embedding.Provider = "bedrock"

	if _, err := NewFromConfig(cfg); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestValidateForRAG_WarnsOnChatModel(t *testing.T) {
	cfg := &config.Config{}
	cfg.Embedding.Provider = "ollama"
	cfg.Embedding.Model = "llama3"

	var buf bytes.Buffer
	if err := ValidateForRAG(cfg, slog.New(slog.NewTextHandler(&buf, nil))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "looks like a chat model") {
		t.Errorf("expected a chat-model warning, got log %q", buf.String())
	}
}

func TestValidateForRAG_RejectsMissingOpenAIKey(t *testing.T) {
	cfg := &config.Config{}
	cfg.Embedding.Provider = "openai"

	if err := ValidateForRAG(cfg, slog.Default()); err == nil {
		t.Fatal("expected error for missing EMBEDDING_API_KEY")
	}
}

package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/paperless-rag/ragserver-go/internal/ragerr"
)

// OllamaEmbedder implements rag.Embedder using the Ollama /api/embed
// endpoint. It is safe for concurrent use. No API key is required — Ollama
// runs locally.
type OllamaEmbedder struct {
	host       string
	model      string
	dimensions int
	client     *http.Client
}

// OllamaConfig holds the settings for constructing an OllamaEmbedder.
type OllamaConfig struct {
	// Host is the Ollama server base URL, e.g. "http://localhost:11434".
	Host string
	// Model is the embedding model name, e.g. "nomic-embed-text".
	Model string
	// Dimensions is the known output vector length.
	Dimensions int
}

// NewOllamaEmbedder constructs an OllamaEmbedder from the given config.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	return &OllamaEmbedder{
		host:       cfg.Host,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: 60 * time.Second},
	}
}

// Dimension returns the fixed length of vectors this embedder produces.
func (e *OllamaEmbedder) Dimension() int { return e.dimensions }

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Encode converts a batch of texts into their corresponding embeddings.
// The returned slice is parallel to the input slice.
func (e *OllamaEmbedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	body := ollamaEmbedRequest{Model: e.model, Input: texts}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, ragerr.New(ragerr.EmbeddingError, component, "Encode", 0, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, ragerr.New(ragerr.EmbeddingError, component, "Encode", 0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, ragerr.New(ragerr.EmbeddingError, component, "Encode", 0, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, ragerr.New(ragerr.EmbeddingError, component, "Encode", resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if result.Error != "" {
			msg = result.Error
		}
		return nil, ragerr.New(ragerr.EmbeddingError, component, "Encode", resp.StatusCode, fmt.Errorf("%s", msg))
	}

	if len(result.Embeddings) != len(texts) {
		return nil, ragerr.New(ragerr.EmbeddingError, component, "Encode", resp.StatusCode,
			fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings)))
	}

	return result.Embeddings, nil
}

// Package embedder provides implementations of the rag.Embedder interface
// for converting text into dense vector embeddings. Each implementation
// talks to a different backend (OpenAI-compatible, Ollama) via plain HTTP —
// no additional SDK dependency is required.
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

const component = "embedder"

// OpenAIEmbedder implements rag.Embedder using an OpenAI-compatible
// embeddings REST API. It is safe for concurrent use.
type OpenAIEmbedder struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	client     *http.Client
}

// OpenAIConfig holds the settings for constructing an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL is the API base URL, e.g. "https://api.openai.com/v1".
	BaseURL string
	// APIKey is the bearer token.
	APIKey string
	// Model is the embedding model name, e.g. "BAAI/bge-m3".
	Model string
	// Dimensions is the known output vector length.
	Dimensions int
}

// NewOpenAIEmbedder constructs an OpenAIEmbedder from the given config.
func NewOpenAIEmbedder(cfg OpenAIConfig) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Dimension returns the fixed length of vectors this embedder produces.
func (e *OpenAIEmbedder) Dimension() int { return e.dimensions }

type openaiEmbedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Encode converts a batch of texts into their corresponding embeddings.
// The returned slice is parallel to the input slice.
func (e *OpenAIEmbedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	body := openaiEmbedRequest{Input: texts, Model: e.model}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, ragerr.New(ragerr.EmbeddingError, component, "Encode", 0, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, ragerr.New(ragerr.EmbeddingError, component, "Encode", 0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, ragerr.New(ragerr.EmbeddingError, component, "Encode", 0, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	var result openaiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, ragerr.New(ragerr.EmbeddingError, component, "Encode", resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if result.Error != nil {
			msg = result.Error.Message
		}
		return nil, ragerr.New(ragerr.EmbeddingError, component, "Encode", resp.StatusCode, fmt.Errorf("%s", msg))
	}

	if len(result.Data) != len(texts) {
		return nil, ragerr.New(ragerr.EmbeddingError, component, "Encode", resp.StatusCode,
			fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Data)))
	}

	embeddings := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, ragerr.New(ragerr.EmbeddingError, component, "Encode", resp.StatusCode,
				fmt.Errorf("index %d out of range [0, %d)", d.Index, len(texts)))
		}
		embeddings[d.Index] = d.Embedding
	}

	return embeddings, nil
}

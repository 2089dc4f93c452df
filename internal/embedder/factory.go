package embedder

import (
	"fmt"

	"github.com/paperless-rag/ragserver-go/internal/config"
	"github.com/paperless-rag/ragserver-go/internal/rag"
)

// Default embedding models and vector sizes per backend, used when
// EMBEDDING_MODEL/EMBEDDING_DIMENSIONS are not explicitly configured.
const (
	defaultOllamaModel      = "nomic-embed-text"
	defaultOllamaDimensions = 768
	defaultOpenAIDimensions = 1536
)

// NewFromConfig constructs a rag.Embedder for cfg.Embedding.Provider.
// EMBEDDING_DIMENSIONS always takes precedence over the backend default
// when set; otherwise the backend's known default is used.
func NewFromConfig(cfg *config.Config) (rag.Embedder, error) {
	e := cfg.Embedding
	dims := e.Dimensions
	if dims <= 0 {
		dims = defaultDimensions(e.Provider)
	}

	switch e.Provider {
	case "ollama":
		host := e.Endpoint
		if host == "" {
			host = "http://localhost:11434"
		}
		model := e.Model
		if model == "" {
			model = defaultOllamaModel
		}
		return NewOllamaEmbedder(OllamaConfig{Host: host, Model: model, Dimensions: dims}), nil

	case "openai", "":
		if e.APIKey == "" {
			return nil, fmt.Errorf("embedder: openai backend requires EMBEDDING_API_KEY")
		}
		baseURL := e.Endpoint
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		return NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:    baseURL,
			APIKey:     e.APIKey,
			Model:      e.Model,
			Dimensions: dims,
		}), nil

	default:
		return nil, fmt.Errorf("embedder: unknown EMBEDDING_PROVIDER %q — valid values: ollama, openai", e.Provider)
	}
}

func defaultDimensions(backend string) int {
	if backend == "ollama" {
		return defaultOllamaDimensions
	}
	return defaultOpenAIDimensions
}

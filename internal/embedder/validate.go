package embedder

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/paperless-rag/ragserver-go/internal/config"
)

// knownChatModelPrefixes contains name fragments that identify chat/completion
// models which are NOT suitable for embedding. If EMBEDDING_MODEL matches any
// of these, a warning is emitted so the operator knows they may have
// misconfigured the pipeline.
var knownChatModelPrefixes = []string{
	"gpt-4", "gpt-3.5", "gpt-35", "o1", "o3",
	"llama3", "llama2", "llama-3", "llama-2",
	"mistral", "mixtral", "gemma", "phi-", "phi3",
	"claude", "command-r", "deepseek", "qwen", "solar", "vicuna", "falcon", "yi-",
}

func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// ValidateForRAG checks that the embedder configuration is safe to use,
// returning an error if it is clearly broken (e.g. openai backend with no
// API key), and logging a warning if EMBEDDING_MODEL looks like a chat
// model rather than an embedding model.
//
// This is a preflight check — call it before constructing the embedder or
// the vector store so operators get a clear error at startup rather than a
// cryptic failure during the first embed call.
func ValidateForRAG(cfg *config.Config, log *slog.Logger) error {
	switch cfg.Embedding.Provider {
	case "openai", "":
		if cfg.Embedding.APIKey == "" {
			return fmt.Errorf("embedder: EMBEDDING_PROVIDER=openai requires EMBEDDING_API_KEY")
		}
	case "ollama":
		// No credentials required.
	default:
		return fmt.Errorf("embedder: unknown EMBEDDING_PROVIDER %q — valid values: ollama, openai", cfg.Embedding.Provider)
	}

	if cfg.Embedding.Model != "" && looksLikeChatModel(cfg.Embedding.Model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model — "+
			"this will likely produce poor or broken embeddings",
			slog.String("model", cfg.Embedding.Model),
			slog.String("hint", "use a dedicated embedding model, e.g. BAAI/bge-m3, nomic-embed-text"),
		)
	}

	return nil
}

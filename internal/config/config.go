// Package config provides YAML-based configuration for ragserver.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so existing deployments are unaffected.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. RAGSERVER_CONFIG environment variable
//  3. ~/.ragserver/config.yaml
//  4. ./ragserver.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// DMS configures the document-management service connection.
	DMS DMSConfig `yaml:"dms"`

	// LLM configures the chat-completions gateway.
	LLM LLMConfig `yaml:"llm"`

	// Embedding configures the embedding backend.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Qdrant configures the vector store connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// RAG configures retrieval and chunking parameters.
	RAG RAGConfig `yaml:"rag"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Ingest configures the background ingestion driver and its local ledger.
	Ingest IngestConfig `yaml:"ingest"`
}

// DMSConfig holds document-management service connection settings.
type DMSConfig struct {
	// BaseURL is the DMS API base, e.g. "https://paperless.example.com".
	BaseURL string `yaml:"base_url"`
	// APIToken is the long-lived bearer token. Prefer env var PAPERLESS_API_TOKEN.
	APIToken string `yaml:"api_token"`
}

// LLMConfig holds chat-completions gateway settings.
type LLMConfig struct {
	// APIKey authenticates to the gateway. Prefer env var OPENROUTER_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the default chat model identifier.
	Model string `yaml:"model"`
	// BaseURL is the OpenAI-compatible chat-completions base, defaulting to OpenRouter.
	BaseURL string `yaml:"base_url"`
}

// EmbeddingConfig holds embedding backend settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend: ollama, openai.
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size (0 = backend default).
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key, if the backend requires one.
	APIKey string `yaml:"api_key"`
	// Endpoint overrides the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
}

// QdrantConfig holds vector store connection settings.
type QdrantConfig struct {
	// URL is the Qdrant endpoint, e.g. "http://qdrant:6333".
	URL string `yaml:"url"`
	// Collection is the vector collection name.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key for authenticated clusters.
	APIKey string `yaml:"api_key"`
}

// RAGConfig holds retrieval and chunking tuning parameters.
type RAGConfig struct {
	// TopK is the default number of chunks returned per query.
	TopK int `yaml:"top_k"`
	// ChunkTokens is the chunk window width in tokens.
	ChunkTokens int `yaml:"chunk_tokens"`
	// ChunkOverlap is the overlap between adjacent chunk windows in tokens.
	ChunkOverlap int `yaml:"chunk_overlap"`
	// MaxSnippetsTokens bounds the assembled context passed to the LLM.
	MaxSnippetsTokens int `yaml:"max_snippets_tokens"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// AllowedOrigins is a comma-separated CORS allow-list. The HTTP server does
	// not read it: its CORS policy echoes back any request Origin.
	AllowedOrigins string `yaml:"allowed_origins"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// IngestConfig holds background ingestion driver settings.
type IngestConfig struct {
	// Concurrency bounds in-flight documents per batch (default 1).
	Concurrency int `yaml:"concurrency"`
	// LedgerPath is the SQLite path for the local IngestRecord ledger.
	// Set to "disabled" to turn off the ledger entirely.
	LedgerPath string `yaml:"ledger_path"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"PAPERLESS_BASE_URL", func(c *Config) string { return c.DMS.BaseURL }},
	{"PAPERLESS_API_TOKEN", func(c *Config) string { return c.DMS.APIToken }},
	{"OPENROUTER_API_KEY", func(c *Config) string { return c.LLM.APIKey }},
	{"OPENROUTER_MODEL", func(c *Config) string { return c.LLM.Model }},
	{"OPENROUTER_BASE_URL", func(c *Config) string { return c.LLM.BaseURL }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"QDRANT_URL", func(c *Config) string { return c.Qdrant.URL }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"RAG_TOP_K", func(c *Config) string { return intStr(c.RAG.TopK) }},
	{"CHUNK_TOKENS", func(c *Config) string { return intStr(c.RAG.ChunkTokens) }},
	{"CHUNK_OVERLAP", func(c *Config) string { return intStr(c.RAG.ChunkOverlap) }},
	{"MAX_SNIPPETS_TOKENS", func(c *Config) string { return intStr(c.RAG.MaxSnippetsTokens) }},
	{"SERVER_HOST", func(c *Config) string { return c.Server.Host }},
	{"SERVER_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"ALLOWED_ORIGINS", func(c *Config) string { return c.Server.AllowedOrigins }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"INGEST_CONCURRENCY", func(c *Config) string { return intStr(c.Ingest.Concurrency) }},
	{"INGEST_LEDGER_PATH", func(c *Config) string { return c.Ingest.LedgerPath }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" || yamlVal == "0" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set — do not override
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("RAGSERVER_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".ragserver", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("ragserver.yaml"); err == nil {
		return "ragserver.yaml"
	}

	return ""
}

// Env reads the runtime configuration from environment variables, applying
// the defaults documented in the external interfaces contract. Call Load
// first so YAML values have already been promoted into the environment.
func Env() *Config {
	return &Config{
		DMS: DMSConfig{
			BaseURL:  strings.TrimRight(os.Getenv("PAPERLESS_BASE_URL"), "/"),
			APIToken: os.Getenv("PAPERLESS_API_TOKEN"),
		},
		LLM: LLMConfig{
			APIKey:  os.Getenv("OPENROUTER_API_KEY"),
			Model:   getEnvOrDefault("OPENROUTER_MODEL", "openai/gpt-4o-mini"),
			BaseURL: getEnvOrDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		},
		Embedding: EmbeddingConfig{
			Provider:   getEnvOrDefault("EMBEDDING_PROVIDER", "openai"),
			Model:      getEnvOrDefault("EMBEDDING_MODEL", "BAAI/bge-m3"),
			Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 0),
			APIKey:     os.Getenv("EMBEDDING_API_KEY"),
			Endpoint:   os.Getenv("EMBEDDING_ENDPOINT"),
		},
		Qdrant: QdrantConfig{
			URL:        getEnvOrDefault("QDRANT_URL", "http://qdrant:6333"),
			Collection: getEnvOrDefault("QDRANT_COLLECTION", "paperless_chunks"),
			APIKey:     os.Getenv("QDRANT_API_KEY"),
		},
		RAG: RAGConfig{
			TopK:              getEnvInt("RAG_TOP_K", 6),
			ChunkTokens:       getEnvInt("CHUNK_TOKENS", 800),
			ChunkOverlap:      getEnvInt("CHUNK_OVERLAP", 120),
			MaxSnippetsTokens: getEnvInt("MAX_SNIPPETS_TOKENS", 2500),
		},
		Server: ServerConfig{
			Host:           os.Getenv("SERVER_HOST"),
			Port:           getEnvInt("SERVER_PORT", 8088),
			AllowedOrigins: os.Getenv("ALLOWED_ORIGINS"),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "INFO"),
			Format: os.Getenv("LOG_FORMAT"),
		},
		Ingest: IngestConfig{
			Concurrency: getEnvInt("INGEST_CONCURRENCY", 1),
			LedgerPath:  getEnvOrDefault("INGEST_LEDGER_PATH", "ragserver.db"),
		},
	}
}

// Validate checks that the fields required for a normal server startup are
// present, returning an error naming every missing key at once rather than
// failing on the first.
func (c *Config) Validate() error {
	var missing []string
	if c.DMS.BaseURL == "" {
		missing = append(missing, "PAPERLESS_BASE_URL")
	}
	if c.DMS.APIToken == "" {
		missing = append(missing, "PAPERLESS_API_TOKEN")
	}
	if c.LLM.APIKey == "" {
		missing = append(missing, "OPENROUTER_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			return i
		}
	}
	return fallback
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

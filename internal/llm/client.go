// Package llm provides a client for an OpenAI-compatible chat-completions
// gateway (OpenRouter by default), built directly on the openai-go SDK with
// a custom base URL. AnswerService depends on its LLMClient interface rather
// than this concrete type so it can be swapped or faked in tests.
package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/paperless-rag/ragserver-go/internal/ragerr"
	"github.com/paperless-rag/ragserver-go/internal/tokenbudget"
)

const component = "llm"

// Fixed request parameters for every Complete call.
const (
	temperature = 0.2
	topP        = 0.9
	maxTokens   = 1000
)

// refererHeader and titleHeader identify this client to gateways (such as
// OpenRouter) that use them for app attribution and rate-limit bucketing.
const (
	refererHeader = "https://ragserver.local"
	titleHeader   = "Paperless RAG"
)

// Usage reports token accounting for one Complete call, when the gateway
// provides it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is the result of one Complete call.
type Completion struct {
	Answer    string
	Model     string
	Usage     Usage
	Timestamp time.Time
}

// Client implements chat completions against an OpenAI-compatible REST API
// via the openai-go SDK. It is safe for concurrent use.
type Client struct {
	sdk          openai.Client
	defaultModel string
}

// Config holds the settings for constructing a Client.
type Config struct {
	// BaseURL is the chat-completions API base, e.g. "https://openrouter.ai/api/v1".
	BaseURL string
	// APIKey is the bearer token.
	APIKey string
	// DefaultModel is used when Complete is called with an empty model override.
	DefaultModel string
}

// New constructs a Client from cfg.
func New(cfg Config) *Client {
	httpClient := &http.Client{Timeout: 120 * time.Second}
	return &Client{
		sdk: openai.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithBaseURL(cfg.BaseURL),
			option.WithHTTPClient(httpClient),
			option.WithHeader("HTTP-Referer", refererHeader),
			option.WithHeader("X-Title", titleHeader),
		),
		defaultModel: cfg.DefaultModel,
	}
}

// Complete sends messages to the chat-completions endpoint and returns the
// assistant's reply. model overrides the client's default model when
// non-empty.
func (c *Client) Complete(ctx context.Context, messages []tokenbudget.Message, model string) (Completion, error) {
	if model == "" {
		model = c.defaultModel
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    toChatMessages(messages),
		Temperature: openai.Float(temperature),
		TopP:        openai.Float(topP),
		MaxTokens:   openai.Int(int64(maxTokens)),
	}

	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return Completion{}, ragerr.New(ragerr.UpstreamLLMError, component, "Complete", statusOf(err), err)
	}

	if len(comp.Choices) == 0 || comp.Choices[0].Message.Content == "" {
		return Completion{}, ragerr.New(ragerr.UpstreamLLMError, component, "Complete", 0,
			errors.New("response contained no message content"))
	}

	return Completion{
		Answer: comp.Choices[0].Message.Content,
		Model:  comp.Model,
		Usage: Usage{
			PromptTokens:     int(comp.Usage.PromptTokens),
			CompletionTokens: int(comp.Usage.CompletionTokens),
			TotalTokens:      int(comp.Usage.TotalTokens),
		},
		Timestamp: time.Now().UTC(),
	}, nil
}

// Ping performs a lightweight reachability check against the gateway's
// model-listing endpoint, mirroring the cheap-call-first pattern other
// upstream clients use for readiness probes rather than burning tokens on a
// full completion.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.sdk.Models.List(ctx); err != nil {
		return ragerr.New(ragerr.UpstreamLLMError, component, "Ping", statusOf(err), err)
	}
	return nil
}

// statusOf extracts the upstream HTTP status code from an openai-go request
// error, returning 0 when err did not originate from an HTTP response (e.g.
// a transport failure).
func statusOf(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// toChatMessages converts the portable tokenbudget.Message shape into
// openai-go's role-specific message params.
func toChatMessages(messages []tokenbudget.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

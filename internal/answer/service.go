// Package answer composes the Retriever and LLMClient into the single
// question-answering operation the API exposes: gate the query, retrieve
// and deduplicate supporting chunks, assemble a token-budgeted context, and
// call the chat model for a grounded answer with citations.
package answer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/paperless-rag/ragserver-go/internal/llm"
	"github.com/paperless-rag/ragserver-go/internal/rag"
	"github.com/paperless-rag/ragserver-go/internal/tokenbudget"
)

// noInformationFound is returned verbatim, without ever calling the LLM,
// when retrieval yields nothing and general chat is not permitted.
const noInformationFound = "I couldn't find any relevant information in the documents to answer your question."

// snippetMaxChars bounds a Citation's Snippet field.
const snippetMaxChars = 300

// maxHistoryTokens bounds the chat history forwarded to the LLM alongside
// the system prompt and user message, trimmed oldest-first by
// tokenbudget.TrimHistory.
const maxHistoryTokens = 3000

// defaultScoreThreshold is used for the broadened retrieval pass that feeds
// context assembly.
const defaultScoreThreshold = 0.1

// broadenBelowTopK is the top_k ceiling below which retrieval is broadened
// to 2x before deduplication and truncation.
const broadenBelowTopK = 20

// systemPromptTemplate mirrors the policy carried by the original
// implementation's chat prompt: comprehensive answers, natural source
// attribution, and document-grounded scope.
const systemPromptTemplate = `You are a helpful and intelligent document assistant. Today's date is %s. You have access to a knowledge base of documents and can answer questions based on their content. When documents appear to be related, make connections between them to provide comprehensive insights.

Key guidelines:
1. Provide comprehensive, detailed answers when documents contain relevant information.
2. Look for related documents and synthesize information across sources.
3. Mention document titles naturally when referencing sources, rather than using numbered citations like [1].
4. If the provided context does not contain the answer, say so plainly instead of guessing.`

// GateFunc decides whether a query should trigger document retrieval. The
// default implementation is a configurable keyword set; callers may supply
// a different predicate (e.g. a classifier) without changing AnswerService.
type GateFunc func(query string) bool

// Retriever is the subset of *rag.Retriever AnswerService depends on.
type Retriever interface {
	HybridSearch(ctx context.Context, query string, topK int, filterTags []string, keywordBoost float32) ([]rag.ScoredChunk, error)
}

// LLMClient is the subset of *llm.Client AnswerService depends on.
type LLMClient interface {
	Complete(ctx context.Context, messages []tokenbudget.Message, model string) (llm.Completion, error)
}

// DocumentURLBuilder resolves a citation URL for a document.
type DocumentURLBuilder interface {
	BuildDocumentURL(docID int) string
}

// AskRequest is the input to Ask.
type AskRequest struct {
	Query            string
	TopK             int
	FilterTags       []string
	AllowGeneralChat bool
	History          []tokenbudget.Message
	Model            string
}

// Citation describes one retrieved chunk backing an answer.
type Citation struct {
	DocID   int
	Title   string
	Page    int
	Score   float32
	URL     string
	Snippet string
}

// AskResponse is the result of Ask.
type AskResponse struct {
	Answer    string
	Citations []Citation
	Query     string
	ModelUsed string
}

// Service implements the Ask operation.
type Service struct {
	retriever         Retriever
	llmClient         LLMClient
	dms               DocumentURLBuilder
	gate              GateFunc
	defaultTopK       int
	maxSnippetsTokens int
	keywordBoost      float32
}

// Config holds the tuning parameters for a Service.
type Config struct {
	// DefaultTopK is used when AskRequest.TopK is unset.
	DefaultTopK int
	// MaxSnippetsTokens bounds the assembled context. Defaults to
	// tokenbudget.DefaultMaxContextTokens if zero.
	MaxSnippetsTokens int
	// KeywordBoost weights HybridSearch's keyword rescoring.
	KeywordBoost float32
	// Gate decides whether a query triggers retrieval. Defaults to
	// DefaultGate if nil.
	Gate GateFunc
}

// New constructs a Service from its dependencies.
func New(retriever Retriever, llmClient LLMClient, dms DocumentURLBuilder, cfg Config) *Service {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 6
	}
	if cfg.MaxSnippetsTokens <= 0 {
		cfg.MaxSnippetsTokens = tokenbudget.DefaultMaxContextTokens
	}
	if cfg.Gate == nil {
		cfg.Gate = DefaultGate
	}
	return &Service{
		retriever:         retriever,
		llmClient:         llmClient,
		dms:               dms,
		gate:              cfg.Gate,
		defaultTopK:       cfg.DefaultTopK,
		maxSnippetsTokens: cfg.MaxSnippetsTokens,
		keywordBoost:      cfg.KeywordBoost,
	}
}

// documentKeywords is the default trigger-keyword set for DefaultGate. It is
// deliberately generic to a document-management corpus rather than any one
// deployment's subject matter.
var documentKeywords = []string{
	"document", "file", "report", "invoice", "receipt", "contract", "agreement",
	"policy", "procedure", "manual", "specification", "requirement", "project",
	"record", "letter", "memo", "statement", "form", "certificate", "tag",
	"folder", "attachment", "summarize", "summary", "page",
}

// DefaultGate reports whether query contains any of documentKeywords,
// case-insensitively.
func DefaultGate(query string) bool {
	lower := strings.ToLower(query)
	for _, kw := range documentKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Ask answers req.Query, retrieving supporting document chunks when the
// gate admits the query, and falling back to general chat or a canned
// no-information response per the resolved gating policy.
func (s *Service) Ask(ctx context.Context, req AskRequest) (AskResponse, error) {
	topK := req.TopK
	if topK <= 0 {
		topK = s.defaultTopK
	}

	var chunks []rag.ScoredChunk
	if s.gate(req.Query) {
		searchK := topK
		if topK < broadenBelowTopK {
			searchK = topK * 2
		}

		results, err := s.retriever.HybridSearch(ctx, req.Query, searchK, req.FilterTags, s.keywordBoost)
		if err != nil {
			return AskResponse{}, err
		}
		chunks = rag.Deduplicate(results, rag.DedupThreshold)
		if len(chunks) > topK {
			chunks = chunks[:topK]
		}
	}

	if len(chunks) == 0 {
		if !req.AllowGeneralChat {
			return AskResponse{
				Answer:    noInformationFound,
				Citations: nil,
				Query:     req.Query,
				ModelUsed: req.Model,
			}, nil
		}
		return s.generate(ctx, req, nil)
	}

	return s.generate(ctx, req, chunks)
}

// generate assembles the prompt for chunks (possibly empty, for the
// general-chat fallback) and calls the LLM.
func (s *Service) generate(ctx context.Context, req AskRequest, chunks []rag.ScoredChunk) (AskResponse, error) {
	messages := s.buildPrompt(req, chunks)

	completion, err := s.llmClient.Complete(ctx, messages, req.Model)
	if err != nil {
		return AskResponse{}, err
	}

	return AskResponse{
		Answer:    completion.Answer,
		Citations: s.buildCitations(chunks),
		Query:     req.Query,
		ModelUsed: completion.Model,
	}, nil
}

// buildPrompt assembles the system message, token-budgeted history, and the
// user message carrying the token-budgeted document context. History is
// trimmed oldest-first by tokenbudget.TrimHistory so it fits alongside the
// system prompt and user message within maxHistoryTokens.
func (s *Service) buildPrompt(req AskRequest, chunks []rag.ScoredChunk) []tokenbudget.Message {
	systemPrompt := fmt.Sprintf(systemPromptTemplate, time.Now().UTC().Format("January 2, 2006"))
	systemMsg := tokenbudget.Message{Role: "system", Content: systemPrompt}

	context := s.assembleContext(chunks)
	userMessage := fmt.Sprintf("Question: %s\n\nContext from documents:\n%s\n\nPlease answer the question based on the provided context. When referencing information, mention the document titles naturally in your response.", req.Query, context)
	userMsg := tokenbudget.Message{Role: "user", Content: userMessage}

	var validHistory []tokenbudget.Message
	for _, h := range req.History {
		if h.Role != "user" && h.Role != "assistant" && h.Role != "system" {
			continue
		}
		validHistory = append(validHistory, h)
	}
	history := tokenbudget.TrimHistory([]tokenbudget.Message{systemMsg, userMsg}, validHistory, maxHistoryTokens)

	messages := make([]tokenbudget.Message, 0, len(history)+2)
	messages = append(messages, systemMsg)
	messages = append(messages, history...)
	messages = append(messages, userMsg)
	return messages
}

// assembleContext groups chunks by doc_id (preserving first-seen rank
// order), renders each group under a document header, and enforces
// MaxSnippetsTokens with a len/4 estimator — stopping once the next entry
// would exceed the budget. Partial groups are allowed.
func (s *Service) assembleContext(chunks []rag.ScoredChunk) string {
	type group struct {
		title string
		texts []string
	}

	var order []int
	byDoc := map[int]*group{}
	for _, c := range chunks {
		g, ok := byDoc[c.DocID]
		if !ok {
			g = &group{title: c.Title}
			byDoc[c.DocID] = g
			order = append(order, c.DocID)
		}
		entry := c.Text
		if c.Page > 0 {
			entry = fmt.Sprintf("Page %d:\n%s", c.Page, c.Text)
		}
		g.texts = append(g.texts, entry)
	}

	var b strings.Builder
	budget := s.maxSnippetsTokens
	used := 0

outer:
	for _, docID := range order {
		g := byDoc[docID]
		header := fmt.Sprintf("\n=== From document: %s ===\n", g.title)
		headerTokens := tokenbudget.Estimate(header)
		if used+headerTokens > budget {
			break
		}

		wroteHeader := false
		for _, entry := range g.texts {
			entryTokens := tokenbudget.Estimate(entry)
			if used+entryTokens > budget {
				break outer
			}
			if !wroteHeader {
				b.WriteString(header)
				used += headerTokens
				wroteHeader = true
			}
			b.WriteString(entry)
			b.WriteString("\n")
			used += entryTokens
		}
	}

	return b.String()
}

// buildCitations renders one Citation per retrieved chunk, in rank order.
func (s *Service) buildCitations(chunks []rag.ScoredChunk) []Citation {
	if len(chunks) == 0 {
		return nil
	}
	citations := make([]Citation, len(chunks))
	for i, c := range chunks {
		citations[i] = Citation{
			DocID:   c.DocID,
			Title:   c.Title,
			Page:    c.Page,
			Score:   c.Score,
			URL:     s.dms.BuildDocumentURL(c.DocID),
			Snippet: truncate(c.Text, snippetMaxChars),
		}
	}
	return citations
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars]) + "..."
}

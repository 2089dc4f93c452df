// Package chunk splits extracted document text into bounded, overlapping
// token windows for embedding. It prefers an exact tokenizer
// (github.com/pkoukk/tiktoken-go): the configured model's encoding, else
// cl100k_base, and falls back to a character-based approximation only when
// neither encoding can be loaded.
package chunk

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultChunkTokens is the default window width in tokens.
const DefaultChunkTokens = 800

// DefaultOverlapTokens is the default overlap between adjacent windows.
const DefaultOverlapTokens = 120

// charsPerToken is the character-based fallback approximation.
const charsPerToken = 4

// Chunker splits text into token windows. The zero value is usable and
// always applies the character heuristic; construct with New to use a
// tiktoken encoding.
type Chunker struct {
	enc *tiktoken.Tiktoken
}

// New constructs a Chunker using the tokenizer registered for model. If no
// encoding is found for model, cl100k_base is used; only if that cannot be
// loaded either does the Chunker fall back to the character heuristic for
// every call rather than failing.
func New(model string) *Chunker {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		return &Chunker{}
	}
	return &Chunker{enc: enc}
}

// Chunk splits text into windows of chunkTokens width with stride
// chunkTokens-overlapTokens, trimming outer whitespace and dropping empty
// windows. A zero or negative chunkTokens falls back to DefaultChunkTokens;
// a negative overlapTokens, or one not smaller than chunkTokens, falls back
// to DefaultOverlapTokens. A zero overlapTokens means no overlap.
func (c *Chunker) Chunk(text string, chunkTokens, overlapTokens int) []string {
	if chunkTokens <= 0 {
		chunkTokens = DefaultChunkTokens
	}
	if overlapTokens < 0 || overlapTokens >= chunkTokens {
		overlapTokens = DefaultOverlapTokens
	}
	stride := chunkTokens - overlapTokens
	if stride <= 0 {
		stride = chunkTokens
	}

	if c != nil && c.enc != nil {
		return c.chunkTokenized(text, chunkTokens, stride)
	}
	return chunkByChars(text, chunkTokens*charsPerToken, stride*charsPerToken)
}

func (c *Chunker) chunkTokenized(text string, width, stride int) []string {
	tokens := c.enc.Encode(text, nil, nil)
	if len(tokens) == 0 {
		return nil
	}

	var out []string
	for start := 0; start < len(tokens); start += stride {
		end := start + width
		if end > len(tokens) {
			end = len(tokens)
		}
		window := c.enc.Decode(tokens[start:end])
		if trimmed := strings.TrimSpace(window); trimmed != "" {
			out = append(out, trimmed)
		}
		if end == len(tokens) {
			break
		}
	}
	return out
}

func chunkByChars(text string, width, stride int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if width <= 0 {
		width = DefaultChunkTokens * charsPerToken
	}
	if stride <= 0 {
		stride = width
	}

	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); start += stride {
		end := start + width
		if end > len(runes) {
			end = len(runes)
		}
		window := strings.TrimSpace(string(runes[start:end]))
		if window != "" {
			out = append(out, window)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

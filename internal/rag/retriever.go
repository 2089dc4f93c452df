package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// DefaultSemanticThreshold is the cosine score floor for plain Search.
const DefaultSemanticThreshold = 0.1

// HybridScoreThreshold is the lowered cosine floor used when fetching
// candidates for hybrid rescoring; kept as a named constant per the
// resolved open question on corpus-size scaling (there is no signal for
// corpus size at this layer, so it is not auto-tuned).
const HybridScoreThreshold = 0.1

// DedupThreshold is the Jaccard similarity above which a candidate is
// considered a near-duplicate of an already-accepted chunk.
const DedupThreshold = 0.95

// dedupMinWords guards against Jaccard's instability on tiny word sets:
// chunks shorter than this are never deduplicated against each other.
const dedupMinWords = 8

// Retriever composes an Embedder and a VectorStore to produce the ranked
// chunk list for a query, with hybrid lexical rescoring and near-duplicate
// suppression.
type Retriever struct {
	embedder Embedder
	store    VectorStore
}

// NewRetriever constructs a Retriever from the given Embedder and VectorStore.
func NewRetriever(embedder Embedder, store VectorStore) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	return &Retriever{embedder: embedder, store: store}, nil
}

// Search encodes query once and returns the top-k semantically closest
// chunks, optionally restricted to filterTags.
func (r *Retriever) Search(ctx context.Context, query string, topK int, filterTags []string) ([]ScoredChunk, error) {
	vec, err := r.encodeQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	filter := Filter{}
	if len(filterTags) > 0 {
		filter.Tags = filterTags
	}
	return r.store.Search(ctx, vec, topK, filter, DefaultSemanticThreshold)
}

// HybridSearch fetches 2*topK semantic candidates at a lowered threshold,
// rescores them by lexical overlap with query, and returns the top-k
// results after rescoring.
func (r *Retriever) HybridSearch(ctx context.Context, query string, topK int, filterTags []string, keywordBoost float32) ([]ScoredChunk, error) {
	vec, err := r.encodeQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	filter := Filter{}
	if len(filterTags) > 0 {
		filter.Tags = filterTags
	}

	candidates, err := r.store.Search(ctx, vec, topK*2, filter, HybridScoreThreshold)
	if err != nil {
		return nil, err
	}

	queryWords := wordSet(query)
	for i := range candidates {
		kw := keywordScore(queryWords, wordSet(candidates[i].Text))
		candidates[i].Score = (1-keywordBoost)*candidates[i].Score + keywordBoost*kw
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

// Deduplicate removes near-duplicate chunks, keeping the first occurrence
// of each group of chunks whose Jaccard word overlap exceeds threshold.
// The result preserves the relative order of kept items (stable) and is a
// fixed point under repeated application.
func Deduplicate(chunks []ScoredChunk, threshold float32) []ScoredChunk {
	kept := make([]ScoredChunk, 0, len(chunks))
	keptWords := make([]map[string]struct{}, 0, len(chunks))

	for _, c := range chunks {
		words := wordSet(c.Text)
		isDup := false
		if len(words) >= dedupMinWords {
			for _, kw := range keptWords {
				if len(kw) >= dedupMinWords && jaccard(words, kw) > threshold {
					isDup = true
					break
				}
			}
		}
		if !isDup {
			kept = append(kept, c)
			keptWords = append(keptWords, words)
		}
	}
	return kept
}

func (r *Retriever) encodeQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := r.embedder.Encode(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query")
	}
	return vecs[0], nil
}

// wordSet lowercases and whitespace-splits s into a set of distinct words.
func wordSet(s string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// keywordScore is |query_words ∩ text_words| / |query_words|.
func keywordScore(queryWords, textWords map[string]struct{}) float32 {
	if len(queryWords) == 0 {
		return 0
	}
	overlap := 0
	for w := range queryWords {
		if _, ok := textWords[w]; ok {
			overlap++
		}
	}
	return float32(overlap) / float32(len(queryWords))
}

// jaccard returns |a ∩ b| / |a ∪ b|.
func jaccard(a, b map[string]struct{}) float32 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float32(intersection) / float32(union)
}

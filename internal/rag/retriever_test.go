package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	dim int
	vec []float32
	err error
}

func (f *fakeEmbedder) Dimension() int { return f.dim }

func (f *fakeEmbedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

type fakeStore struct {
	VectorStore
	results []ScoredChunk
	gotTopK int
	gotFilt Filter
}

func (f *fakeStore) Search(ctx context.Context, queryVector []float32, topK int, filter Filter, scoreThreshold float32) ([]ScoredChunk, error) {
	f.gotTopK = topK
	f.gotFilt = filter
	return f.results, nil
}

func TestRetriever_Search_PassesFilterAndTopK(t *testing.T) {
	store := &fakeStore{results: []ScoredChunk{{Chunk: Chunk{Text: "hello"}, Score: 0.9}}}
	r, err := NewRetriever(&fakeEmbedder{dim: 3, vec: []float32{0.1, 0.2, 0.3}}, store)
	require.NoError(t, err)

	got, err := r.Search(t.Context(), "hello", 5, []string{"A"})
	require.NoError(t, err)
	assert.Equal(t, 5, store.gotTopK)
	assert.Equal(t, []string{"A"}, store.gotFilt.Tags)
	assert.Len(t, got, 1)
}

func TestRetriever_HybridSearch_ZeroBoostMatchesSemanticOrder(t *testing.T) {
	store := &fakeStore{results: []ScoredChunk{
		{Chunk: Chunk{Text: "alpha beta gamma"}, Score: 0.5},
		{Chunk: Chunk{Text: "delta epsilon zeta"}, Score: 0.9},
	}}
	r, err := NewRetriever(&fakeEmbedder{dim: 3, vec: []float32{0.1, 0.2, 0.3}}, store)
	require.NoError(t, err)

	got, err := r.HybridSearch(t.Context(), "query text", 2, nil, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, float32(0.9), got[0].Score)
	assert.Equal(t, float32(0.5), got[1].Score)
}

func TestRetriever_HybridSearch_KeywordBoostRescoresByOverlap(t *testing.T) {
	store := &fakeStore{results: []ScoredChunk{
		{Chunk: Chunk{Text: "no overlap at all here"}, Score: 0.95},
		{Chunk: Chunk{Text: "terraform eks cluster config"}, Score: 0.50},
	}}
	r, err := NewRetriever(&fakeEmbedder{dim: 3, vec: []float32{0.1, 0.2, 0.3}}, store)
	require.NoError(t, err)

	got, err := r.HybridSearch(t.Context(), "terraform eks cluster", 2, nil, 1.0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Contains(t, got[0].Text, "terraform eks cluster")
}

func TestDeduplicate_RemovesNearDuplicates(t *testing.T) {
	long := "the quick brown fox jumps over the very lazy sleeping dog today"
	nearDup := "The Quick Brown Fox jumps over the very lazy sleeping dog today"
	distinct := "completely unrelated content about something else entirely now"

	chunks := []ScoredChunk{
		{Chunk: Chunk{Text: long}, Score: 0.9},
		{Chunk: Chunk{Text: nearDup}, Score: 0.85},
		{Chunk: Chunk{Text: distinct}, Score: 0.7},
	}

	got := Deduplicate(chunks, DedupThreshold)
	assert.Len(t, got, 2)
	assert.Equal(t, long, got[0].Text)
	assert.Equal(t, distinct, got[1].Text)
}

func TestDeduplicate_ShortChunksNeverSuppressed(t *testing.T) {
	chunks := []ScoredChunk{
		{Chunk: Chunk{Text: "short text"}, Score: 0.9},
		{Chunk: Chunk{Text: "short text"}, Score: 0.8},
	}
	got := Deduplicate(chunks, DedupThreshold)
	assert.Len(t, got, 2, "chunks under the minimum word guard must never be deduplicated against each other")
}

func TestDeduplicate_StableAndFixedPoint(t *testing.T) {
	chunks := []ScoredChunk{
		{Chunk: Chunk{Text: "alpha beta gamma delta epsilon zeta eta theta"}, Score: 0.9},
		{Chunk: Chunk{Text: "completely different words entirely unrelated content block"}, Score: 0.8},
	}
	once := Deduplicate(chunks, DedupThreshold)
	twice := Deduplicate(once, DedupThreshold)
	assert.Equal(t, once, twice)
}

func TestJaccard(t *testing.T) {
	a := wordSet("the quick brown fox")
	b := wordSet("the quick brown fox")
	assert.Equal(t, float32(1.0), jaccard(a, b))

	c := wordSet("completely different words here")
	assert.Equal(t, float32(0), jaccard(a, c))
}

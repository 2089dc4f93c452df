package rag

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/paperless-rag/ragserver-go/internal/ragerr"
)

// chunksSummaryScrollLimit is the page size used when walking the whole
// collection for GetChunksSummary, matching the original implementation's
// scroll batch size.
const chunksSummaryScrollLimit = 1000

// topTagsLimit bounds ChunkSummary.TopTags.
const topTagsLimit = 10

const component = "qdrant"

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// URL is the Qdrant endpoint, e.g. "http://qdrant:6333" (REST port) or
	// a host:port pair for the gRPC port (6334 by default).
	URL string

	// Collection is the Qdrant collection name to use.
	Collection string

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string
}

// QdrantStore implements VectorStore backed by a Qdrant instance over gRPC.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantStore connects to Qdrant. It does not create or verify the
// collection — call EnsureCollection once the embedding dimension is known.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	host, port := splitHostPort(cfg.URL)

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, ragerr.New(ragerr.UpstreamVectorError, component, "NewQdrantStore", 0, err)
	}

	return &QdrantStore{client: client, collection: cfg.Collection}, nil
}

// EnsureCollection creates the collection if missing with cosine distance
// and vector size dim. If present, it verifies the stored dimension matches
// dim and returns a ConfigError if it does not — this store never
// recreates an existing collection.
func (s *QdrantStore) EnsureCollection(ctx context.Context, dim int) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return ragerr.New(ragerr.UpstreamVectorError, component, "EnsureCollection", 0, err)
	}

	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return ragerr.New(ragerr.UpstreamVectorError, component, "EnsureCollection", 0,
				fmt.Errorf("create collection %q: %w", s.collection, err))
		}
		return nil
	}

	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return ragerr.New(ragerr.UpstreamVectorError, component, "EnsureCollection", 0, err)
	}
	existingDim := collectionVectorSize(info)
	if existingDim != 0 && existingDim != uint64(dim) {
		return ragerr.New(ragerr.ConfigError, component, "EnsureCollection", 0,
			fmt.Errorf("collection %q has vector size %d, but the configured embedder produces %d — "+
				"this looks like EMBEDDING_MODEL changed; resolve manually (reindex into a new collection "+
				"or drop the old one) rather than silently recreating it", s.collection, existingDim, dim))
	}
	return nil
}

func collectionVectorSize(info *qdrant.CollectionInfo) uint64 {
	if info == nil || info.Config == nil || info.Config.Params == nil {
		return 0
	}
	vc := info.Config.Params.VectorsConfig
	if vc == nil {
		return 0
	}
	if p := vc.GetParams(); p != nil {
		return p.Size
	}
	return 0
}

// Upsert idempotently writes chunks, keyed by Chunk.ID.
func (s *QdrantStore) Upsert(ctx context.Context, chunks []Chunk) error {
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		payload := map[string]any{
			"text":        c.Text,
			"doc_id":      int64(c.DocID),
			"title":       c.Title,
			"page":        int64(c.Page),
			"file_type":   c.FileType,
			"tags":        c.Tags,
			"ingested_at": c.IngestedAt.UTC().Format(time.RFC3339),
			"token_count": int64(c.TokenCount),
			"chunk_index": int64(c.ChunkIndex),
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(c.ID),
			Vectors: qdrant.NewVectors(c.Vector...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	})
	if err != nil {
		return ragerr.New(ragerr.UpstreamVectorError, component, "Upsert", 0, err)
	}
	return nil
}

// DeleteByFilter removes every point matching filter.
func (s *QdrantStore) DeleteByFilter(ctx context.Context, filter Filter) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelectorFilter(buildFilter(filter)),
	})
	if err != nil {
		return ragerr.New(ragerr.UpstreamVectorError, component, "DeleteByFilter", 0, err)
	}
	return nil
}

// Search performs a cosine similarity search, returning up to topK results
// sorted descending by score, with scores below scoreThreshold dropped.
func (s *QdrantStore) Search(ctx context.Context, queryVector []float32, topK int, filter Filter, scoreThreshold float32) ([]ScoredChunk, error) {
	limit := uint64(topK)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(queryVector...),
		Filter:         buildFilter(filter),
		Limit:          &limit,
		ScoreThreshold: &scoreThreshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, ragerr.New(ragerr.UpstreamVectorError, component, "Search", 0, err)
	}

	out := make([]ScoredChunk, 0, len(results))
	for _, r := range results {
		out = append(out, ScoredChunk{Chunk: chunkFromPayload(r.Id.GetUuid(), r.Payload), Score: r.Score})
	}
	return out, nil
}

// Scroll pages through points matching filter, fetching one extra point
// past limit to derive the next page's offset without relying on a
// separate pagination token field.
func (s *QdrantStore) Scroll(ctx context.Context, filter Filter, limit int, offset string) (Page, error) {
	req := &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter:         buildFilter(filter),
		Limit:          qdrant.PtrOf(uint32(limit + 1)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if offset != "" {
		req.Offset = qdrant.NewIDUUID(offset)
	}

	points, err := s.client.Scroll(ctx, req)
	if err != nil {
		return Page{}, ragerr.New(ragerr.UpstreamVectorError, component, "Scroll", 0, err)
	}

	page := Page{}
	n := len(points)
	if n > limit {
		n = limit
		page.NextOffset = points[limit].Id.GetUuid()
	}
	page.Chunks = make([]Chunk, 0, n)
	for _, p := range points[:n] {
		page.Chunks = append(page.Chunks, chunkFromPayload(p.Id.GetUuid(), p.Payload))
	}
	return page, nil
}

// GetCollectionStats returns size and health information about the collection.
func (s *QdrantStore) GetCollectionStats(ctx context.Context) (CollectionStats, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return CollectionStats{}, ragerr.New(ragerr.UpstreamVectorError, component, "GetCollectionStats", 0, err)
	}
	stats := CollectionStats{SegmentsCount: info.GetSegmentsCount()}
	if info.PointsCount != nil {
		stats.PointsCount = *info.PointsCount
	}
	if info.IndexedVectorsCount != nil {
		stats.VectorsCount = *info.IndexedVectorsCount
	}
	stats.Status = info.GetStatus().String()
	return stats, nil
}

// GetChunksSummary walks the entire collection via Scroll and aggregates
// chunk/document counts, average token length, file type distribution, and
// the most common tags, mirroring the original implementation's
// get_chunks_summary.
func (s *QdrantStore) GetChunksSummary(ctx context.Context) (ChunkSummary, error) {
	summary := ChunkSummary{FileTypeDistribution: map[string]int{}}
	tagCounts := map[string]int{}
	uniqueDocs := map[int]struct{}{}

	offset := ""
	for {
		page, err := s.Scroll(ctx, Filter{}, chunksSummaryScrollLimit, offset)
		if err != nil {
			return ChunkSummary{}, err
		}
		for _, c := range page.Chunks {
			summary.TotalChunks++
			uniqueDocs[c.DocID] = struct{}{}
			summary.TotalTokens += c.TokenCount

			fileType := c.FileType
			if fileType == "" {
				fileType = "unknown"
			}
			summary.FileTypeDistribution[fileType]++

			for _, tag := range c.Tags {
				tagCounts[tag]++
			}
		}
		if page.NextOffset == "" {
			break
		}
		offset = page.NextOffset
	}

	summary.UniqueDocuments = len(uniqueDocs)
	if summary.TotalChunks > 0 {
		summary.AverageTokensPerChunk = float64(summary.TotalTokens) / float64(summary.TotalChunks)
	}
	summary.TopTags = topTags(tagCounts, topTagsLimit)
	return summary, nil
}

// topTags returns the n tags with the highest counts, descending, breaking
// ties alphabetically for a deterministic order.
func topTags(counts map[string]int, n int) []TagCount {
	out := make([]TagCount, 0, len(counts))
	for tag, count := range counts {
		out = append(out, TagCount{Tag: tag, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// buildFilter translates a Filter into a Qdrant filter. A zero Filter
// returns nil, matching everything.
func buildFilter(f Filter) *qdrant.Filter {
	var must []*qdrant.Condition
	if f.DocID != nil {
		must = append(must, qdrant.NewMatchInt("doc_id", int64(*f.DocID)))
	}
	if len(f.Tags) > 0 {
		must = append(must, qdrant.NewMatchKeywords("tags", f.Tags...))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// chunkFromPayload reconstructs a Chunk from a Qdrant point's payload.
func chunkFromPayload(id string, payload map[string]*qdrant.Value) Chunk {
	c := Chunk{ID: id}
	if v, ok := payload["text"]; ok {
		c.Text = v.GetStringValue()
	}
	if v, ok := payload["doc_id"]; ok {
		c.DocID = int(v.GetIntegerValue())
	}
	if v, ok := payload["title"]; ok {
		c.Title = v.GetStringValue()
	}
	if v, ok := payload["page"]; ok {
		c.Page = int(v.GetIntegerValue())
	}
	if v, ok := payload["file_type"]; ok {
		c.FileType = v.GetStringValue()
	}
	if v, ok := payload["tags"]; ok {
		for _, item := range v.GetListValue().GetValues() {
			c.Tags = append(c.Tags, item.GetStringValue())
		}
	}
	if v, ok := payload["ingested_at"]; ok {
		if t, err := time.Parse(time.RFC3339, v.GetStringValue()); err == nil {
			c.IngestedAt = t
		}
	}
	if v, ok := payload["token_count"]; ok {
		c.TokenCount = int(v.GetIntegerValue())
	}
	if v, ok := payload["chunk_index"]; ok {
		c.ChunkIndex = int(v.GetIntegerValue())
	}
	return c
}

// splitHostPort parses a "scheme://host:port" or "host:port" URL into a
// gRPC-dialable host and port, defaulting to Qdrant's gRPC port 6334.
func splitHostPort(raw string) (string, int) {
	host := raw
	for _, prefix := range []string{"http://", "https://"} {
		if len(host) > len(prefix) && host[:len(prefix)] == prefix {
			host = host[len(prefix):]
			break
		}
	}

	port := 6334
	if i := lastColon(host); i >= 0 {
		if p, err := strconv.Atoi(host[i+1:]); err == nil {
			port = p
			host = host[:i]
		}
	}
	if host == "" {
		host = "localhost"
	}
	return host, port
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

package memory

import (
	"context"
	"math"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/storechat/content-pipeline/internal/pipeline"
)

type vectorRow struct {
	chunk  pipeline.ContentChunk
	vector []float32
	domain string
}

// VectorStore keeps embedded chunks in memory and answers nearest-neighbor
// queries by brute-force cosine similarity.
type VectorStore struct {
	mu   sync.RWMutex
	rows map[string]vectorRow
}

// NewVectorStore constructs a VectorStore.
func NewVectorStore() *VectorStore {
	return &VectorStore{rows: make(map[string]vectorRow)}
}

// UpsertChunk inserts or replaces the vector for a chunk ID.
func (s *VectorStore) UpsertChunk(_ context.Context, chunk pipeline.ContentChunk, vec pipeline.EmbeddingVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[chunk.ID()] = vectorRow{
		chunk:  chunk,
		vector: append([]float32(nil), vec.Vector...),
		domain: hostOf(chunk.PageURL),
	}
	return nil
}

// DeleteByPage removes every chunk belonging to a page URL.
func (s *VectorStore) DeleteByPage(_ context.Context, pageURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, row := range s.rows {
		if row.chunk.PageURL == pageURL {
			delete(s.rows, id)
		}
	}
	return nil
}

// Search returns the closest chunks for a domain, best first.
func (s *VectorStore) Search(_ context.Context, domain string, vector []float32, limit int) ([]pipeline.ChunkMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matches []pipeline.ChunkMatch
	for id, row := range s.rows {
		if domain != "" && row.domain != domain {
			continue
		}
		matches = append(matches, pipeline.ChunkMatch{
			ChunkID:  id,
			PageURL:  row.chunk.PageURL,
			Text:     row.chunk.Text,
			Metadata: row.chunk.Metadata,
			Score:    cosine(vector, row.vector),
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Len reports the number of stored vectors.
func (s *VectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/storechat/content-pipeline/internal/pipeline"
)

// VectorStore persists embedded chunks with their metadata sidecar and
// answers nearest-neighbor queries via pgvector.
type VectorStore struct {
	pool querier
}

// NewVectorStore constructs a VectorStore over an existing pool.
func NewVectorStore(pool querier) (*VectorStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &VectorStore{pool: pool}, nil
}

// UpsertChunk inserts or replaces the row for a chunk ID. Metadata is stored
// as a JSONB sidecar alongside the raw chunk text so retrieval can filter on
// it without re-parsing the embedded string.
func (s *VectorStore) UpsertChunk(ctx context.Context, chunk pipeline.ContentChunk, vec pipeline.EmbeddingVector) error {
	metadata, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return fmt.Errorf("marshal chunk metadata: %w", err)
	}
	const query = `
INSERT INTO chunks (chunk_id, page_url, domain, chunk_index, content, metadata, model_version, embedding)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (chunk_id) DO UPDATE SET
	content = EXCLUDED.content,
	metadata = EXCLUDED.metadata,
	model_version = EXCLUDED.model_version,
	embedding = EXCLUDED.embedding`
	if _, err := s.pool.Exec(ctx, query,
		chunk.ID(), chunk.PageURL, domainOf(chunk.PageURL), chunk.Index,
		chunk.Text, metadata, vec.ModelVersion, pgvector.NewVector(vec.Vector),
	); err != nil {
		return fmt.Errorf("upsert chunk: %w", err)
	}
	return nil
}

// DeleteByPage removes every chunk belonging to a page URL.
func (s *VectorStore) DeleteByPage(ctx context.Context, pageURL string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE page_url = $1`, pageURL); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

// Search returns the closest chunks for a domain, best first. Cosine distance
// is inverted into a similarity score.
func (s *VectorStore) Search(ctx context.Context, domain string, vector []float32, limit int) ([]pipeline.ChunkMatch, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `
SELECT chunk_id, page_url, content, metadata, 1 - (embedding <=> $2) AS score
FROM chunks
WHERE ($1 = '' OR domain = $1)
ORDER BY embedding <=> $2
LIMIT $3`
	rows, err := s.pool.Query(ctx, query, domain, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var out []pipeline.ChunkMatch
	for rows.Next() {
		var (
			match    pipeline.ChunkMatch
			metadata []byte
		)
		if err := rows.Scan(&match.ChunkID, &match.PageURL, &match.Text, &metadata, &match.Score); err != nil {
			return nil, fmt.Errorf("scan chunk match: %w", err)
		}
		if err := json.Unmarshal(metadata, &match.Metadata); err != nil {
			return nil, fmt.Errorf("decode chunk metadata: %w", err)
		}
		out = append(out, match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	return out, nil
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

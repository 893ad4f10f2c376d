// Package retrieval answers similarity queries over embedded storefront
// content, fronted by the versioned response cache.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/storechat/content-pipeline/internal/cache"
	"github.com/storechat/content-pipeline/internal/pipeline"
)

// Config controls retrieval behavior.
type Config struct {
	DefaultLimit int
	MaxLimit     int
}

// Service embeds the query text, searches the vector store, and caches the
// response payload.
type Service struct {
	embedder pipeline.Embedder
	vectors  pipeline.VectorStore
	cache    *cache.Layer
	clock    pipeline.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Service. The cache layer is optional.
func New(embedder pipeline.Embedder, vectors pipeline.VectorStore, cacheLayer *cache.Layer, clock pipeline.Clock, cfg Config, logger *zap.Logger) (*Service, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if vectors == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 5
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		embedder: embedder,
		vectors:  vectors,
		cache:    cacheLayer,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Result is the cacheable query response.
type Result struct {
	Matches []pipeline.ChunkMatch `json:"matches"`
	Cached  bool                  `json:"cached"`
}

// Query answers a similarity query for a domain. Cache hits skip both the
// embedding call and the vector search.
func (s *Service) Query(ctx context.Context, domain, text string, limit int) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, fmt.Errorf("query text is required")
	}
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}

	key := cache.Query{
		Domain: domain,
		Text:   text,
		Params: map[string]string{"limit": strconv.Itoa(limit)},
	}
	if s.cache != nil {
		if payload, hit := s.cache.Get(ctx, key); hit {
			var result Result
			if err := json.Unmarshal(payload, &result); err == nil {
				result.Cached = true
				return result, nil
			}
			s.logger.Warn("cached retrieval payload undecodable, recomputing")
		}
	}

	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return Result{}, pipeline.NewError(pipeline.CodeEmbeddingService, "retrieval.query", err)
	}
	if len(vectors) != 1 {
		return Result{}, pipeline.NewError(pipeline.CodeEmbeddingService, "retrieval.query",
			fmt.Errorf("expected 1 vector, got %d", len(vectors)))
	}

	matches, err := s.vectors.Search(ctx, domain, vectors[0], limit)
	if err != nil {
		return Result{}, fmt.Errorf("vector search: %w", err)
	}
	result := Result{Matches: matches}

	if s.cache != nil {
		if payload, err := json.Marshal(result); err == nil {
			s.cache.Set(ctx, key, payload, s.clock.Now())
		}
	}
	return result, nil
}

// Invalidate removes cached responses matching the pattern.
func (s *Service) Invalidate(ctx context.Context, pattern string) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.Invalidate(ctx, pattern)
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/storechat/content-pipeline/internal/pipeline"
)

// PageStore persists page records keyed by URL.
type PageStore struct {
	pool querier
}

// NewPageStore constructs a PageStore over an existing pool.
func NewPageStore(pool querier) (*PageStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PageStore{pool: pool}, nil
}

// UpsertPage inserts the record or replaces the existing row for its URL.
func (s *PageStore) UpsertPage(ctx context.Context, page pipeline.PageRecord) error {
	const query = `
INSERT INTO pages (url, domain, title, content, content_hash, word_count, scraped_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (url) DO UPDATE SET
	domain = EXCLUDED.domain,
	title = EXCLUDED.title,
	content = EXCLUDED.content,
	content_hash = EXCLUDED.content_hash,
	word_count = EXCLUDED.word_count,
	scraped_at = EXCLUDED.scraped_at`
	if _, err := s.pool.Exec(ctx, query,
		page.URL, page.Domain, page.Title, page.Content,
		page.ContentHash, page.WordCount, page.ScrapedAt,
	); err != nil {
		return fmt.Errorf("upsert page: %w", err)
	}
	return nil
}

// GetPage fetches a page by URL.
func (s *PageStore) GetPage(ctx context.Context, url string) (pipeline.PageRecord, error) {
	const query = `
SELECT url, domain, title, content, content_hash, word_count, scraped_at
FROM pages WHERE url = $1`
	var page pipeline.PageRecord
	err := s.pool.QueryRow(ctx, query, url).Scan(
		&page.URL, &page.Domain, &page.Title, &page.Content,
		&page.ContentHash, &page.WordCount, &page.ScrapedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.PageRecord{}, pipeline.ErrNotFound
	}
	if err != nil {
		return pipeline.PageRecord{}, fmt.Errorf("select page: %w", err)
	}
	return page, nil
}

// ListPagesByDomain returns all pages for a domain ordered by URL.
func (s *PageStore) ListPagesByDomain(ctx context.Context, domain string) ([]pipeline.PageRecord, error) {
	const query = `
SELECT url, domain, title, content, content_hash, word_count, scraped_at
FROM pages WHERE domain = $1 ORDER BY url`
	rows, err := s.pool.Query(ctx, query, domain)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var out []pipeline.PageRecord
	for rows.Next() {
		var page pipeline.PageRecord
		if err := rows.Scan(
			&page.URL, &page.Domain, &page.Title, &page.Content,
			&page.ContentHash, &page.WordCount, &page.ScrapedAt,
		); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		out = append(out, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return out, nil
}

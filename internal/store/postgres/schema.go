package postgres

import (
	"context"
	"fmt"
)

// schemaDDL is applied idempotently at startup. The vector dimension matches
// text-embedding-3-small; changing the embedding model requires a migration.
const schemaDDL = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	root_url    TEXT NOT NULL,
	status      TEXT NOT NULL,
	options     JSONB NOT NULL DEFAULT '{}'::jsonb,
	progress    JSONB NOT NULL DEFAULT '{}'::jsonb,
	job_metrics JSONB NOT NULL DEFAULT '{}'::jsonb,
	errors      JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at  TIMESTAMPTZ NOT NULL,
	started_at  TIMESTAMPTZ,
	done_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS pages (
	url          TEXT PRIMARY KEY,
	domain       TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	word_count   INT NOT NULL DEFAULT 0,
	scraped_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS pages_domain_idx ON pages (domain);

CREATE TABLE IF NOT EXISTS dedup_entries (
	fingerprint TEXT PRIMARY KEY,
	first_seen  TIMESTAMPTZ NOT NULL,
	ref_count   BIGINT NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS chunks (
	chunk_id      TEXT PRIMARY KEY,
	page_url      TEXT NOT NULL,
	domain        TEXT NOT NULL,
	chunk_index   INT NOT NULL,
	content       TEXT NOT NULL,
	metadata      JSONB NOT NULL DEFAULT '{}'::jsonb,
	model_version TEXT NOT NULL,
	embedding     vector(1536) NOT NULL
);

CREATE INDEX IF NOT EXISTS chunks_page_url_idx ON chunks (page_url);
CREATE INDEX IF NOT EXISTS chunks_domain_idx ON chunks (domain);
CREATE INDEX IF NOT EXISTS chunks_embedding_idx ON chunks USING hnsw (embedding vector_cosine_ops);
`

// EnsureSchema creates the tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, pool querier) error {
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

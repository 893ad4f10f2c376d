package pipeline

import (
	"context"
	"time"
)

// JobStore persists job metadata and progress snapshots.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
}

// PageStore persists extracted pages, uniquely keyed by URL.
type PageStore interface {
	UpsertPage(ctx context.Context, page PageRecord) error
	GetPage(ctx context.Context, url string) (PageRecord, error)
	ListPagesByDomain(ctx context.Context, domain string) ([]PageRecord, error)
}

// DedupStore is the global admission gate for chunk fingerprints. Admit must
// be atomic per fingerprint: of two concurrent callers presenting the same
// fingerprint, exactly one observes admitted=true.
type DedupStore interface {
	Admit(ctx context.Context, fingerprint string, now time.Time) (admitted bool, refCount int64, err error)
}

// VectorStore persists chunk text alongside its embedding and supports
// nearest-neighbor lookup.
type VectorStore interface {
	UpsertChunk(ctx context.Context, chunk ContentChunk, vec EmbeddingVector) error
	DeleteByPage(ctx context.Context, pageURL string) error
	Search(ctx context.Context, domain string, vector []float32, limit int) ([]ChunkMatch, error)
}

// Embedder calls the external embedding service. Implementations are rate-
// and batch-limited; callers are expected to batch.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dimension() int
}

// Fetcher fetches a URL and returns the rendered body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// RenderDetector decides whether a headless re-fetch is warranted.
type RenderDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Queue provides enqueue/dequeue semantics for crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// BlobStore archives raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

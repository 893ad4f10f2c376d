// Package pipeline defines core types shared across subsystems.
package pipeline

import (
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobMode selects between a single-page scrape and a full site crawl.
type JobMode string

// Supported crawl modes.
const (
	ModeSingle    JobMode = "single"
	ModeFullCrawl JobMode = "full-crawl"
)

// JobOptions captures per-job configuration knobs requested by the client.
type JobOptions struct {
	MaxPages        int               `json:"max_pages"`
	Mode            JobMode           `json:"mode"`
	HeadlessAllowed bool              `json:"headless_allowed"`
	ForceReembed    bool              `json:"force_reembed"`
	Tags            map[string]string `json:"tags,omitempty"`
}

// Progress tracks per-job page outcomes while the job is running.
type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Metrics carries throughput and resource signals sampled during a run.
type Metrics struct {
	PagesPerSecond float64 `json:"pages_per_second"`
	SuccessRate    float64 `json:"success_rate"`
	MemoryUsageMB  float64 `json:"memory_usage_mb"`
}

// JobError records a single absorbed per-URL failure for status reporting.
type JobError struct {
	URL       string    `json:"url"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Job represents the metadata persisted for each submitted crawl request.
// It is owned exclusively by the orchestrator; all mutations flow through
// orchestrator-issued state transitions.
type Job struct {
	ID        string     `json:"id"`
	RootURL   string     `json:"root_url"`
	Options   JobOptions `json:"options"`
	Status    JobStatus  `json:"status"`
	Progress  Progress   `json:"progress"`
	Metrics   Metrics    `json:"metrics"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	DoneAt    *time.Time `json:"completed_at,omitempty"`
	Errors    []JobError `json:"errors,omitempty"`
}

// JobEvent is published when a job reaches a terminal status. Downstream
// consumers key off Status and Progress, never off internal error detail.
type JobEvent struct {
	JobID    string    `json:"job_id"`
	RootURL  string    `json:"root_url"`
	Status   JobStatus `json:"status"`
	Progress Progress  `json:"progress"`
	Finished time.Time `json:"finished"`
}

// PageRecord is persisted once per successfully extracted page, keyed by URL.
// Re-scrapes upsert in place; the table never holds two rows for one URL.
type PageRecord struct {
	URL         string    `json:"url"`
	Domain      string    `json:"domain"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	WordCount   int       `json:"word_count"`
	ScrapedAt   time.Time `json:"scraped_at"`
}

// ChunkMetadata holds the structured commerce fields attached to a chunk.
// The same fields are concatenated into the embedded text and stored as a
// sidecar so non-embedding consumers can filter on them.
type ChunkMetadata struct {
	Category     string `json:"category,omitempty"`
	Brand        string `json:"brand,omitempty"`
	Price        string `json:"price,omitempty"`
	Currency     string `json:"currency,omitempty"`
	Availability string `json:"availability,omitempty"`
	SKU          string `json:"sku,omitempty"`
}

// IsZero reports whether no metadata field is set.
func (m ChunkMetadata) IsZero() bool {
	return m == ChunkMetadata{}
}

// ContentChunk is a bounded-size slice of a page's extracted text, the unit
// of deduplication and embedding.
type ContentChunk struct {
	PageURL  string        `json:"page_url"`
	Index    int           `json:"index"`
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// ID returns the stable chunk identifier used by the vector store.
func (c ContentChunk) ID() string {
	return fmt.Sprintf("%s#%04d", c.PageURL, c.Index)
}

// DedupEntry is the global, cross-job admission record for a fingerprint.
type DedupEntry struct {
	Fingerprint string    `json:"fingerprint"`
	FirstSeen   time.Time `json:"first_seen"`
	RefCount    int64     `json:"ref_count"`
}

// EmbeddingVector holds the embedding produced for a surviving chunk.
// Invariant: exactly one vector exists per surviving chunk; a forced re-embed
// deletes the old vector before writing the new one.
type EmbeddingVector struct {
	ChunkID      string    `json:"chunk_id"`
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version"`
}

// ChunkMatch is a single nearest-neighbor result from the vector store.
type ChunkMatch struct {
	ChunkID  string        `json:"chunk_id"`
	PageURL  string        `json:"page_url"`
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
	Score    float64       `json:"score"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	JobID       string
	URL         string
	UseHeadless bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	FinalURL     string
	StatusCode   int
	HTML         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	RootURL   string
	Options   JobOptions
	Attempt   int
	Submitted int64
}

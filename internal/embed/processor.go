package embed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/storechat/content-pipeline/internal/chunk"
	"github.com/storechat/content-pipeline/internal/metrics"
	"github.com/storechat/content-pipeline/internal/pipeline"
)

// Config controls batching and retry behavior.
type Config struct {
	// BatchSize amortizes external-call overhead; 50 in production.
	BatchSize int
	// MaxRetries bounds per-batch retry attempts before deferral.
	MaxRetries int
	// QueueDepth bounds pending chunks; a full queue blocks Submit, which
	// pauses chunk submission in the workers, never page fetching.
	QueueDepth int
	// FlushInterval flushes a partial batch that has been waiting too long.
	FlushInterval time.Duration
}

// BatchFailure reports a batch whose retries were exhausted. Its chunks are
// parked on the deferred queue, not dropped.
type BatchFailure struct {
	Chunks []pipeline.ContentChunk
	Err    error
}

// Processor consumes chunks from a bounded queue, batches them, and persists
// the resulting vectors. It runs decoupled from the fetch workers so a slow
// embedding call never blocks page fetching.
type Processor struct {
	embedder  pipeline.Embedder
	store     pipeline.VectorStore
	cfg       Config
	pending   chan pipeline.ContentChunk
	onFailure func(BatchFailure)
	logger    *zap.Logger

	mu       sync.Mutex
	deferred []pipeline.ContentChunk

	doneCh chan struct{}
}

// NewProcessor builds a Processor. onFailure may be nil.
func NewProcessor(
	embedder pipeline.Embedder,
	store pipeline.VectorStore,
	cfg Config,
	onFailure func(BatchFailure),
	logger *zap.Logger,
) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		embedder:  embedder,
		store:     store,
		cfg:       cfg,
		pending:   make(chan pipeline.ContentChunk, cfg.QueueDepth),
		onFailure: onFailure,
		logger:    logger,
		doneCh:    make(chan struct{}),
	}
}

// Submit enqueues chunks for embedding. It blocks while the pending queue is
// full, applying backpressure to the caller.
func (p *Processor) Submit(ctx context.Context, chunks []pipeline.ContentChunk) error {
	for _, c := range chunks {
		select {
		case p.pending <- c:
		case <-ctx.Done():
			return fmt.Errorf("embed submit canceled: %w", ctx.Err())
		}
	}
	return nil
}

// Run blocks, draining the pending queue until the context finishes. The
// final partial batch is flushed before returning.
func (p *Processor) Run(ctx context.Context) {
	defer close(p.doneCh)
	batch := make([]pipeline.ContentChunk, 0, p.cfg.BatchSize)
	timer := time.NewTimer(p.cfg.FlushInterval)
	defer timer.Stop()

	for {
		select {
		case c := <-p.pending:
			batch = append(batch, c)
			if len(batch) >= p.cfg.BatchSize {
				p.processBatch(ctx, batch)
				batch = batch[:0]
				resetTimer(timer, p.cfg.FlushInterval)
			}
		case <-timer.C:
			if len(batch) > 0 {
				p.processBatch(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(p.cfg.FlushInterval)
		case <-ctx.Done():
			batch = p.drain(batch)
			if len(batch) > 0 {
				flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				p.processBatch(flushCtx, batch)
				cancel()
			}
			return
		}
	}
}

// Done is closed once Run has flushed and exited.
func (p *Processor) Done() <-chan struct{} {
	return p.doneCh
}

// DeferredCount reports chunks parked for a later re-embed pass.
func (p *Processor) DeferredCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.deferred)
}

// ReembedDeferred re-submits parked chunks and clears the deferred queue.
func (p *Processor) ReembedDeferred(ctx context.Context) error {
	p.mu.Lock()
	parked := p.deferred
	p.deferred = nil
	p.mu.Unlock()
	if len(parked) == 0 {
		return nil
	}
	return p.Submit(ctx, parked)
}

func (p *Processor) drain(batch []pipeline.ContentChunk) []pipeline.ContentChunk {
	for {
		select {
		case c := <-p.pending:
			batch = append(batch, c)
		default:
			return batch
		}
	}
}

// processBatch embeds and persists one batch, retrying with backoff. On
// exhaustion the whole batch is parked and surfaced as a partial failure.
func (p *Processor) processBatch(ctx context.Context, batch []pipeline.ContentChunk) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = chunk.EnrichText(c)
	}

	start := time.Now()
	var (
		vectors [][]float32
		err     error
	)
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff(attempt)):
			case <-ctx.Done():
				err = ctx.Err()
				attempt = p.cfg.MaxRetries
				continue
			}
		}
		vectors, err = p.embedder.Embed(ctx, texts)
		if err == nil {
			break
		}
		p.logger.Warn("embedding batch attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Int("batch_size", len(batch)),
			zap.Error(err),
		)
	}
	if err != nil {
		metrics.ObserveEmbeddingBatch("failed", time.Since(start))
		p.park(batch, err)
		return
	}

	stored := 0
	for i, c := range batch {
		vec := pipeline.EmbeddingVector{
			ChunkID:      c.ID(),
			Vector:       vectors[i],
			ModelVersion: p.embedder.Model(),
		}
		if upsertErr := p.store.UpsertChunk(ctx, c, vec); upsertErr != nil {
			p.logger.Error("vector upsert failed",
				zap.String("chunk_id", c.ID()),
				zap.Error(upsertErr),
			)
			p.park([]pipeline.ContentChunk{c}, upsertErr)
			continue
		}
		stored++
	}
	metrics.ObserveEmbeddingBatch("ok", time.Since(start))
	p.logger.Debug("embedding batch stored",
		zap.Int("chunks", stored),
		zap.Duration("elapsed", time.Since(start)),
	)
}

func (p *Processor) park(chunks []pipeline.ContentChunk, err error) {
	p.mu.Lock()
	p.deferred = append(p.deferred, chunks...)
	p.mu.Unlock()
	if p.onFailure != nil {
		p.onFailure(BatchFailure{Chunks: chunks, Err: err})
	}
}

func backoff(attempt int) time.Duration {
	d := 500 * time.Millisecond << uint(attempt-1)
	if d > 10*time.Second {
		d = 10 * time.Second
	}
	return d
}

func resetTimer(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}

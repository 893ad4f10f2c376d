package dedup

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/storechat/content-pipeline/internal/metrics"
	"github.com/storechat/content-pipeline/internal/pipeline"
)

// Engine applies the three suppression layers in order, each as an early
// exit: boilerplate filter, exact-duplicate detection within the page, and
// the global cross-job admission check.
type Engine struct {
	store  pipeline.DedupStore
	clock  pipeline.Clock
	logger *zap.Logger
}

// New builds an Engine over the shared DedupStore.
func New(store pipeline.DedupStore, clock pipeline.Clock, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, clock: clock, logger: logger}
}

// Filter returns the chunks that survive all three layers. Suppressed chunks
// are duplicates, never errors; a store failure on a single chunk suppresses
// that chunk and is reported on the returned error only if every lookup
// failed.
func (e *Engine) Filter(ctx context.Context, chunks []pipeline.ContentChunk) ([]pipeline.ContentChunk, error) {
	survivors := make([]pipeline.ContentChunk, 0, len(chunks))
	seen := make(map[string]struct{}, len(chunks))
	var lastErr error
	failures := 0

	for _, chunk := range chunks {
		text := StripBoilerplate(chunk.Text)
		if Canonicalize(text) == "" {
			metrics.ObserveChunk("boilerplate")
			continue
		}
		chunk.Text = text

		fp := Fingerprint(text)
		if _, dup := seen[fp]; dup {
			metrics.ObserveChunk("duplicate")
			continue
		}
		seen[fp] = struct{}{}

		admitted, refCount, err := e.store.Admit(ctx, fp, e.clock.Now())
		if err != nil {
			failures++
			lastErr = err
			e.logger.Warn("dedup admission failed, suppressing chunk",
				zap.String("fingerprint", fp),
				zap.Error(err),
			)
			continue
		}
		if !admitted {
			metrics.ObserveChunk("duplicate")
			e.logger.Debug("chunk suppressed by global store",
				zap.String("fingerprint", fp),
				zap.Int64("ref_count", refCount),
			)
			continue
		}
		metrics.ObserveChunk("admitted")
		survivors = append(survivors, chunk)
	}

	if failures > 0 && failures == len(chunks) {
		return survivors, fmt.Errorf("dedup store unavailable: %w", lastErr)
	}
	return survivors, nil
}

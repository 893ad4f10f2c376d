// Package orchestrator runs crawl jobs end to end: frontier management,
// adaptive fetch fan-out, extraction, dedup, and embedding hand-off.
package orchestrator

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/storechat/content-pipeline/internal/archive"
	"github.com/storechat/content-pipeline/internal/chunk"
	"github.com/storechat/content-pipeline/internal/concurrency"
	"github.com/storechat/content-pipeline/internal/dedup"
	"github.com/storechat/content-pipeline/internal/embed"
	"github.com/storechat/content-pipeline/internal/extract"
	"github.com/storechat/content-pipeline/internal/metrics"
	"github.com/storechat/content-pipeline/internal/pipeline"
	"github.com/storechat/content-pipeline/internal/ratelimit"
)

// Config controls orchestrator behavior.
type Config struct {
	JobWorkers      int
	DefaultMaxPages int
	MaxErrors       int
	Retry           RetryPolicy
	Topic           string
}

// Deps collects the collaborators a running orchestrator needs.
type Deps struct {
	Queue      pipeline.Queue
	Jobs       pipeline.JobStore
	Pages      pipeline.PageStore
	Vectors    pipeline.VectorStore
	Dedup      *dedup.Engine
	Splitter   *chunk.Splitter
	Embedder   *embed.Processor
	Extractor  *extract.Extractor
	Probe      pipeline.Fetcher
	Headless   pipeline.Fetcher
	Detector   pipeline.RenderDetector
	Discover   func(ctx context.Context, rootURL string) ([]string, error)
	Controller *concurrency.Controller
	Limiter    *ratelimit.Limiter
	Archiver   *archive.Archiver
	Publisher  pipeline.Publisher
	Clock      pipeline.Clock
	IDs        pipeline.IDGenerator
	Logger     *zap.Logger
}

// Orchestrator consumes queued jobs and drives the pipeline for each.
type Orchestrator struct {
	cfg  Config
	deps Deps

	attempts  atomic.Int64
	successes atomic.Int64

	rateMu        sync.Mutex
	lastAttempts  int64
	lastSuccesses int64

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc
}

// New constructs an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Queue == nil:
		return nil, fmt.Errorf("queue is required")
	case deps.Jobs == nil:
		return nil, fmt.Errorf("job store is required")
	case deps.Pages == nil:
		return nil, fmt.Errorf("page store is required")
	case deps.Dedup == nil:
		return nil, fmt.Errorf("dedup engine is required")
	case deps.Splitter == nil:
		return nil, fmt.Errorf("splitter is required")
	case deps.Embedder == nil:
		return nil, fmt.Errorf("embed processor is required")
	case deps.Extractor == nil:
		return nil, fmt.Errorf("extractor is required")
	case deps.Probe == nil:
		return nil, fmt.Errorf("probe fetcher is required")
	case deps.Controller == nil:
		return nil, fmt.Errorf("concurrency controller is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	case deps.IDs == nil:
		return nil, fmt.Errorf("id generator is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.JobWorkers <= 0 {
		cfg.JobWorkers = 2
	}
	if cfg.DefaultMaxPages <= 0 {
		cfg.DefaultMaxPages = 200
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = 50
	}
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		cancels: make(map[string]context.CancelFunc),
	}, nil
}

// Submit validates the root URL, persists a queued job, and enqueues it.
func (o *Orchestrator) Submit(ctx context.Context, rootURL string, opts pipeline.JobOptions) (pipeline.Job, error) {
	parsed, err := url.Parse(strings.TrimSpace(rootURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Hostname() == "" {
		return pipeline.Job{}, pipeline.NewError(pipeline.CodeInternal, "orchestrator.submit",
			fmt.Errorf("invalid root url %q", rootURL))
	}
	// Matches frontier normalization so the root stays comparable.
	parsed.Host = strings.ToLower(parsed.Host)
	if parsed.Path == "" {
		parsed.Path = "/"
	}
	parsed.Fragment = ""
	if opts.Mode == "" {
		opts.Mode = pipeline.ModeFullCrawl
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = o.cfg.DefaultMaxPages
	}
	id, err := o.deps.IDs.NewID()
	if err != nil {
		return pipeline.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	now := o.deps.Clock.Now()
	job := pipeline.Job{
		ID:        id,
		RootURL:   parsed.String(),
		Options:   opts,
		Status:    pipeline.JobStatusQueued,
		CreatedAt: now,
	}
	if err := o.deps.Jobs.CreateJob(ctx, job); err != nil {
		return pipeline.Job{}, fmt.Errorf("create job: %w", err)
	}
	item := pipeline.QueueItem{
		JobID:     job.ID,
		RootURL:   job.RootURL,
		Options:   opts,
		Submitted: now.UnixMilli(),
	}
	if err := o.deps.Queue.Enqueue(ctx, item); err != nil {
		return pipeline.Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	metrics.ObserveJob(string(pipeline.JobStatusQueued))
	return job, nil
}

// Status fetches the latest persisted state for a job. Safe for concurrent
// pollers.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (pipeline.Job, error) {
	return o.deps.Jobs.GetJob(ctx, jobID)
}

// Cancel stops new URL dispatch for a running job; in-flight fetches finish
// on their own timeouts. A job still sitting in the queue is finalized
// immediately so the consumer skips it on dequeue.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	o.cancelMu.Lock()
	cancel, ok := o.cancels[jobID]
	o.cancelMu.Unlock()
	if ok {
		cancel()
		return nil
	}
	job, err := o.deps.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != pipeline.JobStatusQueued {
		return pipeline.ErrNotFound
	}
	now := o.deps.Clock.Now()
	job.Status = pipeline.JobStatusCompleted
	job.DoneAt = &now
	if err := o.deps.Jobs.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("cancel queued job: %w", err)
	}
	metrics.ObserveJob(string(pipeline.JobStatusCompleted))
	return nil
}

// Run consumes the queue with a fixed pool of job workers and blocks until
// the context finishes.
func (o *Orchestrator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < o.cfg.JobWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.consume(ctx)
		}()
	}
	<-ctx.Done()
	wg.Wait()
}

func (o *Orchestrator) consume(ctx context.Context) {
	for {
		item, err := o.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.deps.Logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		o.runJob(ctx, item)
	}
}

// SuccessRate reports the fetch success ratio since the previous call. With
// no new attempts it reports 1.0 so an idle pipeline never shrinks the pool.
func (o *Orchestrator) SuccessRate() float64 {
	o.rateMu.Lock()
	defer o.rateMu.Unlock()
	attempts := o.attempts.Load()
	successes := o.successes.Load()
	deltaAttempts := attempts - o.lastAttempts
	deltaSuccesses := successes - o.lastSuccesses
	o.lastAttempts = attempts
	o.lastSuccesses = successes
	if deltaAttempts == 0 {
		return 1.0
	}
	return float64(deltaSuccesses) / float64(deltaAttempts)
}

type urlOutcome int

const (
	outcomeSucceeded urlOutcome = iota
	outcomeFailed
	outcomeSkipped
)

// jobState guards the mutable job record while workers report outcomes.
type jobState struct {
	mu  sync.Mutex
	job pipeline.Job
}

func (s *jobState) record(outcome urlOutcome, rawURL string, err error, now time.Time, maxErrors int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch outcome {
	case outcomeSucceeded:
		s.job.Progress.Completed++
	case outcomeFailed:
		s.job.Progress.Failed++
		if err != nil && len(s.job.Errors) < maxErrors {
			s.job.Errors = append(s.job.Errors, pipeline.JobError{
				URL:       rawURL,
				Error:     err.Error(),
				Timestamp: now,
			})
		}
	case outcomeSkipped:
		s.job.Progress.Skipped++
	}
}

func (s *jobState) snapshot() pipeline.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.job
	out.Errors = append([]pipeline.JobError(nil), s.job.Errors...)
	return out
}

func (o *Orchestrator) runJob(ctx context.Context, item pipeline.QueueItem) {
	logger := o.deps.Logger.With(zap.String("job_id", item.JobID), zap.String("root_url", item.RootURL))

	job, err := o.deps.Jobs.GetJob(ctx, item.JobID)
	if err != nil {
		logger.Error("load queued job failed", zap.Error(err))
		return
	}
	// Canceled-while-queued jobs are already finalized.
	if job.Status != pipeline.JobStatusQueued {
		logger.Info("skipping dequeued job", zap.String("status", string(job.Status)))
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	o.cancelMu.Lock()
	o.cancels[item.JobID] = cancel
	o.cancelMu.Unlock()
	defer func() {
		cancel()
		o.cancelMu.Lock()
		delete(o.cancels, item.JobID)
		o.cancelMu.Unlock()
	}()

	started := o.deps.Clock.Now()
	job.Status = pipeline.JobStatusRunning
	job.StartedAt = &started
	state := &jobState{job: job}
	o.persist(ctx, state, logger)
	metrics.ObserveJob(string(pipeline.JobStatusRunning))

	frontier, crawlDiscovery, err := o.buildFrontier(jobCtx, item)
	if err != nil {
		o.finishJob(ctx, state, started, pipeline.NewError(pipeline.CodeJobFatal, "orchestrator.frontier", err), logger)
		return
	}

	site := metrics.SanitizeSite(item.RootURL)
	processed := 0
	var rootFailed atomic.Bool

	for jobCtx.Err() == nil && processed < item.Options.MaxPages {
		// The pool target is re-read each scheduling tick so controller
		// adjustments apply between waves, never mid-fetch.
		width := o.deps.Controller.Current()
		if remaining := item.Options.MaxPages - processed; width > remaining {
			width = remaining
		}
		batch := frontier.NextBatch(width)
		if len(batch) == 0 {
			break
		}

		var wg sync.WaitGroup
		for _, rawURL := range batch {
			wg.Add(1)
			go func(rawURL string) {
				defer wg.Done()
				outcome, links, err := o.processURL(jobCtx, item, rawURL, site, logger)
				state.record(outcome, rawURL, err, o.deps.Clock.Now(), o.cfg.MaxErrors)
				if crawlDiscovery && outcome == outcomeSucceeded {
					frontier.Add(links...)
				}
				if rawURL == item.RootURL && outcome == outcomeFailed {
					rootFailed.Store(true)
				}
			}(rawURL)
		}
		wg.Wait()
		processed += len(batch)

		state.mu.Lock()
		state.job.Progress.Total = frontier.Discovered()
		state.mu.Unlock()
		o.persist(ctx, state, logger)
	}

	var fatal error
	snapshot := state.snapshot()
	if rootFailed.Load() && snapshot.Progress.Completed == 0 {
		fatal = pipeline.NewError(pipeline.CodeJobFatal, "orchestrator.run",
			fmt.Errorf("root url unreachable after retries"))
	}
	o.finishJob(ctx, state, started, fatal, logger)
}

// buildFrontier resolves the URL set. Sitemap discovery wins when it yields
// URLs; otherwise the job falls back to seed-and-crawl link discovery. The
// second return reports whether link discovery stays active.
func (o *Orchestrator) buildFrontier(ctx context.Context, item pipeline.QueueItem) (*Frontier, bool, error) {
	if item.Options.Mode == pipeline.ModeSingle {
		f, err := NewFrontier(item.RootURL, nil, 1)
		return f, false, err
	}
	var seeds []string
	if o.deps.Discover != nil {
		urls, err := o.deps.Discover(ctx, item.RootURL)
		if err != nil {
			o.deps.Logger.Warn("sitemap discovery failed, falling back to crawl",
				zap.String("job_id", item.JobID), zap.Error(err))
		} else {
			seeds = urls
		}
	}
	f, err := NewFrontier(item.RootURL, seeds, item.Options.MaxPages)
	if err != nil {
		return nil, false, err
	}
	// With a sitemap the URL set is authoritative; without one, links found
	// on fetched pages feed the frontier.
	return f, len(seeds) == 0, nil
}

func (o *Orchestrator) processURL(ctx context.Context, item pipeline.QueueItem, rawURL, site string, logger *zap.Logger) (urlOutcome, []string, error) {
	if o.deps.Limiter != nil {
		if err := o.deps.Limiter.Wait(ctx, rawURL); err != nil {
			return outcomeFailed, nil, pipeline.NewError(pipeline.CodeFetch, "orchestrator.ratelimit", err)
		}
	}

	o.attempts.Add(1)
	resp, err := o.fetchWithRetry(ctx, item, rawURL)
	if err != nil {
		metrics.ObservePage(site, "failed")
		return outcomeFailed, nil, pipeline.NewError(pipeline.CodeFetch, "orchestrator.fetch", err)
	}
	o.successes.Add(1)
	metrics.ObserveFetch(rendererLabel(resp.UsedHeadless), resp.Duration)

	links := DiscoverLinks(resp.FinalURL, resp.HTML)

	fields, err := o.deps.Extractor.Extract(resp.HTML, resp.FinalURL)
	if err != nil {
		metrics.ObservePage(site, "skipped")
		logger.Debug("page skipped", zap.String("url", rawURL), zap.Error(err))
		return outcomeSkipped, links, nil
	}

	now := o.deps.Clock.Now()
	page := pipeline.PageRecord{
		URL:         resp.FinalURL,
		Domain:      extract.Domain(resp.FinalURL),
		Title:       fields.Title,
		Content:     fields.Body,
		ContentHash: dedup.ContentHash(fields.Body),
		WordCount:   extract.WordCount(fields.Body),
		ScrapedAt:   now,
	}
	if err := o.deps.Pages.UpsertPage(ctx, page); err != nil {
		metrics.ObservePage(site, "failed")
		return outcomeFailed, links, pipeline.NewError(pipeline.CodeInternal, "orchestrator.persist", err)
	}

	if o.deps.Archiver.Enabled() {
		if _, err := o.deps.Archiver.Archive(ctx, item.JobID, page.ContentHash, resp.HTML); err != nil {
			// Snapshot loss never fails the page.
			logger.Warn("archive snapshot failed", zap.String("url", rawURL), zap.Error(err))
		}
	}

	if err := o.embedPage(ctx, item, page, fields); err != nil {
		logger.Warn("embedding hand-off failed", zap.String("url", rawURL), zap.Error(err))
	}

	metrics.ObservePage(site, "succeeded")
	return outcomeSucceeded, links, nil
}

// embedPage chunks the page, applies dedup, and submits survivors. With
// ForceReembed the page's existing vectors are dropped and global dedup is
// bypassed so refreshed content re-embeds even when fingerprints match.
func (o *Orchestrator) embedPage(ctx context.Context, item pipeline.QueueItem, page pipeline.PageRecord, fields extract.Fields) error {
	meta := pipeline.ChunkMetadata{
		Category:     fields.Category,
		Brand:        fields.Brand,
		Price:        fields.Price,
		Currency:     fields.Currency,
		Availability: fields.Availability,
		SKU:          fields.SKU,
	}
	chunks := o.deps.Splitter.Split(page, meta)
	if len(chunks) == 0 {
		return nil
	}

	var survivors []pipeline.ContentChunk
	if item.Options.ForceReembed {
		if o.deps.Vectors != nil {
			if err := o.deps.Vectors.DeleteByPage(ctx, page.URL); err != nil {
				return fmt.Errorf("drop stale vectors: %w", err)
			}
		}
		for _, c := range chunks {
			if stripped := dedup.StripBoilerplate(c.Text); strings.TrimSpace(stripped) != "" {
				c.Text = stripped
				survivors = append(survivors, c)
			}
		}
	} else {
		var err error
		survivors, err = o.deps.Dedup.Filter(ctx, chunks)
		if err != nil {
			return fmt.Errorf("dedup filter: %w", err)
		}
	}
	if len(survivors) == 0 {
		return nil
	}
	return o.deps.Embedder.Submit(ctx, survivors)
}

func (o *Orchestrator) fetchWithRetry(ctx context.Context, item pipeline.QueueItem, rawURL string) (pipeline.FetchResponse, error) {
	var resp pipeline.FetchResponse
	err := o.cfg.Retry.Do(ctx, func() error {
		var err error
		resp, err = o.deps.Probe.Fetch(ctx, pipeline.FetchRequest{
			JobID: item.JobID,
			URL:   rawURL,
		})
		if err != nil {
			return err
		}
		return classifyStatus(resp.StatusCode)
	})
	if err != nil {
		return pipeline.FetchResponse{}, err
	}
	if resp.FinalURL == "" {
		resp.FinalURL = rawURL
	}
	return o.maybePromote(ctx, item, rawURL, resp), nil
}

// maybePromote re-fetches through the headless renderer when the static
// probe looks like an unrendered SPA shell. Promotion failure keeps the
// probe response.
func (o *Orchestrator) maybePromote(ctx context.Context, item pipeline.QueueItem, rawURL string, resp pipeline.FetchResponse) pipeline.FetchResponse {
	if !item.Options.HeadlessAllowed || o.deps.Detector == nil || o.deps.Headless == nil {
		return resp
	}
	if !o.deps.Detector.ShouldPromote(resp) {
		return resp
	}
	headlessResp, err := o.deps.Headless.Fetch(ctx, pipeline.FetchRequest{
		JobID:       item.JobID,
		URL:         rawURL,
		UseHeadless: true,
	})
	if err != nil {
		o.deps.Logger.Warn("headless promotion failed",
			zap.String("job_id", item.JobID), zap.String("url", rawURL), zap.Error(err))
		return resp
	}
	if headlessResp.FinalURL == "" {
		headlessResp.FinalURL = rawURL
	}
	return headlessResp
}

// classifyStatus maps HTTP status codes onto the retry policy: server-side
// and throttling responses retry, client errors fail immediately.
func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 400:
		return nil
	case status == 429 || status >= 500:
		return fmt.Errorf("http status %d", status)
	default:
		return Permanent(fmt.Errorf("http status %d", status))
	}
}

func (o *Orchestrator) finishJob(ctx context.Context, state *jobState, started time.Time, fatal error, logger *zap.Logger) {
	done := o.deps.Clock.Now()
	elapsed := done.Sub(started).Seconds()

	state.mu.Lock()
	state.job.DoneAt = &done
	if fatal != nil {
		state.job.Status = pipeline.JobStatusFailed
		if len(state.job.Errors) < o.cfg.MaxErrors {
			state.job.Errors = append(state.job.Errors, pipeline.JobError{
				URL:       state.job.RootURL,
				Error:     fatal.Error(),
				Timestamp: done,
			})
		}
	} else {
		state.job.Status = pipeline.JobStatusCompleted
	}
	attempted := state.job.Progress.Completed + state.job.Progress.Failed
	if attempted > 0 {
		state.job.Metrics.SuccessRate = float64(state.job.Progress.Completed) / float64(attempted)
	}
	if elapsed > 0 {
		state.job.Metrics.PagesPerSecond = float64(state.job.Progress.Completed) / elapsed
	}
	state.job.Metrics.MemoryUsageMB = concurrency.MemoryUsedMB()
	final := state.job.Status
	state.mu.Unlock()

	o.persist(ctx, state, logger)
	metrics.ObserveJob(string(final))

	snapshot := state.snapshot()
	logger.Info("job finished",
		zap.String("status", string(final)),
		zap.Int("completed", snapshot.Progress.Completed),
		zap.Int("failed", snapshot.Progress.Failed),
		zap.Int("skipped", snapshot.Progress.Skipped))

	if o.deps.Publisher != nil && o.cfg.Topic != "" {
		payload := pipeline.JobEvent{
			JobID:    snapshot.ID,
			RootURL:  snapshot.RootURL,
			Status:   snapshot.Status,
			Progress: snapshot.Progress,
			Finished: done,
		}
		if _, err := o.deps.Publisher.Publish(ctx, o.cfg.Topic, payload); err != nil {
			logger.Warn("publish job event failed", zap.Error(err))
		}
	}
}

// persist writes the current job snapshot. Updates go through the parent
// context so a canceled job can still record its final state.
func (o *Orchestrator) persist(ctx context.Context, state *jobState, logger *zap.Logger) {
	snapshot := state.snapshot()
	if err := o.deps.Jobs.UpdateJob(ctx, snapshot); err != nil {
		logger.Error("persist job state failed", zap.Error(err))
	}
}

func rendererLabel(usedHeadless bool) string {
	if usedHeadless {
		return "headless"
	}
	return "static"
}

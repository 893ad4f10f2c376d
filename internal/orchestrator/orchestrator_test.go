package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storechat/content-pipeline/internal/chunk"
	"github.com/storechat/content-pipeline/internal/concurrency"
	"github.com/storechat/content-pipeline/internal/dedup"
	"github.com/storechat/content-pipeline/internal/embed"
	"github.com/storechat/content-pipeline/internal/extract"
	"github.com/storechat/content-pipeline/internal/pipeline"
	pubmem "github.com/storechat/content-pipeline/internal/publisher/memory"
	queuemem "github.com/storechat/content-pipeline/internal/queue/memory"
	memstore "github.com/storechat/content-pipeline/internal/store/memory"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(50 * time.Millisecond)
	return c.now
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("job-%03d", g.n), nil
}

type fakeEmbedder struct{}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1, 0, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) Model() string  { return "fake-embed-001" }
func (f *fakeEmbedder) Dimension() int { return 4 }

type fixture struct {
	status int
	html   string
}

type fakeFetcher struct {
	mu       sync.Mutex
	fixtures map[string]fixture
	calls    map[string]int

	// blockURL stalls one URL until its context is canceled.
	blockURL string
	started  chan struct{}
}

func newFakeFetcher(fixtures map[string]fixture) *fakeFetcher {
	return &fakeFetcher{fixtures: fixtures, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	f.mu.Lock()
	f.calls[req.URL]++
	fx, ok := f.fixtures[req.URL]
	f.mu.Unlock()

	if f.blockURL == req.URL {
		select {
		case f.started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return pipeline.FetchResponse{}, ctx.Err()
	}
	if !ok {
		return pipeline.FetchResponse{URL: req.URL, FinalURL: req.URL, StatusCode: 404}, nil
	}
	return pipeline.FetchResponse{
		URL:        req.URL,
		FinalURL:   req.URL,
		StatusCode: fx.status,
		HTML:       []byte(fx.html),
		Duration:   5 * time.Millisecond,
	}, nil
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type harness struct {
	orch      *Orchestrator
	jobs      *memstore.JobStore
	pages     *memstore.PageStore
	vectors   *memstore.VectorStore
	publisher *pubmem.Publisher
	stopProc  func()
}

func newHarness(t *testing.T, fetcher pipeline.Fetcher, discover func(context.Context, string) ([]string, error), width int) *harness {
	t.Helper()

	jobs := memstore.NewJobStore()
	pages := memstore.NewPageStore()
	vectors := memstore.NewVectorStore()
	clk := &stepClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	splitter, err := chunk.NewSplitter(200, 20)
	require.NoError(t, err)

	proc := embed.NewProcessor(&fakeEmbedder{}, vectors, embed.Config{
		BatchSize:     8,
		MaxRetries:    1,
		FlushInterval: 10 * time.Millisecond,
	}, nil, nil)
	procCtx, procCancel := context.WithCancel(context.Background())
	go proc.Run(procCtx)

	publisher := pubmem.New()
	orch, err := New(Config{
		Retry: RetryPolicy{MaxRetries: 1, Initial: time.Millisecond, Max: 2 * time.Millisecond},
		Topic: "content-events",
	}, Deps{
		Publisher:  publisher,
		Queue:      queuemem.NewQueue(4),
		Jobs:       jobs,
		Pages:      pages,
		Vectors:    vectors,
		Dedup:      dedup.New(memstore.NewDedupStore(), clk, nil),
		Splitter:   splitter,
		Embedder:   proc,
		Extractor:  extract.New(extract.Config{MinWordCount: 5}, nil),
		Probe:      fetcher,
		Discover:   discover,
		Controller: concurrency.New(concurrency.Config{Min: width, Max: width}, nil),
		Clock:      clk,
		IDs:        &seqIDs{},
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)

	var once sync.Once
	return &harness{
		orch:      orch,
		jobs:      jobs,
		pages:     pages,
		vectors:   vectors,
		publisher: publisher,
		stopProc: func() {
			once.Do(func() {
				procCancel()
				<-proc.Done()
			})
		},
	}
}

// runToCompletion submits a job, drives it synchronously, and waits for the
// embedding processor to flush.
func (h *harness) runToCompletion(t *testing.T, rootURL string, opts pipeline.JobOptions) pipeline.Job {
	t.Helper()
	ctx := context.Background()

	job, err := h.orch.Submit(ctx, rootURL, opts)
	require.NoError(t, err)
	require.Equal(t, pipeline.JobStatusQueued, job.Status)

	h.orch.runJob(ctx, pipeline.QueueItem{JobID: job.ID, RootURL: job.RootURL, Options: job.Options})
	h.stopProc()

	final, err := h.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	return final
}

func pageHTML(title string, paragraphs ...string) string {
	var b strings.Builder
	b.WriteString("<html><head><title>")
	b.WriteString(title)
	b.WriteString("</title></head><body><main>")
	for _, p := range paragraphs {
		b.WriteString("<p>")
		b.WriteString(p)
		b.WriteString("</p>")
	}
	b.WriteString("</main></body></html>")
	return b.String()
}

const (
	rootURL  = "https://shop.example.com/"
	bodyRoot = "Welcome to the roastery storefront where every bag ships within two days of roasting."
	bodyOne  = "The single origin Kenya lot tastes of blackcurrant and brown sugar with a long clean finish."
	bodyTwo  = "Our stainless travel tumbler keeps brewed coffee hot for six hours and fits most cup holders."
)

func TestRunJobSitemapCrawl(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]fixture{
		rootURL:                              {status: 200, html: pageHTML("Roastery", bodyRoot)},
		"https://shop.example.com/p/kenya":   {status: 200, html: pageHTML("Kenya", bodyOne)},
		"https://shop.example.com/p/tumbler": {status: 200, html: pageHTML("Tumbler", bodyTwo)},
	})
	discover := func(_ context.Context, _ string) ([]string, error) {
		return []string{
			rootURL,
			"https://shop.example.com/p/kenya",
			"https://shop.example.com/p/tumbler",
		}, nil
	}

	h := newHarness(t, fetcher, discover, 2)
	job := h.runToCompletion(t, "https://shop.example.com", pipeline.JobOptions{MaxPages: 10})

	require.Equal(t, pipeline.JobStatusCompleted, job.Status)
	require.Equal(t, 3, job.Progress.Total)
	require.Equal(t, 3, job.Progress.Completed)
	require.Zero(t, job.Progress.Failed)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.DoneAt)
	require.Equal(t, 1.0, job.Metrics.SuccessRate)

	page, err := h.pages.GetPage(context.Background(), "https://shop.example.com/p/kenya")
	require.NoError(t, err)
	require.Equal(t, "shop.example.com", page.Domain)
	require.Equal(t, "Kenya", page.Title)
	require.Len(t, page.ContentHash, 64)
	require.Greater(t, page.WordCount, 0)

	// One chunk per fixture page survives dedup and gets embedded.
	require.Equal(t, 3, h.vectors.Len())

	events := h.publisher.Events()
	require.Len(t, events, 1)
	require.Equal(t, "content-events", events[0].Topic)
	published := h.publisher.JobEvents()
	require.Len(t, published, 1)
	require.Equal(t, job.ID, published[0].JobID)
	require.Equal(t, pipeline.JobStatusCompleted, published[0].Status)
	require.Equal(t, 3, published[0].Progress.Completed)
}

func TestRunJobLinkDiscoveryFallback(t *testing.T) {
	t.Parallel()

	rootWithLinks := `<html><head><title>Roastery</title></head><body>
		<main><p>` + bodyRoot + `</p></main>
		<a href="/p/kenya">Kenya</a>
		<a href="/p/tumbler">Tumbler</a>
	</body></html>`
	fetcher := newFakeFetcher(map[string]fixture{
		rootURL:                              {status: 200, html: rootWithLinks},
		"https://shop.example.com/p/kenya":   {status: 200, html: pageHTML("Kenya", bodyOne)},
		"https://shop.example.com/p/tumbler": {status: 200, html: pageHTML("Tumbler", bodyTwo)},
	})
	discover := func(_ context.Context, _ string) ([]string, error) {
		return nil, fmt.Errorf("no sitemap at robots.txt")
	}

	h := newHarness(t, fetcher, discover, 2)
	job := h.runToCompletion(t, "https://shop.example.com", pipeline.JobOptions{MaxPages: 10})

	require.Equal(t, pipeline.JobStatusCompleted, job.Status)
	require.Equal(t, 3, job.Progress.Completed)
	require.Equal(t, 3, job.Progress.Total)
}

func TestRunJobSingleMode(t *testing.T) {
	t.Parallel()

	rootWithLinks := `<html><head><title>Roastery</title></head><body>
		<main><p>` + bodyRoot + `</p></main>
		<a href="/p/kenya">Kenya</a>
	</body></html>`
	fetcher := newFakeFetcher(map[string]fixture{
		rootURL: {status: 200, html: rootWithLinks},
	})

	h := newHarness(t, fetcher, nil, 2)
	job := h.runToCompletion(t, "https://shop.example.com", pipeline.JobOptions{Mode: pipeline.ModeSingle})

	require.Equal(t, pipeline.JobStatusCompleted, job.Status)
	require.Equal(t, 1, job.Progress.Total)
	require.Equal(t, 1, job.Progress.Completed)
	require.Zero(t, fetcher.callCount("https://shop.example.com/p/kenya"))
}

func TestRunJobAbsorbsPartialFailures(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]fixture{
		rootURL:                            {status: 200, html: pageHTML("Roastery", bodyRoot)},
		"https://shop.example.com/p/kenya": {status: 200, html: pageHTML("Kenya", bodyOne)},
		"https://shop.example.com/p/gone":  {status: 404},
	})
	discover := func(_ context.Context, _ string) ([]string, error) {
		return []string{
			rootURL,
			"https://shop.example.com/p/kenya",
			"https://shop.example.com/p/gone",
		}, nil
	}

	h := newHarness(t, fetcher, discover, 2)
	job := h.runToCompletion(t, "https://shop.example.com", pipeline.JobOptions{MaxPages: 10})

	require.Equal(t, pipeline.JobStatusCompleted, job.Status)
	require.Equal(t, 2, job.Progress.Completed)
	require.Equal(t, 1, job.Progress.Failed)
	require.Len(t, job.Errors, 1)
	require.Equal(t, "https://shop.example.com/p/gone", job.Errors[0].URL)
	require.Contains(t, job.Errors[0].Error, "404")
	// Client errors are permanent: no retry.
	require.Equal(t, 1, fetcher.callCount("https://shop.example.com/p/gone"))
}

func TestRunJobFailsWhenRootUnreachable(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]fixture{
		rootURL: {status: 503},
	})

	h := newHarness(t, fetcher, nil, 2)
	job := h.runToCompletion(t, "https://shop.example.com", pipeline.JobOptions{MaxPages: 10})

	require.Equal(t, pipeline.JobStatusFailed, job.Status)
	require.Zero(t, job.Progress.Completed)
	require.NotEmpty(t, job.Errors)
	require.Contains(t, job.Errors[len(job.Errors)-1].Error, "root url unreachable")
	// Server errors burn the full retry budget.
	require.Equal(t, 2, fetcher.callCount(rootURL))
}

func TestRunJobSuppressesDuplicateContent(t *testing.T) {
	t.Parallel()

	shared := "The house espresso blend balances chocolate sweetness with a bright citrus acidity in milk drinks."
	fetcher := newFakeFetcher(map[string]fixture{
		rootURL:                             {status: 200, html: pageHTML("Roastery", bodyRoot)},
		"https://shop.example.com/espresso": {status: 200, html: pageHTML("Espresso", shared)},
		"https://shop.example.com/blend":    {status: 200, html: pageHTML("Blend", shared)},
	})
	discover := func(_ context.Context, _ string) ([]string, error) {
		return []string{
			rootURL,
			"https://shop.example.com/espresso",
			"https://shop.example.com/blend",
		}, nil
	}

	// Width 1 keeps wave order deterministic: espresso is admitted first.
	h := newHarness(t, fetcher, discover, 1)
	job := h.runToCompletion(t, "https://shop.example.com", pipeline.JobOptions{MaxPages: 10})

	require.Equal(t, pipeline.JobStatusCompleted, job.Status)
	require.Equal(t, 3, job.Progress.Completed)

	// Both duplicate pages persist, with matching content hashes.
	ctx := context.Background()
	first, err := h.pages.GetPage(ctx, "https://shop.example.com/espresso")
	require.NoError(t, err)
	second, err := h.pages.GetPage(ctx, "https://shop.example.com/blend")
	require.NoError(t, err)
	require.Equal(t, first.ContentHash, second.ContentHash)

	// Only one copy of the shared text is embedded: root plus espresso.
	require.Equal(t, 2, h.vectors.Len())
	matches, err := h.vectors.Search(ctx, "shop.example.com", []float32{1, 1, 0, 0}, 10)
	require.NoError(t, err)
	for _, m := range matches {
		require.NotEqual(t, "https://shop.example.com/blend", m.PageURL)
	}
}

func TestCancelStopsDispatch(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]fixture{
		rootURL: {status: 200, html: pageHTML("Roastery", bodyRoot)},
	})
	fetcher.blockURL = "https://shop.example.com/p/slow"
	fetcher.started = make(chan struct{}, 1)
	discover := func(_ context.Context, _ string) ([]string, error) {
		return []string{rootURL, "https://shop.example.com/p/slow"}, nil
	}

	h := newHarness(t, fetcher, discover, 1)
	ctx := context.Background()

	job, err := h.orch.Submit(ctx, "https://shop.example.com", pipeline.JobOptions{MaxPages: 10})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.orch.runJob(ctx, pipeline.QueueItem{JobID: job.ID, RootURL: job.RootURL, Options: job.Options})
	}()

	select {
	case <-fetcher.started:
	case <-time.After(5 * time.Second):
		t.Fatal("blocked fetch never started")
	}
	require.NoError(t, h.orch.Cancel(ctx, job.ID))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not stop after cancel")
	}
	h.stopProc()

	// Pages finished before the cancel keep their results.
	final, err := h.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, pipeline.JobStatusCompleted, final.Status)
	require.Equal(t, 1, final.Progress.Completed)
}

func TestCancelUnknownJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeFetcher(nil), nil, 1)
	require.ErrorIs(t, h.orch.Cancel(context.Background(), "job-missing"), pipeline.ErrNotFound)
}

func TestCancelQueuedJobSkipsDispatch(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(nil)
	h := newHarness(t, fetcher, nil, 1)
	ctx := context.Background()

	job, err := h.orch.Submit(ctx, "https://shop.example.com", pipeline.JobOptions{MaxPages: 10})
	require.NoError(t, err)
	require.NoError(t, h.orch.Cancel(ctx, job.ID))

	final, err := h.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, pipeline.JobStatusCompleted, final.Status)
	require.NotNil(t, final.DoneAt)
	require.Equal(t, 0, final.Progress.Completed)

	// The consumer sees the finalized job on dequeue and never fetches.
	h.orch.runJob(ctx, pipeline.QueueItem{JobID: job.ID, RootURL: job.RootURL, Options: job.Options})
	h.stopProc()
	require.Zero(t, fetcher.callCount(job.RootURL))

	// A second cancel has nothing left to stop.
	require.ErrorIs(t, h.orch.Cancel(ctx, job.ID), pipeline.ErrNotFound)
}

func TestSubmitRejectsInvalidRootURL(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeFetcher(nil), nil, 1)
	for _, raw := range []string{"", "ftp://shop.example.com", "shop.example.com", "http://"} {
		_, err := h.orch.Submit(context.Background(), raw, pipeline.JobOptions{})
		require.Error(t, err, "rootURL %q", raw)
	}
}

func TestSubmitAppliesDefaults(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeFetcher(nil), nil, 1)
	job, err := h.orch.Submit(context.Background(), "https://shop.example.com", pipeline.JobOptions{})
	require.NoError(t, err)
	require.Equal(t, "https://shop.example.com/", job.RootURL)
	require.Equal(t, pipeline.ModeFullCrawl, job.Options.Mode)
	require.Equal(t, 200, job.Options.MaxPages)

	stored, err := h.orch.Status(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, pipeline.JobStatusQueued, stored.Status)
}

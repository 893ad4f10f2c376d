package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/storechat/content-pipeline/internal/pipeline"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := pipeline.Job{
		ID:        "job-1",
		RootURL:   "https://shop.example.com/",
		Status:    pipeline.JobStatusQueued,
		CreatedAt: time.Unix(1700000000, 0),
		Options:   pipeline.JobOptions{Tags: map[string]string{"tenant": "acme"}},
	}

	require.NoError(t, store.CreateJob(ctx, job))
	require.Error(t, store.CreateJob(ctx, job))

	job.Status = pipeline.JobStatusRunning
	job.Progress.Completed = 3
	require.NoError(t, store.UpdateJob(ctx, job))

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, pipeline.JobStatusRunning, got.Status)
	require.Equal(t, 3, got.Progress.Completed)

	require.ErrorIs(t, store.UpdateJob(ctx, pipeline.Job{ID: "job-missing"}), pipeline.ErrNotFound)
	_, err = store.GetJob(ctx, "job-missing")
	require.ErrorIs(t, err, pipeline.ErrNotFound)
}

func TestJobStoreReturnsCopies(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := pipeline.Job{
		ID:      "job-1",
		Errors:  []pipeline.JobError{{URL: "https://shop.example.com/a", Error: "boom"}},
		Options: pipeline.JobOptions{Tags: map[string]string{"tenant": "acme"}},
	}
	require.NoError(t, store.CreateJob(ctx, job))

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	got.Errors[0].Error = "mutated"
	got.Options.Tags["tenant"] = "mutated"

	fresh, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, "boom", fresh.Errors[0].Error)
	require.Equal(t, "acme", fresh.Options.Tags["tenant"])
}

func TestPageStoreUpsertAndList(t *testing.T) {
	t.Parallel()

	store := NewPageStore()
	ctx := context.Background()

	pages := []pipeline.PageRecord{
		{URL: "https://shop.example.com/b", Domain: "shop.example.com", Title: "B"},
		{URL: "https://shop.example.com/a", Domain: "shop.example.com", Title: "A"},
		{URL: "https://other.example.com/x", Domain: "other.example.com", Title: "X"},
	}
	for _, p := range pages {
		require.NoError(t, store.UpsertPage(ctx, p))
	}

	// Re-scrape replaces in place.
	require.NoError(t, store.UpsertPage(ctx, pipeline.PageRecord{
		URL: "https://shop.example.com/a", Domain: "shop.example.com", Title: "A2",
	}))

	got, err := store.GetPage(ctx, "https://shop.example.com/a")
	require.NoError(t, err)
	require.Equal(t, "A2", got.Title)

	listed, err := store.ListPagesByDomain(ctx, "shop.example.com")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	require.Equal(t, "https://shop.example.com/a", listed[0].URL)
	require.Equal(t, "https://shop.example.com/b", listed[1].URL)

	_, err = store.GetPage(ctx, "https://shop.example.com/missing")
	require.ErrorIs(t, err, pipeline.ErrNotFound)
}

func TestDedupStoreAdmit(t *testing.T) {
	t.Parallel()

	store := NewDedupStore()
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	admitted, refCount, err := store.Admit(ctx, "fp-1", now)
	require.NoError(t, err)
	require.True(t, admitted)
	require.Equal(t, int64(1), refCount)

	admitted, refCount, err = store.Admit(ctx, "fp-1", now.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, admitted)
	require.Equal(t, int64(2), refCount)

	require.Equal(t, 1, store.Len())
}

func TestDedupStoreAdmitIsExclusiveUnderConcurrency(t *testing.T) {
	t.Parallel()

	store := NewDedupStore()
	now := time.Unix(1700000000, 0)

	const callers = 32
	var admittedCount int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admitted, _, err := store.Admit(context.Background(), "fp-contended", now)
			if err != nil {
				return
			}
			if admitted {
				mu.Lock()
				admittedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(1), admittedCount)
}

func TestVectorStoreSearchRanksBySimilarity(t *testing.T) {
	t.Parallel()

	store := NewVectorStore()
	ctx := context.Background()

	put := func(pageURL string, index int, text string, vec []float32) {
		t.Helper()
		c := pipeline.ContentChunk{PageURL: pageURL, Index: index, Text: text}
		require.NoError(t, store.UpsertChunk(ctx, c, pipeline.EmbeddingVector{ChunkID: c.ID(), Vector: vec}))
	}
	put("https://shop.example.com/p/mug", 0, "ceramic mug", []float32{1, 0, 0})
	put("https://shop.example.com/p/grinder", 0, "burr grinder", []float32{0.7, 0.7, 0})
	put("https://other.example.com/p/rug", 0, "wool rug", []float32{1, 0, 0})

	matches, err := store.Search(ctx, "shop.example.com", []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "ceramic mug", matches[0].Text)
	require.Greater(t, matches[0].Score, matches[1].Score)

	// An empty domain searches every tenant.
	all, err := store.Search(ctx, "", []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)

	limited, err := store.Search(ctx, "", []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestVectorStoreDeleteByPage(t *testing.T) {
	t.Parallel()

	store := NewVectorStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c := pipeline.ContentChunk{PageURL: "https://shop.example.com/p/mug", Index: i, Text: "part"}
		require.NoError(t, store.UpsertChunk(ctx, c, pipeline.EmbeddingVector{ChunkID: c.ID(), Vector: []float32{1}}))
	}
	keep := pipeline.ContentChunk{PageURL: "https://shop.example.com/p/grinder", Index: 0, Text: "keep"}
	require.NoError(t, store.UpsertChunk(ctx, keep, pipeline.EmbeddingVector{ChunkID: keep.ID(), Vector: []float32{1}}))

	require.NoError(t, store.DeleteByPage(ctx, "https://shop.example.com/p/mug"))
	require.Equal(t, 1, store.Len())
}

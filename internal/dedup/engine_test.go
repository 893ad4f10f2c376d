package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/storechat/content-pipeline/internal/pipeline"
)

type fakeClock struct{}

func (fakeClock) Now() time.Time { return time.Unix(1700000000, 0).UTC() }

type fakeDedupStore struct {
	mu      sync.Mutex
	entries map[string]int64
	err     error
}

func newFakeDedupStore() *fakeDedupStore {
	return &fakeDedupStore{entries: make(map[string]int64)}
}

func (s *fakeDedupStore) Admit(_ context.Context, fingerprint string, _ time.Time) (bool, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, 0, s.err
	}
	s.entries[fingerprint]++
	return s.entries[fingerprint] == 1, s.entries[fingerprint], nil
}

func chunkWith(text string, index int) pipeline.ContentChunk {
	return pipeline.ContentChunk{PageURL: "https://shop.example.com/p/1", Index: index, Text: text}
}

func TestFilterAdmitsFreshChunks(t *testing.T) {
	t.Parallel()

	engine := New(newFakeDedupStore(), fakeClock{}, nil)
	chunks := []pipeline.ContentChunk{
		chunkWith("Premium leather wallet with six card slots.", 0),
		chunkWith("Handmade ceramic mug, 350ml capacity.", 1),
	}

	survivors, err := engine.Filter(context.Background(), chunks)
	require.NoError(t, err)
	require.Len(t, survivors, 2)
}

func TestFilterDropsBoilerplateOnlyChunks(t *testing.T) {
	t.Parallel()

	engine := New(newFakeDedupStore(), fakeClock{}, nil)
	chunks := []pipeline.ContentChunk{
		chunkWith("Subscribe to our newsletter for updates\nAccept all cookies", 0),
		chunkWith("Solid oak dining table seats six.", 1),
	}

	survivors, err := engine.Filter(context.Background(), chunks)
	require.NoError(t, err)
	require.Len(t, survivors, 1)
	require.Contains(t, survivors[0].Text, "oak dining table")
}

func TestFilterSuppressesInPageDuplicates(t *testing.T) {
	t.Parallel()

	engine := New(newFakeDedupStore(), fakeClock{}, nil)
	chunks := []pipeline.ContentChunk{
		chunkWith("Free returns within 30 days of purchase detail.", 0),
		chunkWith("free returns WITHIN 30 days of purchase detail.", 1),
	}

	survivors, err := engine.Filter(context.Background(), chunks)
	require.NoError(t, err)
	require.Len(t, survivors, 1)
}

func TestFilterSuppressesCrossJobDuplicates(t *testing.T) {
	t.Parallel()

	store := newFakeDedupStore()
	engine := New(store, fakeClock{}, nil)
	text := "Stainless steel water bottle, vacuum insulated."

	first, err := engine.Filter(context.Background(), []pipeline.ContentChunk{chunkWith(text, 0)})
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := engine.Filter(context.Background(), []pipeline.ContentChunk{chunkWith(text, 0)})
	require.NoError(t, err)
	require.Empty(t, second)
	require.Equal(t, int64(2), store.entries[Fingerprint(text)])
}

// Two workers racing on the same fingerprint must admit it exactly once.
func TestFilterConcurrentAdmissionIsExclusive(t *testing.T) {
	t.Parallel()

	store := newFakeDedupStore()
	engine := New(store, fakeClock{}, nil)
	text := "Wireless earbuds with charging case, 24h battery."

	const workers = 16
	results := make(chan int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			survivors, _ := engine.Filter(context.Background(), []pipeline.ContentChunk{chunkWith(text, 0)})
			results <- len(survivors)
		}()
	}
	wg.Wait()
	close(results)

	admitted := 0
	for n := range results {
		admitted += n
	}
	require.Equal(t, 1, admitted)
	require.Equal(t, int64(workers), store.entries[Fingerprint(text)])
}

func TestFilterStoreOutageSuppressesChunksAndReportsError(t *testing.T) {
	t.Parallel()

	store := newFakeDedupStore()
	store.err = errors.New("connection refused")
	engine := New(store, fakeClock{}, nil)

	survivors, err := engine.Filter(context.Background(), []pipeline.ContentChunk{
		chunkWith("First unique product description here.", 0),
		chunkWith("Second unique product description here.", 1),
	})
	require.Error(t, err)
	require.Empty(t, survivors)
}

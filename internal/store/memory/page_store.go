package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/storechat/content-pipeline/internal/pipeline"
)

// PageStore keeps page records keyed by URL.
type PageStore struct {
	mu    sync.RWMutex
	pages map[string]pipeline.PageRecord
}

// NewPageStore constructs a PageStore.
func NewPageStore() *PageStore {
	return &PageStore{pages: make(map[string]pipeline.PageRecord)}
}

// UpsertPage inserts or replaces the record for its URL.
func (s *PageStore) UpsertPage(_ context.Context, page pipeline.PageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[page.URL] = page
	return nil
}

// GetPage fetches a page by URL.
func (s *PageStore) GetPage(_ context.Context, url string) (pipeline.PageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.pages[url]
	if !ok {
		return pipeline.PageRecord{}, pipeline.ErrNotFound
	}
	return page, nil
}

// ListPagesByDomain returns all pages for a domain, ordered by URL.
func (s *PageStore) ListPagesByDomain(_ context.Context, domain string) ([]pipeline.PageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pipeline.PageRecord
	for _, page := range s.pages {
		if page.Domain == domain {
			out = append(out, page)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/storechat/content-pipeline/internal/pipeline"
)

// DedupStore tracks chunk fingerprints with reference counts.
type DedupStore struct {
	mu      sync.Mutex
	entries map[string]pipeline.DedupEntry
}

// NewDedupStore constructs a DedupStore.
func NewDedupStore() *DedupStore {
	return &DedupStore{entries: make(map[string]pipeline.DedupEntry)}
}

// Admit registers a fingerprint. The first caller for a given fingerprint is
// admitted; later callers only bump the reference count. The check and the
// increment happen under one lock so concurrent callers for the same
// fingerprint admit exactly once.
func (s *DedupStore) Admit(_ context.Context, fingerprint string, now time.Time) (bool, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[fingerprint]
	if !ok {
		entry = pipeline.DedupEntry{Fingerprint: fingerprint, FirstSeen: now, RefCount: 1}
		s.entries[fingerprint] = entry
		return true, entry.RefCount, nil
	}
	entry.RefCount++
	s.entries[fingerprint] = entry
	return false, entry.RefCount, nil
}

// Len reports the number of distinct fingerprints.
func (s *DedupStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

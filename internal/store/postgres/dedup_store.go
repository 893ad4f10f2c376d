package postgres

import (
	"context"
	"fmt"
	"time"
)

// DedupStore persists chunk fingerprints with reference counts.
type DedupStore struct {
	pool querier
}

// NewDedupStore constructs a DedupStore over an existing pool.
func NewDedupStore(pool querier) (*DedupStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &DedupStore{pool: pool}, nil
}

// Admit registers a fingerprint in a single statement. The insert and the
// ref-count bump race safely: concurrent callers for the same fingerprint
// admit exactly once because the conflict resolution happens inside Postgres.
// xmax = 0 distinguishes a fresh insert from a conflict update.
func (s *DedupStore) Admit(ctx context.Context, fingerprint string, now time.Time) (bool, int64, error) {
	const query = `
INSERT INTO dedup_entries (fingerprint, first_seen, ref_count)
VALUES ($1, $2, 1)
ON CONFLICT (fingerprint) DO UPDATE SET ref_count = dedup_entries.ref_count + 1
RETURNING ref_count, (xmax = 0) AS inserted`
	var (
		refCount int64
		inserted bool
	)
	if err := s.pool.QueryRow(ctx, query, fingerprint, now).Scan(&refCount, &inserted); err != nil {
		return false, 0, fmt.Errorf("admit fingerprint: %w", err)
	}
	return inserted, refCount, nil
}

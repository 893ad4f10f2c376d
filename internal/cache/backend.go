// Package cache implements the versioned, size-bounded retrieval cache.
//
// Keys carry a version suffix tied to the retrieval-logic version; bumping
// the configured version is the only sanctioned way to invalidate
// outstanding entries en masse. TTL handles "stale because old"; the version
// handles "stale because the wrong algorithm produced it".
package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Backend is the storage surface behind the Layer. Two implementations
// exist: a networked Redis store and an in-process fallback with equivalent
// key-expiry and LRU semantics. Callers never branch on which is active.
type Backend interface {
	// Get returns the value and whether the key was present and unexpired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set writes the value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// DeletePattern removes all keys matching a glob pattern and reports
	// how many were removed.
	DeletePattern(ctx context.Context, pattern string) (int, error)
	// Close releases backend resources.
	Close() error
}

// SelectBackend builds the configured backend. A Redis server unreachable
// at startup degrades to the in-process store so the service still comes up;
// only an unknown backend name is an error.
func SelectBackend(ctx context.Context, name, redisAddr string, maxEntries int, logger *zap.Logger) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch name {
	case "redis":
		backend, err := NewRedisBackend(ctx, redisAddr)
		if err != nil {
			logger.Warn("redis cache unreachable, using in-process fallback", zap.Error(err))
			return NewMemoryBackend(maxEntries), nil
		}
		return backend, nil
	case "memory", "":
		return NewMemoryBackend(maxEntries), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", name)
	}
}

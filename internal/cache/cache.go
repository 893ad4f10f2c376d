package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/storechat/content-pipeline/internal/metrics"
)

// Query identifies a cacheable retrieval request. Normalization makes key
// construction order-independent.
type Query struct {
	Domain string
	Text   string
	Params map[string]string
}

// Normalize renders the query as a canonical string: lowercased domain and
// text plus sorted parameter pairs.
func (q Query) Normalize() string {
	parts := []string{
		"domain=" + strings.ToLower(strings.TrimSpace(q.Domain)),
		"q=" + strings.ToLower(strings.TrimSpace(q.Text)),
	}
	keys := make([]string, 0, len(q.Params))
	for k := range q.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+q.Params[k])
	}
	return strings.Join(parts, "&")
}

// queryHashWidth truncates the digest for key compactness; collisions only
// cost a spurious miss within one namespace+version.
const queryHashWidth = 16

// Config controls the Layer.
type Config struct {
	Namespace string
	// Version is injected at startup; bumping it is the only sanctioned
	// invalidation mechanism for retrieval-logic changes.
	Version   int
	TTL       time.Duration
	OpTimeout time.Duration
}

// Envelope is the wire format stored under each key.
type Envelope struct {
	Payload  json.RawMessage `json:"payload"`
	CachedAt time.Time       `json:"cached_at"`
}

// Layer is the read-through versioned cache over a Backend. Backend failures
// degrade to misses; they are never surfaced to the caller.
type Layer struct {
	backend Backend
	cfg     Config
	logger  *zap.Logger
}

// NewLayer builds a Layer.
func NewLayer(backend Backend, cfg Config, logger *zap.Logger) *Layer {
	if cfg.Namespace == "" {
		cfg.Namespace = "retrieval"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 250 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Layer{backend: backend, cfg: cfg, logger: logger}
}

// Key builds "<namespace>:<queryHash>:v<version>".
func (l *Layer) Key(q Query) string {
	sum := sha256.Sum256([]byte(q.Normalize()))
	return fmt.Sprintf("%s:%s:v%d", l.cfg.Namespace, hex.EncodeToString(sum[:])[:queryHashWidth], l.cfg.Version)
}

// Get looks the query up. A backend error or timeout counts as a miss.
func (l *Layer) Get(ctx context.Context, q Query) (json.RawMessage, bool) {
	opCtx, cancel := context.WithTimeout(ctx, l.cfg.OpTimeout)
	defer cancel()

	raw, hit, err := l.backend.Get(opCtx, l.Key(q))
	if err != nil {
		metrics.ObserveCacheOp("get", "error")
		l.logger.Warn("cache get degraded to miss", zap.Error(err))
		return nil, false
	}
	if !hit {
		metrics.ObserveCacheOp("get", "miss")
		return nil, false
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		metrics.ObserveCacheOp("get", "error")
		l.logger.Warn("cache entry decode failed", zap.Error(err))
		return nil, false
	}
	metrics.ObserveCacheOp("get", "hit")
	return env.Payload, true
}

// Set writes the payload. Backend failures are absorbed; the caller already
// holds the fresh value.
func (l *Layer) Set(ctx context.Context, q Query, payload json.RawMessage, cachedAt time.Time) {
	env, err := json.Marshal(Envelope{Payload: payload, CachedAt: cachedAt})
	if err != nil {
		l.logger.Warn("cache entry encode failed", zap.Error(err))
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, l.cfg.OpTimeout)
	defer cancel()

	if err := l.backend.Set(opCtx, l.Key(q), env, l.cfg.TTL); err != nil {
		metrics.ObserveCacheOp("set", "error")
		l.logger.Warn("cache set failed", zap.Error(err))
		return
	}
	metrics.ObserveCacheOp("set", "ok")
}

// Invalidate removes entries matching a glob over the query-hash segment,
// scoped to the layer's namespace across all versions. Used by manual
// correction flows; version bumps remain the mechanism for logic changes.
func (l *Layer) Invalidate(ctx context.Context, pattern string) (int, error) {
	if pattern == "" {
		pattern = "*"
	}
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	removed, err := l.backend.DeletePattern(opCtx, l.cfg.Namespace+":"+pattern+":*")
	if err != nil {
		metrics.ObserveCacheOp("invalidate", "error")
		return removed, fmt.Errorf("cache invalidate: %w", err)
	}
	metrics.ObserveCacheOp("invalidate", "ok")
	return removed, nil
}

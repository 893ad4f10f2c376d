// Package concurrency implements the adaptive worker pool controller.
//
// The controller is the sole owner of the pool size. Workers read the
// current target through Current (an atomic load) on each scheduling tick
// and never mutate it themselves.
package concurrency

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/storechat/content-pipeline/internal/metrics"
)

// Config bounds the controller's adjustments.
type Config struct {
	Min             int
	Max             int
	Step            int
	LowWatermarkMB  float64
	HighWatermarkMB float64
}

// Thresholds on the success-rate signal. Between the two bands the
// controller holds steady; oscillation across a band edge is tolerated
// because each adjustment is a single small step.
const (
	successGrowThreshold   = 0.9
	successShrinkThreshold = 0.7
)

// Controller tracks memory and success-rate signals and exposes a target
// parallelism level in [Min, Max].
type Controller struct {
	cfg     Config
	current atomic.Int64
	logger  *zap.Logger
}

// New builds a Controller starting at the configured minimum.
func New(cfg Config, logger *zap.Logger) *Controller {
	if cfg.Min <= 0 {
		cfg.Min = 1
	}
	if cfg.Max < cfg.Min {
		cfg.Max = cfg.Min
	}
	if cfg.Step <= 0 {
		cfg.Step = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{cfg: cfg, logger: logger}
	c.current.Store(int64(cfg.Min))
	metrics.SetFetchWorkers(cfg.Min)
	return c
}

// Observe ingests one signal sample and adjusts the target accordingly.
// Growth requires both low memory and a high success rate; shrinking is
// triggered by either high memory or a low success rate.
func (c *Controller) Observe(successRate float64, memoryUsedMB float64) {
	cur := int(c.current.Load())
	next := cur

	switch {
	case memoryUsedMB > c.cfg.HighWatermarkMB || successRate < successShrinkThreshold:
		next = cur - 1
		if next < c.cfg.Min {
			next = c.cfg.Min
		}
	case memoryUsedMB < c.cfg.LowWatermarkMB && successRate > successGrowThreshold:
		next = cur + c.cfg.Step
		if next > c.cfg.Max {
			next = c.cfg.Max
		}
	}

	if next == cur {
		return
	}
	c.current.Store(int64(next))
	metrics.SetFetchWorkers(next)
	c.logger.Debug("concurrency target adjusted",
		zap.Int("from", cur),
		zap.Int("to", next),
		zap.Float64("success_rate", successRate),
		zap.Float64("memory_mb", memoryUsedMB),
	)
}

// Current returns the target parallelism level. Safe for concurrent callers.
func (c *Controller) Current() int {
	return int(c.current.Load())
}

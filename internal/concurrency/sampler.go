package concurrency

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// Sampler periodically feeds runtime memory readings and an externally
// supplied success rate into the Controller. Above the high watermark it also
// issues a GC hint so a step-down is not fighting retained garbage.
type Sampler struct {
	controller  *Controller
	successRate func() float64
	interval    time.Duration
	logger      *zap.Logger
}

// NewSampler builds a Sampler. successRate is polled on each tick; a nil
// func is treated as a constant 1.0.
func NewSampler(controller *Controller, successRate func() float64, interval time.Duration, logger *zap.Logger) *Sampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if successRate == nil {
		successRate = func() float64 { return 1.0 }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sampler{
		controller:  controller,
		successRate: successRate,
		interval:    interval,
		logger:      logger,
	}
}

// Run blocks, sampling until the context finishes.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	usedMB := float64(stats.HeapInuse+stats.StackInuse) / (1 << 20)

	if usedMB > s.controller.cfg.HighWatermarkMB {
		debug.FreeOSMemory()
		s.logger.Warn("memory pressure, forced GC hint", zap.Float64("memory_mb", usedMB))
	}
	s.controller.Observe(s.successRate(), usedMB)
}

// MemoryUsedMB returns the current heap+stack usage in MB.
func MemoryUsedMB() float64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return float64(stats.HeapInuse+stats.StackInuse) / (1 << 20)
}

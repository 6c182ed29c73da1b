// Package scheduler drives the periodic batch and sweep loops.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/project-ultron/sentinel/internal/config"
	"github.com/project-ultron/sentinel/internal/log"
	"github.com/project-ultron/sentinel/internal/orchestrator"
)

// BatchRunner runs one full monitoring batch.
type BatchRunner interface {
	RunAll(ctx context.Context) (*orchestrator.Summary, error)
}

// SweepRunner delivers pending alerts.
type SweepRunner interface {
	Sweep(ctx context.Context) (int, error)
}

// Scheduler runs batches on the check interval and sweeps on the sweep
// interval. Each loop fires once immediately on start.
type Scheduler struct {
	cfg    config.ServiceConfig
	batch  BatchRunner
	sweep  SweepRunner
	logger *slog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu          sync.Mutex
	lastSummary *orchestrator.Summary
	lastBatchAt time.Time
}

// New creates a Scheduler.
func New(cfg config.ServiceConfig, batch BatchRunner, sweep SweepRunner) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		batch:  batch,
		sweep:  sweep,
		logger: log.WithComponent("scheduler"),
		stopCh: make(chan struct{}),
	}
}

// Start launches the loops. Non-blocking.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("starting scheduler",
		"check_interval", s.cfg.CheckInterval,
		"sweep_interval", s.cfg.SweepInterval,
		"jitter", s.cfg.Jitter)

	s.wg.Add(2)
	go s.loop(ctx, s.cfg.CheckInterval, s.runBatch)
	go s.loop(ctx, s.cfg.SweepInterval, s.runSweep)
}

// Stop waits for in-flight work to finish.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// LastBatch reports the most recent batch summary and when it ran.
func (s *Scheduler) LastBatch() (*orchestrator.Summary, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSummary, s.lastBatchAt
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, run func(context.Context)) {
	defer s.wg.Done()

	run(ctx)

	timer := time.NewTimer(calculateJitteredInterval(interval, s.cfg.Jitter))
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			run(ctx)
			timer.Reset(calculateJitteredInterval(interval, s.cfg.Jitter))
		case <-s.stopCh:
			return
		case <-ctx.Done():
			s.logger.Warn("scheduler context cancelled, stopping loop")
			return
		}
	}
}

func (s *Scheduler) runBatch(ctx context.Context) {
	summary, err := s.batch.RunAll(ctx)
	if err != nil {
		s.logger.Error("batch failed", "error", err)
		return
	}

	s.mu.Lock()
	s.lastSummary = summary
	s.lastBatchAt = time.Now().UTC()
	s.mu.Unlock()
}

func (s *Scheduler) runSweep(ctx context.Context) {
	if _, err := s.sweep.Sweep(ctx); err != nil {
		s.logger.Error("sweep failed", "error", err)
	}
}

// calculateJitteredInterval returns base plus a uniform random delay in
// [0, jitter], spreading load when many deployments share infrastructure.
func calculateJitteredInterval(base, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(int64(jitter)+1))
}

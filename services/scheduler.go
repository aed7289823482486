package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SchedulerConfig holds the background job intervals.
type SchedulerConfig struct {
	ReconcileInterval time.Duration
	ReprocessInterval time.Duration
	TotalsSyncGrace   time.Duration
	ReprocessBatch    int64
}

// Scheduler runs reconciliation, failed-order reprocessing and the totals-sync sweep.
type Scheduler struct {
	engine *CommissionService
	totals *TotalsAggregator
	cfg    SchedulerConfig
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewScheduler(cfg SchedulerConfig, engine *CommissionService, totals *TotalsAggregator, logger *zap.Logger) *Scheduler {
	if cfg.ReprocessBatch <= 0 {
		cfg.ReprocessBatch = 100
	}
	return &Scheduler{engine: engine, totals: totals, cfg: cfg, logger: logger}
}

// Start launches the loops. They stop when ctx is cancelled; Wait blocks until they have.
func (s *Scheduler) Start(ctx context.Context) {
	s.every(ctx, "reconcile", s.cfg.ReconcileInterval, s.reconcile)
	s.every(ctx, "reprocess", s.cfg.ReprocessInterval, s.reprocess)
}

func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) every(ctx context.Context, name string, interval time.Duration, job func(context.Context)) {
	if interval <= 0 {
		s.logger.Info("background job disabled", zap.String("job", name))
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				job(ctx)
			}
		}
	}()
}

func (s *Scheduler) reconcile(ctx context.Context) {
	start := time.Now()
	n, err := s.totals.ReconcileAll(ctx)
	if err != nil {
		s.logger.Error("scheduled reconciliation failed", zap.Int("reconciled", n), zap.Error(err))
		return
	}
	s.logger.Info("scheduled reconciliation done", zap.Int("partners", n), zap.Duration("took", time.Since(start)))
}

func (s *Scheduler) reprocess(ctx context.Context) {
	applied, err := s.totals.SweepPending(ctx, s.cfg.TotalsSyncGrace)
	if err != nil {
		s.logger.Error("totals sync sweep failed", zap.Error(err))
	} else if applied > 0 {
		s.logger.Info("stale totals markers applied", zap.Int("applied", applied))
	}

	if _, err := s.engine.ReprocessFailed(ctx, s.cfg.ReprocessBatch); err != nil {
		s.logger.Error("failed order reprocessing aborted", zap.Error(err))
	}
}

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ConnectionHealth abstracts the connection monitor functionality.
type ConnectionHealth interface {
	IsOnline() bool
}

// Reconciler settles abandoned journal records; usecase/transaction implements it.
type Reconciler interface {
	Reconcile(ctx context.Context, limit int) (int, error)
}

// ReconcilerConfig controls how often and how much of the journal is swept.
type ReconcilerConfig struct {
	Interval  time.Duration
	BatchSize int
	// MaxPasses bounds one sweep when every batch comes back full.
	MaxPasses int
}

// ReconcileService drives the transaction reconciler on a cron schedule.
type ReconcileService struct {
	target  Reconciler
	monitor ConnectionHealth
	logger  *zap.Logger
	cron    *cron.Cron
	cfg     ReconcilerConfig
}

func NewReconcileService(target Reconciler, monitor ConnectionHealth, logger *zap.Logger, cfg ReconcilerConfig) (*ReconcileService, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxPasses <= 0 {
		cfg.MaxPasses = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rs := &ReconcileService{
		target:  target,
		monitor: monitor,
		logger:  logger,
		cfg:     cfg,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
	}

	schedule := fmt.Sprintf("@every %s", cfg.Interval)
	if _, err := rs.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Interval)
		defer cancel()
		if _, err := rs.RunOnce(ctx); err != nil {
			rs.logger.Error("journal reconciliation failed", zap.Error(err))
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule reconciler: %w", err)
	}

	return rs, nil
}

// Start launches the cron scheduler.
func (rs *ReconcileService) Start() {
	if rs == nil || rs.cron == nil {
		return
	}
	rs.cron.Start()
	rs.logger.Info("reconciler started", zap.Duration("interval", rs.cfg.Interval))
}

// Stop waits for a running sweep or ctx, whichever ends first.
func (rs *ReconcileService) Stop(ctx context.Context) {
	if rs == nil || rs.cron == nil {
		return
	}
	stopCtx := rs.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	rs.logger.Info("reconciler stopped")
}

// RunOnce sweeps the journal synchronously, repeating while batches come back full.
func (rs *ReconcileService) RunOnce(ctx context.Context) (int, error) {
	if rs == nil || rs.target == nil {
		return 0, nil
	}
	if rs.monitor != nil && !rs.monitor.IsOnline() {
		rs.logger.Debug("skipping reconciliation (offline)")
		return 0, nil
	}

	total := 0
	for pass := 0; pass < rs.cfg.MaxPasses; pass++ {
		settled, err := rs.target.Reconcile(ctx, rs.cfg.BatchSize)
		total += settled
		if err != nil {
			return total, err
		}
		if settled < rs.cfg.BatchSize {
			break
		}
	}
	if total > 0 {
		rs.logger.Info("journal reconciled", zap.Int("settled", total))
	}
	return total, nil
}

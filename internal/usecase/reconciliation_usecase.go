package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/domain"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/logger"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/metrics"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/ports"
	"github.com/unmappedos-sys/unmappedOS-sub002/pkg/clock"
)

// ReconciliationResult counts what one pass changed
type ReconciliationResult struct {
	Checked  int           `json:"checked"`
	Updated  int           `json:"updated"`
	Revivals int           `json:"revivals"`
	Degraded int           `json:"degraded"`
	Killed   int           `json:"killed"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration_ns"`
}

func (r *ReconciliationResult) add(revive, stale domain.Outcome) {
	if revive.Changed() || stale.Changed() {
		r.Updated++
	}
	if revive.Action == domain.ActionRevive {
		r.Revivals++
	}
	switch stale.Action {
	case domain.ActionDegrade:
		r.Degraded++
	case domain.ActionKill:
		r.Killed++
	}
}

// ReconciliationUseCase runs the scheduled auto-revive and staleness checks
type ReconciliationUseCase struct {
	writer      *recordWriter
	records     ports.KillSwitchRepository
	policy      domain.Policy
	clock       clock.Clock
	logger      logger.Logger
	concurrency int
}

// NewReconciliationUseCase creates a reconciler; concurrency bounds how many
// records are processed at once.
func NewReconciliationUseCase(
	records ports.KillSwitchRepository,
	locker ports.KeyLocker,
	publisher ports.TransitionPublisher,
	policy domain.Policy,
	clk clock.Clock,
	log logger.Logger,
	opts WriterOptions,
	concurrency int,
) *ReconciliationUseCase {
	if concurrency < 1 {
		concurrency = 1
	}
	return &ReconciliationUseCase{
		writer:      newRecordWriter(records, locker, publisher, clk, log, opts),
		records:     records,
		policy:      policy,
		clock:       clk,
		logger:      log,
		concurrency: concurrency,
	}
}

// RunReconciliation checks every stored record: auto-revive first, then
// staleness. Each record is re-read under its lock, so a second pass right
// after the first changes nothing. A failing record is logged and counted;
// the pass continues with the rest.
func (uc *ReconciliationUseCase) RunReconciliation(ctx context.Context) (*ReconciliationResult, error) {
	start := time.Now()

	keys, err := uc.records.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	var mu sync.Mutex
	result := &ReconciliationResult{Checked: len(keys)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.concurrency)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			revive, stale, err := uc.reconcileOne(gctx, key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				result.Failed++
				uc.logger.Error(gctx, "Failed to reconcile record", err, map[string]interface{}{
					"entity": key.String(),
				})
				return nil
			}
			result.add(revive, stale)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, fmt.Errorf("reconciliation interrupted: %w", err)
	}

	result.Duration = time.Since(start)
	metrics.ObserveReconciliation(result.Duration, result.Updated, result.Revivals, result.Degraded, result.Killed)
	uc.logger.Info(ctx, "Reconciliation finished", map[string]interface{}{
		"checked":     result.Checked,
		"updated":     result.Updated,
		"revivals":    result.Revivals,
		"degraded":    result.Degraded,
		"killed":      result.Killed,
		"failed":      result.Failed,
		"duration_ms": result.Duration.Milliseconds(),
	})
	return result, nil
}

func (uc *ReconciliationUseCase) reconcileOne(ctx context.Context, key domain.EntityKey) (domain.Outcome, domain.Outcome, error) {
	var revive, stale domain.Outcome
	_, _, err := uc.writer.mutate(ctx, key, "", "",
		func(rec *domain.KillSwitchRecord, now time.Time) (domain.Outcome, bool, error) {
			var err error
			revive, err = rec.CheckAutoRevive(uc.policy, now)
			if err != nil {
				return revive, false, err
			}
			stale, err = rec.CheckStaleness(uc.policy, now)
			if err != nil {
				return stale, false, err
			}
			return stale, revive.Changed() || stale.Changed(), nil
		})
	if err != nil {
		return domain.Outcome{}, domain.Outcome{}, err
	}
	return revive, stale, nil
}

// Scheduler runs reconciliation on a fixed interval until its context ends
type Scheduler struct {
	reconciler *ReconciliationUseCase
	interval   time.Duration
	clock      clock.Clock
	logger     logger.Logger
}

// NewScheduler creates a scheduler
func NewScheduler(reconciler *ReconciliationUseCase, interval time.Duration, clk clock.Clock, log logger.Logger) *Scheduler {
	return &Scheduler{reconciler: reconciler, interval: interval, clock: clk, logger: log}
}

// Run blocks until ctx is done. A failed pass is logged and the next tick
// tries again.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info(ctx, "Reconciliation scheduler started", map[string]interface{}{
		"interval": s.interval.String(),
	})
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Reconciliation scheduler stopped", nil)
			return ctx.Err()
		case <-ticker.C():
			if _, err := s.reconciler.RunReconciliation(ctx); err != nil {
				s.logger.Error(ctx, "Scheduled reconciliation failed", err, nil)
			}
		}
	}
}

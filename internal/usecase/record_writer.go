package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/domain"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/logger"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/metrics"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/ports"
	"github.com/unmappedos-sys/unmappedOS-sub002/pkg/clock"
)

// WriterOptions tune the persistence side of a read-modify-write cycle
type WriterOptions struct {
	// PersistTimeout bounds a single Save call; zero means no extra bound
	PersistTimeout time.Duration
	// ConflictRetries is how often a version conflict is re-read and reapplied
	ConflictRetries int
}

// DefaultWriterOptions returns the options used when none are configured
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{PersistTimeout: 5 * time.Second, ConflictRetries: 3}
}

// mutation applies domain logic to a freshly loaded record. dirty reports
// whether the record must be saved even without a transition.
type mutation func(rec *domain.KillSwitchRecord, now time.Time) (out domain.Outcome, dirty bool, err error)

// recordWriter owns every write to kill switch records. Each cycle holds
// the per-key lock, loads the stored record, applies one mutation and saves
// it under the version it read.
type recordWriter struct {
	records   ports.KillSwitchRepository
	locker    ports.KeyLocker
	publisher ports.TransitionPublisher
	clock     clock.Clock
	logger    logger.Logger
	opts      WriterOptions
}

func newRecordWriter(
	records ports.KillSwitchRepository,
	locker ports.KeyLocker,
	publisher ports.TransitionPublisher,
	clk clock.Clock,
	log logger.Logger,
	opts WriterOptions,
) *recordWriter {
	if opts.ConflictRetries < 0 {
		opts.ConflictRetries = 0
	}
	return &recordWriter{
		records:   records,
		locker:    locker,
		publisher: publisher,
		clock:     clk,
		logger:    log,
		opts:      opts,
	}
}

// mutate runs one read-modify-write cycle. With an empty regionID the record
// must already exist. A non-empty nonce makes the write idempotent.
func (w *recordWriter) mutate(ctx context.Context, key domain.EntityKey, regionID, nonce string, fn mutation) (*domain.KillSwitchRecord, domain.Outcome, error) {
	unlock, err := w.locker.Lock(ctx, key)
	if err != nil {
		return nil, domain.Outcome{}, fmt.Errorf("failed to lock %s: %w", key, err)
	}
	defer unlock()

	for attempt := 0; ; attempt++ {
		rec, err := w.loadOrCreate(ctx, key, regionID)
		if err != nil {
			return nil, domain.Outcome{}, err
		}

		expected := rec.Version
		stored := len(rec.AuditLog)

		out, dirty, err := fn(rec, w.clock.Now())
		if err != nil {
			return rec, out, err
		}
		if !dirty && !out.Changed() {
			return rec, out, nil
		}

		err = w.save(ctx, rec, expected, nonce)
		switch {
		case err == nil:
			w.announce(ctx, rec, stored)
			return rec, out, nil
		case errors.Is(err, ports.ErrVersionConflict) && attempt < w.opts.ConflictRetries:
			metrics.ObserveConflict()
			w.logger.Warn(ctx, "Version conflict, re-reading record", map[string]interface{}{
				"entity":  key.String(),
				"version": expected,
				"attempt": attempt + 1,
			})
			continue
		case errors.Is(err, ports.ErrNonceApplied):
			return nil, domain.Outcome{}, err
		default:
			return nil, domain.Outcome{}, fmt.Errorf("failed to persist %s: %w", key, err)
		}
	}
}

func (w *recordWriter) save(ctx context.Context, rec *domain.KillSwitchRecord, expected int64, nonce string) error {
	if w.opts.PersistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.PersistTimeout)
		defer cancel()
	}
	return w.records.Save(ctx, rec, expected, nonce)
}

func (w *recordWriter) loadOrCreate(ctx context.Context, key domain.EntityKey, regionID string) (*domain.KillSwitchRecord, error) {
	rec, err := w.records.Get(ctx, key)
	if err == nil {
		if regionID != "" && rec.RegionID != regionID {
			return nil, fmt.Errorf("%w: %s belongs to %s", domain.ErrRegionMismatch, key, rec.RegionID)
		}
		return rec, nil
	}
	if !errors.Is(err, domain.ErrRecordNotFound) || regionID == "" {
		return nil, err
	}

	rec = domain.NewKillSwitchRecord(key, regionID, w.clock.Now())
	if err := w.records.Create(ctx, rec); err != nil {
		if errors.Is(err, ports.ErrRecordExists) {
			return w.loadOrCreate(ctx, key, regionID)
		}
		return nil, fmt.Errorf("failed to create record %s: %w", key, err)
	}
	w.logger.Info(ctx, "Kill switch record created", map[string]interface{}{
		"entity": key.String(),
		"region": regionID,
	})
	return rec, nil
}

// announce logs, counts and publishes the entries appended since stored.
// Publishing is best effort.
func (w *recordWriter) announce(ctx context.Context, rec *domain.KillSwitchRecord, stored int) {
	for _, entry := range rec.AuditLog[stored:] {
		metrics.ObserveTransition(string(entry.PreviousState), string(entry.NewState), entry.Actor)
		w.logger.Info(ctx, "Kill switch transition", map[string]interface{}{
			"entity":         rec.Key().String(),
			"region":         rec.RegionID,
			"previous_state": entry.PreviousState,
			"new_state":      entry.NewState,
			"reason":         entry.Reason,
			"actor":          entry.Actor,
			"seq":            entry.Seq,
		})
		if err := w.publisher.Publish(ctx, ports.NewTransitionEvent(rec, entry)); err != nil {
			w.logger.Error(ctx, "Failed to publish transition", err, map[string]interface{}{
				"entity": rec.Key().String(),
				"seq":    entry.Seq,
			})
		}
	}
}

package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/adapter/persistence"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/adapter/ratelimit"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/domain"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/logger"
)

const day = 24 * time.Hour

func TestReconciliation_AutoReviveAfterCoolingPeriod(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.spike(t, oldTown, 1.5)
	h.hazard(t, oldTown, domain.AnomalyHazardPhysical)
	h.hazard(t, oldTown, domain.AnomalyHazardPhysical)
	require.Equal(t, domain.StateOffline, h.record(t, oldTown).State)

	h.clock.Advance(6 * day)
	res, err := h.recon.RunReconciliation(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Revivals)
	assert.Equal(t, domain.StateOffline, h.record(t, oldTown).State)

	h.clock.Advance(day)
	res, err = h.recon.RunReconciliation(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Revivals)

	rec := h.record(t, oldTown)
	assert.Equal(t, domain.StateActive, rec.State)
	assert.Equal(t, 0, rec.HazardCount)
	assert.Equal(t, 1, rec.AnomalyCount)
	assert.Nil(t, rec.ReviveAfter)
	assert.Nil(t, rec.KilledAt)
	require.NotNil(t, rec.LastVerified)
	assert.True(t, h.clock.Now().Equal(*rec.LastVerified))

	last := rec.AuditLog[len(rec.AuditLog)-1]
	assert.Equal(t, domain.SystemActor, last.Actor)
	assert.Equal(t, "auto-revive after cooling period", last.Reason)
}

func TestReconciliation_IsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.hazard(t, oldTown, domain.AnomalyHazardPhysical)
	h.hazard(t, oldTown, domain.AnomalyHazardPhysical)
	h.hazard(t, riverside, domain.AnomalyHazardScam)
	_, err := h.ks.RecordFreshness(ctx, domain.EntityKey{Type: "vendor", ID: "noodle-cart"}, region, t0)
	require.NoError(t, err)

	h.clock.Advance(100 * day)

	first, err := h.recon.RunReconciliation(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Checked)
	assert.Equal(t, 2, first.Updated)
	assert.Equal(t, 1, first.Revivals)
	assert.Equal(t, 1, first.Degraded)

	events := len(h.pub.Events())
	second, err := h.recon.RunReconciliation(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 0, second.Revivals)
	assert.Equal(t, 0, second.Degraded)
	assert.Equal(t, 0, second.Killed)
	assert.Len(t, h.pub.Events(), events)
}

func TestReconciliation_Staleness(t *testing.T) {
	ctx := context.Background()

	t.Run("degrades after 90 days and kills after 180", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.ks.RecordFreshness(ctx, oldTown, region, t0)
		require.NoError(t, err)

		h.clock.Advance(89 * day)
		res, err := h.recon.RunReconciliation(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Updated)

		h.clock.Advance(day)
		res, err = h.recon.RunReconciliation(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Degraded)
		rec := h.record(t, oldTown)
		assert.Equal(t, domain.StateDegraded, rec.State)
		assert.Equal(t, domain.ReasonStaleness, rec.Reason)

		h.clock.Advance(90 * day)
		res, err = h.recon.RunReconciliation(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Killed)
		rec = h.record(t, oldTown)
		assert.Equal(t, domain.StateOffline, rec.State)
		assert.Equal(t, domain.ReasonStaleness, rec.Reason)
		assert.Nil(t, rec.ReviveAfter)

		h.clock.Advance(365 * day)
		res, err = h.recon.RunReconciliation(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Updated)
		assert.Equal(t, domain.StateOffline, h.record(t, oldTown).State)
	})

	t.Run("never clears an existing degraded reason", func(t *testing.T) {
		h := newHarness(t)
		h.hazard(t, oldTown, domain.AnomalyHazardSafety)

		h.clock.Advance(120 * day)
		res, err := h.recon.RunReconciliation(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Updated)

		rec := h.record(t, oldTown)
		assert.Equal(t, domain.StateDegraded, rec.State)
		assert.Equal(t, domain.ReasonHazardReports, rec.Reason)
	})

	t.Run("fresh data postpones staleness", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.ks.RecordFreshness(ctx, oldTown, region, t0)
		require.NoError(t, err)

		h.clock.Advance(80 * day)
		_, err = h.ks.RecordFreshness(ctx, oldTown, region, h.clock.Now())
		require.NoError(t, err)

		h.clock.Advance(80 * day)
		res, err := h.recon.RunReconciliation(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Updated)
		assert.Equal(t, domain.StateActive, h.record(t, oldTown).State)
	})

	t.Run("never touches a killed record", func(t *testing.T) {
		h := newHarness(t)
		h.hazard(t, oldTown, domain.AnomalyHazardSafety)
		_, err := h.ks.PermanentKill(ctx, oldTown, "ops", "")
		require.NoError(t, err)

		h.clock.Advance(400 * day)
		res, err := h.recon.RunReconciliation(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Updated)
		assert.Equal(t, domain.StateKilled, h.record(t, oldTown).State)
	})
}

func TestReconciliation_PriceKillWaitsForManualRevive(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		h.spike(t, oldTown, 1.5)
	}

	h.clock.Advance(30 * day)
	res, err := h.recon.RunReconciliation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Revivals)
	assert.Equal(t, domain.StateOffline, h.record(t, oldTown).State)
}

func TestReconciliation_CountsFailuresAndContinues(t *testing.T) {
	repo := &conflictingRepo{MemoryKillSwitchRepository: persistence.NewMemoryKillSwitchRepository()}
	h := newHarnessWith(t, repo, ratelimit.NoopLimiter{})
	ctx := context.Background()

	_, err := h.ks.RecordFreshness(ctx, oldTown, region, t0)
	require.NoError(t, err)
	_, err = h.ks.RecordFreshness(ctx, riverside, region, t0)
	require.NoError(t, err)

	repo.failSaves = true
	h.clock.Advance(100 * day)
	res, err := h.recon.RunReconciliation(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 0, res.Updated)
}

func TestScheduler_RunsOnEveryTick(t *testing.T) {
	h := newHarness(t)
	_, err := h.ks.RecordFreshness(context.Background(), oldTown, region, t0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := NewScheduler(h.recon, day, h.clock, logger.NewNopLogger())
	done := make(chan error, 1)
	go func() { done <- scheduler.Run(ctx) }()

	require.Eventually(t, func() bool { return h.clock.Tickers() == 1 }, time.Second, 5*time.Millisecond)

	h.clock.Advance(90 * day)
	require.Eventually(t, func() bool {
		rec, err := h.records.Get(context.Background(), oldTown)
		return err == nil && rec.State == domain.StateDegraded
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSummary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.hazard(t, oldTown, domain.AnomalyHazardPhysical)
	h.hazard(t, oldTown, domain.AnomalyHazardPhysical)
	h.hazard(t, riverside, domain.AnomalyHazardScam)
	_, err := h.ks.SubmitHazard(ctx, HazardRequest{
		Key:        domain.EntityKey{Type: "zone", ID: "nimman"},
		RegionID:   "chiang-mai",
		HazardType: domain.AnomalyHazardHealth,
		ReportedBy: "user-3",
	})
	require.NoError(t, err)

	all, err := h.summary.Summarize(ctx, domain.SummaryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)
	assert.Equal(t, 1, all.ByState[domain.StateOffline])
	assert.Equal(t, 2, all.ByState[domain.StateDegraded])
	assert.Equal(t, 0, all.ByState[domain.StateKilled])
	assert.Equal(t, 1, all.PendingRevival)
	assert.Equal(t, 7, all.WindowDays)
	require.Len(t, all.RecentKills, 1)
	assert.Equal(t, "old-town", all.RecentKills[0].EntityID)

	bkk := region
	regional, err := h.summary.Summarize(ctx, domain.SummaryOptions{RegionID: &bkk})
	require.NoError(t, err)
	assert.Equal(t, 2, regional.Total)
	assert.Equal(t, 1, regional.ByState[domain.StateDegraded])

	h.clock.Advance(8 * day)
	later, err := h.summary.Summarize(ctx, domain.SummaryOptions{})
	require.NoError(t, err)
	assert.Empty(t, later.RecentKills)
	assert.Equal(t, 0, later.PendingRevival)
}

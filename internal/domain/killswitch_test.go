package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0        = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	streetKey = EntityKey{Type: "vendor", ID: "soi-38-noodles"}
)

func newRecord() *KillSwitchRecord {
	return NewKillSwitchRecord(streetKey, "bangkok", t0)
}

func report(at AnomalyType, sev Severity) *AnomalyReport {
	return NewAnomalyReport("", streetKey, "bangkok", at, sev, AnomalyContext{}, "user-1", "", nil, t0)
}

func TestNewKillSwitchRecord(t *testing.T) {
	rec := newRecord()

	assert.Equal(t, StateActive, rec.State)
	assert.Equal(t, VisibilityShow, rec.Visibility())
	assert.Equal(t, int64(1), rec.Version)
	require.Len(t, rec.AuditLog, 1)
	assert.Equal(t, ReasonInitialization, rec.AuditLog[0].Reason)
	assert.Equal(t, SystemActor, rec.AuditLog[0].Actor)
	assert.Empty(t, rec.AuditLog[0].PreviousState)
	assert.NoError(t, rec.VerifyAudit())
}

func TestApplyAnomaly_HazardsDegradeThenKill(t *testing.T) {
	policy := DefaultPolicy()
	rec := newRecord()

	out, err := rec.ApplyAnomaly(report(AnomalyHazardScam, SeverityHigh), policy, t0)
	require.NoError(t, err)
	assert.Equal(t, ActionDegrade, out.Action)
	assert.Equal(t, StateDegraded, rec.State)
	assert.Equal(t, ReasonHazardReports, rec.Reason)
	assert.Equal(t, VisibilityShowWarning, rec.Visibility())
	assert.Nil(t, rec.KilledAt)

	now := t0.Add(time.Hour)
	out, err = rec.ApplyAnomaly(report(AnomalyHazardSafety, SeverityHigh), policy, now)
	require.NoError(t, err)
	assert.Equal(t, ActionKill, out.Action)
	assert.Equal(t, StateDegraded, out.PreviousState)
	assert.Equal(t, StateOffline, rec.State)
	assert.Equal(t, VisibilityHide, rec.Visibility())
	assert.Equal(t, 2, rec.HazardCount)
	require.NotNil(t, rec.ReviveAfter)
	assert.Equal(t, now.Add(7*24*time.Hour), *rec.ReviveAfter)
	require.NotNil(t, rec.KilledBy)
	assert.Equal(t, SystemActor, *rec.KilledBy)

	assert.Len(t, rec.AuditLog, 3)
	assert.Equal(t, "2", rec.AuditLog[2].Details["hazard_count"])
	assert.NoError(t, rec.VerifyAudit())
}

func TestApplyAnomaly_PriceKillHasNoRevival(t *testing.T) {
	rec := newRecord()
	policy := DefaultPolicy()

	for i := 0; i < 2; i++ {
		out, err := rec.ApplyAnomaly(report(AnomalyPriceSpike, SeverityMedium), policy, t0)
		require.NoError(t, err)
		assert.Equal(t, ActionNone, out.Action)
	}
	assert.Equal(t, StateActive, rec.State)
	assert.Len(t, rec.AuditLog, 1)

	out, err := rec.ApplyAnomaly(report(AnomalyPriceDrop, SeverityLow), policy, t0)
	require.NoError(t, err)
	assert.Equal(t, ActionKill, out.Action)
	assert.Equal(t, ReasonPriceAnomaly, rec.Reason)
	assert.Equal(t, 3, rec.AnomalyCount)
	assert.Nil(t, rec.ReviveAfter)
}

func TestApplyAnomaly_HighSeverityDegrades(t *testing.T) {
	rec := newRecord()

	out, err := rec.ApplyAnomaly(report(AnomalyCoordinateError, SeverityHigh), DefaultPolicy(), t0)
	require.NoError(t, err)
	assert.Equal(t, ActionDegrade, out.Action)
	assert.Equal(t, ReasonSystemAuto, rec.Reason)
	assert.Equal(t, 1, rec.AnomalyCount)
	assert.Zero(t, rec.HazardCount)
}

func TestApplyAnomaly_NeverLiftsOfflineToDegraded(t *testing.T) {
	rec := newRecord()
	require.NoError(t, rec.TriggerKill(ReasonAdminManual, "ops", nil, 0, t0))

	out, err := rec.ApplyAnomaly(report(AnomalyHazardHealth, SeverityHigh), DefaultPolicy(), t0)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, out.Action)
	assert.Equal(t, "already offline", out.Note)
	assert.Equal(t, StateOffline, rec.State)
	assert.Equal(t, ReasonAdminManual, rec.Reason)
	assert.Equal(t, 1, rec.HazardCount)

	out, err = rec.ApplyAnomaly(report(AnomalyPriceSpike, SeverityCritical), DefaultPolicy(), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, ActionNone, out.Action)
	assert.Equal(t, "already offline", out.Note)
	assert.Equal(t, StateOffline, rec.State)
	assert.Equal(t, 1, rec.AnomalyCount)
	assert.Len(t, rec.AuditLog, 2)
	assert.NoError(t, rec.VerifyAudit())
}

func TestApplyAnomaly_KilledIsFrozen(t *testing.T) {
	rec := newRecord()
	require.NoError(t, rec.PermanentKill("ops-alice", "closed for good", t0))
	entries := len(rec.AuditLog)

	out, err := rec.ApplyAnomaly(report(AnomalyHazardScam, SeverityHigh), DefaultPolicy(), t0)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, out.Action)
	assert.False(t, out.Changed())
	assert.Zero(t, rec.HazardCount)
	assert.Len(t, rec.AuditLog, entries)
}

func TestManualTransitions(t *testing.T) {
	t.Run("revive from active is rejected", func(t *testing.T) {
		rec := newRecord()
		assert.ErrorIs(t, rec.Revive("ops", "", false, t0), ErrInvalidTransition)
	})

	t.Run("actor is required", func(t *testing.T) {
		rec := newRecord()
		assert.ErrorIs(t, rec.TriggerKill(ReasonAdminManual, " ", nil, 0, t0), ErrMissingActor)
		assert.ErrorIs(t, rec.PermanentKill("", "", t0), ErrMissingActor)
	})

	t.Run("negative duration", func(t *testing.T) {
		rec := newRecord()
		assert.ErrorIs(t, rec.TriggerKill(ReasonAdminManual, "ops", nil, -time.Hour, t0), ErrInvalidDuration)
		assert.Equal(t, StateActive, rec.State)
	})

	t.Run("system cannot permanently kill", func(t *testing.T) {
		rec := newRecord()
		assert.ErrorIs(t, rec.PermanentKill(SystemActor, "", t0), ErrSystemActor)
		assert.Equal(t, StateActive, rec.State)
	})

	t.Run("killed rejects every transition", func(t *testing.T) {
		rec := newRecord()
		require.NoError(t, rec.PermanentKill("ops", "", t0))
		assert.ErrorIs(t, rec.Revive("ops", "", false, t0), ErrEntityKilled)
		assert.ErrorIs(t, rec.TriggerKill(ReasonAdminManual, "ops", nil, 0, t0), ErrEntityKilled)
		assert.ErrorIs(t, rec.SetDegraded(ReasonAdminManual, "ops", nil, t0), ErrEntityKilled)
		assert.ErrorIs(t, rec.PermanentKill("ops", "", t0), ErrEntityKilled)
	})
}

func TestRevive_ResetsCounters(t *testing.T) {
	rec := newRecord()
	rec.HazardCount = 1
	rec.AnomalyCount = 3
	require.NoError(t, rec.TriggerKill(ReasonPriceAnomaly, SystemActor, nil, 0, t0))

	later := t0.Add(48 * time.Hour)
	require.NoError(t, rec.Revive("ops-bob", "price verified", true, later))

	assert.Equal(t, StateActive, rec.State)
	assert.Empty(t, rec.Reason)
	assert.Nil(t, rec.KilledAt)
	assert.Nil(t, rec.KilledBy)
	assert.Zero(t, rec.HazardCount)
	assert.Zero(t, rec.AnomalyCount)
	require.NotNil(t, rec.LastVerified)
	assert.Equal(t, later, *rec.LastVerified)

	last := rec.AuditLog[len(rec.AuditLog)-1]
	assert.Equal(t, "price verified", last.Reason)
	assert.Equal(t, string(ReasonPriceAnomaly), last.Details["previous_reason"])
	assert.Equal(t, "3", last.Details["anomaly_count"])
	assert.NoError(t, rec.VerifyAudit())
}

func TestCheckStaleness(t *testing.T) {
	policy := DefaultPolicy()
	rec := newRecord()

	out, err := rec.CheckStaleness(policy, t0.Add(89*day))
	require.NoError(t, err)
	assert.Equal(t, ActionNone, out.Action)

	out, err = rec.CheckStaleness(policy, t0.Add(91*day))
	require.NoError(t, err)
	assert.Equal(t, ActionDegrade, out.Action)
	assert.Equal(t, ReasonStaleness, rec.Reason)
	assert.Equal(t, "91", rec.AuditLog[1].Details["days_since_update"])

	out, err = rec.CheckStaleness(policy, t0.Add(181*day))
	require.NoError(t, err)
	assert.Equal(t, ActionKill, out.Action)
	assert.Equal(t, StateOffline, rec.State)
	assert.Nil(t, rec.ReviveAfter)

	out, err = rec.CheckStaleness(policy, t0.Add(400*day))
	require.NoError(t, err)
	assert.Equal(t, ActionNone, out.Action)
}

func TestCheckStaleness_KeepsExistingDegradedReason(t *testing.T) {
	rec := newRecord()
	_, err := rec.ApplyAnomaly(report(AnomalyHazardScam, SeverityHigh), DefaultPolicy(), t0)
	require.NoError(t, err)

	out, err := rec.CheckStaleness(DefaultPolicy(), t0.Add(100*day))
	require.NoError(t, err)
	assert.Equal(t, ActionNone, out.Action)
	assert.Equal(t, ReasonHazardReports, rec.Reason)
}

func TestCheckStaleness_UsesNewestUpdate(t *testing.T) {
	rec := newRecord()
	assert.True(t, rec.RecordDataUpdate(t0.Add(60*day)))
	assert.False(t, rec.RecordDataUpdate(t0.Add(30*day)), "older timestamps are ignored")

	out, err := rec.CheckStaleness(DefaultPolicy(), t0.Add(120*day))
	require.NoError(t, err)
	assert.Equal(t, ActionNone, out.Action)
	assert.Equal(t, t0.Add(60*day), rec.LastUpdate())
}

func TestCheckAutoRevive(t *testing.T) {
	policy := DefaultPolicy()
	rec := newRecord()
	rec.AnomalyCount = 2
	require.NoError(t, rec.TriggerKill(ReasonHazardReports, SystemActor, nil, 7*day, t0))

	out, err := rec.CheckAutoRevive(policy, t0.Add(6*day))
	require.NoError(t, err)
	assert.Equal(t, ActionNone, out.Action)
	assert.Equal(t, StateOffline, rec.State)

	out, err = rec.CheckAutoRevive(policy, t0.Add(7*day))
	require.NoError(t, err)
	assert.Equal(t, ActionRevive, out.Action)
	assert.Equal(t, StateActive, rec.State)
	assert.Equal(t, 2, rec.AnomalyCount, "automatic revival keeps price history")
	assert.Equal(t, SystemActor, rec.AuditLog[len(rec.AuditLog)-1].Actor)
}

func TestCheckAutoRevive_ManualKillWaits(t *testing.T) {
	rec := newRecord()
	require.NoError(t, rec.TriggerKill(ReasonAdminManual, "ops", nil, 0, t0))

	out, err := rec.CheckAutoRevive(DefaultPolicy(), t0.Add(365*day))
	require.NoError(t, err)
	assert.Equal(t, ActionNone, out.Action)
	assert.Equal(t, StateOffline, rec.State)
}

func TestClone_IsDeep(t *testing.T) {
	rec := newRecord()
	require.NoError(t, rec.TriggerKill(ReasonAdminManual, "ops", map[string]string{"ticket": "T-1"}, day, t0))

	c := rec.Clone()
	*c.KilledBy = "someone-else"
	c.AuditLog[1].Details["ticket"] = "changed"
	c.AuditLog = append(c.AuditLog, AuditEntry{})

	assert.Equal(t, "ops", *rec.KilledBy)
	assert.Equal(t, "T-1", rec.AuditLog[1].Details["ticket"])
	assert.Len(t, rec.AuditLog, 2)
}

func TestRecordFilter_Matches(t *testing.T) {
	rec := newRecord()
	region := "bangkok"
	other := "chiang-mai"
	offline := StateOffline

	assert.True(t, RecordFilter{}.Matches(rec))
	assert.True(t, RecordFilter{RegionID: &region}.Matches(rec))
	assert.False(t, RecordFilter{RegionID: &other}.Matches(rec))
	assert.False(t, RecordFilter{State: &offline}.Matches(rec))
}

func TestParseKillReason(t *testing.T) {
	r, err := ParseKillReason("admin_manual")
	require.NoError(t, err)
	assert.Equal(t, ReasonAdminManual, r)

	_, err = ParseKillReason("bored")
	assert.ErrorIs(t, err, ErrInvalidKillReason)
}

func TestEntityKey_Validate(t *testing.T) {
	tests := []struct {
		key   EntityKey
		valid bool
	}{
		{EntityKey{Type: "zone", ID: "old-town"}, true},
		{EntityKey{Type: "poi", ID: "way:123456"}, true},
		{EntityKey{Type: "Zone", ID: "old-town"}, false},
		{EntityKey{Type: "zone", ID: ""}, false},
		{EntityKey{Type: "zone", ID: "-leading-dash"}, false},
		{EntityKey{Type: "zone", ID: "has space"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.key.String(), func(t *testing.T) {
			err := tt.key.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidEntityKey)
			}
		})
	}

	assert.NoError(t, ValidateRegion("th-bkk"))
	assert.ErrorIs(t, ValidateRegion(""), ErrInvalidRegion)
}

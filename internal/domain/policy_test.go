package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPolicy_IsValid(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Policy)
	}{
		{"descending bands", func(p *Policy) { p.Severity.High = 3 }},
		{"negative medium band", func(p *Policy) { p.Severity.Medium = -1 }},
		{"spike factor at one", func(p *Policy) { p.Price.SpikeFactor = 1 }},
		{"drop factor at one", func(p *Policy) { p.Price.DropFactor = 1 }},
		{"no recent samples", func(p *Policy) { p.Price.MinRecentSamples = 0 }},
		{"zero deviation", func(p *Policy) { p.Price.RecentDeviation = 0 }},
		{"zero hazard kill count", func(p *Policy) { p.Thresholds.HazardKillCount = 0 }},
		{"zero hazard kill days", func(p *Policy) { p.Thresholds.HazardKillDays = 0 }},
		{"kill before degrade", func(p *Policy) { p.Staleness.KillAfterDays = 30 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			assert.ErrorIs(t, p.Validate(), ErrInvalidPolicy)
		})
	}
}

func TestPolicy_DecideAnomaly(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name     string
		anomaly  AnomalyType
		severity Severity
		hazards  int
		others   int
		expected Decision
	}{
		{"first hazard", AnomalyHazardPhysical, SeverityHigh, 1, 0, Decision{Action: ActionDegrade, Reason: ReasonHazardReports}},
		{"second hazard", AnomalyHazardPhysical, SeverityHigh, 2, 0, Decision{Action: ActionKill, Reason: ReasonHazardReports, ReviveIn: 7 * day}},
		{"third price anomaly", AnomalyPriceSpike, SeverityLow, 0, 3, Decision{Action: ActionKill, Reason: ReasonPriceAnomaly}},
		{"non-price count ignored", AnomalyDataMismatch, SeverityMedium, 0, 5, Decision{Action: ActionNone}},
		{"critical price", AnomalyPriceSpike, SeverityCritical, 0, 1, Decision{Action: ActionDegrade, Reason: ReasonSystemAuto}},
		{"low severity", AnomalyOther, SeverityLow, 0, 1, Decision{Action: ActionNone}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, p.DecideAnomaly(tt.anomaly, tt.severity, tt.hazards, tt.others))
		})
	}
}

func TestPolicy_DecideStaleness(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, ActionNone, p.DecideStaleness(StateActive, 89*day).Action)
	assert.Equal(t, ActionDegrade, p.DecideStaleness(StateActive, 90*day).Action)
	assert.Equal(t, ActionNone, p.DecideStaleness(StateDegraded, 120*day).Action)
	assert.Equal(t, ActionKill, p.DecideStaleness(StateActive, 180*day).Action)
	assert.Equal(t, ActionKill, p.DecideStaleness(StateDegraded, 200*day).Action)
	assert.Equal(t, ActionNone, p.DecideStaleness(StateOffline, 500*day).Action)
	assert.Equal(t, ActionNone, p.DecideStaleness(StateKilled, 500*day).Action)
}

func TestPolicy_ShouldAutoRevive(t *testing.T) {
	p := DefaultPolicy()
	at := t0.Add(time.Hour)

	assert.False(t, p.ShouldAutoRevive(StateOffline, nil, at))
	assert.False(t, p.ShouldAutoRevive(StateOffline, &at, t0))
	assert.True(t, p.ShouldAutoRevive(StateOffline, &at, at))
	assert.False(t, p.ShouldAutoRevive(StateKilled, &at, at.Add(time.Hour)))
}

func TestPolicy_ResetAnomaliesOnRevive(t *testing.T) {
	p := DefaultPolicy()

	assert.True(t, p.ResetAnomaliesOnRevive(ReasonPriceAnomaly, "ops"))
	assert.False(t, p.ResetAnomaliesOnRevive(ReasonPriceAnomaly, SystemActor))
	assert.False(t, p.ResetAnomaliesOnRevive(ReasonHazardReports, "ops"))

	p.Revival.ResetAnomaliesOnManualPriceRevive = false
	assert.False(t, p.ResetAnomaliesOnRevive(ReasonPriceAnomaly, "ops"))
}

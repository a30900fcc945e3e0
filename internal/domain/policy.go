package domain

import (
	"fmt"
	"time"
)

const day = 24 * time.Hour

// Policy holds every tunable threshold of the engine. It is injected at
// construction and never read from globals.
type Policy struct {
	Severity   SeverityBands   `yaml:"severity" json:"severity"`
	Price      PriceDetection  `yaml:"price" json:"price"`
	Thresholds ThresholdLimits `yaml:"thresholds" json:"thresholds"`
	Staleness  StalenessLimits `yaml:"staleness" json:"staleness"`
	Revival    RevivalRules    `yaml:"revival" json:"revival"`
}

// SeverityBands are the variance steps for price anomalies. A variance
// strictly greater than a band earns that band's severity.
type SeverityBands struct {
	Critical float64 `yaml:"critical" json:"critical"`
	High     float64 `yaml:"high" json:"high"`
	Medium   float64 `yaml:"medium" json:"medium"`
}

// PriceDetection configures DetectPriceAnomaly
type PriceDetection struct {
	SpikeFactor      float64 `yaml:"spike_factor" json:"spike_factor"`
	DropFactor       float64 `yaml:"drop_factor" json:"drop_factor"`
	MinRecentSamples int     `yaml:"min_recent_samples" json:"min_recent_samples"`
	RecentDeviation  float64 `yaml:"recent_deviation" json:"recent_deviation"`
}

// ThresholdLimits configures the anomaly-driven transitions
type ThresholdLimits struct {
	HazardKillCount int `yaml:"hazard_kill_count" json:"hazard_kill_count"`
	HazardKillDays  int `yaml:"hazard_kill_days" json:"hazard_kill_days"`
	PriceKillCount  int `yaml:"price_kill_count" json:"price_kill_count"`
}

// StalenessLimits configures age-based degradation
type StalenessLimits struct {
	DegradeAfterDays int `yaml:"degrade_after_days" json:"degrade_after_days"`
	KillAfterDays    int `yaml:"kill_after_days" json:"kill_after_days"`
}

// RevivalRules configures counter handling on revival
type RevivalRules struct {
	// ResetAnomaliesOnManualPriceRevive clears anomaly_count when a human
	// revives an entity whose kill reason was PRICE_ANOMALY.
	ResetAnomaliesOnManualPriceRevive bool `yaml:"reset_anomalies_on_manual_price_revive" json:"reset_anomalies_on_manual_price_revive"`
}

// DefaultPolicy returns the production thresholds
func DefaultPolicy() Policy {
	return Policy{
		Severity: SeverityBands{
			Critical: 2.0,
			High:     1.0,
			Medium:   0.5,
		},
		Price: PriceDetection{
			SpikeFactor:      1.5,
			DropFactor:       0.5,
			MinRecentSamples: 3,
			RecentDeviation:  0.5,
		},
		Thresholds: ThresholdLimits{
			HazardKillCount: 2,
			HazardKillDays:  7,
			PriceKillCount:  3,
		},
		Staleness: StalenessLimits{
			DegradeAfterDays: 90,
			KillAfterDays:    180,
		},
		Revival: RevivalRules{
			ResetAnomaliesOnManualPriceRevive: true,
		},
	}
}

// Validate checks that the thresholds are internally consistent
func (p Policy) Validate() error {
	switch {
	case p.Severity.Medium < 0 || p.Severity.High < p.Severity.Medium || p.Severity.Critical < p.Severity.High:
		return fmt.Errorf("%w: severity bands must be non-negative and ascending", ErrInvalidPolicy)
	case p.Price.SpikeFactor <= 1:
		return fmt.Errorf("%w: spike factor must be greater than 1", ErrInvalidPolicy)
	case p.Price.DropFactor <= 0 || p.Price.DropFactor >= 1:
		return fmt.Errorf("%w: drop factor must be in (0,1)", ErrInvalidPolicy)
	case p.Price.MinRecentSamples < 1:
		return fmt.Errorf("%w: min recent samples must be at least 1", ErrInvalidPolicy)
	case p.Price.RecentDeviation <= 0:
		return fmt.Errorf("%w: recent deviation must be positive", ErrInvalidPolicy)
	case p.Thresholds.HazardKillCount < 1 || p.Thresholds.PriceKillCount < 1:
		return fmt.Errorf("%w: kill counts must be at least 1", ErrInvalidPolicy)
	case p.Thresholds.HazardKillDays < 1:
		return fmt.Errorf("%w: hazard kill days must be at least 1", ErrInvalidPolicy)
	case p.Staleness.DegradeAfterDays < 1 || p.Staleness.KillAfterDays <= p.Staleness.DegradeAfterDays:
		return fmt.Errorf("%w: staleness kill threshold must exceed degrade threshold", ErrInvalidPolicy)
	}
	return nil
}

// Action is the outcome of a policy decision
type Action string

const (
	ActionNone          Action = "NONE"
	ActionDegrade       Action = "DEGRADE"
	ActionKill          Action = "KILL"
	ActionRevive        Action = "REVIVE"
	ActionPermanentKill Action = "PERMANENT_KILL"
	ActionDuplicate     Action = "DUPLICATE"
)

// Decision is what the threshold policy wants done to a record
type Decision struct {
	Action Action
	Reason KillReason
	// ReviveIn is zero when the kill has no automatic revival.
	ReviveIn time.Duration
}

// DecideAnomaly maps post-increment counters to a transition.
func (p Policy) DecideAnomaly(t AnomalyType, severity Severity, hazardCount, anomalyCount int) Decision {
	if t.IsHazard() {
		if hazardCount >= p.Thresholds.HazardKillCount {
			return Decision{
				Action:   ActionKill,
				Reason:   ReasonHazardReports,
				ReviveIn: time.Duration(p.Thresholds.HazardKillDays) * day,
			}
		}
		return Decision{Action: ActionDegrade, Reason: ReasonHazardReports}
	}

	// Price kills carry no revival timer; price truth needs verification.
	if t.IsPrice() && anomalyCount >= p.Thresholds.PriceKillCount {
		return Decision{Action: ActionKill, Reason: ReasonPriceAnomaly}
	}
	if severity.AtLeast(SeverityHigh) {
		return Decision{Action: ActionDegrade, Reason: ReasonSystemAuto}
	}
	return Decision{Action: ActionNone}
}

// DecideStaleness never moves a record past an existing OFFLINE or KILLED
// state and never overwrites an existing DEGRADED reason.
func (p Policy) DecideStaleness(state State, age time.Duration) Decision {
	killAfter := time.Duration(p.Staleness.KillAfterDays) * day
	degradeAfter := time.Duration(p.Staleness.DegradeAfterDays) * day

	if age >= killAfter && state != StateOffline && state != StateKilled {
		return Decision{Action: ActionKill, Reason: ReasonStaleness}
	}
	if age >= degradeAfter && state == StateActive {
		return Decision{Action: ActionDegrade, Reason: ReasonStaleness}
	}
	return Decision{Action: ActionNone}
}

// ShouldAutoRevive reports whether the cooling period of an OFFLINE record
// has elapsed.
func (p Policy) ShouldAutoRevive(state State, reviveAfter *time.Time, now time.Time) bool {
	if state != StateOffline || reviveAfter == nil {
		return false
	}
	return !now.Before(*reviveAfter)
}

// ResetAnomaliesOnRevive reports whether a revival clears anomaly_count.
// Automatic revivals keep the price history; a human clearing a price kill
// resets it.
func (p Policy) ResetAnomaliesOnRevive(reason KillReason, actor string) bool {
	if actor == SystemActor {
		return false
	}
	return p.Revival.ResetAnomaliesOnManualPriceRevive && reason == ReasonPriceAnomaly
}

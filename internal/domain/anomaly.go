package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AnomalyType represents the closed set of signal types the engine accepts
type AnomalyType string

const (
	AnomalyPriceSpike       AnomalyType = "PRICE_SPIKE"
	AnomalyPriceDrop        AnomalyType = "PRICE_DROP"
	AnomalyHazardPhysical   AnomalyType = "HAZARD_PHYSICAL"
	AnomalyHazardSafety     AnomalyType = "HAZARD_SAFETY"
	AnomalyHazardScam       AnomalyType = "HAZARD_SCAM"
	AnomalyHazardHealth     AnomalyType = "HAZARD_HEALTH"
	AnomalyClosureTemporary AnomalyType = "CLOSURE_TEMPORARY"
	AnomalyClosurePermanent AnomalyType = "CLOSURE_PERMANENT"
	AnomalyDataMismatch     AnomalyType = "DATA_MISMATCH"
	AnomalyCoordinateError  AnomalyType = "COORDINATE_ERROR"
	AnomalyTextureMismatch  AnomalyType = "TEXTURE_MISMATCH"
	AnomalySpamSuspected    AnomalyType = "SPAM_SUSPECTED"
	AnomalyOther            AnomalyType = "OTHER"
)

// AllAnomalyTypes lists every member of the enumeration in declaration order.
var AllAnomalyTypes = []AnomalyType{
	AnomalyPriceSpike,
	AnomalyPriceDrop,
	AnomalyHazardPhysical,
	AnomalyHazardSafety,
	AnomalyHazardScam,
	AnomalyHazardHealth,
	AnomalyClosureTemporary,
	AnomalyClosurePermanent,
	AnomalyDataMismatch,
	AnomalyCoordinateError,
	AnomalyTextureMismatch,
	AnomalySpamSuspected,
	AnomalyOther,
}

// ParseAnomalyType converts external input into an AnomalyType. Unknown
// values are rejected, never coerced to OTHER.
func ParseAnomalyType(s string) (AnomalyType, error) {
	t := AnomalyType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAnomalyType, s)
	}
	return t, nil
}

// Valid reports whether t is a member of the enumeration
func (t AnomalyType) Valid() bool {
	for _, known := range AllAnomalyTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsHazard reports whether t is one of the HAZARD_* subtypes
func (t AnomalyType) IsHazard() bool {
	switch t {
	case AnomalyHazardPhysical, AnomalyHazardSafety, AnomalyHazardScam, AnomalyHazardHealth:
		return true
	}
	return false
}

// IsPrice reports whether t is a price anomaly
func (t AnomalyType) IsPrice() bool {
	return t == AnomalyPriceSpike || t == AnomalyPriceDrop
}

// Severity ranks an anomaly
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank returns an ordinal so severities can be compared
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// AtLeast reports whether s is as severe as other
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// AnomalyContext carries the inputs the classifier needs beyond the type
type AnomalyContext struct {
	// Variance is the relative deviation from a baseline, used for price types.
	Variance float64 `json:"variance,omitempty"`
}

// AnomalyReport is one submitted signal. Everything except the resolution
// fields is fixed at creation.
type AnomalyReport struct {
	ID              string            `json:"id"`
	EntityType      string            `json:"entity_type"`
	EntityID        string            `json:"entity_id"`
	RegionID        string            `json:"region_id"`
	AnomalyType     AnomalyType       `json:"anomaly_type"`
	Severity        Severity          `json:"severity"`
	Context         AnomalyContext    `json:"context"`
	ReportedAt      time.Time         `json:"reported_at"`
	ReportedBy      string            `json:"reported_by"`
	Description     string            `json:"description,omitempty"`
	Evidence        map[string]string `json:"evidence,omitempty"`
	Resolved        bool              `json:"resolved"`
	ResolvedAt      *time.Time        `json:"resolved_at,omitempty"`
	ResolvedBy      *string           `json:"resolved_by,omitempty"`
	ResolutionNotes *string           `json:"resolution_notes,omitempty"`
}

// NewAnomalyReport builds an unresolved report. An empty id gets a fresh UUID;
// callers that retry submissions pass the same id so the engine can
// recognise the retry.
func NewAnomalyReport(id string, key EntityKey, regionID string, anomalyType AnomalyType, severity Severity, ctx AnomalyContext, reportedBy, description string, evidence map[string]string, now time.Time) *AnomalyReport {
	if id == "" {
		id = uuid.NewString()
	}
	return &AnomalyReport{
		ID:          id,
		EntityType:  key.Type,
		EntityID:    key.ID,
		RegionID:    regionID,
		AnomalyType: anomalyType,
		Severity:    severity,
		Context:     ctx,
		ReportedAt:  now,
		ReportedBy:  reportedBy,
		Description: description,
		Evidence:    copyDetails(evidence),
	}
}

// Key returns the entity key the report targets
func (r *AnomalyReport) Key() EntityKey {
	return EntityKey{Type: r.EntityType, ID: r.EntityID}
}

// Resolve marks the report as reviewed
func (r *AnomalyReport) Resolve(actor, notes string, now time.Time) error {
	if r.Resolved {
		return ErrReportResolved
	}
	if strings.TrimSpace(actor) == "" {
		return ErrMissingActor
	}
	r.Resolved = true
	r.ResolvedAt = &now
	r.ResolvedBy = &actor
	r.ResolutionNotes = &notes
	return nil
}

// AnomalyFilter represents filters for listing reports
type AnomalyFilter struct {
	EntityType     *string      `json:"entity_type,omitempty"`
	EntityID       *string      `json:"entity_id,omitempty"`
	RegionID       *string      `json:"region_id,omitempty"`
	AnomalyType    *AnomalyType `json:"anomaly_type,omitempty"`
	UnresolvedOnly bool         `json:"unresolved_only"`
	Limit          int          `json:"limit"`
	Offset         int          `json:"offset"`
}

func copyDetails(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

package domain

import (
	"fmt"
	"math"
)

// Classify maps an anomaly type and its context to a severity using the
// default bands.
func Classify(t AnomalyType, ctx AnomalyContext) (Severity, error) {
	return DefaultPolicy().Classify(t, ctx)
}

// Classify maps an anomaly type and its context to a severity. Hazards are
// never downgraded by context. Unknown types are a configuration error and
// are returned as such instead of falling back to a default severity.
func (p Policy) Classify(t AnomalyType, ctx AnomalyContext) (Severity, error) {
	switch t {
	case AnomalyHazardPhysical, AnomalyHazardSafety, AnomalyHazardScam, AnomalyHazardHealth:
		return SeverityHigh, nil
	case AnomalyPriceSpike, AnomalyPriceDrop:
		if math.IsNaN(ctx.Variance) || math.IsInf(ctx.Variance, 0) {
			return "", fmt.Errorf("%w: variance %v", ErrInvalidPrice, ctx.Variance)
		}
		return p.Severity.forVariance(ctx.Variance), nil
	case AnomalyClosurePermanent:
		return SeverityHigh, nil
	case AnomalyClosureTemporary:
		return SeverityMedium, nil
	case AnomalyCoordinateError:
		return SeverityHigh, nil
	case AnomalyDataMismatch:
		return SeverityMedium, nil
	case AnomalyTextureMismatch, AnomalySpamSuspected, AnomalyOther:
		return SeverityLow, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAnomalyType, string(t))
	}
}

func (b SeverityBands) forVariance(v float64) Severity {
	switch {
	case v > b.Critical:
		return SeverityCritical
	case v > b.High:
		return SeverityHigh
	case v > b.Medium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

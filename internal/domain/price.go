package domain

import (
	"fmt"
	"math"
)

// PriceBaseline is the expected price range of an entity
type PriceBaseline struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Typical float64 `json:"typical"`
}

// Validate rejects baselines the detector cannot reason about
func (b PriceBaseline) Validate() error {
	if !finitePositive(b.Min) || !finitePositive(b.Max) || b.Max < b.Min {
		return fmt.Errorf("%w: baseline min=%v max=%v", ErrInvalidPrice, b.Min, b.Max)
	}
	return nil
}

// PriceAnomaly is the detector's verdict
type PriceAnomaly struct {
	IsAnomaly bool        `json:"is_anomaly"`
	Type      AnomalyType `json:"type,omitempty"`
	Variance  float64     `json:"variance"`
	Rule      string      `json:"rule,omitempty"`
}

// Context converts the verdict into classifier input
func (a PriceAnomaly) Context() AnomalyContext {
	return AnomalyContext{Variance: a.Variance}
}

// DetectPriceAnomaly runs the detector with the default policy.
func DetectPriceAnomaly(price float64, baseline PriceBaseline, recent []float64) (PriceAnomaly, error) {
	return DefaultPolicy().DetectPriceAnomaly(price, baseline, recent)
}

// DetectPriceAnomaly checks a new observation against the baseline first and
// the recent window second; the first matching rule wins.
func (p Policy) DetectPriceAnomaly(price float64, baseline PriceBaseline, recent []float64) (PriceAnomaly, error) {
	if !finitePositive(price) {
		return PriceAnomaly{}, fmt.Errorf("%w: price %v", ErrInvalidPrice, price)
	}
	if err := baseline.Validate(); err != nil {
		return PriceAnomaly{}, err
	}

	if price > baseline.Max*p.Price.SpikeFactor {
		return PriceAnomaly{
			IsAnomaly: true,
			Type:      AnomalyPriceSpike,
			Variance:  (price - baseline.Max) / baseline.Max,
			Rule:      "baseline_max",
		}, nil
	}
	if price < baseline.Min*p.Price.DropFactor {
		return PriceAnomaly{
			IsAnomaly: true,
			Type:      AnomalyPriceDrop,
			Variance:  (baseline.Min - price) / baseline.Min,
			Rule:      "baseline_min",
		}, nil
	}

	if len(recent) >= p.Price.MinRecentSamples {
		avg := mean(recent)
		if avg > 0 {
			deviation := math.Abs(price-avg) / avg
			if deviation > p.Price.RecentDeviation {
				t := AnomalyPriceSpike
				if price < avg {
					t = AnomalyPriceDrop
				}
				return PriceAnomaly{
					IsAnomaly: true,
					Type:      t,
					Variance:  deviation,
					Rule:      "recent_window",
				}, nil
			}
		}
	}

	return PriceAnomaly{IsAnomaly: false}, nil
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

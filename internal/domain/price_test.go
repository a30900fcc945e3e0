package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var padThaiBaseline = PriceBaseline{Min: 100, Max: 200, Typical: 150}

func TestDetectPriceAnomaly_Baseline(t *testing.T) {
	tests := []struct {
		name     string
		price    float64
		anomaly  bool
		kind     AnomalyType
		variance float64
		rule     string
	}{
		{"spike above max", 350, true, AnomalyPriceSpike, 0.75, "baseline_max"},
		{"drop below min", 40, true, AnomalyPriceDrop, 0.6, "baseline_min"},
		{"inside range", 160, false, "", 0, ""},
		{"at spike boundary", 300, false, "", 0, ""},
		{"at drop boundary", 50, false, "", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectPriceAnomaly(tt.price, padThaiBaseline, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.anomaly, got.IsAnomaly)
			assert.Equal(t, tt.kind, got.Type)
			assert.InDelta(t, tt.variance, got.Variance, 1e-9)
			assert.Equal(t, tt.rule, got.Rule)
		})
	}
}

func TestDetectPriceAnomaly_RecentWindow(t *testing.T) {
	recent := []float64{120, 120, 120}

	got, err := DetectPriceAnomaly(190, padThaiBaseline, recent)
	require.NoError(t, err)
	assert.True(t, got.IsAnomaly)
	assert.Equal(t, AnomalyPriceSpike, got.Type)
	assert.Equal(t, "recent_window", got.Rule)

	got, err = DetectPriceAnomaly(190, padThaiBaseline, recent[:2])
	require.NoError(t, err)
	assert.False(t, got.IsAnomaly, "window below the minimum sample count is ignored")

	got, err = DetectPriceAnomaly(110, padThaiBaseline, []float64{190, 190, 190, 190})
	require.NoError(t, err)
	assert.False(t, got.IsAnomaly)

	got, err = DetectPriceAnomaly(101, padThaiBaseline, []float64{250, 250, 250})
	require.NoError(t, err)
	assert.True(t, got.IsAnomaly)
	assert.Equal(t, AnomalyPriceDrop, got.Type)
}

func TestDetectPriceAnomaly_FeedsClassifier(t *testing.T) {
	got, err := DetectPriceAnomaly(350, padThaiBaseline, nil)
	require.NoError(t, err)

	sev, err := Classify(got.Type, got.Context())
	require.NoError(t, err)
	assert.Equal(t, SeverityMedium, sev)
}

func TestDetectPriceAnomaly_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name     string
		price    float64
		baseline PriceBaseline
	}{
		{"zero price", 0, padThaiBaseline},
		{"negative price", -5, padThaiBaseline},
		{"NaN price", math.NaN(), padThaiBaseline},
		{"infinite price", math.Inf(1), padThaiBaseline},
		{"zero baseline", 100, PriceBaseline{}},
		{"inverted baseline", 100, PriceBaseline{Min: 200, Max: 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DetectPriceAnomaly(tt.price, tt.baseline, nil)
			assert.True(t, errors.Is(err, ErrInvalidPrice), "got %v", err)
		})
	}
}

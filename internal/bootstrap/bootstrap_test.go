package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/config"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/domain"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/logger"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/usecase"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{Driver: config.DriverMemory},
		Engine: config.EngineConfig{
			ReconcileConcurrency: 2,
			PersistTimeout:       usecase.DefaultWriterOptions().PersistTimeout,
			ConflictRetries:      3,
		},
		Policy: domain.DefaultPolicy(),
	}
}

func TestNew_MemoryStore(t *testing.T) {
	ctx := context.Background()
	app, err := New(ctx, memoryConfig(), logger.NewNopLogger())
	require.NoError(t, err)
	defer app.Close()

	assert.Nil(t, app.DB)
	assert.Nil(t, app.Redis)

	key := domain.EntityKey{Type: "zone", ID: "old-town"}
	res, err := app.KillSwitch.SubmitHazard(ctx, usecase.HazardRequest{
		Key:        key,
		RegionID:   "bangkok",
		HazardType: domain.AnomalyHazardSafety,
		ReportedBy: "user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateDegraded, res.State)

	summary, err := app.Summary.Summarize(ctx, domain.SummaryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)

	result, err := app.Reconciler.RunReconciliation(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Checked)
}

func TestNew_RedisUnreachable(t *testing.T) {
	cfg := memoryConfig()
	cfg.Redis = config.RedisConfig{Enabled: true, URL: "not a url"}

	_, err := New(context.Background(), cfg, logger.NewNopLogger())
	assert.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 24*time.Hour, cfg.Engine.ReconcileInterval)
	assert.Equal(t, 3, cfg.Engine.ConflictRetries)
	assert.Equal(t, domain.DefaultPolicy(), cfg.Policy)
	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
	assert.Empty(t, cfg.Server.AllowedOrigins)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("STORE_DRIVER", "POSTGRES")
	t.Setenv("DATABASE_URL", "postgres://localhost/zonetrust")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("RECONCILE_INTERVAL", "6h")
	t.Setenv("RECONCILE_CONCURRENCY", "not-a-number")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://ops.example.com, ,http://localhost:3000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 6*time.Hour, cfg.Engine.ReconcileInterval)
	assert.Equal(t, 8, cfg.Engine.ReconcileConcurrency)
	assert.Equal(t, []string{"https://ops.example.com", "http://localhost:3000"}, cfg.Server.AllowedOrigins)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "postgres without url", env: map[string]string{"STORE_DRIVER": "postgres"}},
		{name: "unknown driver", env: map[string]string{"STORE_DRIVER": "mongo"}},
		{name: "zero concurrency", env: map[string]string{"RECONCILE_CONCURRENCY": "0"}},
		{name: "default secret in production", env: map[string]string{"ENVIRONMENT": "production"}},
		{name: "missing policy file", env: map[string]string{"POLICY_FILE": "/does/not/exist.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadPolicy_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `
thresholds:
  hazard_kill_days: 14
staleness:
  degrade_after_days: 60
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	policy, err := LoadPolicy(path)
	require.NoError(t, err)

	want := domain.DefaultPolicy()
	want.Thresholds.HazardKillDays = 14
	want.Staleness.DegradeAfterDays = 60
	assert.Equal(t, want, policy)
}

func TestLoadPolicy_RejectsInconsistentThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("price:\n  drop_factor: 1.5\n"), 0o600))

	_, err := LoadPolicy(path)
	assert.ErrorIs(t, err, domain.ErrInvalidPolicy)
}

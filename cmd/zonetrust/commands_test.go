package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/bootstrap"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/config"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/domain"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/logger"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/usecase"
)

func newTestApp(t *testing.T) *bootstrap.App {
	t.Helper()
	cfg := &config.Config{
		Database: config.DatabaseConfig{Driver: config.DriverMemory},
		Security: config.SecurityConfig{JWTSecret: "cli-secret", JWTIssuer: "zonetrust"},
		Engine: config.EngineConfig{
			ReconcileConcurrency: 2,
			PersistTimeout:       usecase.DefaultWriterOptions().PersistTimeout,
			ConflictRetries:      3,
		},
		Policy: domain.DefaultPolicy(),
	}
	app, err := bootstrap.New(context.Background(), cfg, logger.NewNopLogger())
	require.NoError(t, err)
	return app
}

// run executes one command line against a shared app
func run(t *testing.T, app *bootstrap.App, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(func(context.Context) (*bootstrap.App, error) { return app, nil })
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

var oldTown = domain.EntityKey{Type: "zone", ID: "old-town"}

func degrade(t *testing.T, app *bootstrap.App) {
	t.Helper()
	_, err := app.KillSwitch.SubmitHazard(context.Background(), usecase.HazardRequest{
		Key:        oldTown,
		RegionID:   "bangkok",
		HazardType: domain.AnomalyHazardScam,
		ReportedBy: "user-1",
	})
	require.NoError(t, err)
}

func TestKillReviveAndShow(t *testing.T) {
	app := newTestApp(t)
	degrade(t, app)

	out, err := run(t, app, "kill", "zone", "old-town", "--actor", "ops-alice", "--duration-days", "2", "--detail", "ticket=T-9")
	require.NoError(t, err)
	assert.Contains(t, out, "OFFLINE")
	assert.Contains(t, out, "revive_after")

	rec, err := app.KillSwitch.GetRecord(context.Background(), oldTown)
	require.NoError(t, err)
	last := rec.AuditLog[len(rec.AuditLog)-1]
	assert.Equal(t, "ops-alice", last.Actor)
	assert.Equal(t, "T-9", last.Details["ticket"])

	out, err = run(t, app, "revive", "zone", "old-town", "--actor", "ops-alice", "--note", "checked")
	require.NoError(t, err)
	assert.Contains(t, out, "ACTIVE")

	out, err = run(t, app, "show", "zone", "old-town", "--json")
	require.NoError(t, err)
	var view struct {
		State      domain.State      `json:"state"`
		Visibility domain.Visibility `json:"visibility"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, domain.StateActive, view.State)
	assert.Equal(t, domain.VisibilityShow, view.Visibility)
}

func TestCommandValidation(t *testing.T) {
	app := newTestApp(t)
	degrade(t, app)

	tests := []struct {
		name string
		args []string
	}{
		{"missing actor", []string{"kill", "zone", "old-town"}},
		{"bad detail", []string{"kill", "zone", "old-town", "--actor", "ops", "--detail", "nokey"}},
		{"bad reason", []string{"kill", "zone", "old-town", "--actor", "ops", "--reason", "bored"}},
		{"system actor", []string{"permanent-kill", "zone", "old-town", "--actor", domain.SystemActor}},
		{"system actor kill", []string{"kill", "zone", "old-town", "--actor", domain.SystemActor}},
		{"system actor revive", []string{"revive", "zone", "old-town", "--actor", domain.SystemActor}},
		{"system token", []string{"token", "--subject", domain.SystemActor}},
		{"invalid key", []string{"show", "Zone", "old-town"}},
		{"unknown record", []string{"show", "zone", "nowhere"}},
		{"migrate on memory store", []string{"migrate", "up"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, app, tt.args...)
			assert.Error(t, err)
		})
	}

	rec, err := app.KillSwitch.GetRecord(context.Background(), oldTown)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDegraded, rec.State)
}

func TestAuditExportAndVerify(t *testing.T) {
	app := newTestApp(t)
	degrade(t, app)

	out, err := run(t, app, "audit", "zone", "old-town")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "HAZARD_REPORTS")

	out, err = run(t, app, "audit", "zone", "old-town", "--verify")
	require.NoError(t, err)
	assert.Contains(t, out, "ok: 2 entries")
}

func TestSummaryAndReconcile(t *testing.T) {
	app := newTestApp(t)
	degrade(t, app)

	out, err := run(t, app, "summary")
	require.NoError(t, err)
	assert.Contains(t, out, "total")
	assert.Contains(t, out, "degraded")

	out, err = run(t, app, "reconcile", "--json")
	require.NoError(t, err)
	var result usecase.ReconciliationResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 1, result.Checked)
	assert.Equal(t, 0, result.Updated)
}

func TestResolve(t *testing.T) {
	app := newTestApp(t)
	degrade(t, app)

	reports, err := app.KillSwitch.ListAnomalies(context.Background(), domain.AnomalyFilter{})
	require.NoError(t, err)
	require.Len(t, reports, 1)

	out, err := run(t, app, "resolve", reports[0].ID, "--actor", "ops-bob", "--notes", "confirmed")
	require.NoError(t, err)
	assert.Contains(t, out, "resolved "+reports[0].ID)

	_, err = run(t, app, "resolve", reports[0].ID, "--actor", "ops-bob")
	assert.ErrorIs(t, err, domain.ErrReportResolved)
}

func TestPolicyAndToken(t *testing.T) {
	app := newTestApp(t)

	out, err := run(t, app, "policy")
	require.NoError(t, err)
	assert.Contains(t, out, "hazard_kill_count: 2")
	assert.Contains(t, out, "degrade_after_days: 90")

	out, err = run(t, app, "token", "--subject", "ops-alice")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "."), 3)
}

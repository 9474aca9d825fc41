package rollback

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/warden/pkg/events"
	"github.com/cuemby/warden/pkg/executor"
	"github.com/cuemby/warden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	command string
	targets []string
	dryRun  bool
}

// fakeFleet answers every target with canned stdout and fails commands
// matching failOn
type fakeFleet struct {
	mu     sync.Mutex
	calls  []recordedCall
	failOn string
}

func (f *fakeFleet) Execute(ctx context.Context, req executor.Request) (*types.BatchResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{command: req.Command, targets: req.Target, dryRun: req.Options.DryRun})
	f.mu.Unlock()

	failed := f.failOn != "" && strings.Contains(req.Command, f.failOn)
	batch := &types.BatchResult{
		Summary:        types.BatchSummary{Total: len(req.Target)},
		OverallSuccess: !failed,
	}
	for _, host := range req.Target {
		batch.Results = append(batch.Results, &types.ExecutionResult{
			Host:    host,
			Success: !failed,
			Stdout:  "ok",
		})
	}
	if failed {
		batch.Summary.Failed = len(req.Target)
	} else {
		batch.Summary.Succeeded = len(req.Target)
	}
	return batch, nil
}

func (f *fakeFleet) recorded() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedCall, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeDeployments map[string]*types.Deployment

func (d fakeDeployments) Get(id string) (*types.Deployment, bool) {
	dep, ok := d[id]
	return dep, ok
}

func testDeployment() *types.Deployment {
	return &types.Deployment{
		ID:       "dep-1",
		Strategy: types.DeployStrategyCanary,
		Stages: []*types.StageResult{
			{Name: "test", Status: types.StageSuccess},
			{Name: "staging", Status: types.StageSuccess},
			{Name: "production-10", Status: types.StageFailed},
		},
	}
}

func testConfig() Config {
	return Config{
		Repository:     "/srv/app",
		BackupDir:      "/tmp/backup",
		RestartCommand: "systemctl restart app",
		HealthCommand:  "curl -sf http://localhost:8080/health",
		HealthRetries:  2,
		HealthBackoff:  time.Millisecond,
		Platform:       "linux",
		StageTargets: map[string][]string{
			"test":    {"test-1"},
			"staging": {"staging-1", "staging-2"},
		},
	}
}

func TestExecute_FullRevertsSucceededStagesNewestFirst(t *testing.T) {
	fleet := &fakeFleet{}
	e := NewEngine(fleet, fakeDeployments{"dep-1": testDeployment()}, testConfig())

	rec, err := e.Execute(context.Background(), "dep-1", "error budget burned", Options{})
	require.NoError(t, err)

	assert.True(t, rec.Success)
	assert.Equal(t, "dep-1", rec.DeploymentID)
	assert.Equal(t, "error budget burned", rec.Reason)
	// Succeeded stages only, newest first; the failed stage is untouched
	assert.Equal(t, []string{"staging", "test"}, rec.Stages)

	var restores []recordedCall
	for _, call := range fleet.recorded() {
		if strings.Contains(call.command, "LATEST=") {
			restores = append(restores, call)
		}
	}
	require.Len(t, restores, 2)
	assert.Equal(t, []string{"staging-1", "staging-2"}, restores[0].targets)
	assert.Equal(t, []string{"test-1"}, restores[1].targets)
	assert.Contains(t, restores[0].command, `ls -td /tmp/backup-* | head -1`)
	assert.Contains(t, restores[0].command, "/srv/app/")
}

func TestExecute_PartialRevertsUnfinishedStages(t *testing.T) {
	fleet := &fakeFleet{}
	e := NewEngine(fleet, fakeDeployments{"dep-1": testDeployment()}, testConfig())

	rec, err := e.Execute(context.Background(), "dep-1", "canary misbehaving", Options{Partial: true})
	require.NoError(t, err)

	assert.True(t, rec.Success)
	assert.Equal(t, []string{"production-10"}, rec.Stages)
}

func TestExecute_SnapshotsTakenBeforeRestore(t *testing.T) {
	fleet := &fakeFleet{}
	e := NewEngine(fleet, fakeDeployments{"dep-1": testDeployment()}, testConfig())

	rec, err := e.Execute(context.Background(), "dep-1", "revert", Options{})
	require.NoError(t, err)

	for _, host := range []string{"test-1", "staging-1", "staging-2"} {
		snap := rec.Snapshots[host]
		require.NotNil(t, snap, host)
		assert.Equal(t, host, snap.Host)
		assert.Equal(t, "ok", snap.CPU)
		assert.Equal(t, "ok", snap.Memory)
		assert.Equal(t, "ok", snap.Disk)
		assert.Equal(t, "ok", snap.Process)
		assert.False(t, snap.TakenAt.IsZero())
	}
}

func TestExecute_DryRunSkipsHealthCheck(t *testing.T) {
	fleet := &fakeFleet{}
	e := NewEngine(fleet, fakeDeployments{"dep-1": testDeployment()}, testConfig())

	rec, err := e.Execute(context.Background(), "dep-1", "preview", Options{DryRun: true})
	require.NoError(t, err)
	assert.True(t, rec.Success)

	for _, call := range fleet.recorded() {
		assert.NotContains(t, call.command, "curl")
		if strings.Contains(call.command, "LATEST=") || strings.Contains(call.command, "systemctl") {
			assert.True(t, call.dryRun, call.command)
		}
	}
}

func TestExecute_RolledBackButUnhealthy(t *testing.T) {
	fleet := &fakeFleet{failOn: "curl"}
	e := NewEngine(fleet, fakeDeployments{"dep-1": testDeployment()}, testConfig())

	rec, err := e.Execute(context.Background(), "dep-1", "revert", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rolled back but unhealthy")

	assert.False(t, rec.Success)
	assert.Contains(t, rec.Error, "rolled back but unhealthy")
	// Failed on the first (newest) stage, never reached the second
	assert.Equal(t, []string{"staging"}, rec.Stages)
}

func TestExecute_RestoreFailureStopsRollback(t *testing.T) {
	fleet := &fakeFleet{failOn: "LATEST="}
	e := NewEngine(fleet, fakeDeployments{"dep-1": testDeployment()}, testConfig())

	rec, err := e.Execute(context.Background(), "dep-1", "revert", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restore")
	assert.False(t, rec.Success)
}

func TestExecute_DeploymentNotFound(t *testing.T) {
	e := NewEngine(&fakeFleet{}, fakeDeployments{}, testConfig())

	_, err := e.Execute(context.Background(), "missing", "revert", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestExecute_NothingToRollBack(t *testing.T) {
	fleet := &fakeFleet{}
	d := &types.Deployment{
		ID:     "dep-2",
		Stages: []*types.StageResult{{Name: "test", Status: types.StageFailed}},
	}
	e := NewEngine(fleet, fakeDeployments{"dep-2": d}, testConfig())

	rec, err := e.Execute(context.Background(), "dep-2", "revert", Options{})
	require.NoError(t, err)
	assert.True(t, rec.Success)
	assert.Empty(t, rec.Stages)
	assert.Empty(t, fleet.recorded())
}

func TestExecute_UnmappedStageTargetsItself(t *testing.T) {
	fleet := &fakeFleet{}
	cfg := testConfig()
	cfg.StageTargets = nil
	e := NewEngine(fleet, fakeDeployments{"dep-1": testDeployment()}, cfg)

	_, err := e.Execute(context.Background(), "dep-1", "revert", Options{})
	require.NoError(t, err)

	calls := fleet.recorded()
	require.NotEmpty(t, calls)
	assert.Equal(t, []string{"staging"}, calls[0].targets)
}

func TestExecute_PublishesRollbackEvent(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	e := NewEngine(&fakeFleet{}, fakeDeployments{"dep-1": testDeployment()}, testConfig()).WithBroker(broker)

	_, err := e.Execute(context.Background(), "dep-1", "revert", Options{})
	require.NoError(t, err)

	select {
	case event := <-sub:
		assert.Equal(t, events.EventRollbackStarted, event.Type)
		assert.Contains(t, event.Message, "dep-1")
	case <-time.After(time.Second):
		t.Fatal("no rollback event received")
	}
}

func TestRollback_SatisfiesDeployHook(t *testing.T) {
	fleet := &fakeFleet{}
	e := NewEngine(fleet, fakeDeployments{"dep-1": testDeployment()}, testConfig())

	require.NoError(t, e.Rollback(context.Background(), "dep-1", "auto"))
	assert.Error(t, e.Rollback(context.Background(), "missing", "auto"))
}

func TestExecuteCritical(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown operation", func(t *testing.T) {
		e := NewEngine(&fakeFleet{}, fakeDeployments{}, testConfig())
		_, err := e.ExecuteCritical(ctx, "cache_flush", "redis-cli flushall", []string{"db-1"}, true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown critical operation")
	})

	t.Run("denied without approval hook", func(t *testing.T) {
		e := NewEngine(&fakeFleet{}, fakeDeployments{}, testConfig())
		_, err := e.ExecuteCritical(ctx, "db_rollback", "pg_restore backup.dump", []string{"db-1"}, true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "approval denied")
	})

	t.Run("dry run unless confirmed", func(t *testing.T) {
		fleet := &fakeFleet{}
		e := NewEngine(fleet, fakeDeployments{}, testConfig()).WithApproval(func(string) bool { return true })

		_, err := e.ExecuteCritical(ctx, "db_rollback", "pg_restore backup.dump", []string{"db-1"}, false)
		require.NoError(t, err)
		_, err = e.ExecuteCritical(ctx, "schema_rollback", "migrate down 1", []string{"db-1"}, true)
		require.NoError(t, err)

		calls := fleet.recorded()
		require.Len(t, calls, 2)
		assert.True(t, calls[0].dryRun)
		assert.False(t, calls[1].dryRun)
	})
}

func TestHistory(t *testing.T) {
	e := NewEngine(&fakeFleet{}, fakeDeployments{"dep-1": testDeployment()}, testConfig())

	for i := 0; i < 3; i++ {
		_, err := e.Execute(context.Background(), "dep-1", "revert", Options{})
		require.NoError(t, err)
	}

	history := e.History()
	require.Len(t, history, 3)
	for _, rec := range history {
		assert.True(t, rec.Success)
		assert.NotEmpty(t, rec.ID)
	}
}

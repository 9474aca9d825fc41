package storage

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/warden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "warden.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIncidentRoundTrip(t *testing.T) {
	s := openTestStore(t)

	incident := &types.Incident{
		ID:        "heal-1",
		Scenario:  "disk_space_low",
		Playbook:  "disk_space_low",
		Success:   true,
		Timestamp: time.Now(),
		Actions: []*types.ActionResult{
			{Command: "df -h", Success: true, Stdout: "ok"},
		},
	}
	require.NoError(t, s.PutIncident(incident))

	got, err := s.RecentIncidents(10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "heal-1", got[0].ID)
	assert.Equal(t, "disk_space_low", got[0].Scenario)
	require.Len(t, got[0].Actions, 1)
	assert.Equal(t, "df -h", got[0].Actions[0].Command)
}

func TestRecentIncidents_NewestFirstAndLimited(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.PutIncident(&types.Incident{
			ID:        fmt.Sprintf("heal-%d", i),
			Scenario:  "process_down",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := s.RecentIncidents(3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "heal-4", got[0].ID)
	assert.Equal(t, "heal-3", got[1].ID)
	assert.Equal(t, "heal-2", got[2].ID)
}

func TestIncidentsSince(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	old := &types.Incident{ID: "heal-old", Timestamp: now.Add(-48 * time.Hour)}
	recent1 := &types.Incident{ID: "heal-a", Timestamp: now.Add(-2 * time.Hour)}
	recent2 := &types.Incident{ID: "heal-b", Timestamp: now.Add(-1 * time.Hour)}
	for _, inc := range []*types.Incident{recent2, old, recent1} {
		require.NoError(t, s.PutIncident(inc))
	}

	got, err := s.IncidentsSince(now.Add(-24 * time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Oldest first
	assert.Equal(t, "heal-a", got[0].ID)
	assert.Equal(t, "heal-b", got[1].ID)
}

func TestDeploymentRoundTrip(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.PutDeployment(&types.Deployment{
			ID:         fmt.Sprintf("dep-%d", i),
			Strategy:   types.DeployStrategyCanary,
			Status:     types.DeploymentCompleted,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			Repository: "/srv/app",
			Stages: []*types.StageResult{
				{Name: "test", Status: types.StageSuccess},
			},
		}))
	}

	got, err := s.RecentDeployments(2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "dep-2", got[0].ID)
	assert.Equal(t, "dep-1", got[1].ID)
	assert.Equal(t, types.DeploymentCompleted, got[0].Status)
	require.Len(t, got[0].Stages, 1)
	assert.Equal(t, types.StageSuccess, got[0].Stages[0].Status)
}

func TestEmptyStore(t *testing.T) {
	s := openTestStore(t)

	incidents, err := s.RecentIncidents(10)
	require.NoError(t, err)
	assert.Empty(t, incidents)

	deployments, err := s.RecentDeployments(10)
	require.NoError(t, err)
	assert.Empty(t, deployments)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.PutIncident(&types.Incident{ID: "heal-1", Timestamp: time.Now()}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.RecentIncidents(10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "heal-1", got[0].ID)
}

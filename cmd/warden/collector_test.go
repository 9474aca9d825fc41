package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/warden/pkg/config"
	"github.com/cuemby/warden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollect_HTTPAndCommandChecks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	source := newFleetSource(config.Monitoring{
		HealthChecks: []config.HealthCheck{
			{Name: "api", URL: server.URL},
			{Name: "cron", Command: "echo ok"},
		},
	})

	snapshot, err := source.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot.HealthChecks, 2)

	byName := map[string]types.HealthCheckResult{}
	for _, hc := range snapshot.HealthChecks {
		byName[hc.Name] = hc
	}
	assert.Equal(t, types.HealthStatusHealthy, byName["api"].Status)
	assert.Equal(t, server.URL, byName["api"].URL)
	assert.Equal(t, types.HealthStatusHealthy, byName["cron"].Status)
	assert.Empty(t, byName["cron"].URL)
}

func TestCollect_FailingCommandCheck(t *testing.T) {
	source := newFleetSource(config.Monitoring{
		HealthChecks: []config.HealthCheck{
			{Name: "flaky", Command: "false"},
		},
	})

	snapshot, err := source.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot.HealthChecks, 1)
	assert.Equal(t, types.HealthStatusUnhealthy, snapshot.HealthChecks[0].Status)
	assert.NotEmpty(t, snapshot.HealthChecks[0].Error)
}

func TestCollect_RollingStatusFlipsAfterRepeatedFailures(t *testing.T) {
	source := newFleetSource(config.Monitoring{
		HealthChecks: []config.HealthCheck{
			{Name: "flaky", Command: "false"},
		},
	})
	ctx := context.Background()

	// One failed probe marks the snapshot entry unhealthy, but the
	// rolling status holds until the failure streak reaches the retry
	// budget.
	for i := 1; i <= 2; i++ {
		_, err := source.Collect(ctx)
		require.NoError(t, err)
		assert.True(t, source.statuses["flaky"].Healthy, "collect %d", i)
	}

	_, err := source.Collect(ctx)
	require.NoError(t, err)
	status := source.statuses["flaky"]
	assert.False(t, status.Healthy)
	assert.Equal(t, 3, status.ConsecutiveFailures)
}

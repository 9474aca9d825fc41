package ticketing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/warden/pkg/config"
	"github.com/cuemby/warden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAlert() *types.Alert {
	return &types.Alert{
		Metric:    "cpu_usage",
		Level:     types.AlertLevelCritical,
		Message:   "CPU usage at 97.0%",
		Value:     97.0,
		Threshold: 95.0,
		Timestamp: time.Now(),
	}
}

func testConfig(baseURL string) config.Ticketing {
	return config.Ticketing{
		Enabled:       true,
		BaseURL:       baseURL,
		ServiceDeskID: "10",
		RequestTypeID: "25",
		Auth: config.TicketingAuth{
			Type:     "basic",
			Username: "warden",
			Password: "hunter2",
		},
		Deduplication: config.Deduplication{Enabled: true, WindowMinutes: 60},
	}
}

func TestCreateIncidentFromAlert(t *testing.T) {
	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/servicedeskapi/request", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "warden", user)
		assert.Equal(t, "hunter2", pass)

		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		json.NewEncoder(w).Encode(Issue{IssueKey: "OPS-101", IssueID: "10001"})
	}))
	defer server.Close()

	c := NewClient(testConfig(server.URL))
	key, err := c.CreateIncidentFromAlert(context.Background(), testAlert())
	require.NoError(t, err)
	assert.Equal(t, "OPS-101", key)

	assert.Equal(t, "10", body["serviceDeskId"])
	assert.Equal(t, "25", body["requestTypeId"])
	fields := body["requestFieldValues"].(map[string]interface{})
	assert.Equal(t, "[CRITICAL] CPU usage at 97.0%", fields["summary"])
	assert.Contains(t, fields["description"], "Metric: cpu_usage")
	assert.Contains(t, fields["description"], "Value: 97.00")
}

func TestCreateIncidentFromAlert_Disabled(t *testing.T) {
	cfg := testConfig("http://unused")
	cfg.Enabled = false
	c := NewClient(cfg)

	_, err := c.CreateIncidentFromAlert(context.Background(), testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}

func TestCreateIncidentFromAlert_DedupReusesOpenTicket(t *testing.T) {
	var creates atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rest/servicedeskapi/request" {
			creates.Add(1)
		}
		json.NewEncoder(w).Encode(Issue{IssueKey: "OPS-101"})
	}))
	defer server.Close()

	c := NewClient(testConfig(server.URL))
	ctx := context.Background()

	first, err := c.CreateIncidentFromAlert(ctx, testAlert())
	require.NoError(t, err)
	second, err := c.CreateIncidentFromAlert(ctx, testAlert())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), creates.Load())

	// A different level is a different incident
	high := testAlert()
	high.Level = types.AlertLevelHigh
	_, err = c.CreateIncidentFromAlert(ctx, high)
	require.NoError(t, err)
	assert.Equal(t, int64(2), creates.Load())

	// Clearing the cache files a fresh ticket
	c.ResetDedup()
	_, err = c.CreateIncidentFromAlert(ctx, testAlert())
	require.NoError(t, err)
	assert.Equal(t, int64(3), creates.Load())
}

func TestCreateIncidentFromAlert_DedupCommentsOccurrence(t *testing.T) {
	var creates, comments atomic.Int64
	var comment map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/servicedeskapi/request":
			creates.Add(1)
			json.NewEncoder(w).Encode(Issue{IssueKey: "OPS-1"})
		case "/rest/servicedeskapi/request/OPS-1/comment":
			comments.Add(1)
			json.NewDecoder(r.Body).Decode(&comment)
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	c := NewClient(testConfig(server.URL))
	ctx := context.Background()

	_, err := c.CreateIncidentFromAlert(ctx, testAlert())
	require.NoError(t, err)
	key, err := c.CreateIncidentFromAlert(ctx, testAlert())
	require.NoError(t, err)

	// The suppressed occurrence lands on the open ticket as a comment
	assert.Equal(t, "OPS-1", key)
	assert.Equal(t, int64(1), creates.Load())
	assert.Equal(t, int64(1), comments.Load())
	assert.Contains(t, comment["body"], "Recurring alert")
	assert.Contains(t, comment["body"], "cpu_usage")
}

func TestCreateIncidentFromAlert_IssueTypeMapping(t *testing.T) {
	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		json.NewEncoder(w).Encode(Issue{IssueKey: "OPS-1"})
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.IssueTypeMapping = map[string]string{"critical": "99"}
	c := NewClient(cfg)

	_, err := c.CreateIncidentFromAlert(context.Background(), testAlert())
	require.NoError(t, err)
	assert.Equal(t, "99", body["requestTypeId"])
}

func TestDo_RetriesOn429(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(Issue{IssueKey: "OPS-7"})
	}))
	defer server.Close()

	c := NewClient(testConfig(server.URL))
	start := time.Now()
	key, err := c.CreateIncidentFromAlert(context.Background(), testAlert())
	require.NoError(t, err)

	assert.Equal(t, "OPS-7", key)
	assert.Equal(t, int64(2), calls.Load())
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestDo_ClientErrorDoesNotRetry(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errorMessage":"bad request type"}`))
	}))
	defer server.Close()

	c := NewClient(testConfig(server.URL))
	_, err := c.CreateIncidentFromAlert(context.Background(), testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int64(1), calls.Load())
}

func TestUpdateIncidentWithHealResult(t *testing.T) {
	var paths []string
	var comment map[string]interface{}
	var transitionBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch {
		case r.URL.Path == "/rest/servicedeskapi/request/OPS-5/comment":
			json.NewDecoder(r.Body).Decode(&comment)
		case r.URL.Path == "/rest/servicedeskapi/request/OPS-5/transition":
			json.NewDecoder(r.Body).Decode(&transitionBody)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.TransitionMapping = map[string]string{"resolved": "761"}
	c := NewClient(cfg)

	result := &types.HealResult{
		Success:    true,
		Scenario:   "disk_space_low",
		Playbook:   "disk_space_low",
		IncidentID: "heal-42",
		DurationMs: 1800,
	}
	require.NoError(t, c.UpdateIncidentWithHealResult(context.Background(), "OPS-5", result))

	require.Len(t, paths, 2)
	assert.Contains(t, comment["body"], "Auto-heal resolved")
	assert.Contains(t, comment["body"], "heal-42")
	assert.Equal(t, true, comment["public"])
	assert.Equal(t, "761", transitionBody["id"])
}

func TestUpdateIncidentWithHealResult_FailureWithoutMapping(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewClient(testConfig(server.URL))
	result := &types.HealResult{Success: false, Scenario: "api_slow", Reason: "No applicable playbook found"}
	require.NoError(t, c.UpdateIncidentWithHealResult(context.Background(), "OPS-5", result))

	// Comment only; no transition configured for "failed"
	require.Len(t, paths, 1)
	assert.Equal(t, "/rest/servicedeskapi/request/OPS-5/comment", paths[0])
}

func TestCloseIncident(t *testing.T) {
	var paths []string
	var transitionBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/rest/servicedeskapi/request/OPS-9/transition" {
			json.NewDecoder(r.Body).Decode(&transitionBody)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewClient(testConfig(server.URL))
	require.NoError(t, c.CloseIncident(context.Background(), "OPS-9", "disk cleaned"))

	require.Len(t, paths, 2)
	assert.Equal(t, "/rest/servicedeskapi/request/OPS-9/comment", paths[0])
	assert.Equal(t, "resolve", transitionBody["id"])
}

func TestBearerAuth(t *testing.T) {
	var authHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Auth = config.TicketingAuth{Type: "bearer", Token: "tok-123"}
	c := NewClient(cfg)

	require.NoError(t, c.AddComment(context.Background(), "OPS-1", "hello"))
	assert.Equal(t, "Bearer tok-123", authHeader)
}

func TestLinkReportToIncident(t *testing.T) {
	var comment map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&comment)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewClient(testConfig(server.URL))
	require.NoError(t, c.LinkReportToIncident(context.Background(), "OPS-1", "/reports/heal-42.md"))
	assert.Equal(t, "Incident report: /reports/heal-42.md", comment["body"])
}

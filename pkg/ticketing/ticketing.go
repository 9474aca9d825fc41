package ticketing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/warden/pkg/config"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/metrics"
	"github.com/cuemby/warden/pkg/types"
	"golang.org/x/time/rate"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxRetries            = 3
	defaultDedupMinutes   = 60
)

// Issue is the tracker's view of one incident ticket
type Issue struct {
	IssueKey string `json:"issueKey"`
	IssueID  string `json:"issueId"`
	Status   string `json:"currentStatus,omitempty"`
}

type dedupEntry struct {
	issueKey  string
	createdAt time.Time
}

// Client talks to a Jira Service Management compatible request API. All
// calls are best-effort from the pipeline's perspective; failures are
// returned but never retried beyond the client's own policy.
type Client struct {
	cfg     config.Ticketing
	auth    config.TicketingAuth
	http    *http.Client
	limiter *rate.Limiter

	mu    sync.Mutex
	dedup map[string]dedupEntry // "metric-level" -> open issue
}

// NewClient creates a ticketing client from configuration. Auth values
// are resolved from the environment once at construction.
func NewClient(cfg config.Ticketing) *Client {
	perMinute := cfg.RateLimiting.MaxRequestsPerMinute
	if perMinute <= 0 {
		perMinute = 50
	}

	return &Client{
		cfg:     cfg,
		auth:    cfg.Auth.Resolve(),
		http:    &http.Client{Timeout: defaultRequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
		dedup:   make(map[string]dedupEntry),
	}
}

// CreateIncidentFromAlert files a ticket for an alert, returning the
// issue key. A matching open ticket inside the dedup window is reused
// instead of filing a duplicate.
func (c *Client) CreateIncidentFromAlert(ctx context.Context, alert *types.Alert) (string, error) {
	if !c.cfg.Enabled {
		return "", fmt.Errorf("ticketing disabled")
	}

	logger := log.WithComponent("ticketing")

	key := alert.Metric + "-" + string(alert.Level)
	if issueKey, ok := c.lookupDedup(key); ok {
		occurrence := fmt.Sprintf(
			"Recurring alert: %s\nMetric: %s\nValue: %.2f\nLevel: %s\nTime: %s",
			alert.Message, alert.Metric, alert.Value, alert.Level,
			alert.Timestamp.Format(time.RFC3339),
		)
		if err := c.AddComment(ctx, issueKey, occurrence); err != nil {
			logger.Warn().Err(err).Str("issue", issueKey).Msg("occurrence comment failed")
		}
		logger.Debug().
			Str("issue", issueKey).
			Str("metric", alert.Metric).
			Msg("reusing open ticket")
		return issueKey, nil
	}

	summary := fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Level)), alert.Message)
	description := fmt.Sprintf(
		"Metric: %s\nValue: %.2f\nThreshold: %.2f\nLevel: %s\nTime: %s",
		alert.Metric, alert.Value, alert.Threshold, alert.Level,
		alert.Timestamp.Format(time.RFC3339),
	)

	body := map[string]interface{}{
		"serviceDeskId": c.cfg.ServiceDeskID,
		"requestTypeId": c.requestType(alert),
		"requestFieldValues": map[string]interface{}{
			"summary":     summary,
			"description": description,
		},
	}
	if len(c.cfg.Labels) > 0 {
		body["requestFieldValues"].(map[string]interface{})["labels"] = c.cfg.Labels
	}

	var issue Issue
	if err := c.do(ctx, "create", http.MethodPost, "/rest/servicedeskapi/request", body, &issue); err != nil {
		return "", err
	}

	c.storeDedup(key, issue.IssueKey)
	logger.Info().
		Str("issue", issue.IssueKey).
		Str("metric", alert.Metric).
		Msg("incident ticket created")
	return issue.IssueKey, nil
}

// UpdateIncidentWithHealResult comments the heal outcome onto the ticket
// and transitions it when a mapping exists
func (c *Client) UpdateIncidentWithHealResult(ctx context.Context, issueKey string, result *types.HealResult) error {
	outcome := "failed"
	if result.Success {
		outcome = "resolved"
	}

	comment := fmt.Sprintf(
		"Auto-heal %s\nScenario: %s\nPlaybook: %s\nIncident: %s\nDuration: %dms",
		outcome, result.Scenario, result.Playbook, result.IncidentID, result.DurationMs,
	)
	if result.Reason != "" {
		comment += "\nReason: " + result.Reason
	}
	if err := c.AddComment(ctx, issueKey, comment); err != nil {
		return err
	}

	if transition, ok := c.cfg.TransitionMapping[outcome]; ok {
		return c.transition(ctx, issueKey, transition)
	}
	return nil
}

// CloseIncident transitions the ticket to its closed state with a
// closing comment
func (c *Client) CloseIncident(ctx context.Context, issueKey, resolution string) error {
	if resolution != "" {
		if err := c.AddComment(ctx, issueKey, "Resolved: "+resolution); err != nil {
			return err
		}
	}

	transition := c.cfg.TransitionMapping["closed"]
	if transition == "" {
		transition = "resolve"
	}
	return c.transition(ctx, issueKey, transition)
}

// AddComment posts a public comment on the ticket
func (c *Client) AddComment(ctx context.Context, issueKey, text string) error {
	body := map[string]interface{}{
		"body":   text,
		"public": true,
	}
	path := fmt.Sprintf("/rest/servicedeskapi/request/%s/comment", issueKey)
	return c.do(ctx, "comment", http.MethodPost, path, body, nil)
}

// LinkReportToIncident attaches a report path reference to the ticket
func (c *Client) LinkReportToIncident(ctx context.Context, issueKey, reportPath string) error {
	return c.AddComment(ctx, issueKey, "Incident report: "+reportPath)
}

func (c *Client) transition(ctx context.Context, issueKey, transitionID string) error {
	body := map[string]interface{}{
		"id": transitionID,
	}
	path := fmt.Sprintf("/rest/servicedeskapi/request/%s/transition", issueKey)
	return c.do(ctx, "transition", http.MethodPost, path, body, nil)
}

func (c *Client) requestType(alert *types.Alert) string {
	if id, ok := c.cfg.IssueTypeMapping[string(alert.Level)]; ok {
		return id
	}
	return c.cfg.RequestTypeID
}

// do performs one rate-limited API call with retry on 429 and timeouts
func (c *Client) do(ctx context.Context, operation, method, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("ticketing %s: encode: %w", operation, err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("ticketing %s: %w", operation, err)
		}
		req.Header.Set("Content-Type", "application/json")
		c.applyAuth(req)

		resp, err := c.http.Do(req)
		if err != nil {
			// Timeouts and transport errors retry
			lastErr = err
			metrics.TicketRequestsTotal.WithLabelValues(operation, "error").Inc()
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := retryAfter(resp)
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			metrics.TicketRequestsTotal.WithLabelValues(operation, "rate_limited").Inc()
			lastErr = fmt.Errorf("ticketing %s: rate limited", operation)

			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			metrics.TicketRequestsTotal.WithLabelValues(operation, "success").Inc()
			if out != nil && len(data) > 0 {
				if err := json.Unmarshal(data, out); err != nil {
					return fmt.Errorf("ticketing %s: decode: %w", operation, err)
				}
			}
			return nil
		}

		metrics.TicketRequestsTotal.WithLabelValues(operation, "failure").Inc()
		if readErr != nil {
			return fmt.Errorf("ticketing %s: status %d", operation, resp.StatusCode)
		}
		// Client errors other than 429 do not retry
		return fmt.Errorf("ticketing %s: status %d: %s", operation, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return fmt.Errorf("ticketing %s: retries exhausted: %w", operation, lastErr)
}

func (c *Client) applyAuth(req *http.Request) {
	switch c.auth.Type {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+c.auth.Token)
	default:
		req.SetBasicAuth(c.auth.Username, c.auth.Password)
	}
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 5 * time.Second
}

func (c *Client) dedupWindow() time.Duration {
	minutes := c.cfg.Deduplication.WindowMinutes
	if minutes <= 0 {
		minutes = defaultDedupMinutes
	}
	return time.Duration(minutes) * time.Minute
}

func (c *Client) lookupDedup(key string) (string, bool) {
	if !c.cfg.Deduplication.Enabled {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.dedup[key]
	if !ok {
		return "", false
	}
	if time.Since(entry.createdAt) > c.dedupWindow() {
		delete(c.dedup, key)
		return "", false
	}
	return entry.issueKey, true
}

func (c *Client) storeDedup(key, issueKey string) {
	if !c.cfg.Deduplication.Enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.dedup[key] = dedupEntry{issueKey: issueKey, createdAt: time.Now()}
}

// ResetDedup clears the dedup cache
func (c *Client) ResetDedup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dedup = make(map[string]dedupEntry)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/warden/pkg/config"
	"github.com/cuemby/warden/pkg/health"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/types"
)

// fleetSource builds metric snapshots from the configured health checks
// and Prometheus queries. It is the alert pipeline's MetricsSource.
type fleetSource struct {
	cfg  config.Monitoring
	http *http.Client

	// statuses carries per-check rolling state across collections so
	// health transitions are logged once, not on every failed probe.
	// Collect runs from a single orchestrator task.
	statuses map[string]*health.Status
	checkCfg health.Config
}

func newFleetSource(cfg config.Monitoring) *fleetSource {
	return &fleetSource{
		cfg:      cfg,
		http:     &http.Client{Timeout: 10 * time.Second},
		statuses: make(map[string]*health.Status),
		checkCfg: health.DefaultConfig(),
	}
}

// checkerFor builds the probe for one configured check. Command checks
// run locally; everything else is an HTTP probe.
func (s *fleetSource) checkerFor(hc config.HealthCheck) health.Checker {
	if hc.Command != "" {
		return health.NewExecChecker(strings.Fields(hc.Command))
	}
	return health.NewHTTPChecker(hc.URL)
}

// Collect probes every health check and evaluates every configured
// Prometheus query. Well-known query names feed the system metrics:
// cpu_usage, memory_usage and disk_usage_<mount>.
func (s *fleetSource) Collect(ctx context.Context) (*types.MetricsSnapshot, error) {
	snapshot := &types.MetricsSnapshot{
		Timestamp:   time.Now(),
		PromQueries: make(map[string]float64),
	}

	logger := log.WithComponent("collector")
	for _, hc := range s.cfg.HealthChecks {
		result := s.checkerFor(hc).Check(ctx)

		entry := types.HealthCheckResult{
			Name:      hc.Name,
			URL:       hc.URL,
			Status:    types.HealthStatusHealthy,
			LatencyMs: float64(result.Duration.Milliseconds()),
		}
		if !result.Healthy {
			entry.Status = types.HealthStatusUnhealthy
			entry.Error = result.Message
		}
		snapshot.HealthChecks = append(snapshot.HealthChecks, entry)

		status, ok := s.statuses[hc.Name]
		if !ok {
			status = health.NewStatus()
			s.statuses[hc.Name] = status
		}
		wasHealthy := status.Healthy
		status.Update(result, s.checkCfg)
		if wasHealthy && !status.Healthy {
			logger.Warn().
				Str("check", hc.Name).
				Int("consecutive_failures", status.ConsecutiveFailures).
				Str("error", result.Message).
				Msg("health check went unhealthy")
		} else if !wasHealthy && status.Healthy {
			logger.Info().
				Str("check", hc.Name).
				Msg("health check recovered")
		}
	}

	if s.cfg.Prometheus == nil || !s.cfg.Prometheus.Enabled {
		return snapshot, nil
	}

	for name, query := range s.cfg.Prometheus.Queries {
		value, err := s.query(ctx, query)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("query", name).
				Msg("prometheus query failed")
			continue
		}
		snapshot.PromQueries[name] = value

		switch {
		case name == "cpu_usage":
			snapshot.System.CPU = value
		case name == "memory_usage":
			snapshot.System.Memory.Percentage = value
		case strings.HasPrefix(name, "disk_usage_"):
			mount := strings.TrimPrefix(name, "disk_usage_")
			snapshot.System.Disk = append(snapshot.System.Disk, types.DiskMetrics{
				Mount:      mount,
				Percentage: value,
			})
		}
	}
	return snapshot, nil
}

type promResponse struct {
	Status string `json:"status"`
	Data   struct {
		Result []struct {
			Value []interface{} `json:"value"`
		} `json:"result"`
	} `json:"data"`
}

// query evaluates one instant query and returns its first sample
func (s *fleetSource) query(ctx context.Context, query string) (float64, error) {
	endpoint := fmt.Sprintf("%s/api/v1/query?query=%s",
		strings.TrimRight(s.cfg.Prometheus.Endpoint, "/"), url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("prometheus returned %d", resp.StatusCode)
	}

	var parsed promResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, err
	}
	if parsed.Status != "success" || len(parsed.Data.Result) == 0 {
		return 0, fmt.Errorf("no samples")
	}

	value := parsed.Data.Result[0].Value
	if len(value) != 2 {
		return 0, fmt.Errorf("malformed sample")
	}
	str, ok := value[1].(string)
	if !ok {
		return 0, fmt.Errorf("malformed sample value")
	}
	return strconv.ParseFloat(str, 64)
}

// stageSampler feeds the deploy manager's monitor window from Prometheus.
// Stage-specific queries may override the shared ones via the
// "<metric>_<stage>" naming convention.
type stageSampler struct {
	source *fleetSource
}

func (s *stageSampler) Sample(ctx context.Context, stage string) (*types.StageMetrics, error) {
	if s.source.cfg.Prometheus == nil || !s.source.cfg.Prometheus.Enabled {
		return nil, fmt.Errorf("prometheus not configured")
	}

	metric := func(name string) float64 {
		queries := s.source.cfg.Prometheus.Queries
		query, ok := queries[name+"_"+stage]
		if !ok {
			query, ok = queries[name]
		}
		if !ok {
			return 0
		}
		value, err := s.source.query(ctx, query)
		if err != nil {
			return 0
		}
		return value
	}

	return &types.StageMetrics{
		ErrorRate:    metric("error_rate"),
		ResponseTime: metric("response_time"),
		CPU:          metric("cpu_usage"),
		Memory:       metric("memory_usage"),
	}, nil
}

// tail bounds how much of each log file one scan reads
const logTailBytes = 256 * 1024

var logErrorMarkers = []string{"ERROR", "FATAL", "PANIC"}
var logCriticalMarkers = []string{"FATAL", "PANIC"}

// scanLogs counts error-level lines in the configured log files
func scanLogs(paths []string) (total, critical int) {
	logger := log.WithComponent("collector")
	for _, path := range paths {
		data, err := readTail(path, logTailBytes)
		if err != nil {
			logger.Debug().Err(err).Str("path", path).Msg("log scan skipped")
			continue
		}

		for _, line := range strings.Split(string(data), "\n") {
			if containsAny(line, logErrorMarkers) {
				total++
			}
			if containsAny(line, logCriticalMarkers) {
				critical++
			}
		}
	}
	return total, critical
}

func readTail(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > limit {
		if _, err := f.Seek(-limit, 2); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, limit)
	n, _ := f.Read(buf)
	return buf[:n], nil
}

func containsAny(line string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

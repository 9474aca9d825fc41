package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cuemby/warden/pkg/alerts"
	"github.com/cuemby/warden/pkg/autoheal"
	"github.com/cuemby/warden/pkg/config"
	"github.com/cuemby/warden/pkg/events"
	"github.com/cuemby/warden/pkg/executor"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/metrics"
	"github.com/cuemby/warden/pkg/orchestrator"
	"github.com/cuemby/warden/pkg/report"
	"github.com/cuemby/warden/pkg/sshpool"
	"github.com/cuemby/warden/pkg/storage"
	"github.com/cuemby/warden/pkg/ticketing"
	"github.com/cuemby/warden/pkg/types"
	"github.com/spf13/cobra"
)

// snapshotCapacity bounds the in-memory window feeding the weekly report
const snapshotCapacity = 2048

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Warden agent",
	Long: `Start the long-lived agent: the orchestrator heartbeat collects
metrics, scans logs, evaluates alerts and writes the daily and weekly
operations reports.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		logLevel, _ := cmd.Flags().GetString("log-level")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")

		log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: jsonLogs})

		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}

		return runAgent(cmd.Context(), cfg)
	},
}

func init() {
	startCmd.Flags().String("config", "warden.json", "Path to the configuration file")
	startCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	startCmd.Flags().Bool("json-logs", false, "Emit JSON logs instead of console output")
}

func runAgent(ctx context.Context, cfg *config.Config) error {
	broker := events.NewBroker()
	broker.Start()

	pool, exec, err := buildFleet(cfg, broker)
	if err != nil {
		return err
	}

	reportDir := cfg.ReportDir
	if reportDir == "" {
		reportDir = "reports"
	}
	reports := report.NewWriter(reportDir)

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "data"
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	store, err := storage.Open(filepath.Join(dataDir, "warden.db"))
	if err != nil {
		return err
	}

	var actionRunner autoheal.ActionRunner
	if len(cfg.Autoheal.Target) > 0 {
		actionRunner = &fleetActionRunner{exec: exec, target: cfg.Autoheal.Target}
	}
	healer := autoheal.New(cfg.Playbooks, actionRunner, reports).WithBroker(broker)

	var ticketer alerts.Ticketer
	var ticketClient *ticketing.Client
	if cfg.Ticketing.Enabled {
		ticketClient = ticketing.NewClient(cfg.Ticketing)
		ticketer = ticketClient
	}

	source := newFleetSource(cfg.Monitoring)

	pipeline := alerts.New(alerts.Options{
		Thresholds:  alertThresholds(cfg.Thresholds),
		DedupWindow: time.Duration(cfg.Orchestrator.DedupWindowSeconds) * time.Second,
		Source:      source,
		Ticketer:    ticketer,
		Broker:      broker,
		HealTrigger: func(alert *types.Alert) {
			scenario, healContext := scenarioForAlert(alert)
			if scenario == "" {
				return
			}
			result := healer.Heal(context.Background(), scenario, healContext)
			if ticketClient != nil && result.IncidentID != "" {
				key, err := ticketClient.CreateIncidentFromAlert(context.Background(), alert)
				if err == nil && key != "" {
					_ = ticketClient.UpdateIncidentWithHealResult(context.Background(), key, result)
				}
			}
		},
	})

	// Rolling state shared between the collection tasks and the reports
	var mu sync.Mutex
	var snapshots []*types.MetricsSnapshot
	var logs report.LogSummary

	o := orchestrator.New(cfg.Orchestrator)
	metricsInterval, logsInterval, alertsInterval := orchestrator.DefaultIntervals()

	o.Register("metrics_collection", metricsInterval, func(taskCtx context.Context) error {
		snapshot, err := source.Collect(taskCtx)
		if err != nil {
			return err
		}
		mu.Lock()
		snapshots = append(snapshots, snapshot)
		if len(snapshots) > snapshotCapacity {
			snapshots = snapshots[len(snapshots)-snapshotCapacity:]
		}
		mu.Unlock()
		return nil
	})

	o.Register("log_scan", logsInterval, func(context.Context) error {
		total, critical := scanLogs(cfg.Monitoring.Logs.Paths)
		mu.Lock()
		logs = report.LogSummary{TotalIssues: total, CriticalIssues: critical}
		mu.Unlock()
		return nil
	})

	o.Register("alert_evaluation", alertsInterval, func(taskCtx context.Context) error {
		_, err := pipeline.Run(taskCtx)
		return err
	})

	o.RegisterDaily(func(context.Context) error {
		mu.Lock()
		latest := latestSnapshot(snapshots)
		logSummary := logs
		mu.Unlock()

		incidents := incidentsSince(healer.History(), 24*time.Hour)
		for _, incident := range incidents {
			// Archive is best-effort; the report never depends on it
			_ = store.PutIncident(incident)
		}

		path, err := reports.WriteDailyReport(report.OperationsData{
			Timestamp: time.Now(),
			Snapshot:  latest,
			Incidents: incidents,
			Logs:      logSummary,
		})
		if err != nil {
			return err
		}
		logger := log.WithComponent("orchestrator")
		logger.Info().Str("path", path).Msg("daily report written")
		return nil
	})

	o.RegisterWeekly(func(context.Context) error {
		mu.Lock()
		window := make([]*types.MetricsSnapshot, len(snapshots))
		copy(window, snapshots)
		logSummary := logs
		mu.Unlock()

		path, err := reports.WriteWeeklyReport(report.WeeklyData{
			Timestamp: time.Now(),
			Snapshots: window,
			Incidents: incidentsSince(healer.History(), 7*24*time.Hour),
			Logs:      logSummary,
		})
		if err != nil {
			return err
		}
		logger := log.WithComponent("orchestrator")
		logger.Info().Str("path", path).Msg("weekly report written")
		return nil
	})

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				logger := log.WithComponent("metrics")
				logger.Error().Err(err).Msg("metrics endpoint failed")
			}
		}()
	}

	fmt.Println("✓ Warden agent started. Press Ctrl+C to stop.")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- o.Start(runCtx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			return err
		}
	}

	o.Stop()
	pool.CloseAll()
	broker.Stop()
	if err := store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}

// fleetActionRunner routes playbook actions through the remote executor
type fleetActionRunner struct {
	exec   *executor.Executor
	target []string
}

func (r *fleetActionRunner) Run(ctx context.Context, command string) (string, string, error) {
	batch, err := r.exec.Execute(ctx, executor.Request{
		Target:  r.target,
		Command: command,
		Options: executor.Options{Parallel: true},
	})
	if err != nil {
		return "", "", err
	}

	var stdout, stderr strings.Builder
	for _, result := range batch.Results {
		stdout.WriteString(result.Stdout)
		stderr.WriteString(result.Stderr)
	}
	if !batch.OverallSuccess {
		return stdout.String(), stderr.String(),
			fmt.Errorf("action failed on %d/%d targets", batch.Summary.Failed, batch.Summary.Total)
	}
	return stdout.String(), stderr.String(), nil
}

func loadConfig(path string) (*config.Config, error) {
	var cfg config.Config
	if err := config.Load(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// buildFleet assembles the connection pool and the remote executor from
// the servers section
func buildFleet(cfg *config.Config, broker *events.Broker) (*sshpool.Pool, *executor.Executor, error) {
	key, err := loadPrivateKey(cfg.Servers.SSH)
	if err != nil {
		return nil, nil, err
	}

	pool := sshpool.New(sshpool.Options{Broker: broker})
	pool.Start()

	sshCfg := cfg.Servers.SSH
	params := func(host string) sshpool.Params {
		return sshpool.Params{
			Address:    host,
			Port:       sshCfg.Port,
			User:       sshCfg.User,
			PrivateKey: key,
		}
	}

	runner := executor.NewPoolRunner(pool, params)
	policy := executor.NewPolicy(cfg.Executor.AllowedCommands)
	exec := executor.New(runner, policy, cfg.Servers.Groups)
	return pool, exec, nil
}

func loadPrivateKey(cfg config.SSHConfig) ([]byte, error) {
	if cfg.PrivateKey != "" {
		return []byte(config.ExpandEnv(cfg.PrivateKey)), nil
	}
	if cfg.KeyPath == "" {
		return nil, nil
	}
	key, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read SSH key %s: %w", cfg.KeyPath, err)
	}
	return key, nil
}

func alertThresholds(in config.Thresholds) types.AlertThresholds {
	out := make(types.AlertThresholds, len(in))
	for name, t := range in {
		out[name] = types.Threshold{Warning: t.Warning, Critical: t.Critical}
	}
	return out
}

// scenarioForAlert maps an eligible alert to its heal scenario and
// context. Metrics without a scenario return "".
func scenarioForAlert(alert *types.Alert) (string, map[string]interface{}) {
	switch {
	case strings.Contains(alert.Metric, "disk_usage"):
		return "disk_space_low", map[string]interface{}{"disk_usage": alert.Value}
	case strings.Contains(alert.Metric, "memory_usage"):
		return "memory_leak", map[string]interface{}{"memory_usage": alert.Value}
	case strings.Contains(alert.Metric, "process_down"):
		name := alert.Metadata["process"]
		if name == "" {
			name = "nginx"
		}
		return "process_down", map[string]interface{}{"process_name": name}
	}
	return "", nil
}

func latestSnapshot(snapshots []*types.MetricsSnapshot) *types.MetricsSnapshot {
	if len(snapshots) == 0 {
		return nil
	}
	return snapshots[len(snapshots)-1]
}

func incidentsSince(incidents []*types.Incident, window time.Duration) []*types.Incident {
	cutoff := time.Now().Add(-window)
	var out []*types.Incident
	for _, incident := range incidents {
		if incident.Timestamp.After(cutoff) {
			out = append(out, incident)
		}
	}
	return out
}

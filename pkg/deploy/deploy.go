package deploy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/warden/pkg/events"
	"github.com/cuemby/warden/pkg/executor"
	"github.com/cuemby/warden/pkg/health"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/metrics"
	"github.com/cuemby/warden/pkg/types"
	"github.com/google/uuid"
)

const (
	historyCapacity = 100
	recentCapacity  = 10
)

// Fleet abstracts remote execution; implemented by the executor package
type Fleet interface {
	Execute(ctx context.Context, req executor.Request) (*types.BatchResult, error)
}

// Sampler observes stage metrics during the monitor window
type Sampler interface {
	Sample(ctx context.Context, stage string) (*types.StageMetrics, error)
}

// Rollbacker reverts a failed deployment; implemented by the rollback
// package and injected to avoid a dependency cycle
type Rollbacker interface {
	Rollback(ctx context.Context, deploymentID, reason string) error
}

// ApprovalFunc gates approval-required stages
type ApprovalFunc func(stage string) bool

// Request describes one hotfix rollout
type Request struct {
	Patch        *types.Patch
	Repository   string
	Strategy     types.DeployStrategy
	AutoRollback bool
}

// Manager drives multi-stage rollouts with health and metric gating
type Manager struct {
	fleet      Fleet
	sampler    Sampler
	config     Config
	approval   ApprovalFunc
	rollbacker Rollbacker
	broker     *events.Broker

	mu      sync.Mutex
	history []*types.Deployment
}

// NewManager creates a deploy manager
func NewManager(fleet Fleet, sampler Sampler, config Config) *Manager {
	return &Manager{
		fleet:   fleet,
		sampler: sampler,
		config:  config,
	}
}

// WithApproval installs the stage approval hook
func (m *Manager) WithApproval(fn ApprovalFunc) *Manager {
	m.approval = fn
	return m
}

// WithRollbacker installs the rollback engine
func (m *Manager) WithRollbacker(r Rollbacker) *Manager {
	m.rollbacker = r
	return m
}

// WithBroker installs the event broker
func (m *Manager) WithBroker(b *events.Broker) *Manager {
	m.broker = b
	return m
}

// publish emits an advisory deployment event when a broker is installed
func (m *Manager) publish(t events.EventType, d *types.Deployment, message string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		ID:       uuid.New().String(),
		Type:     t,
		Message:  message,
		Metadata: map[string]string{"deployment_id": d.ID},
	})
}

// DeployHotfix runs the requested strategy. On stage failure the
// deployment terminates as failed, or rolled_back when AutoRollback is
// set and the rollback engine succeeds.
func (m *Manager) DeployHotfix(ctx context.Context, req Request) (*types.Deployment, error) {
	if req.Patch == nil {
		return nil, fmt.Errorf("patch is required")
	}
	if req.Repository == "" {
		return nil, fmt.Errorf("repository is required")
	}

	d := &types.Deployment{
		ID:         uuid.New().String(),
		PatchID:    req.Patch.ID,
		Repository: req.Repository,
		Strategy:   req.Strategy,
		StartedAt:  time.Now(),
	}
	m.record(d)

	logger := log.WithDeploymentID(d.ID)
	logger.Info().
		Str("strategy", string(req.Strategy)).
		Str("patch", req.Patch.ID).
		Msg("deployment started")

	var err error
	switch req.Strategy {
	case types.DeployStrategyCanary:
		err = m.runCanary(ctx, d, req)
	case types.DeployStrategyBlueGreen:
		err = m.runBlueGreen(ctx, d, req)
	case types.DeployStrategyDirect:
		err = m.runDirect(ctx, d, req)
	default:
		err = fmt.Errorf("unknown strategy: %s", req.Strategy)
	}

	d.CompletedAt = time.Now()

	if err != nil {
		d.Status = types.DeploymentFailed
		d.Error = err.Error()

		if req.AutoRollback && m.rollbacker != nil {
			logger.Warn().Err(err).Msg("deployment failed, starting rollback")
			if rbErr := m.rollbacker.Rollback(ctx, d.ID, err.Error()); rbErr != nil {
				logger.Error().Err(rbErr).Msg("rollback failed")
			} else {
				d.Status = types.DeploymentRolledBack
			}
		}

		metrics.DeploymentsTotal.WithLabelValues(string(req.Strategy), string(d.Status)).Inc()
		m.publish(events.EventDeployCompleted, d, fmt.Sprintf("deployment %s %s: %s", d.ID, d.Status, err))
		return d, err
	}

	d.Status = types.DeploymentCompleted
	metrics.DeploymentsTotal.WithLabelValues(string(req.Strategy), string(d.Status)).Inc()
	m.publish(events.EventDeployCompleted, d, fmt.Sprintf("deployment %s completed", d.ID))
	logger.Info().Msg("deployment completed")
	return d, nil
}

// runCanary walks the configured stages strictly in order
func (m *Manager) runCanary(ctx context.Context, d *types.Deployment, req Request) error {
	for _, cfg := range m.config.Canary {
		if err := m.runStage(ctx, d, req, cfg); err != nil {
			return err
		}
	}
	return nil
}

// runBlueGreen deploys to green, gates it, then shifts traffic in
// ascending steps. Any breach reverts traffic entirely to blue.
func (m *Manager) runBlueGreen(ctx context.Context, d *types.Deployment, req Request) error {
	gate := m.config.BlueGreenGate
	gate.Targets = m.config.GreenTargets
	if err := m.runStage(ctx, d, req, gate); err != nil {
		return err
	}

	for _, pct := range m.config.TrafficSteps {
		stage := m.startStage(d, fmt.Sprintf("traffic-%d", pct), pct)

		if err := m.shiftTraffic(ctx, "green", pct); err != nil {
			m.failStage(d, stage, err)
			m.revertTraffic(ctx)
			return err
		}

		if err := m.monitorStage(ctx, stage, gate); err != nil {
			m.failStage(d, stage, err)
			m.revertTraffic(ctx)
			return err
		}

		m.completeStage(stage)
	}

	// Green carries all traffic; retire blue
	if gate.RestartCommand != "" {
		_, _ = m.fleet.Execute(ctx, executor.Request{
			Target:  m.config.BlueTargets,
			Command: fmt.Sprintf("systemctl stop %s", gate.Service),
		})
	}
	return nil
}

// runDirect deploys and health-checks once
func (m *Manager) runDirect(ctx context.Context, d *types.Deployment, req Request) error {
	cfg := m.config.Direct
	stage := m.startStage(d, cfg.Name, cfg.Percentage)

	if err := m.deployToStage(ctx, req, cfg); err != nil {
		m.failStage(d, stage, err)
		return err
	}
	if err := m.healthGate(ctx, cfg); err != nil {
		m.failStage(d, stage, err)
		return err
	}

	m.completeStage(stage)
	return nil
}

// runStage executes the full stage lifecycle: deploy, health gate,
// metric monitor, threshold validation, approval, wait.
func (m *Manager) runStage(ctx context.Context, d *types.Deployment, req Request, cfg StageConfig) error {
	stage := m.startStage(d, cfg.Name, cfg.Percentage)
	logger := log.WithDeploymentID(d.ID)
	logger.Info().Str("stage", cfg.Name).Msg("stage started")

	if err := m.deployToStage(ctx, req, cfg); err != nil {
		m.failStage(d, stage, err)
		return err
	}

	if err := m.healthGate(ctx, cfg); err != nil {
		m.failStage(d, stage, err)
		return err
	}

	if err := m.monitorStageInto(ctx, stage, cfg); err != nil {
		m.failStage(d, stage, err)
		return err
	}

	if cfg.RequireApproval {
		if m.approval == nil || !m.approval(cfg.Name) {
			err := fmt.Errorf("stage %s approval denied", cfg.Name)
			m.failStage(d, stage, err)
			return err
		}
	}

	if cfg.WaitTime > 0 {
		select {
		case <-time.After(cfg.WaitTime):
		case <-ctx.Done():
			err := ctx.Err()
			m.failStage(d, stage, err)
			return err
		}
	}

	m.completeStage(stage)
	logger.Info().Str("stage", cfg.Name).Msg("stage succeeded")
	return nil
}

// deployToStage backs up the repository on every target, then runs the
// deploy command and the optional service restart
func (m *Manager) deployToStage(ctx context.Context, req Request, cfg StageConfig) error {
	// One timestamp for both halves so they name the same directory
	ts := time.Now().Unix()
	backup := fmt.Sprintf("mkdir -p %s-%d && cp -r %s %s-%d/",
		m.config.BackupDir, ts, req.Repository, m.config.BackupDir, ts)
	if batch, err := m.fleet.Execute(ctx, executor.Request{Target: cfg.Targets, Command: backup, Options: executor.Options{Parallel: true}}); err != nil {
		return fmt.Errorf("backup failed: %w", err)
	} else if !batch.OverallSuccess {
		return fmt.Errorf("backup failed on %d/%d targets", batch.Summary.Failed, batch.Summary.Total)
	}

	deployCmd := strings.ReplaceAll(m.config.DeployCommand, "{repo}", req.Repository)
	batch, err := m.fleet.Execute(ctx, executor.Request{Target: cfg.Targets, Command: deployCmd, Options: executor.Options{Parallel: true}})
	if err != nil {
		return fmt.Errorf("deploy failed: %w", err)
	}
	if !batch.OverallSuccess {
		return fmt.Errorf("deploy failed on %d/%d targets", batch.Summary.Failed, batch.Summary.Total)
	}

	if cfg.RestartCommand != "" {
		batch, err := m.fleet.Execute(ctx, executor.Request{Target: cfg.Targets, Command: cfg.RestartCommand, Options: executor.Options{Parallel: true}})
		if err != nil {
			return fmt.Errorf("restart failed: %w", err)
		}
		if !batch.OverallSuccess {
			return fmt.Errorf("restart failed on %d/%d targets", batch.Summary.Failed, batch.Summary.Total)
		}
	}
	return nil
}

// fleetChecker probes a stage by running its health command on every
// target; the stage is healthy only when all targets exit zero
type fleetChecker struct {
	fleet   Fleet
	targets []string
	command string
}

func (c *fleetChecker) Type() health.CheckType { return health.CheckTypeExec }

func (c *fleetChecker) Check(ctx context.Context) health.Result {
	start := time.Now()
	result := health.Result{CheckedAt: start}

	batch, err := c.fleet.Execute(ctx, executor.Request{Target: c.targets, Command: c.command, Options: executor.Options{Parallel: true}})
	result.Duration = time.Since(start)

	switch {
	case err != nil:
		result.Message = err.Error()
	case !batch.OverallSuccess:
		result.Message = fmt.Sprintf("health check failed on %d/%d targets", batch.Summary.Failed, batch.Summary.Total)
	default:
		result.Healthy = true
	}
	return result
}

// healthGate runs the stage probe with retries; every target must
// report exit-zero
func (m *Manager) healthGate(ctx context.Context, cfg StageConfig) error {
	if cfg.HealthCommand == "" {
		return nil
	}

	checker := &fleetChecker{fleet: m.fleet, targets: cfg.Targets, command: cfg.HealthCommand}
	result := health.CheckWithRetries(ctx, checker, health.Config{
		Retries: cfg.HealthRetries,
		Backoff: cfg.HealthBackoff,
	})
	if !result.Healthy {
		return fmt.Errorf("stage %s health gate: %s", cfg.Name, result.Message)
	}
	return nil
}

// monitorStageInto samples metrics over the monitor window, stores the
// averages on the stage and validates them against the thresholds
func (m *Manager) monitorStageInto(ctx context.Context, stage *types.StageResult, cfg StageConfig) error {
	if m.sampler == nil || cfg.MonitorDuration <= 0 {
		return nil
	}

	interval := cfg.SampleInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	var sum types.StageMetrics
	samples := 0
	deadline := time.Now().Add(cfg.MonitorDuration)

	for {
		sample, err := m.sampler.Sample(ctx, stage.Name)
		if err == nil && sample != nil {
			sum.ErrorRate += sample.ErrorRate
			sum.ResponseTime += sample.ResponseTime
			sum.CPU += sample.CPU
			sum.Memory += sample.Memory
			samples++
		}

		if !time.Now().Add(interval).Before(deadline) {
			break
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if samples == 0 {
		return fmt.Errorf("stage %s monitor collected no samples", stage.Name)
	}

	avg := &types.StageMetrics{
		ErrorRate:    sum.ErrorRate / float64(samples),
		ResponseTime: sum.ResponseTime / float64(samples),
		CPU:          sum.CPU / float64(samples),
		Memory:       sum.Memory / float64(samples),
	}
	stage.Metrics = avg

	return validateThresholds(stage.Name, avg, cfg.Thresholds)
}

// monitorStage is the blue-green variant using the gate stage's config
func (m *Manager) monitorStage(ctx context.Context, stage *types.StageResult, gate StageConfig) error {
	return m.monitorStageInto(ctx, stage, gate)
}

// validateThresholds fails on the first breached threshold
func validateThresholds(stage string, avg *types.StageMetrics, t StageThresholds) error {
	switch {
	case t.MaxErrorRate > 0 && avg.ErrorRate > t.MaxErrorRate:
		return fmt.Errorf("stage %s metric validation breach: errorRate %.2f exceeds %.2f", stage, avg.ErrorRate, t.MaxErrorRate)
	case t.MaxResponseTime > 0 && avg.ResponseTime > t.MaxResponseTime:
		return fmt.Errorf("stage %s metric validation breach: responseTime %.0fms exceeds %.0fms", stage, avg.ResponseTime, t.MaxResponseTime)
	case t.MaxCPU > 0 && avg.CPU > t.MaxCPU:
		return fmt.Errorf("stage %s metric validation breach: cpu %.1f%% exceeds %.1f%%", stage, avg.CPU, t.MaxCPU)
	case t.MaxMemory > 0 && avg.Memory > t.MaxMemory:
		return fmt.Errorf("stage %s metric validation breach: memory %.1f%% exceeds %.1f%%", stage, avg.Memory, t.MaxMemory)
	}
	return nil
}

func (m *Manager) shiftTraffic(ctx context.Context, env string, pct int) error {
	cmd := strings.ReplaceAll(m.config.TrafficShift, "{env}", env)
	cmd = strings.ReplaceAll(cmd, "{pct}", fmt.Sprintf("%d", pct))

	batch, err := m.fleet.Execute(ctx, executor.Request{Target: m.config.BlueTargets, Command: cmd})
	if err != nil {
		return fmt.Errorf("traffic shift failed: %w", err)
	}
	if !batch.OverallSuccess {
		return fmt.Errorf("traffic shift to %s %d%% failed", env, pct)
	}
	return nil
}

// revertTraffic returns all traffic to blue; best-effort during failure
// handling
func (m *Manager) revertTraffic(ctx context.Context) {
	if err := m.shiftTraffic(ctx, "blue", 100); err != nil {
		logger := log.WithComponent("deploy")
		logger.Error().Err(err).Msg("traffic revert to blue failed")
	}
}

func (m *Manager) startStage(d *types.Deployment, name string, pct int) *types.StageResult {
	stage := &types.StageResult{
		Name:       name,
		Percentage: pct,
		Status:     types.StageInProgress,
		StartedAt:  time.Now(),
	}
	m.mu.Lock()
	d.Stages = append(d.Stages, stage)
	m.mu.Unlock()
	m.publish(events.EventDeployStage, d, fmt.Sprintf("stage %s started", name))
	return stage
}

func (m *Manager) completeStage(stage *types.StageResult) {
	stage.Status = types.StageSuccess
	stage.CompletedAt = time.Now()
}

func (m *Manager) failStage(d *types.Deployment, stage *types.StageResult, err error) {
	stage.Status = types.StageFailed
	stage.Error = err.Error()
	stage.CompletedAt = time.Now()
	m.publish(events.EventDeployStage, d, fmt.Sprintf("stage %s failed: %s", stage.Name, err))
	logger := log.WithDeploymentID(d.ID)
	logger.Error().Err(err).Str("stage", stage.Name).Msg("stage failed")
}

func (m *Manager) record(d *types.Deployment) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, d)
	if len(m.history) > historyCapacity {
		m.history = m.history[len(m.history)-historyCapacity:]
	}
}

// Get returns the deployment with the given ID
func (m *Manager) Get(id string) (*types.Deployment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.history {
		if d.ID == id {
			return d, true
		}
	}
	return nil, false
}

// Recent returns the latest deployments, newest last
func (m *Manager) Recent() []*types.Deployment {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.history)
	if n > recentCapacity {
		n = recentCapacity
	}
	out := make([]*types.Deployment, n)
	copy(out, m.history[len(m.history)-n:])
	return out
}

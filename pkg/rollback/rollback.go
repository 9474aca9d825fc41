package rollback

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

const historyCapacity = 1000

// Fleet abstracts remote execution; implemented by the executor package
type Fleet interface {
	Execute(ctx context.Context, req executor.Request) (*types.BatchResult, error)
}

// DeploymentSource resolves deployment records by ID; implemented by the
// deploy manager
type DeploymentSource interface {
	Get(id string) (*types.Deployment, bool)
}

// ApprovalFunc gates critical operations. A nil func denies.
type ApprovalFunc func(operation string) bool

// Options modify one rollback
type Options struct {
	// Partial reverts only failed and in-progress stages; the default
	// reverts every stage that succeeded
	Partial bool

	// DryRun previews the restore commands without executing them
	DryRun bool
}

// Snapshot captures a target's state before restoring it
type Snapshot struct {
	Host    string
	CPU     string
	Memory  string
	Disk    string
	Process string
	TakenAt time.Time
}

// Record is the immutable outcome of one rollback
type Record struct {
	ID           string
	DeploymentID string
	Reason       string
	Stages       []string
	Snapshots    map[string]*Snapshot
	Success      bool
	Error        string
	StartedAt    time.Time
	CompletedAt  time.Time
}

// Config holds restore behavior shared by every rollback
type Config struct {
	// Repository is the deployed path restored from backups
	Repository string

	// BackupDir is the backup directory prefix on targets
	BackupDir string

	// RestartCommand restarts the service after restoring files
	RestartCommand string

	// HealthCommand verifies targets after the restart
	HealthCommand string
	HealthRetries int
	HealthBackoff time.Duration

	// Platform selects the snapshot command table (linux by default)
	Platform string

	// StageTargets maps stage names to execution targets. Unmapped
	// stages execute against their own name, which the executor may
	// expand as a group.
	StageTargets map[string][]string
}

// DefaultConfig returns the standard restore behavior
func DefaultConfig() Config {
	return Config{
		BackupDir:      "/tmp/backup",
		RestartCommand: "systemctl restart app",
		HealthCommand:  "curl -sf http://localhost:8080/health",
		HealthRetries:  3,
		HealthBackoff:  5 * time.Second,
		Platform:       "linux",
	}
}

// Engine restores deployments from on-target backups
type Engine struct {
	fleet       Fleet
	deployments DeploymentSource
	config      Config
	approval    ApprovalFunc
	broker      *events.Broker

	mu      sync.Mutex
	history []*Record
}

// NewEngine creates a rollback engine
func NewEngine(fleet Fleet, deployments DeploymentSource, config Config) *Engine {
	if config.Platform == "" {
		config.Platform = "linux"
	}
	return &Engine{
		fleet:       fleet,
		deployments: deployments,
		config:      config,
	}
}

// WithApproval installs the critical-operation approval hook
func (e *Engine) WithApproval(fn ApprovalFunc) *Engine {
	e.approval = fn
	return e
}

// WithBroker installs the event broker
func (e *Engine) WithBroker(b *events.Broker) *Engine {
	e.broker = b
	return e
}

// Rollback reverts a deployment with default options. Satisfies the
// deploy manager's auto-rollback hook.
func (e *Engine) Rollback(ctx context.Context, deploymentID, reason string) error {
	_, err := e.Execute(ctx, deploymentID, reason, Options{})
	return err
}

// Execute reverts the selected stages of a deployment in reverse order.
// Each target is snapshotted first, then restored from its most recent
// backup, restarted and health-checked. A target that restores but stays
// unhealthy is unrecoverable and reported as such.
func (e *Engine) Execute(ctx context.Context, deploymentID, reason string, opts Options) (*Record, error) {
	d, ok := e.deployments.Get(deploymentID)
	if !ok {
		return nil, fmt.Errorf("deployment %s not found", deploymentID)
	}

	rec := &Record{
		ID:           uuid.New().String(),
		DeploymentID: deploymentID,
		Reason:       reason,
		Snapshots:    make(map[string]*Snapshot),
		StartedAt:    time.Now(),
	}
	e.record(rec)

	logger := log.WithDeploymentID(deploymentID)
	logger.Info().Str("reason", reason).Bool("partial", opts.Partial).Msg("rollback started")
	metrics.RollbacksTotal.Inc()
	if e.broker != nil {
		e.broker.Publish(&events.Event{
			ID:      uuid.New().String(),
			Type:    events.EventRollbackStarted,
			Message: fmt.Sprintf("rolling back deployment %s: %s", deploymentID, reason),
		})
	}

	stages := selectStages(d, opts.Partial)
	if len(stages) == 0 {
		rec.Success = true
		rec.CompletedAt = time.Now()
		logger.Info().Msg("no stages to roll back")
		return rec, nil
	}

	// Newest stage first
	for i := len(stages) - 1; i >= 0; i-- {
		stage := stages[i]
		rec.Stages = append(rec.Stages, stage.Name)

		targets := e.targetsFor(stage.Name)
		if err := e.snapshotTargets(ctx, rec, targets); err != nil {
			logger.Warn().Err(err).Str("stage", stage.Name).Msg("state snapshot incomplete")
		}

		if err := e.restoreStage(ctx, stage.Name, targets, opts.DryRun); err != nil {
			rec.Success = false
			rec.Error = err.Error()
			rec.CompletedAt = time.Now()
			logger.Error().Err(err).Str("stage", stage.Name).Msg("rollback failed")
			return rec, err
		}
	}

	rec.Success = true
	rec.CompletedAt = time.Now()
	logger.Info().Strs("stages", rec.Stages).Msg("rollback completed")
	return rec, nil
}

// selectStages picks the stages to revert. Partial mode reverts the
// stages that did not finish cleanly; full mode reverts the ones that did.
func selectStages(d *types.Deployment, partial bool) []*types.StageResult {
	var out []*types.StageResult
	for _, s := range d.Stages {
		if partial {
			if s.Status == types.StageFailed || s.Status == types.StageInProgress {
				out = append(out, s)
			}
		} else if s.Status == types.StageSuccess {
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) targetsFor(stage string) []string {
	if targets, ok := e.config.StageTargets[stage]; ok {
		return targets
	}
	return []string{stage}
}

// snapshotTargets records system state on each target before touching it
func (e *Engine) snapshotTargets(ctx context.Context, rec *Record, targets []string) error {
	cmds, err := types.CommandsForPlatform(e.config.Platform)
	if err != nil {
		return err
	}

	capture := func(command string) map[string]string {
		out := make(map[string]string)
		batch, err := e.fleet.Execute(ctx, executor.Request{Target: targets, Command: command, Options: executor.Options{Parallel: true}})
		if err != nil {
			return out
		}
		for _, r := range batch.Results {
			out[r.Host] = r.Stdout
		}
		return out
	}

	cpu := capture(cmds.CPU)
	mem := capture(cmds.Memory)
	disk := capture(cmds.Disk)
	proc := capture(cmds.Process)

	now := time.Now()
	for host := range cpu {
		rec.Snapshots[host] = &Snapshot{
			Host:    host,
			CPU:     cpu[host],
			Memory:  mem[host],
			Disk:    disk[host],
			Process: proc[host],
			TakenAt: now,
		}
	}
	return nil
}

// restoreStage restores files from the newest backup, restarts the
// service and verifies health
func (e *Engine) restoreStage(ctx context.Context, stage string, targets []string, dryRun bool) error {
	restore := fmt.Sprintf("LATEST=$(ls -td %s-* | head -1) && cp -r \"$LATEST\"/* %s/",
		e.config.BackupDir, e.config.Repository)

	run := func(command string) error {
		batch, err := e.fleet.Execute(ctx, executor.Request{
			Target:  targets,
			Command: command,
			Options: executor.Options{Parallel: true, DryRun: dryRun},
		})
		if err != nil {
			return err
		}
		if !batch.OverallSuccess {
			return fmt.Errorf("command failed on %d/%d targets", batch.Summary.Failed, batch.Summary.Total)
		}
		return nil
	}

	if err := run(restore); err != nil {
		return fmt.Errorf("stage %s restore: %w", stage, err)
	}
	if e.config.RestartCommand != "" {
		if err := run(e.config.RestartCommand); err != nil {
			return fmt.Errorf("stage %s restart: %w", stage, err)
		}
	}
	if dryRun || e.config.HealthCommand == "" {
		return nil
	}

	if err := e.verifyHealth(ctx, targets); err != nil {
		// Files are back but the service is not serving. Nothing left
		// to restore from; an operator has to step in.
		return fmt.Errorf("stage %s rolled back but unhealthy: %w", stage, err)
	}
	return nil
}

// fleetChecker probes restored targets with the configured health
// command; healthy only when every target exits zero
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

func (e *Engine) verifyHealth(ctx context.Context, targets []string) error {
	checker := &fleetChecker{fleet: e.fleet, targets: targets, command: e.config.HealthCommand}
	result := health.CheckWithRetries(ctx, checker, health.Config{
		Retries: e.config.HealthRetries,
		Backoff: e.config.HealthBackoff,
	})
	if !result.Healthy {
		return fmt.Errorf("%s", result.Message)
	}
	return nil
}

// criticalOperations require explicit approval and run dry by default
var criticalOperations = map[string]bool{
	"db_rollback":     true,
	"schema_rollback": true,
}

// ExecuteCritical runs a named critical operation. The operation must be
// registered, the approval hook must accept it, and unless confirm is
// set the command only previews as a dry run.
func (e *Engine) ExecuteCritical(ctx context.Context, operation, command string, targets []string, confirm bool) (*types.BatchResult, error) {
	if !criticalOperations[strings.ToLower(operation)] {
		return nil, fmt.Errorf("unknown critical operation: %s", operation)
	}
	if e.approval == nil || !e.approval(operation) {
		return nil, fmt.Errorf("approval denied for critical operation: %s", operation)
	}

	return e.fleet.Execute(ctx, executor.Request{
		Target:  targets,
		Command: command,
		Options: executor.Options{Parallel: true, DryRun: !confirm},
	})
}

func (e *Engine) record(rec *Record) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.history = append(e.history, rec)
	if len(e.history) > historyCapacity {
		e.history = e.history[len(e.history)-historyCapacity:]
	}
}

// History returns all retained rollback records, oldest first
func (e *Engine) History() []*Record {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*Record, len(e.history))
	copy(out, e.history)
	return out
}

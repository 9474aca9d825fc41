package autoheal

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/warden/pkg/config"
	"github.com/cuemby/warden/pkg/events"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/metrics"
	"github.com/cuemby/warden/pkg/types"
)

const (
	defaultActionTimeout = 60 * time.Second
	historyCapacity      = 1000
)

// ActionRunner executes one sanitized command. The default runs locally;
// a fleet-backed runner routes through the remote executor.
type ActionRunner interface {
	Run(ctx context.Context, command string) (stdout, stderr string, err error)
}

// ReportWriter renders and persists incident reports
type ReportWriter interface {
	WriteIncidentReport(incident *types.Incident) (string, error)
}

// Healer selects and executes remediation playbooks
type Healer struct {
	playbooks config.Playbooks
	runner    ActionRunner
	reports   ReportWriter
	broker    *events.Broker

	incidentSeq atomic.Int64

	mu      sync.Mutex
	history []*types.Incident
}

// New creates a healer. The incident sequence is seeded from wall-clock
// milliseconds so restarts do not reuse recent IDs.
func New(playbooks config.Playbooks, runner ActionRunner, reports ReportWriter) *Healer {
	h := &Healer{
		playbooks: playbooks,
		runner:    runner,
		reports:   reports,
	}
	if h.runner == nil {
		h.runner = &LocalRunner{Timeout: defaultActionTimeout}
	}
	h.incidentSeq.Store(time.Now().UnixMilli())
	return h
}

// WithBroker installs the event broker
func (h *Healer) WithBroker(b *events.Broker) *Healer {
	h.broker = b
	return h
}

// publish emits an advisory heal event when a broker is installed
func (h *Healer) publish(t events.EventType, incidentID, message string, metadata map[string]string) {
	if h.broker == nil {
		return
	}
	h.broker.Publish(&events.Event{ID: incidentID, Type: t, Message: message, Metadata: metadata})
}

// Heal runs the playbook for scenario against the given context. All
// validation failures are reported in the result, never returned as errors.
func (h *Healer) Heal(ctx context.Context, scenario string, healContext map[string]interface{}) *types.HealResult {
	start := time.Now()
	logger := log.WithComponent("autoheal")

	result := &types.HealResult{
		Scenario:  scenario,
		Timestamp: start,
	}

	fail := func(reason string) *types.HealResult {
		result.Reason = reason
		result.DurationMs = time.Since(start).Milliseconds()
		metrics.HealsTotal.WithLabelValues(scenario, "rejected").Inc()
		logger.Warn().Str("scenario", scenario).Str("reason", reason).Msg("heal rejected")
		return result
	}

	if err := validateScenario(scenario); err != nil {
		return fail(err.Error())
	}

	validated, err := validateContext(healContext)
	if err != nil {
		return fail(err.Error())
	}

	playbook := h.selectPlaybook(scenario, validated)
	if playbook == nil {
		return fail("No applicable playbook found")
	}
	result.Playbook = playbook.Name

	result.IncidentID = fmt.Sprintf("heal-%d", h.incidentSeq.Add(1))
	h.publish(events.EventHealStarted, result.IncidentID,
		fmt.Sprintf("healing %s with playbook %s", scenario, playbook.Name),
		map[string]string{"scenario": scenario, "playbook": playbook.Name})
	logger.Info().
		Str("scenario", scenario).
		Str("playbook", playbook.Name).
		Str("incident_id", result.IncidentID).
		Msg("heal started")

	// Actions run strictly in order; the first failure stops the playbook
	allSucceeded := true
	for _, template := range playbook.Actions {
		action := h.runAction(ctx, template, validated)
		result.Actions = append(result.Actions, action)
		if !action.Success {
			allSucceeded = false
			break
		}
	}

	result.Success = allSucceeded
	result.DurationMs = time.Since(start).Milliseconds()

	incident := &types.Incident{
		ID:         result.IncidentID,
		Scenario:   scenario,
		Playbook:   playbook.Name,
		Context:    validated,
		Actions:    result.Actions,
		Success:    result.Success,
		DurationMs: result.DurationMs,
		Timestamp:  start,
	}

	if h.reports != nil {
		path, err := h.reports.WriteIncidentReport(incident)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to write incident report")
		} else {
			incident.ReportPath = path
			result.ReportPath = path
		}
	}

	h.recordIncident(incident)

	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	metrics.HealsTotal.WithLabelValues(scenario, outcome).Inc()
	metrics.HealDuration.Observe(time.Since(start).Seconds())
	h.publish(events.EventHealCompleted, result.IncidentID,
		fmt.Sprintf("heal %s %s", result.IncidentID, outcome),
		map[string]string{"scenario": scenario, "outcome": outcome})

	logger.Info().
		Str("incident_id", result.IncidentID).
		Bool("success", result.Success).
		Int("actions", len(result.Actions)).
		Msg("heal completed")
	return result
}

// selectPlaybook finds the playbook for a scenario: direct name match
// first, then the first playbook (in declaration order) whose condition
// holds against the context.
func (h *Healer) selectPlaybook(scenario string, context map[string]interface{}) *types.Playbook {
	if spec, ok := h.playbooks.Specs[scenario]; ok {
		return &types.Playbook{Name: scenario, Condition: spec.Condition, Actions: spec.Actions}
	}

	for _, name := range h.playbooks.Order {
		spec := h.playbooks.Specs[name]
		if spec.Condition == "" {
			continue
		}
		if evalCondition(spec.Condition, context) {
			return &types.Playbook{Name: name, Condition: spec.Condition, Actions: spec.Actions}
		}
	}
	return nil
}

// runAction substitutes variables, sanitizes and executes one action
func (h *Healer) runAction(ctx context.Context, template string, context map[string]interface{}) *types.ActionResult {
	start := time.Now()
	command := substituteVars(template, context)

	action := &types.ActionResult{Command: command}

	if err := sanitizeCommand(command); err != nil {
		action.Error = err.Error()
		action.DurationMs = time.Since(start).Milliseconds()
		return action
	}

	stdout, stderr, err := h.runner.Run(ctx, command)
	action.Stdout = stdout
	action.Stderr = stderr
	action.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		action.Error = err.Error()
		return action
	}

	action.Success = true
	return action
}

func (h *Healer) recordIncident(incident *types.Incident) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.history = append(h.history, incident)
	if len(h.history) > historyCapacity {
		h.history = h.history[len(h.history)-historyCapacity:]
	}
}

// History returns a copy of the retained incident records
func (h *Healer) History() []*types.Incident {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*types.Incident, len(h.history))
	copy(out, h.history)
	return out
}

// LocalRunner executes actions on the local host
type LocalRunner struct {
	Timeout time.Duration
}

// Run executes the command via sh -c with a timeout
func (r *LocalRunner) Run(ctx context.Context, command string) (string, string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

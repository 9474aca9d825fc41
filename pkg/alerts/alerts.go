package alerts

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/warden/pkg/events"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/metrics"
	"github.com/cuemby/warden/pkg/types"
	"github.com/google/uuid"
)

// DefaultDedupWindow suppresses duplicate alerts for 5 minutes
const DefaultDedupWindow = 5 * time.Minute

// Metric substrings that make an alert auto-heal eligible. CPU and API
// latency alerts never trigger healing.
var autoHealMetrics = []string{"disk_usage", "memory_usage", "process_down"}

// MetricsSource produces fleet snapshots for Run
type MetricsSource interface {
	Collect(ctx context.Context) (*types.MetricsSnapshot, error)
}

// Ticketer files incidents for alerts. Implementations own their dedup
// cache; the pipeline treats every call as best-effort.
type Ticketer interface {
	CreateIncidentFromAlert(ctx context.Context, alert *types.Alert) (string, error)
}

// Notifier delivers critical-alert notifications
type Notifier interface {
	Notify(ctx context.Context, alert *types.Alert) error
}

// HealTrigger spawns a heal for an eligible alert. The pipeline does not
// await the result.
type HealTrigger func(alert *types.Alert)

// HandleOptions modify one Handle invocation
type HandleOptions struct {
	// CreateTicket defaults to true; set false to skip ticketing
	CreateTicket *bool
}

// HandleResult reports the side effects dispatched for one alert
type HandleResult struct {
	Alert             *types.Alert
	Actions           []string
	AutoHealRequested bool
	TicketKey         string
}

// RunSummary is the one-shot composition result used by the orchestrator
type RunSummary struct {
	AlertsProcessed int
	Results         []*HandleResult
}

// Pipeline evaluates thresholds, deduplicates alerts and dispatches side
// effects
type Pipeline struct {
	thresholds  types.AlertThresholds
	dedupWindow time.Duration
	source      MetricsSource
	ticketer    Ticketer
	notifier    Notifier
	healTrigger HealTrigger
	broker      *events.Broker

	mu    sync.Mutex
	dedup map[string]time.Time // "metric-level" -> last emission
}

// Options configures a Pipeline
type Options struct {
	Thresholds  types.AlertThresholds
	DedupWindow time.Duration
	Source      MetricsSource
	Ticketer    Ticketer
	Notifier    Notifier
	HealTrigger HealTrigger
	Broker      *events.Broker
}

// New creates an alert pipeline
func New(opts Options) *Pipeline {
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = DefaultDedupWindow
	}
	return &Pipeline{
		thresholds:  opts.Thresholds,
		dedupWindow: opts.DedupWindow,
		source:      opts.Source,
		ticketer:    opts.Ticketer,
		notifier:    opts.Notifier,
		healTrigger: opts.HealTrigger,
		broker:      opts.Broker,
		dedup:       make(map[string]time.Time),
	}
}

// publish emits an advisory pipeline event when a broker is installed
func (p *Pipeline) publish(t events.EventType, id, message string, metadata map[string]string) {
	if p.broker == nil {
		return
	}
	p.broker.Publish(&events.Event{ID: id, Type: t, Message: message, Metadata: metadata})
}

// Process evaluates one snapshot against the thresholds. Evaluation order
// is fixed (cpu, memory, disk per mount, healthchecks) so dedup keys are
// stable across runs.
func (p *Pipeline) Process(snapshot *types.MetricsSnapshot, thresholds types.AlertThresholds) []*types.Alert {
	if thresholds == nil {
		thresholds = p.thresholds
	}

	var alerts []*types.Alert

	if t, ok := thresholds["cpu_usage"]; ok {
		if a := p.evaluate("cpu_usage", snapshot.System.CPU, t); a != nil {
			alerts = append(alerts, a)
		}
	}

	if t, ok := thresholds["memory_usage"]; ok {
		if a := p.evaluate("memory_usage", snapshot.System.Memory.Percentage, t); a != nil {
			alerts = append(alerts, a)
		}
	}

	if t, ok := thresholds["disk_usage"]; ok {
		for _, disk := range snapshot.System.Disk {
			metric := fmt.Sprintf("disk_usage_%s", disk.Mount)
			if a := p.evaluate(metric, disk.Percentage, t); a != nil {
				alerts = append(alerts, a)
			}
		}
	}

	latency, hasLatency := thresholds["api_latency_ms"]
	for _, hc := range snapshot.HealthChecks {
		if hc.Status == types.HealthStatusUnhealthy {
			if a := p.emit("healthcheck_failed", 0, 0, types.AlertLevelCritical,
				fmt.Sprintf("Health check %s failed: %s", hc.Name, hc.Error),
				map[string]string{"check": hc.Name, "url": hc.URL}); a != nil {
				alerts = append(alerts, a)
			}
			continue
		}
		if hasLatency && hc.LatencyMs > latency.Critical {
			if a := p.emit("api_latency", hc.LatencyMs, latency.Critical, types.AlertLevelHigh,
				fmt.Sprintf("Health check %s latency %.0fms exceeds %.0fms", hc.Name, hc.LatencyMs, latency.Critical),
				map[string]string{"check": hc.Name}); a != nil {
				alerts = append(alerts, a)
			}
		}
	}

	return alerts
}

// evaluate classifies a value against a threshold pair. Boundaries are
// inclusive on the low side: value >= critical is critical, value >=
// warning is high.
func (p *Pipeline) evaluate(metric string, value float64, t types.Threshold) *types.Alert {
	switch {
	case value >= t.Critical:
		return p.emit(metric, value, t.Critical, types.AlertLevelCritical,
			fmt.Sprintf("%s at %.1f (critical threshold %.1f)", metric, value, t.Critical), nil)
	case value >= t.Warning:
		return p.emit(metric, value, t.Warning, types.AlertLevelHigh,
			fmt.Sprintf("%s at %.1f (warning threshold %.1f)", metric, value, t.Warning), nil)
	}
	return nil
}

// emit applies the dedup window and constructs the alert
func (p *Pipeline) emit(metric string, value, threshold float64, level types.AlertLevel, message string, metadata map[string]string) *types.Alert {
	key := metric + "-" + string(level)
	now := time.Now()

	p.mu.Lock()
	if last, ok := p.dedup[key]; ok && now.Sub(last) < p.dedupWindow {
		p.mu.Unlock()
		metrics.AlertsSuppressedTotal.Inc()
		p.publish(events.EventAlertSuppressed, uuid.New().String(),
			fmt.Sprintf("%s suppressed inside dedup window", key),
			map[string]string{"metric": metric, "level": string(level)})
		return nil
	}
	p.dedup[key] = now
	// Opportunistic purge of expired entries
	for k, last := range p.dedup {
		if now.Sub(last) >= p.dedupWindow {
			delete(p.dedup, k)
		}
	}
	p.mu.Unlock()

	alert := &types.Alert{
		ID:             uuid.New().String(),
		Timestamp:      now,
		Metric:         metric,
		Value:          value,
		Threshold:      threshold,
		Level:          level,
		Message:        message,
		Metadata:       metadata,
		ShouldAutoHeal: shouldAutoHeal(metric, level),
	}

	metrics.AlertsEmittedTotal.WithLabelValues(metric, string(level)).Inc()
	p.publish(events.EventAlertRaised, alert.ID, message,
		map[string]string{"metric": metric, "level": string(level)})
	return alert
}

// shouldAutoHeal gates healing to critical/high alerts on metrics the
// playbooks can actually remediate
func shouldAutoHeal(metric string, level types.AlertLevel) bool {
	if level != types.AlertLevelCritical && level != types.AlertLevelHigh {
		return false
	}
	for _, m := range autoHealMetrics {
		if strings.Contains(metric, m) {
			return true
		}
	}
	return false
}

// Handle dispatches side effects for one alert. External side effects are
// best-effort: their failures are logged and never propagate.
func (p *Pipeline) Handle(ctx context.Context, alert *types.Alert, opts HandleOptions) *HandleResult {
	logger := log.WithComponent("alerts")
	result := &HandleResult{Alert: alert}

	// Always record
	result.Actions = append(result.Actions, "logged")
	logger.Info().
		Str("metric", alert.Metric).
		Str("level", string(alert.Level)).
		Float64("value", alert.Value).
		Msg(alert.Message)

	createTicket := opts.CreateTicket == nil || *opts.CreateTicket
	if p.ticketer != nil && createTicket {
		key, err := p.ticketer.CreateIncidentFromAlert(ctx, alert)
		if err != nil {
			logger.Warn().Err(err).Str("metric", alert.Metric).Msg("ticketing failed")
		} else if key != "" {
			result.TicketKey = key
			result.Actions = append(result.Actions, "ticketed")
		}
	}

	if alert.Level == types.AlertLevelCritical {
		result.Actions = append(result.Actions, "notified")
		if p.notifier != nil {
			if err := p.notifier.Notify(ctx, alert); err != nil {
				logger.Warn().Err(err).Msg("notification failed")
			}
		}
	}

	if alert.ShouldAutoHeal {
		result.Actions = append(result.Actions, "autoheal_triggered")
		result.AutoHealRequested = true
		if p.healTrigger != nil {
			// Spawned, not awaited
			go p.healTrigger(alert)
		}
	}

	return result
}

// Run is the one-shot composition used by the orchestrator: collect a
// snapshot, process it, handle every emitted alert.
func (p *Pipeline) Run(ctx context.Context) (*RunSummary, error) {
	if p.source == nil {
		return nil, fmt.Errorf("no metrics source configured")
	}

	snapshot, err := p.source.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect metrics: %w", err)
	}

	alerts := p.Process(snapshot, nil)
	summary := &RunSummary{AlertsProcessed: len(alerts)}
	for _, alert := range alerts {
		summary.Results = append(summary.Results, p.Handle(ctx, alert, HandleOptions{}))
	}
	return summary, nil
}

// ResetDedup clears the dedup cache (test hook and operator escape hatch)
func (p *Pipeline) ResetDedup() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dedup = make(map[string]time.Time)
}

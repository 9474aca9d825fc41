package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Alert pipeline metrics
	AlertsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_alerts_emitted_total",
			Help: "Total number of alerts emitted by metric and level",
		},
		[]string{"metric", "level"},
	)

	AlertsSuppressedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_alerts_suppressed_total",
			Help: "Total number of alerts suppressed by the dedup window",
		},
	)

	// AutoHeal metrics
	HealsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_heals_total",
			Help: "Total number of heal invocations by scenario and outcome",
		},
		[]string{"scenario", "outcome"},
	)

	HealDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_heal_duration_seconds",
			Help:    "Heal invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Connection pool metrics
	PoolConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_pool_connections",
			Help: "Current number of pooled SSH connections",
		},
	)

	PoolConnectionsInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_pool_connections_in_use",
			Help: "Pooled SSH connections currently borrowed",
		},
	)

	PoolDialsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_pool_dials_total",
			Help: "Total number of new SSH connections dialed",
		},
	)

	PoolEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_pool_evictions_total",
			Help: "Total number of idle connections evicted",
		},
	)

	// Remote executor metrics
	RemoteCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_remote_commands_total",
			Help: "Total number of remote commands by outcome",
		},
		[]string{"outcome"},
	)

	RemoteCommandDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_remote_command_duration_seconds",
			Help:    "Remote command execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Deploy metrics
	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_deployments_total",
			Help: "Total number of deployments by strategy and status",
		},
		[]string{"strategy", "status"},
	)

	RollbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_rollbacks_total",
			Help: "Total number of rollbacks performed",
		},
	)

	// Ticketing metrics
	TicketRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_ticket_requests_total",
			Help: "Total number of ticketing API requests by operation and status",
		},
		[]string{"operation", "status"},
	)

	// Orchestrator metrics
	HeartbeatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_heartbeats_total",
			Help: "Total number of orchestrator heartbeats",
		},
	)

	TasksExecutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_tasks_executed_total",
			Help: "Total number of scheduled tasks by name and outcome",
		},
		[]string{"task", "outcome"},
	)

	HeartbeatDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_heartbeat_duration_seconds",
			Help:    "Heartbeat cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		AlertsEmittedTotal,
		AlertsSuppressedTotal,
		HealsTotal,
		HealDuration,
		PoolConnections,
		PoolConnectionsInUse,
		PoolDialsTotal,
		PoolEvictionsTotal,
		RemoteCommandsTotal,
		RemoteCommandDuration,
		DeploymentsTotal,
		RollbacksTotal,
		TicketRequestsTotal,
		HeartbeatsTotal,
		TasksExecutedTotal,
		HeartbeatDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts the metrics endpoint on the given address
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}

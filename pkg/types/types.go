package types

import (
	"strings"
	"time"
)

// Host represents a managed machine reachable over SSH
type Host struct {
	Name       string
	Address    string
	Port       int
	User       string
	PrivateKey []byte // PEM-encoded private key material
}

// Key returns the normalized identity used for pool and cache keying
func (h *Host) Key() string {
	return strings.ToLower(h.Name)
}

// SSHConfig holds fleet-wide SSH connection defaults
type SSHConfig struct {
	User       string
	Port       int
	PrivateKey []byte
	KeyPath    string
}

// ExecutionResult is the outcome of one command on one host
type ExecutionResult struct {
	Host       string
	Success    bool
	ExitCode   int
	Stdout     string
	Stderr     string
	Error      string
	DurationMs int64
	Timestamp  time.Time
}

// BatchSummary aggregates per-host counts for a batch execution
type BatchSummary struct {
	Total     int
	Succeeded int
	Failed    int
}

// BatchResult aggregates ExecutionResults across targets
type BatchResult struct {
	Results        []*ExecutionResult
	Summary        BatchSummary
	OverallSuccess bool
}

// MemoryMetrics describes memory usage in a snapshot
type MemoryMetrics struct {
	Total      uint64
	Used       uint64
	Free       uint64
	Percentage float64
}

// DiskMetrics describes one mounted filesystem in a snapshot
type DiskMetrics struct {
	Device     string
	Mount      string
	Percentage float64
}

// SystemMetrics groups host-level resource readings
type SystemMetrics struct {
	CPU    float64
	Memory MemoryMetrics
	Disk   []DiskMetrics
}

// HealthCheckStatus is the reported state of one probe
type HealthCheckStatus string

const (
	HealthStatusHealthy   HealthCheckStatus = "healthy"
	HealthStatusUnhealthy HealthCheckStatus = "unhealthy"
)

// HealthCheckResult is one named probe outcome inside a snapshot
type HealthCheckResult struct {
	Name      string
	URL       string
	Status    HealthCheckStatus
	LatencyMs float64
	Error     string
}

// MetricsSnapshot is one observation of the fleet, produced by the
// metrics collector and consumed by the alert pipeline
type MetricsSnapshot struct {
	Timestamp    time.Time
	System       SystemMetrics
	HealthChecks []HealthCheckResult
	PromQueries  map[string]float64
}

// Threshold is a warning/critical pair for one metric
type Threshold struct {
	Warning  float64
	Critical float64
}

// AlertThresholds maps canonical metric names to their thresholds
type AlertThresholds map[string]Threshold

// AlertLevel is the severity assigned to an alert
type AlertLevel string

const (
	AlertLevelCritical AlertLevel = "critical"
	AlertLevelHigh     AlertLevel = "high"
	AlertLevelMedium   AlertLevel = "medium"
	AlertLevelLow      AlertLevel = "low"
)

// Alert is one actionable threshold breach
type Alert struct {
	ID             string
	Timestamp      time.Time
	Metric         string
	Value          float64
	Threshold      float64
	Level          AlertLevel
	Message        string
	Metadata       map[string]string
	ShouldAutoHeal bool
}

// Playbook is a named, ordered sequence of command templates with an
// optional precondition of the form "<var> <op> <number>"
type Playbook struct {
	Name      string
	Condition string
	Actions   []string
}

// ActionResult records one executed playbook action
type ActionResult struct {
	Command    string
	Success    bool
	Stdout     string
	Stderr     string
	Error      string
	DurationMs int64
}

// HealResult is the outcome of one heal() invocation
type HealResult struct {
	Success    bool
	Scenario   string
	Playbook   string
	Actions    []*ActionResult
	IncidentID string
	Timestamp  time.Time
	DurationMs int64
	Reason     string
	ReportPath string
}

// Incident is the immutable record of one heal invocation
type Incident struct {
	ID         string
	Scenario   string
	Playbook   string
	Context    map[string]interface{}
	Actions    []*ActionResult
	Success    bool
	DurationMs int64
	Timestamp  time.Time
	ReportPath string
}

// ChangeType is the kind of rewrite a patch change applies
type ChangeType string

const (
	ChangeReplace ChangeType = "replace"
	ChangeInsert  ChangeType = "insert"
	ChangeWrap    ChangeType = "wrap"
)

// Change is one rewrite within a patched file
type Change struct {
	Type       ChangeType
	Line       int
	BlockStart int
	BlockEnd   int
	Before     string
	After      string
}

// FileChange groups the changes for one target file
type FileChange struct {
	Path    string
	Changes []Change
}

// Patch is a generated, rule-based source rewrite
type Patch struct {
	ID         string
	IssueType  string
	Pattern    string
	Files      []FileChange
	Confidence float64
	Timestamp  time.Time
}

// DeployStrategy defines how a hotfix is rolled out
type DeployStrategy string

const (
	DeployStrategyCanary    DeployStrategy = "canary"
	DeployStrategyBlueGreen DeployStrategy = "blue_green"
	DeployStrategyDirect    DeployStrategy = "direct"
)

// DeploymentStatus is the terminal state of a deployment
type DeploymentStatus string

const (
	DeploymentCompleted  DeploymentStatus = "completed"
	DeploymentFailed     DeploymentStatus = "failed"
	DeploymentRolledBack DeploymentStatus = "rolled_back"
)

// StageStatus is the state of one rollout stage
type StageStatus string

const (
	StageInProgress StageStatus = "in_progress"
	StageSuccess    StageStatus = "success"
	StageFailed     StageStatus = "failed"
)

// StageMetrics holds the averaged observations from a stage monitor window
type StageMetrics struct {
	ErrorRate    float64
	ResponseTime float64
	CPU          float64
	Memory       float64
}

// StageResult records one rollout stage
type StageResult struct {
	Name        string
	Percentage  int
	Status      StageStatus
	StartedAt   time.Time
	CompletedAt time.Time
	Metrics     *StageMetrics
	Error       string
}

// Deployment is one staged rollout of a patch
type Deployment struct {
	ID          string
	PatchID     string
	Repository  string
	Strategy    DeployStrategy
	Stages      []*StageResult
	Status      DeploymentStatus
	StartedAt   time.Time
	CompletedAt time.Time
	Error       string
}

package deploy

import "time"

// StageThresholds gate a stage's averaged monitor metrics
type StageThresholds struct {
	MaxErrorRate    float64
	MaxResponseTime float64
	MaxCPU          float64
	MaxMemory       float64
}

// StageConfig describes one rollout stage
type StageConfig struct {
	Name            string
	Percentage      int
	Targets         []string
	HealthCommand   string
	HealthRetries   int
	HealthBackoff   time.Duration
	MonitorDuration time.Duration
	SampleInterval  time.Duration
	Thresholds      StageThresholds
	RequireApproval bool
	WaitTime        time.Duration
	RestartCommand  string
	Service         string
}

// Config holds the rollout topology for every strategy
type Config struct {
	// DeployCommand is the per-target command template; {repo} expands
	// to the repository path
	DeployCommand string

	// BackupDir is the prefix for backup directories on targets
	BackupDir string

	Canary []StageConfig

	// Blue-green environments and the traffic-shift command template
	// ({env} and {pct} expand)
	BlueTargets   []string
	GreenTargets  []string
	TrafficShift  string
	TrafficSteps  []int
	BlueGreenGate StageConfig

	Direct StageConfig
}

func defaultThresholds() StageThresholds {
	return StageThresholds{
		MaxErrorRate:    1.5,
		MaxResponseTime: 1000,
		MaxCPU:          85,
		MaxMemory:       90,
	}
}

// DefaultConfig returns the standard rollout topology: canary through
// test, staging and three production slices; blue-green with 10/50/100
// traffic steps; a single-stage direct path.
func DefaultConfig() Config {
	stage := func(name string, pct int, targets []string) StageConfig {
		return StageConfig{
			Name:            name,
			Percentage:      pct,
			Targets:         targets,
			HealthCommand:   "curl -sf http://localhost:8080/health",
			HealthRetries:   3,
			HealthBackoff:   5 * time.Second,
			MonitorDuration: 60 * time.Second,
			SampleInterval:  10 * time.Second,
			Thresholds:      defaultThresholds(),
		}
	}

	prod100 := stage("production-100", 100, []string{"production"})
	prod100.WaitTime = 0

	return Config{
		DeployCommand: "cd {repo} && git pull --ff-only",
		BackupDir:     "/tmp/backup",
		Canary: []StageConfig{
			stage("test", 0, []string{"test"}),
			stage("staging", 0, []string{"staging"}),
			stage("production-10", 10, []string{"production-canary"}),
			stage("production-50", 50, []string{"production"}),
			prod100,
		},
		BlueTargets:   []string{"blue"},
		GreenTargets:  []string{"green"},
		TrafficShift:  "lbctl set-weight {env} {pct}",
		TrafficSteps:  []int{10, 50, 100},
		BlueGreenGate: stage("green", 0, []string{"green"}),
		Direct:        stage("production", 100, []string{"production"}),
	}
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Monitoring describes the metric and log sources the orchestrator polls
type Monitoring struct {
	Prometheus   *PrometheusConfig `json:"prometheus,omitempty" yaml:"prometheus,omitempty"`
	HealthChecks []HealthCheck     `json:"healthchecks" yaml:"healthchecks"`
	Logs         LogSources        `json:"logs" yaml:"logs"`
}

// PrometheusConfig points at an optional Prometheus endpoint
type PrometheusConfig struct {
	Enabled  bool              `json:"enabled" yaml:"enabled"`
	Endpoint string            `json:"endpoint" yaml:"endpoint"`
	Queries  map[string]string `json:"queries" yaml:"queries"`
}

// HealthCheck is one named probe target. A URL is probed over HTTP;
// a Command runs on the agent host and passes when it exits zero.
type HealthCheck struct {
	Name    string `json:"name" yaml:"name"`
	URL     string `json:"url,omitempty" yaml:"url,omitempty"`
	Command string `json:"command,omitempty" yaml:"command,omitempty"`
}

// LogSources lists the log files the collector tails
type LogSources struct {
	Paths []string `json:"paths" yaml:"paths"`
}

// Threshold is a warning/critical pair for one metric
type Threshold struct {
	Warning  float64 `json:"warning" yaml:"warning"`
	Critical float64 `json:"critical" yaml:"critical"`
}

// Thresholds maps metric names to their alert thresholds
type Thresholds map[string]Threshold

// PlaybookSpec is the configured form of one remediation playbook
type PlaybookSpec struct {
	Condition string   `json:"condition,omitempty" yaml:"condition,omitempty"`
	Actions   []string `json:"actions" yaml:"actions"`
}

// Playbooks maps scenario names to playbook specs, preserving file order
type Playbooks struct {
	Order []string
	Specs map[string]PlaybookSpec
}

// UnmarshalJSON keeps key order so condition-based selection is stable
func (p *Playbooks) UnmarshalJSON(data []byte) error {
	p.Specs = make(map[string]PlaybookSpec)

	dec := json.NewDecoder(strings.NewReader(string(data)))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("playbooks: expected object")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key := keyTok.(string)

		var spec PlaybookSpec
		if err := dec.Decode(&spec); err != nil {
			return fmt.Errorf("playbook %s: %w", key, err)
		}
		p.Order = append(p.Order, key)
		p.Specs[key] = spec
	}
	return nil
}

// UnmarshalYAML keeps key order from YAML mapping nodes
func (p *Playbooks) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("playbooks: expected mapping")
	}
	p.Specs = make(map[string]PlaybookSpec)
	for i := 0; i < len(value.Content); i += 2 {
		key := value.Content[i].Value
		var spec PlaybookSpec
		if err := value.Content[i+1].Decode(&spec); err != nil {
			return fmt.Errorf("playbook %s: %w", key, err)
		}
		p.Order = append(p.Order, key)
		p.Specs[key] = spec
	}
	return nil
}

// Servers describes the SSH fleet: shared connection defaults and groups
type Servers struct {
	SSH    SSHConfig           `json:"ssh" yaml:"ssh"`
	Groups map[string][]string `json:"groups" yaml:"groups"`
}

// SSHConfig holds fleet-wide SSH connection settings
type SSHConfig struct {
	User       string `json:"user" yaml:"user"`
	Port       int    `json:"port" yaml:"port"`
	PrivateKey string `json:"privateKey,omitempty" yaml:"privateKey,omitempty"`
	KeyPath    string `json:"keyPath,omitempty" yaml:"keyPath,omitempty"`
}

// Allowlist is the remote-executor command allowlist; "*" permits all
type Allowlist struct {
	AllowedCommands []string `json:"allowedCommands" yaml:"allowedCommands"`
}

// Autoheal selects where playbook actions execute. An empty target runs
// actions on the agent host; otherwise they route through the remote
// executor.
type Autoheal struct {
	Target []string `json:"target,omitempty" yaml:"target,omitempty"`
}

// Ticketing configures the incident tracker integration
type Ticketing struct {
	Enabled           bool              `json:"enabled" yaml:"enabled"`
	BaseURL           string            `json:"baseUrl" yaml:"baseUrl"`
	ServiceDeskID     string            `json:"serviceDeskId" yaml:"serviceDeskId"`
	RequestTypeID     string            `json:"requestTypeId" yaml:"requestTypeId"`
	Auth              TicketingAuth     `json:"auth" yaml:"auth"`
	RateLimiting      RateLimiting      `json:"rateLimiting" yaml:"rateLimiting"`
	Deduplication     Deduplication     `json:"deduplication" yaml:"deduplication"`
	PriorityMapping   map[string]string `json:"priorityMapping" yaml:"priorityMapping"`
	IssueTypeMapping  map[string]string `json:"issueTypeMapping" yaml:"issueTypeMapping"`
	TransitionMapping map[string]string `json:"transitionMapping" yaml:"transitionMapping"`
	CustomFields      map[string]string `json:"customFields" yaml:"customFields"`
	Labels            []string          `json:"labels" yaml:"labels"`
}

// TicketingAuth selects basic or bearer auth; values may reference
// environment variables via ${VAR}
type TicketingAuth struct {
	Type     string `json:"type" yaml:"type"` // "basic" or "bearer"
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	Token    string `json:"token,omitempty" yaml:"token,omitempty"`
}

// RateLimiting bounds outbound ticketing requests
type RateLimiting struct {
	MaxRequestsPerMinute int `json:"maxRequestsPerMinute" yaml:"maxRequestsPerMinute"`
}

// Deduplication configures the ticket dedup window
type Deduplication struct {
	Enabled       bool `json:"enabled" yaml:"enabled"`
	WindowMinutes int  `json:"windowMinutes" yaml:"windowMinutes"`
}

// Config is the root configuration document
type Config struct {
	Monitoring   Monitoring   `json:"monitoring" yaml:"monitoring"`
	Thresholds   Thresholds   `json:"alertThresholds" yaml:"alertThresholds"`
	Playbooks    Playbooks    `json:"playbooks" yaml:"playbooks"`
	Servers      Servers      `json:"servers" yaml:"servers"`
	Executor     Allowlist    `json:"executor" yaml:"executor"`
	Autoheal     Autoheal     `json:"autoheal" yaml:"autoheal"`
	Ticketing    Ticketing    `json:"ticketing" yaml:"ticketing"`
	Orchestrator Orchestrator `json:"orchestrator" yaml:"orchestrator"`

	DataDir     string `json:"dataDir" yaml:"dataDir"`
	ReportDir   string `json:"reportDir" yaml:"reportDir"`
	MetricsAddr string `json:"metricsAddr" yaml:"metricsAddr"`
}

// Orchestrator holds scheduler intervals and report hours
type Orchestrator struct {
	HeartbeatSeconds   int `json:"heartbeatSeconds" yaml:"heartbeatSeconds"`
	DailyReportHour    int `json:"dailyReportHour" yaml:"dailyReportHour"`
	WeeklyReportHour   int `json:"weeklyReportHour" yaml:"weeklyReportHour"`
	DedupWindowSeconds int `json:"dedupWindowSeconds" yaml:"dedupWindowSeconds"`
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv substitutes ${VAR} references from the process environment.
// Unset variables expand to the empty string.
func ExpandEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := envVarPattern.FindStringSubmatch(m)[1]
		return os.Getenv(name)
	})
}

// Resolve expands ${VAR} references in auth fields
func (a TicketingAuth) Resolve() TicketingAuth {
	return TicketingAuth{
		Type:     a.Type,
		Username: ExpandEnv(a.Username),
		Password: ExpandEnv(a.Password),
		Token:    ExpandEnv(a.Token),
	}
}

// Load reads a config file into out, selecting the codec by extension.
// JSON is the primary format; YAML is accepted for operator convenience.
func Load(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse YAML %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse JSON %s: %w", path, err)
		}
	}
	return nil
}

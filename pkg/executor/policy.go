package executor

import (
	"fmt"
	"regexp"
	"strings"
)

// Hard-deny patterns. These block regardless of allowlist configuration
// unless the caller both requires approval and allowlists the exact command.
var hardDenyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+-rf\s+/(\s|$)`),
	regexp.MustCompile(`dd\s+if=`),
	regexp.MustCompile(`mkfs`),
	regexp.MustCompile(`fdisk`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:\s*&\s*\}\s*;?\s*:`), // fork bomb
}

// Policy decides whether a command may execute on the fleet
type Policy struct {
	allowedCommands []string
	wildcard        bool
}

// NewPolicy builds a policy from the configured allowlist. A nil or empty
// allowlist, or one containing "*", permits every non-hard-denied command.
func NewPolicy(allowedCommands []string) *Policy {
	p := &Policy{allowedCommands: allowedCommands}
	if len(allowedCommands) == 0 {
		p.wildcard = true
	}
	for _, cmd := range allowedCommands {
		if cmd == "*" {
			p.wildcard = true
		}
	}
	return p
}

// Check returns nil when command may run, or a denial error
func (p *Policy) Check(command string, requireApproval bool) error {
	denied := matchesHardDeny(command)
	allowlisted := p.isAllowlisted(command)

	if denied {
		// Hard-deny wins unless the command is both approval-gated and
		// explicitly allowlisted.
		if requireApproval && allowlisted {
			return nil
		}
		return fmt.Errorf("command blocked by deny policy: %s", command)
	}

	if p.wildcard || allowlisted {
		return nil
	}
	return fmt.Errorf("command not in allowlist: %s", command)
}

func (p *Policy) isAllowlisted(command string) bool {
	trimmed := strings.TrimSpace(command)
	for _, allowed := range p.allowedCommands {
		if allowed == "*" {
			continue
		}
		if trimmed == strings.TrimSpace(allowed) {
			return true
		}
	}
	return false
}

func matchesHardDeny(command string) bool {
	for _, pattern := range hardDenyPatterns {
		if pattern.MatchString(command) {
			return true
		}
	}
	return false
}

package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/warden/pkg/types"
)

// Writer renders markdown reports into a directory
type Writer struct {
	Dir string
}

// NewWriter creates a report writer rooted at dir
func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir}
}

// WriteIncidentReport renders the incident to markdown and writes it to
// <dir>/<incident-id>.md, returning the path
func (w *Writer) WriteIncidentReport(incident *types.Incident) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	path := filepath.Join(w.Dir, incident.ID+".md")
	content := RenderIncidentReport(incident)

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write incident report: %w", err)
	}
	return path, nil
}

// RenderIncidentReport produces the incident markdown
func RenderIncidentReport(incident *types.Incident) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Incident Report: %s\n\n", incident.ID)
	if incident.Success {
		b.WriteString("**Status:** ✅ Resolved\n\n")
	} else {
		b.WriteString("**Status:** ❌ Failed\n\n")
	}
	fmt.Fprintf(&b, "**Scenario:** %s\n\n", incident.Scenario)
	fmt.Fprintf(&b, "**Playbook:** %s\n\n", incident.Playbook)
	fmt.Fprintf(&b, "**Timestamp:** %s\n\n", incident.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "**Duration:** %dms\n\n", incident.DurationMs)

	b.WriteString("## Actions\n\n")
	for i, action := range incident.Actions {
		status := "✅"
		if !action.Success {
			status = "❌"
		}
		fmt.Fprintf(&b, "### %d. %s `%s`\n\n", i+1, status, action.Command)
		if action.Stdout != "" {
			fmt.Fprintf(&b, "```\n%s\n```\n\n", strings.TrimRight(action.Stdout, "\n"))
		}
		if action.Stderr != "" {
			fmt.Fprintf(&b, "**Stderr:**\n\n```\n%s\n```\n\n", strings.TrimRight(action.Stderr, "\n"))
		}
		if action.Error != "" {
			fmt.Fprintf(&b, "**Error:** %s\n\n", action.Error)
		}
	}

	if !incident.Success {
		b.WriteString("> Manual intervention may be required.\n")
	}

	return b.String()
}

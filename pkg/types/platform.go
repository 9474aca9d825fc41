package types

import "fmt"

// PlatformCommands lists the canonical inspection commands for one OS.
// Collaborators (metrics collectors, rollback snapshots) consume this
// table instead of hardcoding per-OS commands.
type PlatformCommands struct {
	CPU     string
	Memory  string
	Process string
	Disk    string
	Network string
}

var platformCommands = map[string]PlatformCommands{
	"linux": {
		CPU:     "top -bn1 | grep 'Cpu(s)'",
		Memory:  "free -m",
		Process: "ps aux --sort=-%cpu | head -20",
		Disk:    "df -h",
		Network: "ss -tunap",
	},
	"darwin": {
		CPU:     "top -l 1 | grep 'CPU usage'",
		Memory:  "vm_stat",
		Process: "ps aux -r | head -20",
		Disk:    "df -h",
		Network: "netstat -anv",
	},
	"windows": {
		CPU:     "wmic cpu get loadpercentage",
		Memory:  "wmic OS get FreePhysicalMemory,TotalVisibleMemorySize",
		Process: "tasklist /FO TABLE",
		Disk:    "wmic logicaldisk get size,freespace,caption",
		Network: "netstat -ano",
	},
}

// CommandsForPlatform returns the canonical command table for an OS name.
// Unknown platforms are an error, not a silent fallback.
func CommandsForPlatform(os string) (PlatformCommands, error) {
	cmds, ok := platformCommands[os]
	if !ok {
		return PlatformCommands{}, fmt.Errorf("Unsupported platform: %s", os)
	}
	return cmds, nil
}

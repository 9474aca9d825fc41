package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/warden/pkg/autoheal"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/report"
	"github.com/spf13/cobra"
)

var healCmd = &cobra.Command{
	Use:   "heal SCENARIO",
	Short: "Run the remediation playbook for a scenario",
	Long: `Run the configured playbook for a known scenario, for example:

  warden heal disk_space_low --set disk_usage=92
  warden heal process_down --set process_name=nginx`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		pairs, _ := cmd.Flags().GetStringArray("set")
		reportDir, _ := cmd.Flags().GetString("report-dir")

		log.Init(log.Config{Level: log.InfoLevel})

		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}

		healContext, err := parseContext(pairs)
		if err != nil {
			return err
		}

		healer := autoheal.New(cfg.Playbooks, nil, report.NewWriter(reportDir))
		result := healer.Heal(cmd.Context(), args[0], healContext)

		if !result.Success {
			if result.Reason != "" {
				return fmt.Errorf("heal rejected: %s", result.Reason)
			}
			return fmt.Errorf("heal %s failed (incident %s)", args[0], result.IncidentID)
		}

		fmt.Printf("✓ Heal succeeded (incident %s, playbook %s, %d actions)\n",
			result.IncidentID, result.Playbook, len(result.Actions))
		if result.ReportPath != "" {
			fmt.Printf("  Report: %s\n", result.ReportPath)
		}
		return nil
	},
}

func init() {
	healCmd.Flags().String("config", "warden.json", "Path to the configuration file")
	healCmd.Flags().StringArray("set", nil, "Context values as key=value (repeatable)")
	healCmd.Flags().String("report-dir", "reports", "Directory for incident reports")
}

// parseContext converts key=value pairs; numeric values become float64
func parseContext(pairs []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid context value %q, want key=value", pair)
		}
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			out[key] = f
		} else {
			out[key] = value
		}
	}
	return out, nil
}

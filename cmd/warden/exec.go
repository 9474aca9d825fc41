package main

import (
	"fmt"
	"time"

	"github.com/cuemby/warden/pkg/events"
	"github.com/cuemby/warden/pkg/executor"
	"github.com/cuemby/warden/pkg/log"
	"github.com/spf13/cobra"
)

var execCmd = &cobra.Command{
	Use:   "exec COMMAND",
	Short: "Run a command across the fleet",
	Long: `Run a command on hosts or server groups over pooled SSH
connections. Targets resolve group names from the servers section of
the configuration.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		targets, _ := cmd.Flags().GetStringSlice("target")
		parallel, _ := cmd.Flags().GetBool("parallel")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		if len(targets) == 0 {
			return fmt.Errorf("--target is required")
		}

		log.Init(log.Config{Level: log.WarnLevel})

		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		pool, exec, err := buildFleet(cfg, broker)
		if err != nil {
			return err
		}
		defer pool.CloseAll()

		batch, err := exec.Execute(cmd.Context(), executor.Request{
			Target:  targets,
			Command: args[0],
			Options: executor.Options{
				Parallel: parallel,
				DryRun:   dryRun,
				Timeout:  timeout,
			},
		})
		if err != nil {
			return err
		}

		for _, result := range batch.Results {
			marker := "✓"
			if !result.Success {
				marker = "✗"
			}
			fmt.Printf("%s %s (exit %d, %dms)\n", marker, result.Host, result.ExitCode, result.DurationMs)
			if result.Stdout != "" {
				fmt.Print(result.Stdout)
			}
			if result.Stderr != "" {
				fmt.Print(result.Stderr)
			}
			if result.Error != "" {
				fmt.Printf("  error: %s\n", result.Error)
			}
		}

		fmt.Printf("\n%d/%d succeeded\n", batch.Summary.Succeeded, batch.Summary.Total)
		if !batch.OverallSuccess {
			return fmt.Errorf("command failed on %d host(s)", batch.Summary.Failed)
		}
		return nil
	},
}

func init() {
	execCmd.Flags().String("config", "warden.json", "Path to the configuration file")
	execCmd.Flags().StringSlice("target", nil, "Hosts or group names (comma separated)")
	execCmd.Flags().Bool("parallel", false, "Run on all targets concurrently")
	execCmd.Flags().Bool("dry-run", false, "Preview without executing")
	execCmd.Flags().Duration("timeout", 30*time.Second, "Per-host command timeout")
}

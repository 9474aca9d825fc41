package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cuemby/warden/pkg/deploy"
	"github.com/cuemby/warden/pkg/events"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/rollback"
	"github.com/cuemby/warden/pkg/storage"
	"github.com/cuemby/warden/pkg/types"
	"github.com/spf13/cobra"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Roll out a generated patch across the fleet",
	Long: `Roll out a patch with the selected strategy. Canary walks
test, staging and three production slices with health and metric gates;
blue-green shifts traffic between environments; direct deploys in one
step.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		patchPath, _ := cmd.Flags().GetString("patch")
		repo, _ := cmd.Flags().GetString("repo")
		strategy, _ := cmd.Flags().GetString("strategy")
		autoRollback, _ := cmd.Flags().GetBool("auto-rollback")
		approveAll, _ := cmd.Flags().GetBool("yes")

		if patchPath == "" || repo == "" {
			return fmt.Errorf("--patch and --repo are required")
		}

		log.Init(log.Config{Level: log.InfoLevel})

		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}

		p, err := readPatch(patchPath)
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

		sampler := &stageSampler{source: newFleetSource(cfg.Monitoring)}
		manager := deploy.NewManager(exec, sampler, deploy.DefaultConfig()).WithBroker(broker)

		rbConfig := rollback.DefaultConfig()
		rbConfig.Repository = repo
		engine := rollback.NewEngine(exec, manager, rbConfig).WithBroker(broker)
		manager.WithRollbacker(engine)

		if approveAll {
			manager.WithApproval(func(stage string) bool {
				fmt.Printf("  approving stage %s\n", stage)
				return true
			})
		}

		fmt.Printf("Deploying patch %s (%s) to %s...\n", p.ID, strategy, repo)

		d, deployErr := manager.DeployHotfix(cmd.Context(), deploy.Request{
			Patch:        p,
			Repository:   repo,
			Strategy:     types.DeployStrategy(strategy),
			AutoRollback: autoRollback,
		})

		if d != nil {
			archiveDeployment(cfg.DataDir, d)
			for _, stage := range d.Stages {
				marker := "✓"
				if stage.Status != types.StageSuccess {
					marker = "✗"
				}
				fmt.Printf("%s stage %s (%s)\n", marker, stage.Name, stage.Status)
			}
		}

		if deployErr != nil {
			if d == nil {
				return deployErr
			}
			return fmt.Errorf("deployment %s: %w", d.Status, deployErr)
		}
		fmt.Printf("✓ Deployment %s completed\n", d.ID)
		return nil
	},
}

func init() {
	deployCmd.Flags().String("config", "warden.json", "Path to the configuration file")
	deployCmd.Flags().String("patch", "", "Path to a patch JSON file (from warden patch)")
	deployCmd.Flags().String("repo", "", "Repository path on the targets")
	deployCmd.Flags().String("strategy", string(types.DeployStrategyCanary), "Rollout strategy: canary, blue_green or direct")
	deployCmd.Flags().Bool("auto-rollback", true, "Roll back automatically on stage failure")
	deployCmd.Flags().Bool("yes", false, "Approve approval-gated stages")
}

func readPatch(path string) (*types.Patch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read patch %s: %w", path, err)
	}
	var p types.Patch
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse patch %s: %w", path, err)
	}
	return &p, nil
}

// archiveDeployment records the deployment so a later rollback command
// can find it. Best-effort.
func archiveDeployment(dataDir string, d *types.Deployment) {
	store, err := openStore(dataDir)
	if err != nil {
		logger := log.WithComponent("deploy")
		logger.Warn().Err(err).Msg("deployment archive unavailable")
		return
	}
	defer store.Close()
	_ = store.PutDeployment(d)
}

func openStore(dataDir string) (*storage.Store, error) {
	if dataDir == "" {
		dataDir = "data"
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	return storage.Open(dataDir + "/warden.db")
}

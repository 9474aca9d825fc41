package main

import (
	"fmt"

	"github.com/cuemby/warden/pkg/events"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/rollback"
	"github.com/cuemby/warden/pkg/storage"
	"github.com/cuemby/warden/pkg/types"
	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback DEPLOYMENT_ID",
	Short: "Roll back an archived deployment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		reason, _ := cmd.Flags().GetString("reason")
		partial, _ := cmd.Flags().GetBool("partial")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		repo, _ := cmd.Flags().GetString("repo")

		log.Init(log.Config{Level: log.InfoLevel})

		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}

		store, err := openStore(cfg.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		pool, exec, err := buildFleet(cfg, broker)
		if err != nil {
			return err
		}
		defer pool.CloseAll()

		rbConfig := rollback.DefaultConfig()
		rbConfig.Repository = repo
		engine := rollback.NewEngine(exec, &storedDeployments{store: store}, rbConfig).WithBroker(broker)

		rec, err := engine.Execute(cmd.Context(), args[0], reason, rollback.Options{
			Partial: partial,
			DryRun:  dryRun,
		})
		if err != nil {
			return err
		}

		fmt.Printf("✓ Rolled back %d stage(s) of deployment %s\n", len(rec.Stages), rec.DeploymentID)
		return nil
	},
}

func init() {
	rollbackCmd.Flags().String("config", "warden.json", "Path to the configuration file")
	rollbackCmd.Flags().String("reason", "manual rollback", "Reason recorded on the rollback")
	rollbackCmd.Flags().Bool("partial", false, "Revert only stages that did not finish cleanly")
	rollbackCmd.Flags().Bool("dry-run", false, "Preview restore commands without executing")
	rollbackCmd.Flags().String("repo", "", "Repository path restored on the targets")
}

// storedDeployments resolves deployments from the archive
type storedDeployments struct {
	store *storage.Store
}

func (s *storedDeployments) Get(id string) (*types.Deployment, bool) {
	recent, err := s.store.RecentDeployments(100)
	if err != nil {
		return nil, false
	}
	for _, d := range recent {
		if d.ID == id {
			return d, true
		}
	}
	return nil, false
}

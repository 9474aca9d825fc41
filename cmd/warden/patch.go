package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/patch"
	"github.com/spf13/cobra"
)

var patchCmd = &cobra.Command{
	Use:   "patch ISSUE_TYPE",
	Short: "Generate a rule-based patch for a recurring issue",
	Long: `Generate a patch for a known issue class, for example:

  warden patch connection_leak --evidence "connection not released" \
      --file src/db/users.js --out patch.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		evidence, _ := cmd.Flags().GetStringArray("evidence")
		files, _ := cmd.Flags().GetStringSlice("file")
		out, _ := cmd.Flags().GetString("out")
		apply, _ := cmd.Flags().GetBool("apply")

		if len(files) == 0 {
			return fmt.Errorf("--file is required")
		}

		log.Init(log.Config{Level: log.InfoLevel})

		generator := patch.NewGenerator()
		p, err := generator.Generate(patch.Issue{
			Type:     args[0],
			Evidence: evidence,
			Files:    files,
		})
		if err != nil {
			return err
		}

		fmt.Printf("✓ Patch %s (pattern %s, confidence %.2f)\n", p.ID, p.Pattern, p.Confidence)
		for _, fc := range p.Files {
			fmt.Printf("  %s: %d change(s)\n", fc.Path, len(fc.Changes))
		}

		if out != "" {
			data, err := json.MarshalIndent(p, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("failed to write patch: %w", err)
			}
			fmt.Printf("  Written to %s\n", out)
		}

		if apply {
			if err := patch.Apply(p); err != nil {
				return err
			}
			fmt.Println("✓ Patch applied")
		}
		return nil
	},
}

func init() {
	patchCmd.Flags().StringArray("evidence", nil, "Evidence lines from the analyzer (repeatable)")
	patchCmd.Flags().StringSlice("file", nil, "Files to scan for fixable locations")
	patchCmd.Flags().String("out", "", "Write the patch JSON to this path")
	patchCmd.Flags().Bool("apply", false, "Apply the generated changes in place")
}

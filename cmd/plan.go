package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/sheetsync/internal/config"
	"github.com/sells-group/sheetsync/internal/model"
	"github.com/sells-group/sheetsync/internal/pipeline"
)

var (
	planGroup  string
	planStrict bool
)

// planEntry is one printed plan item.
type planEntry struct {
	Unit *model.WorkUnit `yaml:"unit,omitempty"`
	Skip string          `yaml:"skip,omitempty"`
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the work units the group definition expands to",
	Long:  "Loads the group definition and prints every work unit with its sources and destination table, without fetching or loading anything.",
	RunE: func(cmd *cobra.Command, args []string) error {
		def, err := config.LoadDefinition(cfg.Definition)
		if err != nil {
			return err
		}

		group := planGroup
		if group == "" {
			group = cfg.OnlyGroup
		}
		entries, skipped := buildPlan(def, group)

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(entries); err != nil {
			return eris.Wrap(err, "plan: encode")
		}
		if err := enc.Close(); err != nil {
			return eris.Wrap(err, "plan: encode")
		}

		if planStrict && skipped > 0 {
			return eris.Errorf("plan: %d entries would be skipped", skipped)
		}
		return nil
	},
}

func buildPlan(def *config.Definition, group string) ([]planEntry, int) {
	plan := pipeline.Plan(def, pipeline.PlanOptions{OnlyGroup: group})
	entries := make([]planEntry, 0, len(plan))
	skipped := 0
	for _, pu := range plan {
		if pu.Err != nil {
			entries = append(entries, planEntry{Skip: pu.Err.Error()})
			skipped++
			continue
		}
		u := pu.Unit
		entries = append(entries, planEntry{Unit: &u})
	}
	return entries, skipped
}

func init() {
	planCmd.Flags().StringVar(&planGroup, "group", "", "only plan the named group")
	planCmd.Flags().BoolVar(&planStrict, "strict", false, "exit non-zero when any entry would be skipped")
	rootCmd.AddCommand(planCmd)
}

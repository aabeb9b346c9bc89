package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sheetsync/internal/pipeline"
)

var (
	runGroup string
	runJSON  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one sync and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if runGroup != "" {
			cfg.OnlyGroup = runGroup
		}

		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		rep := env.Pipeline.Execute(ctx, "cli")
		if err := printReport(cmd, rep); err != nil {
			return err
		}

		if rep.SetupFailed {
			return eris.New("run aborted")
		}
		return nil
	},
}

func printReport(cmd *cobra.Command, rep pipeline.Report) error {
	out := cmd.OutOrStdout()
	if runJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"run_id":   rep.RunID,
			"duration": rep.Duration.Seconds(),
			"outcomes": rep.Result.Outcomes,
		})
	}

	for _, line := range rep.Result.Lines() {
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	zap.L().Info("run complete",
		zap.String("run_id", rep.RunID),
		zap.Duration("duration", rep.Duration),
	)
	return nil
}

func init() {
	runCmd.Flags().StringVar(&runGroup, "group", "", "only run the named group ("+pipeline.OnlyGroupEnv+" takes precedence)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(runCmd)
}

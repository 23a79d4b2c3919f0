package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quizline/curator/internal/scoring"
)

var gatherSettingsPath string

var gatherCmd = &cobra.Command{
	Use:   "gather",
	Short: "Scan the pool and flag low-performing questions",
	Long:  "Evaluates every scorable question against the pruning thresholds (like rate, view duration, hidden rate, style/tone similarity) and upserts a pending pruning target per flagged question.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("gather"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		settingsPath := gatherSettingsPath
		if settingsPath == "" {
			settingsPath = cfg.Scoring.SettingsPath
		}
		settings, err := scoring.LoadSettings(ctx, st, settingsPath)
		if err != nil {
			return err
		}

		found, err := scoring.NewEngine(st, settings).Gather(ctx)
		if err != nil {
			return err
		}

		zap.L().Info("gather complete", zap.Int("targets_found", found))
		fmt.Printf("targets found: %d\n", found)
		return nil
	},
}

func init() {
	gatherCmd.Flags().StringVar(&gatherSettingsPath, "settings", "", "YAML file overriding pruning thresholds (default from config)")
	rootCmd.AddCommand(gatherCmd)
}

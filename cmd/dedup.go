package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quizline/curator/internal/dedup"
)

var dedupMinConfidence float64

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Run duplicate question detection",
	Long:  "Finds duplicate questions in two stages: a lexical pass over normalized text, then model-assisted grouping over fixed-size batches. Progress is recorded as a job; check it with 'curator jobs'.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("dedup"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		detector := dedup.NewDetector(st, groupingModel(), dedup.Config{
			BatchSize:     cfg.Dedup.BatchSize,
			KeepRuns:      cfg.Dedup.KeepRuns,
			MaxBatchErrs:  cfg.Dedup.MaxBatchErrs,
			MinConfidence: dedupMinConfidence,
		})

		jobID, err := detector.Run(ctx)
		if jobID != "" {
			fmt.Printf("job: %s\n", jobID)
		}
		return err
	},
}

func init() {
	dedupCmd.Flags().Float64Var(&dedupMinConfidence, "min-confidence", 0, "discard model-proposed clusters below this confidence")
	rootCmd.AddCommand(dedupCmd)
}

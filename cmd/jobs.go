package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quizline/curator/internal/dedup"
	"github.com/quizline/curator/internal/model"
)

var (
	jobsKind  string
	jobsLimit int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent background jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("jobs"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.ListJobProgress(ctx, jobsKind, jobsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			zap.L().Info("no job runs recorded", zap.String("kind", jobsKind))
			return nil
		}

		formatJobRuns(os.Stdout, runs)
		return nil
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job run in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("jobs"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		run, err := st.GetJobProgress(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("id:        %s\n", run.ID)
		fmt.Printf("kind:      %s\n", run.Kind)
		fmt.Printf("status:    %s\n", run.Status)
		fmt.Printf("progress:  %d/%d units, batch %d/%d\n", run.ProcessedUnits, run.TotalUnits, run.CurrentBatch, run.TotalBatches)
		fmt.Printf("results:   %d\n", run.ResultsFound)
		fmt.Printf("started:   %s\n", run.StartedAt.Format(time.RFC3339))
		if run.CompletedAt != nil {
			fmt.Printf("completed: %s (%s)\n", run.CompletedAt.Format(time.RFC3339), run.CompletedAt.Sub(run.StartedAt).Round(time.Second))
		}
		for _, e := range run.Errors {
			fmt.Printf("error:     %s\n", e)
		}
		return nil
	},
}

func formatJobRuns(out io.Writer, runs []model.JobProgress) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tSTATUS\tPROGRESS\tRESULTS\tERRORS\tSTARTED\tDURATION")

	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%d\t%s\t%s\n",
			r.ID,
			r.Kind,
			r.Status,
			r.ProcessedUnits, r.TotalUnits,
			r.ResultsFound,
			len(r.Errors),
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

func init() {
	jobsCmd.Flags().StringVar(&jobsKind, "kind", dedup.JobKind, "job kind to list")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "maximum runs to list")
	jobsCmd.AddCommand(jobsShowCmd)
	rootCmd.AddCommand(jobsCmd)
}

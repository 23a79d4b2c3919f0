package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/quizline/curator/internal/dedup"
	"github.com/quizline/curator/internal/monitoring"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pool and pipeline health",
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

		snap, err := monitoring.NewCollector(st, dedup.JobKind).Collect(ctx)
		if err != nil {
			return err
		}
		formatSnapshot(os.Stdout, snap)
		return nil
	},
}

func formatSnapshot(out io.Writer, snap *monitoring.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SECTION\tSTATUS\tCOUNT")
	writeCounts(w, "questions", snap.Questions)
	writeCounts(w, "pruning_targets", snap.PruningTargets)
	writeCounts(w, "detections", snap.Detections)
	_ = w.Flush()

	for kind, run := range snap.LatestJobs {
		completed := "-"
		if run.CompletedAt != nil {
			completed = run.CompletedAt.Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(out, "latest %s job: %s %s (%d/%d units, %d results, completed %s)\n",
			kind, run.ID, run.Status, run.ProcessedUnits, run.TotalUnits, run.ResultsFound, completed)
	}
}

func writeCounts(w io.Writer, section string, counts map[string]int) {
	statuses := make([]string, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\n", section, status, counts[status])
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

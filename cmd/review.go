package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quizline/curator/internal/model"
	"github.com/quizline/curator/internal/review"
	"github.com/quizline/curator/internal/store"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review duplicate detections and pruning targets",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending detections and pruning targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("review"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		svc := review.NewService(st)
		detections, err := svc.ListPendingDetections(ctx, 0)
		if err != nil {
			return err
		}
		targets, err := st.ListPruningTargets(ctx, store.TargetFilter{Status: model.PruningTargetStatusPending})
		if err != nil {
			return err
		}

		if len(detections) == 0 && len(targets) == 0 {
			zap.L().Info("nothing pending review")
			return nil
		}
		formatDetections(os.Stdout, detections)
		formatTargets(os.Stdout, targets)
		return nil
	},
}

var (
	mergeKeepID    string
	mergeDeleteIDs []string
)

var reviewMergeCmd = &cobra.Command{
	Use:   "merge <detection-id>",
	Short: "Merge a duplicate cluster, keeping one question",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("review"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		return review.NewService(st).ResolveMerge(ctx, args[0], mergeKeepID, mergeDeleteIDs)
	},
}

var (
	rejectReviewer string
	rejectReason   string
)

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <detection-id>",
	Short: "Reject a duplicate cluster, keeping all members",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("review"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		return review.NewService(st).ResolveRejectFully(ctx, args[0], rejectReviewer, rejectReason)
	},
}

var reviewDeleteAllCmd = &cobra.Command{
	Use:   "delete-all <detection-id>",
	Short: "Delete every member of a duplicate cluster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("review"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		return review.NewService(st).ResolveDeleteAll(ctx, args[0])
	},
}

var reviewApprovePruningCmd = &cobra.Command{
	Use:   "approve-pruning <target-id>",
	Short: "Prune the question flagged by a pruning target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("review"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		return review.NewService(st).ApprovePruning(ctx, args[0])
	},
}

var reviewRejectPruningCmd = &cobra.Command{
	Use:   "reject-pruning <target-id>",
	Short: "Dismiss a pruning target, keeping the question",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("review"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		return review.NewService(st).RejectPruning(ctx, args[0])
	},
}

func formatDetections(out io.Writer, detections []model.DetectionReview) {
	if len(detections) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out, "Pending duplicate detections:")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCONFIDENCE\tMEMBERS\tREASON")
	for _, d := range detections {
		texts := make([]string, len(d.Members))
		for i, m := range d.Members {
			texts[i] = truncate(m.Question.Text, 30)
		}
		_, _ = fmt.Fprintf(w, "%s\t%.2f\t%s\t%s\n",
			d.Detection.ID,
			d.Detection.Confidence,
			strings.Join(texts, " | "),
			truncate(d.Detection.Reason, 50),
		)
	}
	_ = w.Flush()
}

func formatTargets(out io.Writer, targets []model.PruningTarget) {
	if len(targets) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out, "Pending pruning targets:")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tQUESTION\tSHOWS\tLIKES\tHIDDEN\tREASON")
	for _, t := range targets {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
			t.ID,
			t.QuestionID,
			t.Metrics.TotalShows,
			t.Metrics.TotalLikes,
			t.Metrics.HiddenCount,
			truncate(t.Reason, 60),
		)
	}
	_ = w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func init() {
	reviewMergeCmd.Flags().StringVar(&mergeKeepID, "keep", "", "question id to keep (required)")
	reviewMergeCmd.Flags().StringSliceVar(&mergeDeleteIDs, "delete", nil, "question ids to delete")
	_ = reviewMergeCmd.MarkFlagRequired("keep")

	reviewRejectCmd.Flags().StringVar(&rejectReviewer, "reviewer", "", "reviewer email for attribution")
	reviewRejectCmd.Flags().StringVar(&rejectReason, "reason", "", "why the cluster is not a duplicate")

	reviewCmd.AddCommand(reviewListCmd, reviewMergeCmd, reviewRejectCmd, reviewDeleteAllCmd, reviewApprovePruningCmd, reviewRejectPruningCmd)
	rootCmd.AddCommand(reviewCmd)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quizline/curator/internal/model"
	"github.com/quizline/curator/internal/retrieval"
)

var (
	selectUserID string
	selectEmail  string
	selectPeek   bool
)

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Select one question for a consumer",
	Long:  "Walks the retrieval cascade for the given consumer: assigned pool, preference similarity, generative fallback, random. Marks the question sent unless --peek is given.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("select"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		cascade := retrieval.NewCascade(st, generationModel(), retrieval.Config{
			SimilarityTopK: cfg.Retrieval.SimilarityTopK,
		})
		ref := model.ConsumerRef{UserID: selectUserID, Email: selectEmail}

		var (
			q    *model.Question
			tier retrieval.Tier
		)
		if selectPeek {
			q, tier, err = cascade.Peek(ctx, ref)
		} else {
			q, tier, err = cascade.Select(ctx, ref)
		}
		if err != nil {
			return err
		}

		fmt.Printf("tier:     %s\n", tier)
		fmt.Printf("question: %s\n", q.ID)
		fmt.Printf("text:     %s\n", q.Text)
		return nil
	},
}

func init() {
	selectCmd.Flags().StringVar(&selectUserID, "user", "", "registered user id")
	selectCmd.Flags().StringVar(&selectEmail, "email", "", "anonymous subscriber email")
	selectCmd.Flags().BoolVar(&selectPeek, "peek", false, "preview without marking the question sent")
	rootCmd.AddCommand(selectCmd)
}

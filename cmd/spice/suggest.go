package main

import (
	"fmt"

	"github.com/Veraticus/spice-feedback/internal/cli"
	"github.com/Veraticus/spice-feedback/internal/model"
	"github.com/Veraticus/spice-feedback/internal/suggest"
	"github.com/spf13/cobra"
)

func suggestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggest <transaction-id>...",
		Short: "Suggest categories for transactions",
		Long: `Suggest a category for each transaction. Candidates come from the rule
engine or the model engine depending on the canary rollout, are re-ranked by
accumulated feedback, and fall back to "ask agent" below the confidence gate.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")

			a, cleanup, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			results, err := a.service.Suggest(cmd.Context(), args)
			if err != nil {
				return err
			}

			return writeOutput(cmd.OutOrStdout(), format, results, func() string {
				return renderSuggestions(results, a.cfg.Scoring.AskAgentThreshold)
			})
		},
	}

	cmd.Flags().StringP("format", "f", "table", "output format (table, json, yaml)")
	return cmd
}

func renderSuggestions(results []model.SuggestionResult, threshold float64) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		if r.AskAgent {
			reason := r.Reasoning
			if reason == "" {
				reason = "confidence below gate"
			}
			rows = append(rows, []string{r.TransactionID, cli.AgentIcon + " ask agent", "", cli.FormatSource(string(r.Source)), reason})
			continue
		}
		rows = append(rows, []string{
			r.TransactionID,
			r.Category,
			cli.FormatConfidence(r.Confidence, threshold),
			cli.FormatSource(string(r.Source)),
			r.Reasoning,
		})
	}
	return cli.RenderTable([]string{"TRANSACTION", "CATEGORY", "CONFIDENCE", "SOURCE", "REASONING"}, rows)
}

func feedbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Record acceptance or rejection of a category",
		Long: `Record that a category was accepted or rejected for a transaction. The
write happens in the background; this command waits for it before exiting.
Accepting a category can promote a merchant hint immediately.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			txnID, _ := flags.GetString("transaction")
			category, _ := flags.GetString("category")
			action, _ := flags.GetString("action")
			suggestionID, _ := flags.GetString("suggestion")
			merchant, _ := flags.GetString("merchant")
			user, _ := flags.GetString("user")
			modelVersion, _ := flags.GetString("model-version")
			source, _ := flags.GetString("source")

			req := suggest.FeedbackRequest{
				TransactionID: txnID,
				SuggestionID:  suggestionID,
				UserID:        user,
				Merchant:      merchant,
				Category:      category,
				ModelVersion:  modelVersion,
				Action:        model.FeedbackAction(action),
				Source:        model.SuggestionSource(source),
			}
			if flags.Changed("score") {
				score, _ := flags.GetFloat64("score")
				req.Score = &score
			}
			if err := req.Validate(); err != nil {
				return err
			}

			a, cleanup, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := a.service.RecordFeedback(cmd.Context(), req); err != nil {
				return err
			}
			a.service.Wait()

			if a.service.Metrics().Snapshot().FeedbackFailed > 0 {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), cli.FormatWarning("feedback could not be stored; see log"))
				return nil
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("recorded %s of %q for %s", action, category, txnID)))
			return err
		},
	}

	cmd.Flags().String("transaction", "", "transaction ID")
	cmd.Flags().String("category", "", "category the user chose or rejected")
	cmd.Flags().String("action", "", "accept or reject")
	cmd.Flags().String("suggestion", "", "suggestion ID returned by suggest")
	cmd.Flags().String("merchant", "", "normalized merchant (default: looked up)")
	cmd.Flags().String("user", "", "user reference")
	cmd.Flags().Float64("score", 0, "score shown at the time (default: the suggestion's confidence)")
	cmd.Flags().String("model-version", "", "model version tag")
	cmd.Flags().String("source", "", "suggestion source (rule or model)")
	_ = cmd.MarkFlagRequired("transaction")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("action")

	return cmd
}

package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/spice-feedback/internal/cli"
	"github.com/Veraticus/spice-feedback/internal/hints"
	"github.com/Veraticus/spice-feedback/internal/model"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func hintsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "hints",
		Aliases: []string{"hint"},
		Short:   "Inspect and promote merchant category hints",
	}

	cmd.AddCommand(hintsListCmd())
	cmd.AddCommand(hintsPromoteCmd())

	return cmd
}

func hintsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List promoted hints, most recently updated first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			format, _ := cmd.Flags().GetString("format")

			db, cleanup, err := getDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			page, err := db.ListHints(cmd.Context(), limit, offset)
			if err != nil {
				return fmt.Errorf("failed to list hints: %w", err)
			}

			return writeOutput(cmd.OutOrStdout(), format, page, func() string {
				return renderHintPage(page)
			})
		},
	}

	cmd.Flags().Int("limit", 50, "maximum hints to show")
	cmd.Flags().Int("offset", 0, "hints to skip")
	cmd.Flags().StringP("format", "f", "table", "output format (table, json, yaml)")
	return cmd
}

func renderHintPage(page *model.HintPage) string {
	if len(page.Hints) == 0 {
		return cli.SubtleStyle.Render("No hints promoted yet") + "\n"
	}

	rows := make([][]string, 0, len(page.Hints))
	for _, h := range page.Hints {
		rows = append(rows, []string{
			h.MerchantNormalized,
			h.Category,
			fmt.Sprintf("%.2f", h.Confidence),
			fmt.Sprintf("%d", h.Support),
			h.UpdatedAt.Format("2006-01-02 15:04"),
		})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", cli.FormatTitle("Merchant hints"))
	b.WriteString(cli.RenderTable([]string{"MERCHANT", "CATEGORY", "CONFIDENCE", "SUPPORT", "UPDATED"}, rows))
	fmt.Fprintf(&b, "%s\n", cli.SubtleStyle.Render(fmt.Sprintf("showing %d-%d of %d", page.Offset+1, page.Offset+len(page.Hints), page.Total)))
	if page.HasMore() {
		fmt.Fprintf(&b, "%s\n", cli.SubtleStyle.Render(fmt.Sprintf("next page: --offset %d", page.Offset+len(page.Hints))))
	}
	return b.String()
}

func hintsPromoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Promote reliable merchant mappings into hints",
		Long: `Scan accumulated feedback and promote every merchant whose strongest
category is accepted often enough into a durable hint. Runs are idempotent;
a failure on one merchant does not stop the others.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, _ := cmd.Flags().GetString("format")
			quiet, _ := cmd.Flags().GetBool("quiet")

			db, cleanup, err := getDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			promoter := hints.NewPromoter(db, currentConfig().Promotion.MaxAttempts)

			var bar *progressbar.ProgressBar
			progress := func(done, total int) {
				if quiet || format != "table" {
					return
				}
				if bar == nil {
					bar = newProgressBar(cmd.ErrOrStderr(), total)
				}
				if err := bar.Set(done); err != nil {
					slog.Warn("Failed to update progress bar", "error", err)
				}
			}

			summary, err := promoter.Run(cmd.Context(), progress)
			if err != nil {
				return err
			}

			return writeOutput(cmd.OutOrStdout(), format, summary, func() string {
				return renderPromotionSummary(summary)
			})
		},
	}

	cmd.Flags().StringP("format", "f", "table", "output format (table, json, yaml)")
	cmd.Flags().BoolP("quiet", "q", false, "hide the progress bar")
	return cmd
}

func newProgressBar(w io.Writer, total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Promoting hints...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(w); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
}

func renderPromotionSummary(s *hints.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", cli.FormatSuccess(fmt.Sprintf("promoted: %d", s.Promoted)))
	fmt.Fprintf(&b, "unchanged: %d\n", s.Unchanged)
	fmt.Fprintf(&b, "skipped: %d\n", s.Skipped)
	if s.Errors > 0 {
		fmt.Fprintf(&b, "%s\n", cli.FormatError(fmt.Sprintf("errors: %d", s.Errors)))
	} else {
		b.WriteString("errors: 0\n")
	}
	fmt.Fprintf(&b, "took %s", s.Duration.Round(time.Millisecond))

	var rows [][]string
	for _, d := range s.Details {
		if d.Outcome == hints.OutcomeSkipped {
			continue
		}
		rows = append(rows, []string{d.Merchant, d.Category, string(d.Outcome), fmt.Sprintf("%.2f", d.Confidence), d.Reason})
	}

	out := cli.RenderBox("Hint promotion", b.String()) + "\n"
	if len(rows) > 0 {
		out += cli.RenderTable([]string{"MERCHANT", "CATEGORY", "OUTCOME", "CONFIDENCE", "REASON"}, rows)
	}
	return out
}

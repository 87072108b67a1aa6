package hints

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/Veraticus/spice-feedback/internal/common"
	"github.com/Veraticus/spice-feedback/internal/model"
	"github.com/Veraticus/spice-feedback/internal/service"
)

// Store is the persistence a Promoter needs.
type Store interface {
	service.StatsReader
	service.HintStore
}

// Outcome describes what happened to one (merchant, category) pair.
type Outcome string

// Outcomes recorded in a run summary.
const (
	OutcomePromoted  Outcome = "promoted"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeError     Outcome = "error"
)

// Detail is the per-pair record of a promotion run.
type Detail struct {
	Merchant   string  `json:"merchant" yaml:"merchant"`
	Category   string  `json:"category" yaml:"category"`
	Outcome    Outcome `json:"outcome" yaml:"outcome"`
	Reason     string  `json:"reason,omitempty" yaml:"reason,omitempty"`
	Confidence float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Support    int     `json:"support,omitempty" yaml:"support,omitempty"`
}

// Summary aggregates a promotion run.
type Summary struct {
	Details   []Detail      `json:"details" yaml:"details"`
	Promoted  int           `json:"promoted" yaml:"promoted"`
	Unchanged int           `json:"unchanged" yaml:"unchanged"`
	Skipped   int           `json:"skipped" yaml:"skipped"`
	Errors    int           `json:"errors" yaml:"errors"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}

func (s *Summary) add(d Detail) {
	switch d.Outcome {
	case OutcomePromoted:
		s.Promoted++
	case OutcomeUnchanged:
		s.Unchanged++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeError:
		s.Errors++
	}
	s.Details = append(s.Details, d)
}

// ProgressFunc is called after each merchant is processed.
type ProgressFunc func(done, total int)

// Promoter mines feedback aggregates into merchant hints.
type Promoter struct {
	store Store
	now   func() time.Time
	retry common.RetryOptions
}

// NewPromoter creates a Promoter. maxAttempts bounds retries after a lost
// optimistic-version race; values <= 0 use the retry default.
func NewPromoter(store Store, maxAttempts int) *Promoter {
	return &Promoter{
		store: store,
		now:   time.Now,
		retry: common.RetryOptions{
			MaxAttempts:  maxAttempts,
			InitialDelay: 5 * time.Millisecond,
			MaxDelay:     100 * time.Millisecond,
		},
	}
}

// SetClock overrides the promoter clock. Intended for tests.
func (p *Promoter) SetClock(now func() time.Time) {
	p.now = now
}

// Run evaluates every aggregate. Failures are isolated per merchant and
// reported in the summary; the returned error is non-nil only when the
// aggregates cannot be read or ctx is canceled.
func (p *Promoter) Run(ctx context.Context, progress ProgressFunc) (*Summary, error) {
	start := time.Now()

	all, err := p.store.ListStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback stats: %w", err)
	}

	byMerchant := groupByMerchant(all)
	merchants := make([]string, 0, len(byMerchant))
	for m := range byMerchant {
		merchants = append(merchants, m)
	}
	sort.Strings(merchants)

	slog.Info("Starting hint promotion",
		"pairs", len(all),
		"merchants", len(merchants))

	summary := &Summary{Details: make([]Detail, 0, len(all))}
	for i, merchant := range merchants {
		if err := ctx.Err(); err != nil {
			summary.Duration = time.Since(start)
			return summary, err
		}

		for _, d := range p.promoteMerchant(ctx, merchant, byMerchant[merchant]) {
			summary.add(d)
		}
		if progress != nil {
			progress(i+1, len(merchants))
		}
	}

	summary.Duration = time.Since(start)
	slog.Info("Hint promotion complete",
		"promoted", summary.Promoted,
		"unchanged", summary.Unchanged,
		"skipped", summary.Skipped,
		"errors", summary.Errors,
		"duration", summary.Duration)

	return summary, nil
}

// PromoteMerchant evaluates one merchant's aggregates.
func (p *Promoter) PromoteMerchant(ctx context.Context, merchant string) (*Summary, error) {
	stats, err := p.store.ListStatsForMerchant(ctx, merchant)
	if err != nil {
		return nil, fmt.Errorf("failed to list stats for %q: %w", merchant, err)
	}

	summary := &Summary{}
	for _, d := range p.promoteMerchant(ctx, merchant, stats) {
		summary.add(d)
	}
	return summary, nil
}

// promoteMerchant picks the strongest eligible category for a merchant and
// writes it. Every other pair is reported as skipped.
func (p *Promoter) promoteMerchant(ctx context.Context, merchant string, stats []model.MerchantCategoryStats) []Detail {
	now := p.now()
	details := make([]Detail, 0, len(stats))

	var eligible []Detail
	for _, s := range stats {
		d := Detail{Merchant: merchant, Category: s.Category, Support: s.Total()}
		if !Eligible(s) {
			d.Outcome = OutcomeSkipped
			d.Reason = ineligibleReason(s)
			details = append(details, d)
			continue
		}
		d.Confidence = Confidence(s, now)
		eligible = append(eligible, d)
	}
	if len(eligible) == 0 {
		return details
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Support != b.Support {
			return a.Support > b.Support
		}
		return a.Category < b.Category
	})

	for _, d := range eligible[1:] {
		d.Outcome = OutcomeSkipped
		d.Reason = fmt.Sprintf("outranked by %s", eligible[0].Category)
		details = append(details, d)
	}

	best := eligible[0]
	outcome, err := p.write(ctx, best)
	if err != nil {
		slog.Warn("Failed to promote hint",
			"merchant", merchant,
			"category", best.Category,
			"error", err)
		best.Outcome = OutcomeError
		best.Reason = err.Error()
	} else {
		best.Outcome = outcome
	}
	return append(details, best)
}

// write upserts the hint, re-reading the current version after a lost race.
func (p *Promoter) write(ctx context.Context, d Detail) (Outcome, error) {
	var outcome Outcome
	err := common.WithRetry(ctx, func() error {
		current, err := p.store.GetHint(ctx, d.Merchant)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return common.Permanent(err)
		}

		expected := 0
		hint := &model.MerchantCategoryHint{
			MerchantNormalized: d.Merchant,
			Category:           d.Category,
			Confidence:         d.Confidence,
			Support:            d.Support,
		}
		if current != nil {
			if unchanged(current, hint) {
				outcome = OutcomeUnchanged
				return nil
			}
			expected = current.Version
			hint.CreatedAt = current.CreatedAt
		}

		if err := p.store.UpsertHint(ctx, hint, expected); err != nil {
			if errors.Is(err, common.ErrPromotionConflict) {
				return err
			}
			return common.Permanent(err)
		}
		outcome = OutcomePromoted
		return nil
	}, p.retry)
	return outcome, err
}

func unchanged(current, next *model.MerchantCategoryHint) bool {
	return current.Category == next.Category &&
		current.Support == next.Support &&
		math.Abs(current.Confidence-next.Confidence) < 1e-9
}

func ineligibleReason(s model.MerchantCategoryStats) string {
	switch {
	case s.Total() < MinTotal:
		return fmt.Sprintf("total %d below %d", s.Total(), MinTotal)
	case s.AcceptCount < MinAccepts:
		return fmt.Sprintf("accepts %d below %d", s.AcceptCount, MinAccepts)
	case s.AcceptRatio() < MinAcceptRatio:
		return fmt.Sprintf("accept ratio %.2f below %.2f", s.AcceptRatio(), MinAcceptRatio)
	default:
		return fmt.Sprintf("reject ratio %.2f above %.2f", s.RejectRatio(), MaxRejectRatio)
	}
}

func groupByMerchant(stats []model.MerchantCategoryStats) map[string][]model.MerchantCategoryStats {
	groups := make(map[string][]model.MerchantCategoryStats)
	for _, s := range stats {
		groups[s.Merchant] = append(groups[s.Merchant], s)
	}
	return groups
}

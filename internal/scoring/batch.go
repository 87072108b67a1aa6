package scoring

import (
	"context"
	"log/slog"
	"time"

	"github.com/Veraticus/spice-feedback/internal/metrics"
	"github.com/Veraticus/spice-feedback/internal/model"
	"github.com/Veraticus/spice-feedback/internal/service"
)

// Item is one transaction's engine-ordered candidate list.
type Item struct {
	TransactionID string
	Candidates    model.Candidates
}

// Result is a re-ranked candidate list with the confidence gate applied.
type Result struct {
	Top           *model.SuggestionCandidate
	TransactionID string
	Candidates    model.Candidates
	AskAgent      bool
}

// BatchScorer adjusts every candidate of a request against one stats snapshot.
type BatchScorer struct {
	store     service.FeedbackStore
	metrics   *metrics.Recorder
	now       func() time.Time
	threshold float64
}

// NewBatchScorer creates a scorer. A threshold <= 0 uses DefaultAskAgentThreshold.
// recorder may be nil.
func NewBatchScorer(store service.FeedbackStore, threshold float64, recorder *metrics.Recorder) *BatchScorer {
	if threshold <= 0 {
		threshold = DefaultAskAgentThreshold
	}
	return &BatchScorer{
		store:     store,
		metrics:   recorder,
		now:       time.Now,
		threshold: threshold,
	}
}

// SetClock overrides the scorer clock. Intended for tests.
func (b *BatchScorer) SetClock(now func() time.Time) {
	b.now = now
}

// Threshold returns the ask-agent threshold in use.
func (b *BatchScorer) Threshold() float64 {
	return b.threshold
}

// Score loads stats for the whole batch in one call and re-ranks each item.
// Input slices are not modified. When stats cannot be loaded the batch is
// ranked on base scores and degraded is true.
func (b *BatchScorer) Score(ctx context.Context, items []Item) (results []Result, degraded bool) {
	stats, err := b.store.LoadStats(ctx, collectKeys(items))
	if err != nil {
		slog.Warn("Scoring without feedback adjustment",
			"error", err,
			"transactions", len(items))
		if b.metrics != nil {
			b.metrics.StatsDegraded()
		}
		stats = nil
		degraded = true
	}

	now := b.now()
	results = make([]Result, 0, len(items))
	for _, item := range items {
		ranked := item.Candidates.Clone()
		for i := range ranked {
			var s *model.MerchantCategoryStats
			if found, ok := stats[ranked[i].Key()]; ok {
				s = &found
			}
			ranked[i].AdjustedScore = Adjust(ranked[i].BaseScore, s, now)
		}
		ranked.SortByAdjusted()

		results = append(results, Result{
			TransactionID: item.TransactionID,
			Candidates:    ranked,
			Top:           ranked.Top(),
			AskAgent:      b.ShouldAskAgent(ranked),
		})
	}
	return results, degraded
}

// ShouldAskAgent reports whether a ranked list fails the confidence gate.
func (b *BatchScorer) ShouldAskAgent(ranked model.Candidates) bool {
	top := ranked.Top()
	return top == nil || top.AdjustedScore < b.threshold
}

func collectKeys(items []Item) []model.StatsKey {
	seen := make(map[model.StatsKey]struct{})
	var keys []model.StatsKey
	for _, item := range items {
		for i := range item.Candidates {
			k := item.Candidates[i].Key()
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return keys
}

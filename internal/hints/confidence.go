// Package hints promotes reliable merchant/category feedback into durable merchant hints.
package hints

import (
	"math"
	"time"

	"github.com/Veraticus/spice-feedback/internal/model"
	"github.com/Veraticus/spice-feedback/internal/scoring"
)

// Promotion thresholds.
const (
	MinTotal       = 2
	MinAccepts     = 2
	MinAcceptRatio = 0.7
	MaxRejectRatio = 0.3

	baseConfidence   = 0.4
	ratioWeight      = 0.4
	maxVolumeBonus   = 0.20
	maxRejectPenalty = 0.30
	logScale         = 0.1
)

// Eligible reports whether stats qualify for promotion.
func Eligible(stats model.MerchantCategoryStats) bool {
	total := stats.Total()
	if total < MinTotal || stats.AcceptCount < MinAccepts {
		return false
	}
	return stats.AcceptRatio() >= MinAcceptRatio && stats.RejectRatio() <= MaxRejectRatio
}

// Confidence computes the hint confidence for eligible stats, clamped into
// [0, model.MaxHintConfidence].
func Confidence(stats model.MerchantCategoryStats, now time.Time) float64 {
	volume := math.Min(maxVolumeBonus, scaledLog(stats.Total()))
	penalty := math.Min(maxRejectPenalty, scaledLog(stats.RejectCount))

	c := baseConfidence + ratioWeight*stats.AcceptRatio() + volume - penalty +
		scoring.Recency(stats.LastFeedbackAt, now)

	return math.Max(0, math.Min(model.MaxHintConfidence, c))
}

func scaledLog(n int) float64 {
	return logScale * math.Log1p(float64(n))
}

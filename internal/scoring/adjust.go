// Package scoring blends historical accept/reject feedback into engine confidence scores.
package scoring

import (
	"math"
	"time"

	"github.com/Veraticus/spice-feedback/internal/model"
)

// Feedback weights.
const (
	AcceptWeight  = 0.20
	RejectWeight  = 0.30
	RecencyBonus  = 0.05
	RecencyWindow = 30 * 24 * time.Hour
)

// DefaultAskAgentThreshold is the adjusted score below which a transaction is routed to an agent.
const DefaultAskAgentThreshold = 0.50

// Adjust returns base blended with stats, clamped into [0, 1].
// A nil or zero-count stats value returns base unchanged.
func Adjust(base float64, stats *model.MerchantCategoryStats, now time.Time) float64 {
	if stats == nil || stats.Total() == 0 {
		return clamp(base, 0, 1)
	}

	boost := AcceptWeight * math.Log1p(float64(stats.AcceptCount))
	penalty := RejectWeight * math.Log1p(float64(stats.RejectCount))

	return clamp(base+boost-penalty+Recency(stats.LastFeedbackAt, now), 0, 1)
}

// Recency returns RecencyBonus when last falls within RecencyWindow of now.
func Recency(last, now time.Time) float64 {
	if last.IsZero() {
		return 0
	}
	if now.Sub(last) <= RecencyWindow {
		return RecencyBonus
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

package model

import "time"

// StatsKey identifies a merchant/category aggregate.
type StatsKey struct {
	Merchant string
	Category string
}

// MerchantCategoryStats is the running accept/reject tally for a merchant/category pair.
type MerchantCategoryStats struct {
	LastFeedbackAt time.Time
	Merchant       string
	Category       string
	AcceptCount    int
	RejectCount    int
}

// Key returns the aggregate key of the stats row.
func (s *MerchantCategoryStats) Key() StatsKey {
	return StatsKey{Merchant: s.Merchant, Category: s.Category}
}

// Total returns the overall feedback volume.
func (s *MerchantCategoryStats) Total() int {
	return s.AcceptCount + s.RejectCount
}

// AcceptRatio returns accepts over total, or 0 when there is no feedback.
func (s *MerchantCategoryStats) AcceptRatio() float64 {
	total := s.Total()
	if total == 0 {
		return 0
	}
	return float64(s.AcceptCount) / float64(total)
}

// RejectRatio returns rejects over total, or 0 when there is no feedback.
func (s *MerchantCategoryStats) RejectRatio() float64 {
	total := s.Total()
	if total == 0 {
		return 0
	}
	return float64(s.RejectCount) / float64(total)
}

package model

import (
	"fmt"
	"sort"
)

// SuggestionCandidate is one category an engine proposes for a transaction.
// It is never persisted.
type SuggestionCandidate struct {
	MerchantNormalized string
	Category           string
	Reason             string
	ModelVersion       string
	Source             SuggestionSource
	BaseScore          float64
	AdjustedScore      float64
}

// Validate ensures the candidate has usable data.
func (c *SuggestionCandidate) Validate() error {
	if c.Category == "" {
		return fmt.Errorf("category name is required")
	}

	if c.BaseScore < 0.0 || c.BaseScore > 1.0 {
		return fmt.Errorf("base score must be between 0.0 and 1.0, got %.2f", c.BaseScore)
	}

	if !c.Source.IsValid() {
		return fmt.Errorf("invalid candidate source %q", c.Source)
	}

	return nil
}

// Key returns the stats key the candidate is scored against.
func (c *SuggestionCandidate) Key() StatsKey {
	return StatsKey{Merchant: c.MerchantNormalized, Category: c.Category}
}

// Candidates is an engine-ordered list of suggestion candidates.
type Candidates []SuggestionCandidate

// SortByAdjusted orders candidates by adjusted score, highest first.
// Ties keep the engine's original order.
func (c Candidates) SortByAdjusted() {
	sort.SliceStable(c, func(i, j int) bool {
		return c[i].AdjustedScore > c[j].AdjustedScore
	})
}

// Top returns the first candidate, or nil if empty.
func (c Candidates) Top() *SuggestionCandidate {
	if len(c) == 0 {
		return nil
	}
	return &c[0]
}

// ResetAdjusted sets every adjusted score back to its base score.
func (c Candidates) ResetAdjusted() {
	for i := range c {
		c[i].AdjustedScore = c[i].BaseScore
	}
}

// Clone returns an independent copy of the list.
func (c Candidates) Clone() Candidates {
	if c == nil {
		return nil
	}
	out := make(Candidates, len(c))
	copy(out, c)
	return out
}

// Validate ensures all candidates in the slice are valid.
func (c Candidates) Validate() error {
	for i := range c {
		if err := c[i].Validate(); err != nil {
			return fmt.Errorf("invalid candidate at index %d: %w", i, err)
		}
	}
	return nil
}

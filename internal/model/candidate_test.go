package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSuggestionCandidate_Validate(t *testing.T) {
	tests := []struct {
		name      string
		errMsg    string
		candidate SuggestionCandidate
		wantErr   bool
	}{
		{
			name:      "valid rule candidate",
			candidate: SuggestionCandidate{Category: "Groceries", BaseScore: 0.8, Source: SourceRule},
		},
		{
			name:      "valid model candidate at bounds",
			candidate: SuggestionCandidate{Category: "Groceries", BaseScore: 1.0, Source: SourceModel},
		},
		{
			name:      "missing category",
			candidate: SuggestionCandidate{BaseScore: 0.5, Source: SourceRule},
			wantErr:   true,
			errMsg:    "category name is required",
		},
		{
			name:      "score above one",
			candidate: SuggestionCandidate{Category: "Dining", BaseScore: 1.2, Source: SourceRule},
			wantErr:   true,
			errMsg:    "base score must be between",
		},
		{
			name:      "unknown source",
			candidate: SuggestionCandidate{Category: "Dining", BaseScore: 0.5, Source: "oracle"},
			wantErr:   true,
			errMsg:    "invalid candidate source",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.candidate.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCandidates_SortByAdjustedIsStable(t *testing.T) {
	c := Candidates{
		{Category: "A", AdjustedScore: 0.5},
		{Category: "B", AdjustedScore: 0.9},
		{Category: "C", AdjustedScore: 0.5},
		{Category: "D", AdjustedScore: 0.7},
		{Category: "E", AdjustedScore: 0.5},
	}

	c.SortByAdjusted()

	got := make([]string, len(c))
	for i := range c {
		got[i] = c[i].Category
	}
	assert.Equal(t, []string{"B", "D", "A", "C", "E"}, got)
	assert.Equal(t, "B", c.Top().Category)
}

func TestCandidates_TopEmpty(t *testing.T) {
	var c Candidates
	assert.Nil(t, c.Top())
	assert.Nil(t, c.Clone())
}

func TestCandidates_ResetAndClone(t *testing.T) {
	c := Candidates{
		{Category: "A", BaseScore: 0.4, AdjustedScore: 0.9},
		{Category: "B", BaseScore: 0.6, AdjustedScore: 0.1},
	}
	clone := c.Clone()
	c.ResetAdjusted()

	assert.InDelta(t, 0.4, c[0].AdjustedScore, 1e-9)
	assert.InDelta(t, 0.6, c[1].AdjustedScore, 1e-9)
	assert.InDelta(t, 0.9, clone[0].AdjustedScore, 1e-9, "clone must not share backing array")
}

func TestParseFeedbackAction(t *testing.T) {
	a, err := ParseFeedbackAction(" Accept ")
	assert.NoError(t, err)
	assert.Equal(t, ActionAccept, a)

	a, err = ParseFeedbackAction("reject")
	assert.NoError(t, err)
	assert.Equal(t, ActionReject, a)

	_, err = ParseFeedbackAction("maybe")
	assert.Error(t, err)
}

func TestMerchantCategoryStats_Ratios(t *testing.T) {
	s := MerchantCategoryStats{AcceptCount: 12, RejectCount: 1}
	assert.Equal(t, 13, s.Total())
	assert.InDelta(t, 12.0/13.0, s.AcceptRatio(), 1e-9)
	assert.InDelta(t, 1.0/13.0, s.RejectRatio(), 1e-9)

	var empty MerchantCategoryStats
	assert.Zero(t, empty.AcceptRatio())
	assert.Zero(t, empty.RejectRatio())
}

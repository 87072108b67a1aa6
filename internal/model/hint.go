package model

import "time"

// MaxHintConfidence caps promoted hint confidence below certainty.
const MaxHintConfidence = 0.99

// MerchantCategoryHint is a durable merchant -> category mapping promoted from feedback.
type MerchantCategoryHint struct {
	CreatedAt          time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" yaml:"updated_at"`
	MerchantNormalized string    `json:"merchant" yaml:"merchant"`
	Category           string    `json:"category" yaml:"category"`
	Confidence         float64   `json:"confidence" yaml:"confidence"`
	Support            int       `json:"support" yaml:"support"`
	Version            int       `json:"-" yaml:"-"`
}

// HintPage is one page of hints ordered by recency.
type HintPage struct {
	Hints  []MerchantCategoryHint `json:"hints" yaml:"hints"`
	Total  int                    `json:"total" yaml:"total"`
	Limit  int                    `json:"limit" yaml:"limit"`
	Offset int                    `json:"offset" yaml:"offset"`
}

// HasMore reports whether another page follows this one.
func (p *HintPage) HasMore() bool {
	return p.Offset+len(p.Hints) < p.Total
}

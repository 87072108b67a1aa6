package model

import "time"

// SuggestionResult is the per-transaction answer of a suggestion batch.
// When AskAgent is set the category fields are empty.
type SuggestionResult struct {
	TransactionID string           `json:"transaction_id" yaml:"transaction_id"`
	SuggestionID  string           `json:"suggestion_id,omitempty" yaml:"suggestion_id,omitempty"`
	Category      string           `json:"category,omitempty" yaml:"category,omitempty"`
	Source        SuggestionSource `json:"source,omitempty" yaml:"source,omitempty"`
	ModelVersion  string           `json:"model_version,omitempty" yaml:"model_version,omitempty"`
	Reasoning     string           `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	Confidence    float64          `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	AskAgent      bool             `json:"ask_agent,omitempty" yaml:"ask_agent,omitempty"`
}

// SuggestionRecord is a logged suggestion that may later be accepted.
type SuggestionRecord struct {
	CreatedAt     time.Time
	AcceptedAt    *time.Time
	ID            string
	TransactionID string
	Merchant      string
	Category      string
	ModelVersion  string
	Source        SuggestionSource
	Confidence    float64
	Accepted      bool
}

// SourceAcceptRate summarizes suggestion outcomes for one source.
type SourceAcceptRate struct {
	Source   SuggestionSource `json:"source" yaml:"source"`
	Shown    int              `json:"shown" yaml:"shown"`
	Accepted int              `json:"accepted" yaml:"accepted"`
}

// Rate returns accepted over shown, or 0 when nothing was shown.
func (r SourceAcceptRate) Rate() float64 {
	if r.Shown == 0 {
		return 0
	}
	return float64(r.Accepted) / float64(r.Shown)
}

// ShadowComparison records both engines' top picks for one transaction.
type ShadowComparison struct {
	CreatedAt     time.Time
	TransactionID string
	Routed        SuggestionSource
	RuleCategory  string
	ModelCategory string
	RuleScore     float64
	ModelScore    float64
}

// Agreed reports whether both engines picked the same top category.
func (c *ShadowComparison) Agreed() bool {
	return c.RuleCategory != "" && c.RuleCategory == c.ModelCategory
}

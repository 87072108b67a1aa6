// Package pattern is the rule engine: promoted merchant hints first, then
// operator-authored pattern rules.
package pattern

import (
	"context"

	"github.com/Veraticus/spice-feedback/internal/model"
)

// Matcher evaluates transactions against pattern rules.
type Matcher interface {
	// Match returns the rules that match txn, highest priority first.
	Match(ctx context.Context, txn model.Transaction) ([]Rule, error)
}

// Store is the persistence the rule engine reads from.
type Store interface {
	GetActivePatternRules(ctx context.Context) ([]model.PatternRule, error)
	GetHintsForMerchants(ctx context.Context, merchants []string) (map[string]model.MerchantCategoryHint, error)
}

// Rule is an alias to the model.PatternRule type for convenience.
type Rule = model.PatternRule

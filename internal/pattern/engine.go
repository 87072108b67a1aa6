package pattern

import (
	"context"
	"fmt"

	"github.com/Veraticus/spice-feedback/internal/common"
	"github.com/Veraticus/spice-feedback/internal/model"
)

// Engine produces rule-sourced candidates. A promoted hint for the merchant
// comes first, followed by matching pattern rules in priority order, with each
// category appearing at most once.
type Engine struct {
	store Store
}

// NewEngine creates a rule engine backed by store.
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// Suggest returns candidates keyed by transaction ID. Rules and hints are
// loaded once per call.
func (e *Engine) Suggest(ctx context.Context, txns []model.Transaction) (map[string]model.Candidates, error) {
	if len(txns) == 0 {
		return map[string]model.Candidates{}, nil
	}

	rules, err := e.store.GetActivePatternRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load pattern rules: %w", err)
	}
	matcher := NewMatcher(rules)

	merchants := make([]string, 0, len(txns))
	seen := make(map[string]bool, len(txns))
	for i := range txns {
		m := txns[i].Merchant()
		if m != "" && !seen[m] {
			seen[m] = true
			merchants = append(merchants, m)
		}
	}

	hints, err := e.store.GetHintsForMerchants(ctx, merchants)
	if err != nil {
		// Rules still produce useful candidates without hints.
		common.LogWarn(ctx, err, "Failed to load merchant hints", common.Fields{"merchants": len(merchants)})
		hints = nil
	}

	out := make(map[string]model.Candidates, len(txns))
	for _, txn := range txns {
		candidates, err := e.suggestOne(ctx, matcher, hints, txn)
		if err != nil {
			return nil, err
		}
		if len(candidates) > 0 {
			out[txn.ID] = candidates
		}
	}
	return out, nil
}

func (e *Engine) suggestOne(ctx context.Context, matcher Matcher, hints map[string]model.MerchantCategoryHint, txn model.Transaction) (model.Candidates, error) {
	merchant := txn.Merchant()
	var candidates model.Candidates
	used := make(map[string]bool)

	if hint, ok := hints[merchant]; ok {
		used[hint.Category] = true
		candidates = append(candidates, model.SuggestionCandidate{
			MerchantNormalized: merchant,
			Category:           hint.Category,
			Source:             model.SourceRule,
			BaseScore:          hint.Confidence,
			Reason:             fmt.Sprintf("promoted hint from %d confirmations", hint.Support),
		})
	}

	matches, err := matcher.Match(ctx, txn)
	if err != nil {
		return nil, fmt.Errorf("failed to match patterns: %w", err)
	}
	for _, rule := range matches {
		if used[rule.Category] {
			continue
		}
		used[rule.Category] = true
		candidates = append(candidates, model.SuggestionCandidate{
			MerchantNormalized: merchant,
			Category:           rule.Category,
			Source:             model.SourceRule,
			BaseScore:          rule.Confidence,
			Reason:             generateReason(merchant, rule),
		})
	}
	return candidates, nil
}

// generateReason creates a human-readable explanation for why a category was suggested.
func generateReason(merchant string, rule Rule) string {
	reason := fmt.Sprintf("Transactions from %s", merchant)

	switch model.AmountConditionType(rule.AmountCondition) {
	case model.AmountLessThan, model.AmountLessEqual:
		if rule.AmountValue != nil {
			reason += fmt.Sprintf(" under $%.2f", *rule.AmountValue)
		}
	case model.AmountGreaterThan, model.AmountGreaterEqual:
		if rule.AmountValue != nil {
			reason += fmt.Sprintf(" over $%.2f", *rule.AmountValue)
		}
	case model.AmountRange:
		if rule.AmountMin != nil && rule.AmountMax != nil {
			reason += fmt.Sprintf(" between $%.2f and $%.2f", *rule.AmountMin, *rule.AmountMax)
		}
	}

	return reason + fmt.Sprintf(" are usually categorized as %s (rule %q)", rule.Category, rule.Name)
}

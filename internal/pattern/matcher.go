package pattern

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/Veraticus/spice-feedback/internal/common"
	"github.com/Veraticus/spice-feedback/internal/model"
)

// MatcherImpl implements Matcher for evaluating pattern rules.
type MatcherImpl struct {
	compiledRegex map[int]*regexp.Regexp
	rules         []Rule
}

// NewMatcher creates a matcher over the active rules. Rules with patterns that
// fail to compile are logged and never match.
func NewMatcher(rules []Rule) *MatcherImpl {
	m := &MatcherImpl{
		rules:         make([]Rule, 0, len(rules)),
		compiledRegex: make(map[int]*regexp.Regexp),
	}

	for _, rule := range rules {
		if !rule.IsActive {
			continue
		}
		if rule.IsRegex {
			re, err := common.CompileMerchantPattern(rule.MerchantPattern)
			if err != nil {
				slog.Warn("Skipping pattern rule with invalid regex", "rule_id", rule.ID, "error", err)
				continue
			}
			m.compiledRegex[rule.ID] = re
		}
		m.rules = append(m.rules, rule)
	}

	sortRules(m.rules)
	return m
}

// Match evaluates a transaction against all configured patterns and returns matching rules.
func (m *MatcherImpl) Match(_ context.Context, txn model.Transaction) ([]Rule, error) {
	var matches []Rule
	for _, rule := range m.rules {
		if m.matchesMerchant(txn, rule) && matchesAmount(txn.Amount, rule) {
			matches = append(matches, rule)
		}
	}
	return matches, nil
}

// Len returns the number of usable rules.
func (m *MatcherImpl) Len() int {
	return len(m.rules)
}

func (m *MatcherImpl) matchesMerchant(txn model.Transaction, rule Rule) bool {
	if rule.MerchantPattern == "" {
		return true // No merchant pattern means match all
	}

	merchant := txn.Merchant()
	if rule.IsRegex {
		re, ok := m.compiledRegex[rule.ID]
		return ok && re.MatchString(merchant)
	}

	return strings.EqualFold(strings.TrimSpace(rule.MerchantPattern), strings.TrimSpace(merchant))
}

func matchesAmount(amount float64, rule Rule) bool {
	switch model.AmountConditionType(rule.AmountCondition) {
	case model.AmountAny, "":
		return true
	case model.AmountLessThan:
		return rule.AmountValue != nil && amount < *rule.AmountValue
	case model.AmountLessEqual:
		return rule.AmountValue != nil && amount <= *rule.AmountValue
	case model.AmountEqual:
		return rule.AmountValue != nil && amount == *rule.AmountValue
	case model.AmountGreaterEqual:
		return rule.AmountValue != nil && amount >= *rule.AmountValue
	case model.AmountGreaterThan:
		return rule.AmountValue != nil && amount > *rule.AmountValue
	case model.AmountRange:
		if rule.AmountMin != nil && amount < *rule.AmountMin {
			return false
		}
		if rule.AmountMax != nil && amount > *rule.AmountMax {
			return false
		}
		return true
	}
	return false
}

// sortRules orders by priority, then confidence, then ID.
func sortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		if rules[i].Confidence != rules[j].Confidence {
			return rules[i].Confidence > rules[j].Confidence
		}
		return rules[i].ID < rules[j].ID
	})
}

package pattern

import (
	"fmt"
	"strings"

	"github.com/Veraticus/spice-feedback/internal/common"
	"github.com/Veraticus/spice-feedback/internal/model"
)

// ValidateRule checks that a rule's amount condition carries the bounds it
// needs and that its merchant pattern compiles. It is stricter than what the
// store accepts and is meant for operator input.
func ValidateRule(rule *model.PatternRule) error {
	if rule == nil {
		return common.Validationf("pattern rule is required")
	}
	if strings.TrimSpace(rule.Category) == "" {
		return common.Validationf("rule %q has no category", rule.Name)
	}
	if rule.Confidence <= 0 || rule.Confidence > 1 {
		return common.Validationf("rule confidence must be in (0,1], got %.2f", rule.Confidence)
	}
	if rule.IsRegex {
		if _, err := common.CompileMerchantPattern(rule.MerchantPattern); err != nil {
			return err
		}
	}

	switch model.AmountConditionType(rule.AmountCondition) {
	case model.AmountAny, "":
		return nil
	case model.AmountLessThan, model.AmountLessEqual, model.AmountEqual,
		model.AmountGreaterEqual, model.AmountGreaterThan:
		if rule.AmountValue == nil {
			return common.Validationf("amount condition %q needs an amount value", rule.AmountCondition)
		}
		return nil
	case model.AmountRange:
		if rule.AmountMin == nil && rule.AmountMax == nil {
			return common.Validationf("range condition needs a minimum or a maximum")
		}
		if rule.AmountMin != nil && rule.AmountMax != nil && *rule.AmountMin > *rule.AmountMax {
			return common.Validationf("range minimum %.2f exceeds maximum %.2f", *rule.AmountMin, *rule.AmountMax)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown amount condition %q", common.ErrValidation, rule.AmountCondition)
}

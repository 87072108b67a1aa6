package model

import (
	"time"
)

// PatternRule is an operator-authored rule the rule engine evaluates against transactions.
type PatternRule struct {
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	AmountValue     *float64  `json:"amount_value,omitempty"`
	AmountMin       *float64  `json:"amount_min,omitempty"`
	AmountMax       *float64  `json:"amount_max,omitempty"`
	Name            string    `json:"name"`
	MerchantPattern string    `json:"merchant_pattern"`
	AmountCondition string    `json:"amount_condition"`
	Category        string    `json:"category"`
	Priority        int       `json:"priority"`
	ID              int       `json:"id"`
	Confidence      float64   `json:"confidence"`
	IsActive        bool      `json:"is_active"`
	IsRegex         bool      `json:"is_regex"`
}

// AmountConditionType represents the type of amount comparison.
type AmountConditionType string

// Amount condition constants.
const (
	AmountLessThan     AmountConditionType = "lt"
	AmountLessEqual    AmountConditionType = "le"
	AmountEqual        AmountConditionType = "eq"
	AmountGreaterEqual AmountConditionType = "ge"
	AmountGreaterThan  AmountConditionType = "gt"
	AmountRange        AmountConditionType = "range"
	AmountAny          AmountConditionType = "any"
)

// IsValidAmountCondition reports whether s names a known amount condition.
func IsValidAmountCondition(s string) bool {
	switch AmountConditionType(s) {
	case AmountLessThan, AmountLessEqual, AmountEqual, AmountGreaterEqual,
		AmountGreaterThan, AmountRange, AmountAny:
		return true
	}
	return false
}

// Package storage provides the data persistence layer for the spice application.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/spice-feedback/internal/common"
	"github.com/Veraticus/spice-feedback/internal/model"
)

// Validation errors. Each wraps common.ErrValidation.
var (
	ErrNilContext           = errors.New("context cannot be nil")
	ErrEmptyString          = fmt.Errorf("%w: string parameter cannot be empty", common.ErrValidation)
	ErrNilParameter         = fmt.Errorf("%w: parameter cannot be nil", common.ErrValidation)
	ErrInvalidTransaction   = fmt.Errorf("%w: invalid transaction", common.ErrValidation)
	ErrInvalidFeedbackEvent = fmt.Errorf("%w: invalid feedback event", common.ErrValidation)
	ErrInvalidHint          = fmt.Errorf("%w: invalid hint", common.ErrValidation)
	ErrInvalidSuggestion    = fmt.Errorf("%w: invalid suggestion", common.ErrValidation)
	ErrInvalidPatternRule   = fmt.Errorf("%w: invalid pattern rule", common.ErrValidation)
	ErrInvalidCanaryState   = fmt.Errorf("%w: invalid canary state", common.ErrValidation)
)

// ErrVersionConflict is returned when an optimistic version check fails.
var ErrVersionConflict = errors.New("version conflict")

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateTransactions validates a slice of transactions.
func validateTransactions(transactions []model.Transaction) error {
	for i := range transactions {
		if err := validateTransaction(&transactions[i]); err != nil {
			return fmt.Errorf("transaction at index %d: %w", i, err)
		}
	}
	return nil
}

// validateTransaction validates a single transaction.
func validateTransaction(txn *model.Transaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if txn.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidTransaction)
	}
	if txn.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidTransaction)
	}
	if strings.TrimSpace(txn.Merchant()) == "" {
		return fmt.Errorf("%w: missing merchant", ErrInvalidTransaction)
	}
	return nil
}

// validateFeedbackEvent validates a feedback event before it is persisted.
func validateFeedbackEvent(event *model.FeedbackEvent) error {
	if event == nil {
		return fmt.Errorf("%w: feedback event", ErrNilParameter)
	}
	if strings.TrimSpace(event.MerchantNormalized) == "" {
		return fmt.Errorf("%w: missing merchant", ErrInvalidFeedbackEvent)
	}
	if strings.TrimSpace(event.Category) == "" {
		return fmt.Errorf("%w: missing category", ErrInvalidFeedbackEvent)
	}
	if !event.Action.IsValid() {
		return fmt.Errorf("%w: invalid action %q", ErrInvalidFeedbackEvent, event.Action)
	}
	if event.Source != "" && !event.Source.IsValid() {
		return fmt.Errorf("%w: invalid source %q", ErrInvalidFeedbackEvent, event.Source)
	}
	if event.Score < 0 || event.Score > 1 {
		return fmt.Errorf("%w: score must be between 0 and 1", ErrInvalidFeedbackEvent)
	}
	return nil
}

// validateHint validates a hint before upsert.
func validateHint(hint *model.MerchantCategoryHint) error {
	if hint == nil {
		return fmt.Errorf("%w: hint", ErrNilParameter)
	}
	if strings.TrimSpace(hint.MerchantNormalized) == "" {
		return fmt.Errorf("%w: missing merchant", ErrInvalidHint)
	}
	if strings.TrimSpace(hint.Category) == "" {
		return fmt.Errorf("%w: missing category", ErrInvalidHint)
	}
	if hint.Confidence < 0 || hint.Confidence > model.MaxHintConfidence {
		return fmt.Errorf("%w: confidence must be between 0 and %.2f", ErrInvalidHint, model.MaxHintConfidence)
	}
	if hint.Support < 0 {
		return fmt.Errorf("%w: support must not be negative", ErrInvalidHint)
	}
	return nil
}

// validateSuggestion validates a suggestion record before it is logged.
func validateSuggestion(rec *model.SuggestionRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: suggestion", ErrNilParameter)
	}
	if rec.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidSuggestion)
	}
	if rec.TransactionID == "" {
		return fmt.Errorf("%w: missing transaction ID", ErrInvalidSuggestion)
	}
	if strings.TrimSpace(rec.Category) == "" {
		return fmt.Errorf("%w: missing category", ErrInvalidSuggestion)
	}
	if !rec.Source.IsValid() {
		return fmt.Errorf("%w: invalid source %q", ErrInvalidSuggestion, rec.Source)
	}
	return nil
}

// validatePatternRule validates a pattern rule.
func validatePatternRule(rule *model.PatternRule) error {
	if rule == nil {
		return fmt.Errorf("%w: pattern rule", ErrNilParameter)
	}
	if strings.TrimSpace(rule.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidPatternRule)
	}
	if strings.TrimSpace(rule.Category) == "" {
		return fmt.Errorf("%w: missing category", ErrInvalidPatternRule)
	}
	if rule.Confidence < 0 || rule.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be between 0 and 1", ErrInvalidPatternRule)
	}
	if rule.AmountCondition == "" {
		rule.AmountCondition = string(model.AmountAny)
	}
	if !model.IsValidAmountCondition(rule.AmountCondition) {
		return fmt.Errorf("%w: unknown amount condition %q", ErrInvalidPatternRule, rule.AmountCondition)
	}
	if rule.IsRegex {
		if _, err := common.CompileMerchantPattern(rule.MerchantPattern); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPatternRule, err)
		}
	}
	return nil
}

// validateCanaryState validates a rollout state before it is persisted.
func validateCanaryState(state *model.CanaryState) error {
	if state == nil {
		return fmt.Errorf("%w: canary state", ErrNilParameter)
	}
	if state.Percentage < 0 || state.Percentage > 100 {
		return fmt.Errorf("%w: percentage %d outside [0,100]", ErrInvalidCanaryState, state.Percentage)
	}
	return nil
}

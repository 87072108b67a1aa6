// Package model defines the core domain models used throughout the application.
package model

import (
	"fmt"
	"strings"
	"time"
)

// FeedbackAction is the user's response to a category suggestion.
type FeedbackAction string

// Feedback action constants.
const (
	ActionAccept FeedbackAction = "accept"
	ActionReject FeedbackAction = "reject"
)

// ParseFeedbackAction converts a user-supplied string into a FeedbackAction.
func ParseFeedbackAction(s string) (FeedbackAction, error) {
	switch FeedbackAction(strings.ToLower(strings.TrimSpace(s))) {
	case ActionAccept:
		return ActionAccept, nil
	case ActionReject:
		return ActionReject, nil
	default:
		return "", fmt.Errorf("unknown feedback action %q (want accept or reject)", s)
	}
}

// IsValid reports whether the action is one of the known constants.
func (a FeedbackAction) IsValid() bool {
	return a == ActionAccept || a == ActionReject
}

// SuggestionSource identifies which engine produced a candidate.
type SuggestionSource string

// Suggestion source constants.
const (
	SourceRule  SuggestionSource = "rule"
	SourceModel SuggestionSource = "model"
)

// ParseSuggestionSource converts a string into a SuggestionSource.
func ParseSuggestionSource(s string) (SuggestionSource, error) {
	switch SuggestionSource(strings.ToLower(strings.TrimSpace(s))) {
	case SourceRule:
		return SourceRule, nil
	case SourceModel:
		return SourceModel, nil
	default:
		return "", fmt.Errorf("unknown suggestion source %q (want rule or model)", s)
	}
}

// IsValid reports whether the source is one of the known constants.
func (s SuggestionSource) IsValid() bool {
	return s == SourceRule || s == SourceModel
}

// FeedbackEvent is an immutable record of a single accept or reject.
type FeedbackEvent struct {
	CreatedAt          time.Time
	ID                 string
	TransactionID      string
	UserID             string
	MerchantNormalized string
	Category           string
	Action             FeedbackAction
	ModelVersion       string
	Source             SuggestionSource
	Score              float64
}

// Key returns the aggregate key this event contributes to.
func (e *FeedbackEvent) Key() StatsKey {
	return StatsKey{Merchant: e.MerchantNormalized, Category: e.Category}
}

// Package service defines the persistence contracts shared by the suggestion pipeline.
// Consumers depend on the narrowest interface they need; Storage is the full contract
// the SQLite implementation satisfies.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/spice-feedback/internal/model"
)

// FeedbackStore is the durable feedback log plus its merchant/category aggregates.
type FeedbackStore interface {
	// RecordEvent persists the event and atomically increments its aggregate.
	RecordEvent(ctx context.Context, event *model.FeedbackEvent) error
	// LoadStats returns aggregates for all keys in one retrieval. Missing keys are absent.
	LoadStats(ctx context.Context, keys []model.StatsKey) (map[model.StatsKey]model.MerchantCategoryStats, error)
}

// StatsReader exposes the aggregate table for batch jobs.
type StatsReader interface {
	ListStats(ctx context.Context) ([]model.MerchantCategoryStats, error)
	ListStatsForMerchant(ctx context.Context, merchant string) ([]model.MerchantCategoryStats, error)
}

// HintStore persists promoted merchant hints.
type HintStore interface {
	GetHint(ctx context.Context, merchant string) (*model.MerchantCategoryHint, error)
	GetHintsForMerchants(ctx context.Context, merchants []string) (map[string]model.MerchantCategoryHint, error)
	UpsertHint(ctx context.Context, hint *model.MerchantCategoryHint, expectedVersion int) error
	ListHints(ctx context.Context, limit, offset int) (*model.HintPage, error)
}

// SuggestionLog records emitted suggestions and their acceptance.
type SuggestionLog interface {
	SaveSuggestions(ctx context.Context, records []model.SuggestionRecord) error
	GetSuggestion(ctx context.Context, id string) (*model.SuggestionRecord, error)
	LatestSuggestionForTransaction(ctx context.Context, transactionID string) (*model.SuggestionRecord, error)
	MarkSuggestionAccepted(ctx context.Context, id string) (bool, error)
	// RecordAcceptedEvent marks the suggestion accepted and records the event atomically.
	// It reports false when the suggestion was already accepted.
	RecordAcceptedEvent(ctx context.Context, suggestionID string, event *model.FeedbackEvent) (bool, error)
	AcceptRateBySource(ctx context.Context, since time.Time) (map[model.SuggestionSource]model.SourceAcceptRate, error)
	SaveShadowComparisons(ctx context.Context, comparisons []model.ShadowComparison) error
	ShadowAgreement(ctx context.Context, since time.Time) (compared, agreed int, err error)
}

// CanaryStore persists the rollout state.
type CanaryStore interface {
	EnsureCanaryState(ctx context.Context, seed model.CanaryState) (*model.CanaryState, error)
	LoadCanaryState(ctx context.Context) (*model.CanaryState, error)
	SaveCanaryState(ctx context.Context, next model.CanaryState, fromPercentage int, reason string) error
	CanaryHistory(ctx context.Context, limit int) ([]model.CanaryTransition, error)
}

// TransactionStore supplies already-normalized transactions.
type TransactionStore interface {
	SaveTransactions(ctx context.Context, transactions []model.Transaction) error
	GetTransactionsByIDs(ctx context.Context, ids []string) (map[string]model.Transaction, error)
}

// RuleStore supplies operator-authored pattern rules.
type RuleStore interface {
	CreatePatternRule(ctx context.Context, rule *model.PatternRule) error
	GetActivePatternRules(ctx context.Context) ([]model.PatternRule, error)
	ListPatternRules(ctx context.Context) ([]model.PatternRule, error)
	DeletePatternRule(ctx context.Context, id int) error
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	FeedbackStore
	StatsReader
	HintStore
	SuggestionLog
	CanaryStore
	TransactionStore
	RuleStore

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

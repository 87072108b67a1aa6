// Package testutil provides test helpers that set up migrated SQLite databases
// with seeded transactions, rules and feedback.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Veraticus/spice-feedback/internal/model"
	"github.com/Veraticus/spice-feedback/internal/storage"
)

// Now is the fixed clock used by databases created with WithFixedClock.
var Now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// TestDB is a migrated test database.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// Option seeds or configures a TestDB.
type Option func(ctx context.Context, db *TestDB)

// SetupTestDB creates a migrated file-backed database under t.TempDir and
// applies opts in order. The database is closed on cleanup.
func SetupTestDB(t *testing.T, opts ...Option) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	db := &TestDB{Storage: store, t: t}
	for _, opt := range opts {
		opt(ctx, db)
	}
	return db
}

// WithFixedClock pins the storage clock to Now.
func WithFixedClock() Option {
	return func(_ context.Context, db *TestDB) {
		db.Storage.SetClock(func() time.Time { return Now })
	}
}

// WithTransactions stores txns.
func WithTransactions(txns ...model.Transaction) Option {
	return func(ctx context.Context, db *TestDB) {
		db.t.Helper()
		if err := db.Storage.SaveTransactions(ctx, txns); err != nil {
			db.t.Fatalf("failed to seed transactions: %v", err)
		}
	}
}

// WithRules stores pattern rules.
func WithRules(rules ...model.PatternRule) Option {
	return func(ctx context.Context, db *TestDB) {
		db.t.Helper()
		for i := range rules {
			if err := db.Storage.CreatePatternRule(ctx, &rules[i]); err != nil {
				db.t.Fatalf("failed to seed rule %q: %v", rules[i].Name, err)
			}
		}
	}
}

// WithFeedback records accepts and rejects for one merchant and category.
func WithFeedback(merchant, category string, accepts, rejects int) Option {
	return func(ctx context.Context, db *TestDB) {
		db.t.Helper()
		db.RecordFeedback(ctx, merchant, category, accepts, rejects)
	}
}

// RecordFeedback records accepts and rejects for one merchant and category.
func (db *TestDB) RecordFeedback(ctx context.Context, merchant, category string, accepts, rejects int) {
	db.t.Helper()
	record := func(action model.FeedbackAction) {
		err := db.Storage.RecordEvent(ctx, &model.FeedbackEvent{
			MerchantNormalized: merchant,
			Category:           category,
			Action:             action,
		})
		if err != nil {
			db.t.Fatalf("failed to seed feedback for %s/%s: %v", merchant, category, err)
		}
	}
	for i := 0; i < accepts; i++ {
		record(model.ActionAccept)
	}
	for i := 0; i < rejects; i++ {
		record(model.ActionReject)
	}
}

// Transaction builds a transaction dated Now.
func Transaction(id, merchant string, amount float64) model.Transaction {
	return model.Transaction{ID: id, Date: Now, Name: merchant, MerchantName: merchant, Amount: amount}
}

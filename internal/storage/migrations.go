package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 5

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema: transactions and pattern rules",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					date DATETIME NOT NULL,
					name TEXT NOT NULL,
					merchant_normalized TEXT NOT NULL,
					amount REAL NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_transactions_merchant ON transactions(merchant_normalized)`,

				`CREATE TABLE IF NOT EXISTS pattern_rules (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL,
					merchant_pattern TEXT NOT NULL DEFAULT '',
					is_regex BOOLEAN NOT NULL DEFAULT 0,
					amount_condition TEXT NOT NULL DEFAULT 'any',
					amount_value REAL,
					amount_min REAL,
					amount_max REAL,
					category TEXT NOT NULL,
					confidence REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
					priority INTEGER NOT NULL DEFAULT 0,
					is_active BOOLEAN NOT NULL DEFAULT 1,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_pattern_rules_active ON pattern_rules(is_active, priority)`,
			)
		},
	},
	{
		Version:     2,
		Description: "Add feedback event log and merchant/category aggregates",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS feedback_events (
					id TEXT PRIMARY KEY,
					transaction_id TEXT NOT NULL,
					user_id TEXT NOT NULL DEFAULT '',
					merchant_normalized TEXT NOT NULL,
					category TEXT NOT NULL,
					action TEXT NOT NULL CHECK (action IN ('accept', 'reject')),
					score REAL NOT NULL DEFAULT 0,
					model_version TEXT NOT NULL DEFAULT '',
					source TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_feedback_events_key ON feedback_events(merchant_normalized, category)`,
				`CREATE INDEX idx_feedback_events_created ON feedback_events(created_at)`,

				`CREATE TABLE IF NOT EXISTS merchant_category_stats (
					merchant_normalized TEXT NOT NULL,
					category TEXT NOT NULL,
					accept_count INTEGER NOT NULL DEFAULT 0,
					reject_count INTEGER NOT NULL DEFAULT 0,
					last_feedback_ms INTEGER NOT NULL DEFAULT 0,
					PRIMARY KEY (merchant_normalized, category)
				)`,
			)
		},
	},
	{
		Version:     3,
		Description: "Add promoted merchant hints",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS merchant_category_hints (
					merchant_normalized TEXT PRIMARY KEY,
					category TEXT NOT NULL,
					confidence REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 0.99),
					support INTEGER NOT NULL DEFAULT 0,
					version INTEGER NOT NULL DEFAULT 1,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_hints_updated_at ON merchant_category_hints(updated_at)`,
			)
		},
	},
	{
		Version:     4,
		Description: "Add suggestion log and shadow comparisons",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS suggestions (
					id TEXT PRIMARY KEY,
					transaction_id TEXT NOT NULL,
					merchant_normalized TEXT NOT NULL,
					category TEXT NOT NULL,
					confidence REAL NOT NULL,
					source TEXT NOT NULL,
					model_version TEXT NOT NULL DEFAULT '',
					accepted INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL,
					accepted_at DATETIME
				)`,
				`CREATE INDEX idx_suggestions_transaction ON suggestions(transaction_id, created_at)`,
				`CREATE INDEX idx_suggestions_source_created ON suggestions(source, created_at)`,

				`CREATE TABLE IF NOT EXISTS shadow_comparisons (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					transaction_id TEXT NOT NULL,
					routed_source TEXT NOT NULL,
					rule_category TEXT NOT NULL DEFAULT '',
					rule_score REAL NOT NULL DEFAULT 0,
					model_category TEXT NOT NULL DEFAULT '',
					model_score REAL NOT NULL DEFAULT 0,
					agreed BOOLEAN NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_shadow_comparisons_created ON shadow_comparisons(created_at)`,
			)
		},
	},
	{
		Version:     5,
		Description: "Add canary rollout state and transition history",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS canary_state (
					id INTEGER PRIMARY KEY CHECK (id = 1),
					percentage INTEGER NOT NULL CHECK (percentage >= 0 AND percentage <= 100),
					shadow BOOLEAN NOT NULL DEFAULT 0,
					version INTEGER NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS canary_history (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					from_percentage INTEGER NOT NULL,
					to_percentage INTEGER NOT NULL,
					shadow BOOLEAN NOT NULL,
					version INTEGER NOT NULL,
					reason TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL
				)`,
			)
		},
	},
}

func execAll(tx *sql.Tx, queries ...string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

// SchemaVersion returns the database's current schema version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	currentVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	finalVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

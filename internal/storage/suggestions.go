package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/spice-feedback/internal/common"
	"github.com/Veraticus/spice-feedback/internal/model"
)

// SaveSuggestions logs emitted suggestions so later accepts can be matched to them.
func (s *SQLiteStorage) SaveSuggestions(ctx context.Context, records []model.SuggestionRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	for i := range records {
		if err := validateSuggestion(&records[i]); err != nil {
			return fmt.Errorf("suggestion at index %d: %w", i, err)
		}
	}

	now := utc(s.now())
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO suggestions (
				id, transaction_id, merchant_normalized, category, confidence,
				source, model_version, accepted, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for i := range records {
			rec := &records[i]
			if rec.CreatedAt.IsZero() {
				rec.CreatedAt = now
			}
			rec.CreatedAt = utc(rec.CreatedAt)
			if _, err := stmt.ExecContext(ctx, rec.ID, rec.TransactionID, rec.Merchant, rec.Category,
				rec.Confidence, string(rec.Source), rec.ModelVersion, rec.CreatedAt); err != nil {
				return fmt.Errorf("failed to insert suggestion %s: %w", rec.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return common.Unavailable("save suggestions", err)
	}
	return nil
}

// GetSuggestion retrieves a logged suggestion by ID.
func (s *SQLiteStorage) GetSuggestion(ctx context.Context, id string) (*model.SuggestionRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getSuggestion(ctx, `WHERE id = ?`, id)
}

// LatestSuggestionForTransaction returns the newest suggestion logged for a transaction.
func (s *SQLiteStorage) LatestSuggestionForTransaction(ctx context.Context, transactionID string) (*model.SuggestionRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(transactionID, "transactionID"); err != nil {
		return nil, err
	}
	return s.getSuggestion(ctx, `WHERE transaction_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, transactionID)
}

func (s *SQLiteStorage) getSuggestion(ctx context.Context, where string, args ...any) (*model.SuggestionRecord, error) {
	var (
		rec        model.SuggestionRecord
		source     string
		accepted   int
		acceptedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, transaction_id, merchant_normalized, category, confidence,
			source, model_version, accepted, created_at, accepted_at
		FROM suggestions `+where, args...).Scan(
		&rec.ID, &rec.TransactionID, &rec.Merchant, &rec.Category, &rec.Confidence,
		&source, &rec.ModelVersion, &accepted, &rec.CreatedAt, &acceptedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, common.Unavailable("get suggestion", err)
	}

	rec.Source = model.SuggestionSource(source)
	rec.Accepted = accepted == 1
	if acceptedAt.Valid {
		t := acceptedAt.Time.UTC()
		rec.AcceptedAt = &t
	}
	return &rec, nil
}

// MarkSuggestionAccepted flips the accepted flag with a compare-and-set.
// It returns true only for the call that performed the transition.
func (s *SQLiteStorage) MarkSuggestionAccepted(ctx context.Context, id string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(id, "id"); err != nil {
		return false, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE suggestions
		SET accepted = 1, accepted_at = ?
		WHERE id = ? AND accepted = 0
	`, utc(s.now()), id)
	if err != nil {
		return false, common.Unavailable("mark suggestion accepted", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, common.Unavailable("mark suggestion accepted", err)
	}
	return affected == 1, nil
}

// AcceptRateBySource aggregates shown and accepted suggestions per source since the given time.
func (s *SQLiteStorage) AcceptRateBySource(ctx context.Context, since time.Time) (map[model.SuggestionSource]model.SourceAcceptRate, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source, COUNT(*), COALESCE(SUM(accepted), 0)
		FROM suggestions
		WHERE created_at >= ?
		GROUP BY source
	`, utc(since))
	if err != nil {
		return nil, common.Unavailable("accept rate by source", err)
	}
	defer func() { _ = rows.Close() }()

	rates := make(map[model.SuggestionSource]model.SourceAcceptRate)
	for rows.Next() {
		var (
			source string
			rate   model.SourceAcceptRate
		)
		if err := rows.Scan(&source, &rate.Shown, &rate.Accepted); err != nil {
			return nil, fmt.Errorf("failed to scan accept rate: %w", err)
		}
		rate.Source = model.SuggestionSource(source)
		rates[rate.Source] = rate
	}
	return rates, rows.Err()
}

// SaveShadowComparisons records both engines' top picks for offline comparison.
func (s *SQLiteStorage) SaveShadowComparisons(ctx context.Context, comparisons []model.ShadowComparison) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(comparisons) == 0 {
		return nil
	}

	now := utc(s.now())
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO shadow_comparisons (
				transaction_id, routed_source, rule_category, rule_score,
				model_category, model_score, agreed, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for i := range comparisons {
			c := &comparisons[i]
			if c.CreatedAt.IsZero() {
				c.CreatedAt = now
			}
			if _, err := stmt.ExecContext(ctx, c.TransactionID, string(c.Routed), c.RuleCategory, c.RuleScore,
				c.ModelCategory, c.ModelScore, c.Agreed(), utc(c.CreatedAt)); err != nil {
				return fmt.Errorf("failed to insert shadow comparison: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return common.Unavailable("save shadow comparisons", err)
	}
	return nil
}

// ShadowAgreement returns how many shadow comparisons were recorded since the given
// time and how many of them agreed on the top category.
func (s *SQLiteStorage) ShadowAgreement(ctx context.Context, since time.Time) (compared, agreed int, err error) {
	if err := validateContext(ctx); err != nil {
		return 0, 0, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(agreed), 0)
		FROM shadow_comparisons
		WHERE created_at >= ?
	`, utc(since)).Scan(&compared, &agreed)
	if err != nil {
		return 0, 0, common.Unavailable("shadow agreement", err)
	}
	return compared, agreed, nil
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/spice-feedback/internal/common"
	"github.com/Veraticus/spice-feedback/internal/model"
)

// GetHint retrieves the promoted hint for a merchant.
func (s *SQLiteStorage) GetHint(ctx context.Context, merchant string) (*model.MerchantCategoryHint, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(merchant, "merchant"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT merchant_normalized, category, confidence, support, version, created_at, updated_at
		FROM merchant_category_hints
		WHERE merchant_normalized = ?
	`, merchant)

	hint, err := scanHint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, common.Unavailable("get hint", err)
	}
	return hint, nil
}

// GetHintsForMerchants returns the hints for a set of merchants in one query.
func (s *SQLiteStorage) GetHintsForMerchants(ctx context.Context, merchants []string) (map[string]model.MerchantCategoryHint, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	result := make(map[string]model.MerchantCategoryHint, len(merchants))
	if len(merchants) == 0 {
		return result, nil
	}

	args := make([]any, len(merchants))
	for i, m := range merchants {
		args[i] = m
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT merchant_normalized, category, confidence, support, version, created_at, updated_at
		FROM merchant_category_hints
		WHERE merchant_normalized IN (`+placeholders(len(merchants))+`)
	`, args...)
	if err != nil {
		return nil, common.Unavailable("get hints", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		hint, err := scanHint(rows)
		if err != nil {
			return nil, common.Unavailable("get hints", err)
		}
		result[hint.MerchantNormalized] = *hint
	}
	if err := rows.Err(); err != nil {
		return nil, common.Unavailable("get hints", err)
	}
	return result, nil
}

// UpsertHint writes a hint guarded by an optimistic version check.
// expectedVersion 0 means the hint must not exist yet. On success hint.Version
// holds the stored version. A lost race returns an error wrapping
// common.ErrPromotionConflict.
func (s *SQLiteStorage) UpsertHint(ctx context.Context, hint *model.MerchantCategoryHint, expectedVersion int) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateHint(hint); err != nil {
		return err
	}

	now := utc(s.now())
	if hint.UpdatedAt.IsZero() {
		hint.UpdatedAt = now
	}
	hint.UpdatedAt = utc(hint.UpdatedAt)

	var (
		result sql.Result
		err    error
	)
	if expectedVersion == 0 {
		if hint.CreatedAt.IsZero() {
			hint.CreatedAt = hint.UpdatedAt
		}
		hint.CreatedAt = utc(hint.CreatedAt)
		result, err = s.db.ExecContext(ctx, `
			INSERT INTO merchant_category_hints
				(merchant_normalized, category, confidence, support, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT(merchant_normalized) DO NOTHING
		`, hint.MerchantNormalized, hint.Category, hint.Confidence, hint.Support, hint.CreatedAt, hint.UpdatedAt)
	} else {
		result, err = s.db.ExecContext(ctx, `
			UPDATE merchant_category_hints
			SET category = ?, confidence = ?, support = ?, updated_at = ?, version = version + 1
			WHERE merchant_normalized = ? AND version = ?
		`, hint.Category, hint.Confidence, hint.Support, hint.UpdatedAt, hint.MerchantNormalized, expectedVersion)
	}
	if err != nil {
		return common.Unavailable("upsert hint", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return common.Unavailable("upsert hint", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: hint for %q changed concurrently (expected version %d)",
			common.ErrPromotionConflict, hint.MerchantNormalized, expectedVersion)
	}

	hint.Version = expectedVersion + 1
	return nil
}

// ListHints returns one page of hints, most recently updated first.
func (s *SQLiteStorage) ListHints(ctx context.Context, limit, offset int) (*model.HintPage, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	page := &model.HintPage{Limit: limit, Offset: offset, Hints: []model.MerchantCategoryHint{}}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM merchant_category_hints`).Scan(&page.Total); err != nil {
		return nil, common.Unavailable("count hints", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT merchant_normalized, category, confidence, support, version, created_at, updated_at
		FROM merchant_category_hints
		ORDER BY updated_at DESC, merchant_normalized ASC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, common.Unavailable("list hints", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		hint, err := scanHint(rows)
		if err != nil {
			return nil, common.Unavailable("list hints", err)
		}
		page.Hints = append(page.Hints, *hint)
	}
	if err := rows.Err(); err != nil {
		return nil, common.Unavailable("list hints", err)
	}
	return page, nil
}

func scanHint(row rowScanner) (*model.MerchantCategoryHint, error) {
	var hint model.MerchantCategoryHint
	err := row.Scan(
		&hint.MerchantNormalized,
		&hint.Category,
		&hint.Confidence,
		&hint.Support,
		&hint.Version,
		&hint.CreatedAt,
		&hint.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	hint.CreatedAt = utc(hint.CreatedAt)
	hint.UpdatedAt = utc(hint.UpdatedAt)
	return &hint, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/spice-feedback/internal/common"
	"github.com/Veraticus/spice-feedback/internal/model"
)

const patternRuleColumns = `
	id, name, merchant_pattern, is_regex,
	amount_condition, amount_value, amount_min, amount_max,
	category, confidence, priority, is_active,
	created_at, updated_at`

// CreatePatternRule creates a new pattern rule.
func (s *SQLiteStorage) CreatePatternRule(ctx context.Context, rule *model.PatternRule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePatternRule(rule); err != nil {
		return err
	}

	now := utc(s.now())
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO pattern_rules (
			name, merchant_pattern, is_regex,
			amount_condition, amount_value, amount_min, amount_max,
			category, confidence, priority, is_active,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rule.Name, rule.MerchantPattern, rule.IsRegex,
		rule.AmountCondition, rule.AmountValue, rule.AmountMin, rule.AmountMax,
		rule.Category, rule.Confidence, rule.Priority, rule.IsActive,
		now, now,
	)
	if err != nil {
		return common.Unavailable("create pattern rule", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get pattern rule ID: %w", err)
	}

	rule.ID = int(id)
	rule.CreatedAt = now
	rule.UpdatedAt = now
	return nil
}

// GetPatternRule retrieves a pattern rule by ID.
func (s *SQLiteStorage) GetPatternRule(ctx context.Context, id int) (*model.PatternRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+patternRuleColumns+` FROM pattern_rules WHERE id = ?`, id)
	rule, err := scanPatternRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pattern rule %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, common.Unavailable("get pattern rule", err)
	}
	return rule, nil
}

// GetActivePatternRules retrieves all active pattern rules ordered by priority.
func (s *SQLiteStorage) GetActivePatternRules(ctx context.Context) ([]model.PatternRule, error) {
	return s.queryPatternRules(ctx, `
		SELECT `+patternRuleColumns+`
		FROM pattern_rules
		WHERE is_active = 1
		ORDER BY priority DESC, id ASC
	`)
}

// ListPatternRules returns every rule, active or not.
func (s *SQLiteStorage) ListPatternRules(ctx context.Context) ([]model.PatternRule, error) {
	return s.queryPatternRules(ctx, `
		SELECT `+patternRuleColumns+`
		FROM pattern_rules
		ORDER BY priority DESC, id ASC
	`)
}

// DeletePatternRule deletes a pattern rule.
func (s *SQLiteStorage) DeletePatternRule(ctx context.Context, id int) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM pattern_rules WHERE id = ?", id)
	if err != nil {
		return common.Unavailable("delete pattern rule", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("pattern rule %d: %w", id, common.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) queryPatternRules(ctx context.Context, query string, args ...any) ([]model.PatternRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.Unavailable("query pattern rules", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.PatternRule
	for rows.Next() {
		rule, err := scanPatternRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pattern rule: %w", err)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pattern rules: %w", err)
	}
	return rules, nil
}

func scanPatternRule(row rowScanner) (*model.PatternRule, error) {
	var rule model.PatternRule
	err := row.Scan(
		&rule.ID, &rule.Name, &rule.MerchantPattern, &rule.IsRegex,
		&rule.AmountCondition, &rule.AmountValue, &rule.AmountMin, &rule.AmountMax,
		&rule.Category, &rule.Confidence, &rule.Priority, &rule.IsActive,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

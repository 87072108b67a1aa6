package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/spice-feedback/internal/common"
	"github.com/Veraticus/spice-feedback/internal/model"
)

// EnsureCanaryState seeds the rollout state if none exists and returns the stored state.
func (s *SQLiteStorage) EnsureCanaryState(ctx context.Context, seed model.CanaryState) (*model.CanaryState, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateCanaryState(&seed); err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO canary_state (id, percentage, shadow, version, updated_at)
		VALUES (1, ?, ?, 1, ?)
		ON CONFLICT(id) DO NOTHING
	`, seed.Percentage, seed.Shadow, utc(s.now())); err != nil {
		return nil, common.Unavailable("seed canary state", err)
	}

	return s.LoadCanaryState(ctx)
}

// LoadCanaryState returns the persisted rollout state.
func (s *SQLiteStorage) LoadCanaryState(ctx context.Context) (*model.CanaryState, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var state model.CanaryState
	err := s.db.QueryRowContext(ctx, `
		SELECT percentage, shadow, version, updated_at
		FROM canary_state
		WHERE id = 1
	`).Scan(&state.Percentage, &state.Shadow, &state.Version, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, common.Unavailable("load canary state", err)
	}
	state.UpdatedAt = utc(state.UpdatedAt)
	return &state, nil
}

// SaveCanaryState replaces the rollout state if the stored version still equals
// next.Version-1, and appends the change to the history. A stale write returns
// ErrVersionConflict.
func (s *SQLiteStorage) SaveCanaryState(ctx context.Context, next model.CanaryState, fromPercentage int, reason string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateCanaryState(&next); err != nil {
		return err
	}
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = s.now()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE canary_state
			SET percentage = ?, shadow = ?, version = ?, updated_at = ?
			WHERE id = 1 AND version = ?
		`, next.Percentage, next.Shadow, next.Version, utc(next.UpdatedAt), next.Version-1)
		if err != nil {
			return common.Unavailable("save canary state", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return common.Unavailable("save canary state", err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: canary state is no longer at version %d", ErrVersionConflict, next.Version-1)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO canary_history (from_percentage, to_percentage, shadow, version, reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, fromPercentage, next.Percentage, next.Shadow, next.Version, reason, utc(next.UpdatedAt)); err != nil {
			return common.Unavailable("record canary history", err)
		}
		return nil
	})
}

// CanaryHistory returns the most recent rollout transitions, newest first.
func (s *SQLiteStorage) CanaryHistory(ctx context.Context, limit int) ([]model.CanaryTransition, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT from_percentage, to_percentage, shadow, version, reason, created_at
		FROM canary_history
		ORDER BY version DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, common.Unavailable("canary history", err)
	}
	defer func() { _ = rows.Close() }()

	var history []model.CanaryTransition
	for rows.Next() {
		var t model.CanaryTransition
		if err := rows.Scan(&t.FromPercentage, &t.ToPercentage, &t.Shadow, &t.Version, &t.Reason, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan canary transition: %w", err)
		}
		t.CreatedAt = utc(t.CreatedAt)
		history = append(history, t)
	}
	return history, rows.Err()
}

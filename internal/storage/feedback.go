package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/spice-feedback/internal/common"
	"github.com/Veraticus/spice-feedback/internal/model"
	"github.com/google/uuid"
)

// maxKeysPerQuery keeps a stats lookup under SQLite's bound-variable limit.
const maxKeysPerQuery = 16000

// RecordEvent appends a feedback event and folds it into the merchant/category aggregate.
// The aggregate is updated with a single INSERT ... ON CONFLICT increment so concurrent
// writers never lose an update.
func (s *SQLiteStorage) RecordEvent(ctx context.Context, event *model.FeedbackEvent) error {
	if err := s.prepareEvent(ctx, event); err != nil {
		return err
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return s.insertEventTx(ctx, tx, event)
	})
	if err != nil {
		return common.Unavailable("record feedback event", err)
	}
	return nil
}

// RecordAcceptedEvent marks the suggestion accepted and records the accept event in one
// transaction. It returns false without writing anything when the suggestion was already
// accepted or does not exist. A failed write leaves the suggestion unaccepted so the
// accept can be retried.
func (s *SQLiteStorage) RecordAcceptedEvent(ctx context.Context, suggestionID string, event *model.FeedbackEvent) (bool, error) {
	if err := validateString(suggestionID, "suggestion id"); err != nil {
		return false, err
	}
	if err := s.prepareEvent(ctx, event); err != nil {
		return false, err
	}
	if event.Action != model.ActionAccept {
		return false, fmt.Errorf("%w: accepted event has action %q", ErrInvalidFeedbackEvent, event.Action)
	}

	var recorded bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE suggestions
			SET accepted = 1, accepted_at = ?
			WHERE id = ? AND accepted = 0
		`, event.CreatedAt, suggestionID)
		if err != nil {
			return fmt.Errorf("failed to mark suggestion accepted: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to mark suggestion accepted: %w", err)
		}
		if affected == 0 {
			return nil
		}

		if err := s.insertEventTx(ctx, tx, event); err != nil {
			return err
		}
		recorded = true
		return nil
	})
	if err != nil {
		return false, common.Unavailable("record accepted feedback", err)
	}
	return recorded, nil
}

func (s *SQLiteStorage) prepareEvent(ctx context.Context, event *model.FeedbackEvent) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateFeedbackEvent(event); err != nil {
		return err
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	event.CreatedAt = utc(event.CreatedAt)
	return nil
}

func (s *SQLiteStorage) insertEventTx(ctx context.Context, tx *sql.Tx, event *model.FeedbackEvent) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO feedback_events (
			id, transaction_id, user_id, merchant_normalized, category,
			action, score, model_version, source, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.TransactionID, event.UserID, event.MerchantNormalized, event.Category,
		string(event.Action), event.Score, event.ModelVersion, string(event.Source), event.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert feedback event: %w", err)
	}

	return s.incrementStatsTx(ctx, tx, event)
}

func (s *SQLiteStorage) incrementStatsTx(ctx context.Context, q queryable, event *model.FeedbackEvent) error {
	accepts, rejects := 0, 0
	if event.Action == model.ActionAccept {
		accepts = 1
	} else {
		rejects = 1
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO merchant_category_stats
			(merchant_normalized, category, accept_count, reject_count, last_feedback_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(merchant_normalized, category) DO UPDATE SET
			accept_count = accept_count + excluded.accept_count,
			reject_count = reject_count + excluded.reject_count,
			last_feedback_ms = MAX(last_feedback_ms, excluded.last_feedback_ms)
	`, event.MerchantNormalized, event.Category, accepts, rejects, event.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to update merchant category stats: %w", err)
	}
	return nil
}

// LoadStats returns the aggregates for every requested key in one round trip.
// Keys without feedback are absent from the result.
func (s *SQLiteStorage) LoadStats(ctx context.Context, keys []model.StatsKey) (map[model.StatsKey]model.MerchantCategoryStats, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	result := make(map[model.StatsKey]model.MerchantCategoryStats, len(keys))
	keys = dedupeKeys(keys)

	for start := 0; start < len(keys); start += maxKeysPerQuery {
		end := min(start+maxKeysPerQuery, len(keys))
		if err := s.loadStatsChunk(ctx, keys[start:end], result); err != nil {
			return nil, common.Unavailable("load stats", err)
		}
	}

	return result, nil
}

func (s *SQLiteStorage) loadStatsChunk(ctx context.Context, keys []model.StatsKey, into map[model.StatsKey]model.MerchantCategoryStats) error {
	if len(keys) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("(?, ?),", len(keys)), ",")
	args := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, k.Merchant, k.Category)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT merchant_normalized, category, accept_count, reject_count, last_feedback_ms
		FROM merchant_category_stats
		WHERE (merchant_normalized, category) IN (VALUES `+placeholders+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to query stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		stats, err := scanStats(rows)
		if err != nil {
			return err
		}
		into[stats.Key()] = stats
	}
	return rows.Err()
}

// GetStats returns the aggregate for a single key.
func (s *SQLiteStorage) GetStats(ctx context.Context, key model.StatsKey) (*model.MerchantCategoryStats, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT merchant_normalized, category, accept_count, reject_count, last_feedback_ms
		FROM merchant_category_stats
		WHERE merchant_normalized = ? AND category = ?
	`, key.Merchant, key.Category)

	stats, err := scanStats(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, common.Unavailable("get stats", err)
	}
	return &stats, nil
}

// ListStats returns every aggregate ordered by merchant then category.
func (s *SQLiteStorage) ListStats(ctx context.Context) ([]model.MerchantCategoryStats, error) {
	return s.queryStats(ctx, `
		SELECT merchant_normalized, category, accept_count, reject_count, last_feedback_ms
		FROM merchant_category_stats
		ORDER BY merchant_normalized, category
	`)
}

// ListStatsForMerchant returns all category aggregates for one merchant.
func (s *SQLiteStorage) ListStatsForMerchant(ctx context.Context, merchant string) ([]model.MerchantCategoryStats, error) {
	if err := validateString(merchant, "merchant"); err != nil {
		return nil, err
	}
	return s.queryStats(ctx, `
		SELECT merchant_normalized, category, accept_count, reject_count, last_feedback_ms
		FROM merchant_category_stats
		WHERE merchant_normalized = ?
		ORDER BY category
	`, merchant)
}

func (s *SQLiteStorage) queryStats(ctx context.Context, query string, args ...any) ([]model.MerchantCategoryStats, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.Unavailable("list stats", err)
	}
	defer func() { _ = rows.Close() }()

	var all []model.MerchantCategoryStats
	for rows.Next() {
		stats, err := scanStats(rows)
		if err != nil {
			return nil, common.Unavailable("list stats", err)
		}
		all = append(all, stats)
	}
	if err := rows.Err(); err != nil {
		return nil, common.Unavailable("list stats", err)
	}
	return all, nil
}

// ListFeedbackEvents returns the most recent events for a merchant, newest first.
func (s *SQLiteStorage) ListFeedbackEvents(ctx context.Context, merchant string, limit int) ([]model.FeedbackEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(merchant, "merchant"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, user_id, merchant_normalized, category,
			action, score, model_version, source, created_at
		FROM feedback_events
		WHERE merchant_normalized = ?
		ORDER BY created_at DESC, id
		LIMIT ?
	`, merchant, limit)
	if err != nil {
		return nil, common.Unavailable("list feedback events", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.FeedbackEvent
	for rows.Next() {
		var (
			e      model.FeedbackEvent
			action string
			source string
		)
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.UserID, &e.MerchantNormalized, &e.Category,
			&action, &e.Score, &e.ModelVersion, &source, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback event: %w", err)
		}
		e.Action = model.FeedbackAction(action)
		e.Source = model.SuggestionSource(source)
		events = append(events, e)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStats(row rowScanner) (model.MerchantCategoryStats, error) {
	var (
		stats  model.MerchantCategoryStats
		lastMs int64
	)
	if err := row.Scan(&stats.Merchant, &stats.Category, &stats.AcceptCount, &stats.RejectCount, &lastMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return stats, err
		}
		return stats, fmt.Errorf("failed to scan stats: %w", err)
	}
	if lastMs > 0 {
		stats.LastFeedbackAt = time.UnixMilli(lastMs).UTC()
	}
	return stats, nil
}

func dedupeKeys(keys []model.StatsKey) []model.StatsKey {
	seen := make(map[model.StatsKey]struct{}, len(keys))
	out := make([]model.StatsKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

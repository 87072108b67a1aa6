package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/spice-feedback/internal/common"
	"github.com/Veraticus/spice-feedback/internal/model"
)

// SaveTransactions saves multiple transactions to the database.
// Existing IDs are updated in place so re-imports pick up corrected merchants.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, transactions []model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransactions(transactions); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO transactions (id, date, name, merchant_normalized, amount)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				date = excluded.date,
				name = excluded.name,
				merchant_normalized = excluded.merchant_normalized,
				amount = excluded.amount
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, txn := range transactions {
			if _, err := stmt.ExecContext(ctx, txn.ID, utc(txn.Date), txn.Name, txn.Merchant(), txn.Amount); err != nil {
				return fmt.Errorf("failed to insert transaction %s: %w", txn.ID, err)
			}
		}
		return nil
	})
}

// GetTransactionByID retrieves a single transaction.
func (s *SQLiteStorage) GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	var txn model.Transaction
	err := s.db.QueryRowContext(ctx, `
		SELECT id, date, name, merchant_normalized, amount
		FROM transactions
		WHERE id = ?
	`, id).Scan(&txn.ID, &txn.Date, &txn.Name, &txn.MerchantName, &txn.Amount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, common.Unavailable("get transaction", err)
	}
	return &txn, nil
}

// GetTransactionsByIDs loads a set of transactions in a single query.
// Unknown IDs are absent from the result.
func (s *SQLiteStorage) GetTransactionsByIDs(ctx context.Context, ids []string) (map[string]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	result := make(map[string]model.Transaction, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date, name, merchant_normalized, amount
		FROM transactions
		WHERE id IN (`+placeholders(len(ids))+`)
	`, args...)
	if err != nil {
		return nil, common.Unavailable("get transactions", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var txn model.Transaction
		if err := rows.Scan(&txn.ID, &txn.Date, &txn.Name, &txn.MerchantName, &txn.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		result[txn.ID] = txn
	}
	if err := rows.Err(); err != nil {
		return nil, common.Unavailable("get transactions", err)
	}
	return result, nil
}

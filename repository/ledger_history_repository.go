package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"coffers/database"
	"coffers/domain/entities"
)

// LedgerHistoryRepository implements the LedgerHistoryRepository interface
type LedgerHistoryRepository struct {
	q Queryable
}

// NewLedgerHistoryRepository creates a new ledger history repository
func NewLedgerHistoryRepository(db *database.DB) *LedgerHistoryRepository {
	return &LedgerHistoryRepository{q: db.Pool}
}

// newLedgerHistoryRepository creates a new ledger history repository with a transaction
func newLedgerHistoryRepository(tx Queryable) *LedgerHistoryRepository {
	return &LedgerHistoryRepository{q: tx}
}

// Record creates a new audit entry
func (r *LedgerHistoryRepository) Record(ctx context.Context, history *entities.LedgerHistory) error {
	// Convert metadata to JSON
	metadataJSON, err := json.Marshal(history.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger metadata: %w", err)
	}

	query := `
		INSERT INTO ledger_history (account_name, action, amount, bank_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))
		RETURNING id, created_at
	`

	var createdAt any
	if !history.CreatedAt.IsZero() {
		createdAt = history.CreatedAt
	}

	err = r.q.QueryRow(ctx, query,
		history.AccountName,
		history.Action,
		history.Amount,
		history.BankID,
		metadataJSON,
		createdAt,
	).Scan(&history.ID, &history.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record %s for account %q: %w", history.Action, history.AccountName, err)
	}

	return nil
}

// GetByAccount returns the most recent entries for an account, newest first
func (r *LedgerHistoryRepository) GetByAccount(ctx context.Context, name string, limit int) ([]*entities.LedgerHistory, error) {
	query := `
		SELECT id, account_name, action, amount, bank_id, metadata, created_at
		FROM ledger_history
		WHERE account_name = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.q.Query(ctx, query, name, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger history for account %s: %w", name, err)
	}
	defer rows.Close()

	var histories []*entities.LedgerHistory
	for rows.Next() {
		var history entities.LedgerHistory
		var metadataJSON []byte

		err := rows.Scan(
			&history.ID,
			&history.AccountName,
			&history.Action,
			&history.Amount,
			&history.BankID,
			&metadataJSON,
			&history.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger history: %w", err)
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &history.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal ledger metadata: %w", err)
			}
		}

		histories = append(histories, &history)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger history: %w", err)
	}

	return histories, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"coffers/database"
	"coffers/domain/entities"

	"github.com/jackc/pgx/v5"
)

// BankRepository implements the BankRepository interface
type BankRepository struct {
	q Queryable
}

// NewBankRepository creates a new bank repository
func NewBankRepository(db *database.DB) *BankRepository {
	return &BankRepository{q: db.Pool}
}

// newBankRepository creates a new bank repository with a transaction
func newBankRepository(tx Queryable) *BankRepository {
	return &BankRepository{q: tx}
}

// GetByID retrieves a registered bank
func (r *BankRepository) GetByID(ctx context.Context, id int) (*entities.Bank, error) {
	query := `
		SELECT id, description, created_at, updated_at
		FROM banks
		WHERE id = $1
	`

	var bank entities.Bank
	err := r.q.QueryRow(ctx, query, id).Scan(
		&bank.ID,
		&bank.Description,
		&bank.CreatedAt,
		&bank.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bank %d: %w", id, err)
	}

	return &bank, nil
}

// GetAll returns every registered bank ordered by id
func (r *BankRepository) GetAll(ctx context.Context) ([]*entities.Bank, error) {
	rows, err := r.q.Query(ctx, `SELECT id, description, created_at, updated_at FROM banks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list banks: %w", err)
	}

	banks, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[entities.Bank])
	if err != nil {
		return nil, fmt.Errorf("failed to scan banks: %w", err)
	}
	return banks, nil
}

// Upsert inserts a bank or replaces its description
func (r *BankRepository) Upsert(ctx context.Context, bank *entities.Bank) error {
	query := `
		INSERT INTO banks (id, description)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET description = EXCLUDED.description
		RETURNING created_at, updated_at
	`

	err := r.q.QueryRow(ctx, query, bank.ID, bank.Description).Scan(&bank.CreatedAt, &bank.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save bank %d: %w", bank.ID, err)
	}
	return nil
}

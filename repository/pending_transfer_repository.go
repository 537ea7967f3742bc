package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"coffers/database"
	"coffers/domain/entities"

	"github.com/jackc/pgx/v5"
)

const pendingTransferColumns = `code, owner_name, from_bank, to_bank, gems, created_at`

// PendingTransferRepository implements the PendingTransferRepository interface
type PendingTransferRepository struct {
	q Queryable
}

// NewPendingTransferRepository creates a new pending transfer repository
func NewPendingTransferRepository(db *database.DB) *PendingTransferRepository {
	return &PendingTransferRepository{q: db.Pool}
}

// newPendingTransferRepository creates a new pending transfer repository with a transaction
func newPendingTransferRepository(tx Queryable) *PendingTransferRepository {
	return &PendingTransferRepository{q: tx}
}

// Create persists a new pending transfer. A code collision fails on the primary key.
func (r *PendingTransferRepository) Create(ctx context.Context, transfer *entities.PendingTransfer) error {
	gemsJSON, err := json.Marshal(transfer.Gems)
	if err != nil {
		return fmt.Errorf("failed to marshal gems: %w", err)
	}

	query := `
		INSERT INTO pending_transfers (code, owner_name, from_bank, to_bank, gems, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err = r.q.QueryRow(ctx, query,
		transfer.Code,
		transfer.OwnerName,
		transfer.FromBank,
		transfer.ToBank,
		gemsJSON,
		transfer.CreatedAt,
	).Scan(&transfer.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create pending transfer %s: %w", transfer.Code, err)
	}
	return nil
}

// GetByCode retrieves a pending transfer
func (r *PendingTransferRepository) GetByCode(ctx context.Context, code string) (*entities.PendingTransfer, error) {
	query := `SELECT ` + pendingTransferColumns + ` FROM pending_transfers WHERE code = $1`
	return r.getOne(ctx, query, code)
}

// GetByCodeForUpdate retrieves and row-locks a pending transfer until the transaction ends
func (r *PendingTransferRepository) GetByCodeForUpdate(ctx context.Context, code string) (*entities.PendingTransfer, error) {
	query := `SELECT ` + pendingTransferColumns + ` FROM pending_transfers WHERE code = $1 FOR UPDATE`
	return r.getOne(ctx, query, code)
}

func (r *PendingTransferRepository) getOne(ctx context.Context, query, code string) (*entities.PendingTransfer, error) {
	transfer, err := scanPendingTransfer(r.q.QueryRow(ctx, query, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending transfer %s: %w", code, err)
	}
	return transfer, nil
}

// Exists reports whether a code is in use
func (r *PendingTransferRepository) Exists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM pending_transfers WHERE code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check transfer code %s: %w", code, err)
	}
	return exists, nil
}

// Delete consumes a transfer record
func (r *PendingTransferRepository) Delete(ctx context.Context, code string) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM pending_transfers WHERE code = $1`, code); err != nil {
		return fmt.Errorf("failed to delete pending transfer %s: %w", code, err)
	}
	return nil
}

// GetAll returns every surviving transfer, oldest first
func (r *PendingTransferRepository) GetAll(ctx context.Context) ([]*entities.PendingTransfer, error) {
	query := `SELECT ` + pendingTransferColumns + ` FROM pending_transfers ORDER BY created_at, code`
	return r.getMany(ctx, query)
}

// GetByOwner returns the transfers owned by an account, oldest first
func (r *PendingTransferRepository) GetByOwner(ctx context.Context, ownerName string) ([]*entities.PendingTransfer, error) {
	query := `SELECT ` + pendingTransferColumns + ` FROM pending_transfers WHERE owner_name = $1 ORDER BY created_at, code`
	return r.getMany(ctx, query, ownerName)
}

func (r *PendingTransferRepository) getMany(ctx context.Context, query string, args ...any) ([]*entities.PendingTransfer, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending transfers: %w", err)
	}
	defer rows.Close()

	var transfers []*entities.PendingTransfer
	for rows.Next() {
		transfer, err := scanPendingTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending transfer: %w", err)
		}
		transfers = append(transfers, transfer)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending transfers: %w", err)
	}
	return transfers, nil
}

func scanPendingTransfer(row pgx.Row) (*entities.PendingTransfer, error) {
	var transfer entities.PendingTransfer
	var gemsJSON []byte
	err := row.Scan(
		&transfer.Code,
		&transfer.OwnerName,
		&transfer.FromBank,
		&transfer.ToBank,
		&gemsJSON,
		&transfer.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(gemsJSON, &transfer.Gems); err != nil {
		return nil, fmt.Errorf("transfer %s gems undecodable (%v): %w", transfer.Code, err, entities.ErrCorruptRecord)
	}
	return &transfer, nil
}

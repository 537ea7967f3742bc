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

// AccountRepository implements the AccountRepository interface
type AccountRepository struct {
	q Queryable
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{q: db.Pool}
}

// newAccountRepository creates a new account repository with a transaction
func newAccountRepository(tx Queryable) *AccountRepository {
	return &AccountRepository{q: tx}
}

const selectAccount = `
	SELECT name, coins, pending_fee, last_fee_time, gem_banks, created_at, updated_at
	FROM accounts
	WHERE name = $1
`

// GetByName retrieves an account by its normalized name
func (r *AccountRepository) GetByName(ctx context.Context, name string) (*entities.Account, error) {
	return r.get(ctx, selectAccount, name)
}

// GetByNameForUpdate retrieves an account and row-locks it for the rest of the
// transaction, so writers in other processes queue behind this one
func (r *AccountRepository) GetByNameForUpdate(ctx context.Context, name string) (*entities.Account, error) {
	return r.get(ctx, selectAccount+"FOR UPDATE", name)
}

func (r *AccountRepository) get(ctx context.Context, query string, name string) (*entities.Account, error) {
	var account entities.Account
	var coins []int64
	var gemBanksJSON []byte
	err := r.q.QueryRow(ctx, query, name).Scan(
		&account.Name,
		&coins,
		&account.PendingFee,
		&account.LastFeeTime,
		&gemBanksJSON,
		&account.CreatedAt,
		&account.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", name, err)
	}

	if len(coins) != entities.NumDenominations {
		return nil, fmt.Errorf("account %s has %d coin slots: %w", name, len(coins), entities.ErrCorruptRecord)
	}
	copy(account.Coins[:], coins)

	if err := json.Unmarshal(gemBanksJSON, &account.GemBanks); err != nil {
		return nil, fmt.Errorf("account %s gem banks undecodable (%v): %w", name, err, entities.ErrCorruptRecord)
	}
	if account.GemBanks == nil {
		account.GemBanks = make(map[int]entities.GemBankHolding)
	}

	if err := account.Validate(); err != nil {
		return nil, err
	}

	return &account, nil
}

// Exists reports whether a row exists without decoding it
func (r *AccountRepository) Exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE name = $1)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check account %s: %w", name, err)
	}
	return exists, nil
}

// Upsert inserts or replaces the account record
func (r *AccountRepository) Upsert(ctx context.Context, account *entities.Account) error {
	if err := account.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid account: %w", err)
	}

	gemBanksJSON, err := json.Marshal(account.GemBanks)
	if err != nil {
		return fmt.Errorf("failed to marshal gem banks: %w", err)
	}
	if account.GemBanks == nil {
		gemBanksJSON = []byte("{}")
	}

	query := `
		INSERT INTO accounts (name, coins, pending_fee, last_fee_time, gem_banks)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			coins = EXCLUDED.coins,
			pending_fee = EXCLUDED.pending_fee,
			last_fee_time = EXCLUDED.last_fee_time,
			gem_banks = EXCLUDED.gem_banks
		RETURNING created_at, updated_at
	`

	err = r.q.QueryRow(ctx, query,
		account.Name,
		account.Coins[:],
		account.PendingFee,
		account.LastFeeTime,
		gemBanksJSON,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save account %s: %w", account.Name, err)
	}

	return nil
}

// Delete removes the record, reporting whether one existed
func (r *AccountRepository) Delete(ctx context.Context, name string) (bool, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM accounts WHERE name = $1`, name)
	if err != nil {
		return false, fmt.Errorf("failed to delete account %s: %w", name, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListNamesInPartition returns account names by first letter. The "#" partition
// holds every name that does not start with a-z.
func (r *AccountRepository) ListNamesInPartition(ctx context.Context, partition string) ([]string, error) {
	var rows pgx.Rows
	var err error
	if partition == "#" {
		rows, err = r.q.Query(ctx, `SELECT name FROM accounts WHERE name !~ '^[a-z]' ORDER BY name`)
	} else {
		rows, err = r.q.Query(ctx, `SELECT name FROM accounts WHERE left(name, 1) = $1 ORDER BY name`, partition)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts in partition %s: %w", partition, err)
	}

	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan account names: %w", err)
	}
	return names, nil
}

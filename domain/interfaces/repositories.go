package interfaces

import (
	"context"
	"time"

	"coffers/domain/entities"
)

// AccountRepository defines the interface for account record storage
type AccountRepository interface {
	// GetByName retrieves an account, returning nil when it does not exist.
	// Undecodable rows return an error wrapping entities.ErrCorruptRecord.
	GetByName(ctx context.Context, name string) (*entities.Account, error)

	// GetByNameForUpdate is GetByName that also row-locks the account until the
	// transaction ends
	GetByNameForUpdate(ctx context.Context, name string) (*entities.Account, error)

	// Exists reports whether a record exists without decoding it
	Exists(ctx context.Context, name string) (bool, error)

	// Upsert inserts or replaces the account record
	Upsert(ctx context.Context, account *entities.Account) error

	// Delete removes the record, reporting whether one existed
	Delete(ctx context.Context, name string) (bool, error)

	// ListNamesInPartition returns account names whose first character falls in the partition
	ListNamesInPartition(ctx context.Context, partition string) ([]string, error)
}

// LedgerHistoryRepository defines the interface for the audit trail
type LedgerHistoryRepository interface {
	// Record creates a new audit entry
	Record(ctx context.Context, history *entities.LedgerHistory) error

	// GetByAccount returns the most recent entries for an account
	GetByAccount(ctx context.Context, name string, limit int) ([]*entities.LedgerHistory, error)
}

// BankRepository defines the interface for the bank registry
type BankRepository interface {
	// GetByID retrieves a bank, returning nil when it is not registered
	GetByID(ctx context.Context, id int) (*entities.Bank, error)

	// GetAll returns every registered bank ordered by id
	GetAll(ctx context.Context) ([]*entities.Bank, error)

	// Upsert inserts or updates a bank description
	Upsert(ctx context.Context, bank *entities.Bank) error
}

// PendingTransferRepository defines the interface for the in-transit table
type PendingTransferRepository interface {
	// Create persists a new pending transfer
	Create(ctx context.Context, transfer *entities.PendingTransfer) error

	// GetByCode retrieves a transfer, returning nil when absent
	GetByCode(ctx context.Context, code string) (*entities.PendingTransfer, error)

	// GetByCodeForUpdate retrieves and row-locks a transfer for the rest of the transaction
	GetByCodeForUpdate(ctx context.Context, code string) (*entities.PendingTransfer, error)

	// Exists reports whether a code is in use
	Exists(ctx context.Context, code string) (bool, error)

	// Delete consumes a transfer record
	Delete(ctx context.Context, code string) error

	// GetAll returns every surviving transfer, oldest first
	GetAll(ctx context.Context) ([]*entities.PendingTransfer, error)

	// GetByOwner returns the transfers owned by an account
	GetByOwner(ctx context.Context, ownerName string) ([]*entities.PendingTransfer, error)
}

// JobRepository defines the interface for the durable job queue
type JobRepository interface {
	// Enqueue persists a job to run at runAt
	Enqueue(ctx context.Context, jobType entities.JobType, payload any, runAt time.Time) (*entities.Job, error)

	// ClaimDue leases up to limit due jobs so no other worker picks them up until the lease expires
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*entities.Job, error)

	// Complete removes a finished job
	Complete(ctx context.Context, id int64) error

	// Retry releases a job for another attempt at runAt
	Retry(ctx context.Context, id int64, runAt time.Time, lastError string) error

	// NextRunAt returns the earliest run time of an unleased job, or nil when the queue is empty
	NextRunAt(ctx context.Context) (*time.Time, error)
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"coffers/database"
	"coffers/domain/interfaces"
	"coffers/events"

	"github.com/jackc/pgx/v5"
)

// unitOfWork implements the UnitOfWork interface
type unitOfWork struct {
	db                  *database.DB
	tx                  pgx.Tx
	ctx                 context.Context
	transactionalBus    *events.TransactionalBus
	accountRepo         interfaces.AccountRepository
	ledgerHistoryRepo   interfaces.LedgerHistoryRepository
	bankRepo            interfaces.BankRepository
	pendingTransferRepo interfaces.PendingTransferRepository
	jobRepo             interfaces.JobRepository
}

// NewUnitOfWorkFactory creates a new UnitOfWork factory. Events published in a
// unit of work reach eventBus only after it commits.
func NewUnitOfWorkFactory(db *database.DB, eventBus *events.Bus) interfaces.UnitOfWorkFactory {
	return &unitOfWorkFactory{
		db:       db,
		eventBus: eventBus,
	}
}

type unitOfWorkFactory struct {
	db       *database.DB
	eventBus *events.Bus
}

func (f *unitOfWorkFactory) Create() interfaces.UnitOfWork {
	return &unitOfWork{
		db:               f.db,
		transactionalBus: events.NewTransactionalBus(f.eventBus),
	}
}

// Begin starts a new transaction
func (u *unitOfWork) Begin(ctx context.Context) error {
	if u.tx != nil {
		return fmt.Errorf("transaction already started")
	}

	tx, err := u.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	u.tx = tx
	u.ctx = ctx

	// Create repositories with the transaction
	u.accountRepo = newAccountRepository(tx)
	u.ledgerHistoryRepo = newLedgerHistoryRepository(tx)
	u.bankRepo = newBankRepository(tx)
	u.pendingTransferRepo = newPendingTransferRepository(tx)
	u.jobRepo = newJobRepository(tx)

	return nil
}

// Commit commits the transaction
func (u *unitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("no transaction to commit")
	}

	err := u.tx.Commit(u.ctx)
	u.tx = nil
	if err != nil {
		u.transactionalBus.Discard()
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	// Flush pending events after successful commit
	u.transactionalBus.Flush(u.ctx)

	return nil
}

// Rollback rolls back the transaction
func (u *unitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Nothing to rollback
	}

	err := u.tx.Rollback(u.ctx)
	u.tx = nil

	// Discard pending events on rollback
	u.transactionalBus.Discard()

	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

// AccountRepository returns the account repository for this unit of work
func (u *unitOfWork) AccountRepository() interfaces.AccountRepository {
	if u.accountRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.accountRepo
}

// LedgerHistoryRepository returns the ledger history repository for this unit of work
func (u *unitOfWork) LedgerHistoryRepository() interfaces.LedgerHistoryRepository {
	if u.ledgerHistoryRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.ledgerHistoryRepo
}

// BankRepository returns the bank repository for this unit of work
func (u *unitOfWork) BankRepository() interfaces.BankRepository {
	if u.bankRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.bankRepo
}

// PendingTransferRepository returns the pending transfer repository for this unit of work
func (u *unitOfWork) PendingTransferRepository() interfaces.PendingTransferRepository {
	if u.pendingTransferRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.pendingTransferRepo
}

// JobRepository returns the job repository for this unit of work
func (u *unitOfWork) JobRepository() interfaces.JobRepository {
	if u.jobRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.jobRepo
}

// EventBus returns the transactional event bus for this unit of work
func (u *unitOfWork) EventBus() interfaces.EventPublisher {
	if u.transactionalBus == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.transactionalBus
}

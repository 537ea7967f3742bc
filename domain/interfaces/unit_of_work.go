package interfaces

import "context"

// UnitOfWork defines the interface for transactional repository operations.
// Events published through EventBus are delivered only after Commit.
type UnitOfWork interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) error

	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction; it is a no-op after Commit
	Rollback() error

	// Repository getters
	AccountRepository() AccountRepository
	LedgerHistoryRepository() LedgerHistoryRepository
	BankRepository() BankRepository
	PendingTransferRepository() PendingTransferRepository
	JobRepository() JobRepository
	EventBus() EventPublisher
}

// UnitOfWorkFactory defines the interface for creating UnitOfWork instances
type UnitOfWorkFactory interface {
	Create() UnitOfWork
}

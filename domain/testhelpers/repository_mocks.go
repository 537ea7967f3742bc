package testhelpers

import (
	"context"
	"time"

	"coffers/domain/entities"
	"coffers/domain/interfaces"
	"coffers/events"

	"github.com/stretchr/testify/mock"
)

// MockAccountRepository is a mock implementation of AccountRepository
type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) GetByName(ctx context.Context, name string) (*entities.Account, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Account), args.Error(1)
}

func (m *MockAccountRepository) GetByNameForUpdate(ctx context.Context, name string) (*entities.Account, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Account), args.Error(1)
}

func (m *MockAccountRepository) Exists(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *MockAccountRepository) Upsert(ctx context.Context, account *entities.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockAccountRepository) Delete(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *MockAccountRepository) ListNamesInPartition(ctx context.Context, partition string) ([]string, error) {
	args := m.Called(ctx, partition)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// MockLedgerHistoryRepository is a mock implementation of LedgerHistoryRepository
type MockLedgerHistoryRepository struct {
	mock.Mock
}

func (m *MockLedgerHistoryRepository) Record(ctx context.Context, history *entities.LedgerHistory) error {
	args := m.Called(ctx, history)
	return args.Error(0)
}

func (m *MockLedgerHistoryRepository) GetByAccount(ctx context.Context, name string, limit int) ([]*entities.LedgerHistory, error) {
	args := m.Called(ctx, name, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.LedgerHistory), args.Error(1)
}

// MockBankRepository is a mock implementation of BankRepository
type MockBankRepository struct {
	mock.Mock
}

func (m *MockBankRepository) GetByID(ctx context.Context, id int) (*entities.Bank, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Bank), args.Error(1)
}

func (m *MockBankRepository) GetAll(ctx context.Context) ([]*entities.Bank, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Bank), args.Error(1)
}

func (m *MockBankRepository) Upsert(ctx context.Context, bank *entities.Bank) error {
	args := m.Called(ctx, bank)
	return args.Error(0)
}

// MockPendingTransferRepository is a mock implementation of PendingTransferRepository
type MockPendingTransferRepository struct {
	mock.Mock
}

func (m *MockPendingTransferRepository) Create(ctx context.Context, transfer *entities.PendingTransfer) error {
	args := m.Called(ctx, transfer)
	return args.Error(0)
}

func (m *MockPendingTransferRepository) GetByCode(ctx context.Context, code string) (*entities.PendingTransfer, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.PendingTransfer), args.Error(1)
}

func (m *MockPendingTransferRepository) GetByCodeForUpdate(ctx context.Context, code string) (*entities.PendingTransfer, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.PendingTransfer), args.Error(1)
}

func (m *MockPendingTransferRepository) Exists(ctx context.Context, code string) (bool, error) {
	args := m.Called(ctx, code)
	return args.Bool(0), args.Error(1)
}

func (m *MockPendingTransferRepository) Delete(ctx context.Context, code string) error {
	args := m.Called(ctx, code)
	return args.Error(0)
}

func (m *MockPendingTransferRepository) GetAll(ctx context.Context) ([]*entities.PendingTransfer, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.PendingTransfer), args.Error(1)
}

func (m *MockPendingTransferRepository) GetByOwner(ctx context.Context, ownerName string) ([]*entities.PendingTransfer, error) {
	args := m.Called(ctx, ownerName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.PendingTransfer), args.Error(1)
}

// MockJobRepository is a mock implementation of JobRepository
type MockJobRepository struct {
	mock.Mock
}

func (m *MockJobRepository) Enqueue(ctx context.Context, jobType entities.JobType, payload any, runAt time.Time) (*entities.Job, error) {
	args := m.Called(ctx, jobType, payload, runAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Job), args.Error(1)
}

func (m *MockJobRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*entities.Job, error) {
	args := m.Called(ctx, now, lease, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Job), args.Error(1)
}

func (m *MockJobRepository) Complete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockJobRepository) Retry(ctx context.Context, id int64, runAt time.Time, lastError string) error {
	args := m.Called(ctx, id, runAt, lastError)
	return args.Error(0)
}

func (m *MockJobRepository) NextRunAt(ctx context.Context) (*time.Time, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*time.Time), args.Error(1)
}

// MockEventPublisher is a mock implementation of EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(event events.Event) error {
	args := m.Called(event)
	return args.Error(0)
}

// MockNotifier is a mock implementation of Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, playerName string, message string) error {
	args := m.Called(ctx, playerName, message)
	return args.Error(0)
}

// MockPlayerDirectory is a mock implementation of PlayerDirectory
type MockPlayerDirectory struct {
	mock.Mock
}

func (m *MockPlayerDirectory) Lookup(ctx context.Context, name string) (*interfaces.PlayerInfo, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.PlayerInfo), args.Error(1)
}

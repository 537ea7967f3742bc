package application

import (
	"context"
	"fmt"
	"time"

	"coffers/domain/entities"
	"coffers/domain/interfaces"
	"coffers/domain/services"
	"coffers/events"
)

// Balance is a player's coin position after fee accrual
type Balance struct {
	Coins      entities.Coins
	Value      int64
	PendingFee int64
}

// Ledger is the entry point the game calls for coin, gem and bank operations.
// Every account operation accrues fees first; coin movements and transfers
// also settle them.
type Ledger struct {
	store       *AccountStore
	uowFactory  interfaces.UnitOfWorkFactory
	saga        *TransferSaga
	feeService  *services.FeeService
	coinService *services.CoinService
	gemLedger   *services.GemLedgerService
	now         func() time.Time
}

// NewLedger creates a new ledger facade
func NewLedger(
	store *AccountStore,
	uowFactory interfaces.UnitOfWorkFactory,
	saga *TransferSaga,
	feeService *services.FeeService,
	gemLedger *services.GemLedgerService,
) *Ledger {
	return &Ledger{
		store:       store,
		uowFactory:  uowFactory,
		saga:        saga,
		feeService:  feeService,
		coinService: services.NewCoinService(),
		gemLedger:   gemLedger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source, mainly for tests
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// DepositCoins adds coins, creating the account on first deposit
func (l *Ledger) DepositCoins(ctx context.Context, name string, denom entities.Denomination, amount int64) (*Balance, error) {
	now := l.now()
	account, err := l.store.Update(ctx, name, true, func(uow interfaces.UnitOfWork, account *entities.Account) error {
		l.feeService.UpdateFee(account, now)

		if err := l.coinService.Deposit(account, denom, amount); err != nil {
			return err
		}

		settlement := l.feeService.SettleFee(account)
		if err := services.RecordSettlement(ctx, uow.LedgerHistoryRepository(), uow.EventBus(), account, settlement, now); err != nil {
			return err
		}

		return l.recordChange(ctx, uow, account, entities.LedgerActionDepositCoins, amount*denom.Value(), nil, map[string]any{
			"denomination": denom.Code(),
			"count":        amount,
		}, now)
	})
	if err != nil {
		return nil, err
	}
	return balanceOf(account), nil
}

// WithdrawCoins settles outstanding fees and then removes coins of one denomination.
// A fee default is committed even though the withdrawal then fails.
func (l *Ledger) WithdrawCoins(ctx context.Context, name string, denom entities.Denomination, amount int64) (*Balance, error) {
	now := l.now()
	var withdrawErr error
	account, err := l.store.Update(ctx, name, false, func(uow interfaces.UnitOfWork, account *entities.Account) error {
		l.feeService.UpdateFee(account, now)

		settlement := l.feeService.SettleFee(account)
		if err := services.RecordSettlement(ctx, uow.LedgerHistoryRepository(), uow.EventBus(), account, settlement, now); err != nil {
			return err
		}

		if err := l.coinService.Withdraw(account, denom, amount); err != nil {
			if settlement.Defaulted {
				withdrawErr = err
				return nil
			}
			return err
		}

		return l.recordChange(ctx, uow, account, entities.LedgerActionWithdrawCoins, amount*denom.Value(), nil, map[string]any{
			"denomination": denom.Code(),
			"count":        amount,
		}, now)
	})
	if err != nil {
		return nil, err
	}
	if withdrawErr != nil {
		return balanceOf(account), withdrawErr
	}
	return balanceOf(account), nil
}

// Balance returns the coin position after accruing fees
func (l *Ledger) Balance(ctx context.Context, name string) (*Balance, error) {
	now := l.now()
	account, err := l.store.Update(ctx, name, false, func(uow interfaces.UnitOfWork, account *entities.Account) error {
		l.feeService.UpdateFee(account, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return balanceOf(account), nil
}

// DepositGem stores gems at a registered bank
func (l *Ledger) DepositGem(ctx context.Context, name string, bankID int, gemType string, count int64) (entities.GemBankHolding, error) {
	if count <= 0 {
		return nil, fmt.Errorf("gem count must be positive, got %d: %w", count, entities.ErrInvalidAmount)
	}
	now := l.now()
	account, err := l.store.Update(ctx, name, true, func(uow interfaces.UnitOfWork, account *entities.Account) error {
		l.feeService.UpdateFee(account, now)

		registered, err := services.NewBankRegistryService(uow.BankRepository(), uow.LedgerHistoryRepository()).IsRegistered(ctx, bankID)
		if err != nil {
			return err
		}
		if !registered {
			return fmt.Errorf("bank %d: %w", bankID, entities.ErrNotFound)
		}

		if err := l.gemLedger.AddGem(account, bankID, gemType, count); err != nil {
			return err
		}

		return l.recordChange(ctx, uow, account, entities.LedgerActionDepositGem, count, &bankID, map[string]any{
			"gem_type": entities.NormalizeGemType(gemType),
		}, now)
	})
	if err != nil {
		return nil, err
	}
	return l.gemLedger.QueryHoldings(account, bankID), nil
}

// WithdrawGem takes gems out of the bank they were deposited at. No partial
// withdrawal happens: asking for more than held fails with ErrInsufficientFunds.
func (l *Ledger) WithdrawGem(ctx context.Context, name string, bankID int, gemType string, count int64) (entities.GemBankHolding, error) {
	now := l.now()
	gemType = entities.NormalizeGemType(gemType)
	account, err := l.store.Update(ctx, name, false, func(uow interfaces.UnitOfWork, account *entities.Account) error {
		l.feeService.UpdateFee(account, now)

		if count <= 0 {
			return fmt.Errorf("gem count must be positive, got %d: %w", count, entities.ErrInvalidAmount)
		}
		have := account.Holding(bankID)[gemType]
		if have == 0 {
			return fmt.Errorf("no %s held at bank %d: %w", gemType, bankID, entities.ErrNotFound)
		}
		if !l.gemLedger.RemoveGem(account, bankID, gemType, count) {
			return fmt.Errorf("have %d %s at bank %d, need %d: %w", have, gemType, bankID, count, entities.ErrInsufficientFunds)
		}

		return l.recordChange(ctx, uow, account, entities.LedgerActionWithdrawGem, count, &bankID, map[string]any{
			"gem_type": gemType,
		}, now)
	})
	if err != nil {
		return nil, err
	}
	return l.gemLedger.QueryHoldings(account, bankID), nil
}

// Holdings returns the gems visible from a bank selector: positive for one bank,
// zero for all banks, negative for all banks except that one
func (l *Ledger) Holdings(ctx context.Context, name string, bankID int) (entities.GemBankHolding, error) {
	now := l.now()
	account, err := l.store.Update(ctx, name, false, func(uow interfaces.UnitOfWork, account *entities.Account) error {
		l.feeService.UpdateFee(account, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return l.gemLedger.QueryHoldings(account, bankID), nil
}

// Appraise values the gems selected by bankID as an appraiser of the given skill would today
func (l *Ledger) Appraise(ctx context.Context, name string, bankID int, skill int) (services.Appraisal, error) {
	now := l.now()
	account, err := l.store.Update(ctx, name, false, func(uow interfaces.UnitOfWork, account *entities.Account) error {
		l.feeService.UpdateFee(account, now)
		return nil
	})
	if err != nil {
		return services.Appraisal{}, err
	}
	return l.gemLedger.Appraise(account, bankID, skill, now.Unix()/86400), nil
}

// BeginTransfer starts moving every gem at fromBank to toBank
func (l *Ledger) BeginTransfer(ctx context.Context, name string, fromBank, toBank int, fee int64) (*services.TransferReceipt, error) {
	return l.saga.Begin(ctx, name, fromBank, toBank, fee)
}

// DescribeBank returns a bank's location description
func (l *Ledger) DescribeBank(ctx context.Context, bankID int) (string, error) {
	var description string
	err := l.readOnly(ctx, func(uow interfaces.UnitOfWork) error {
		var err error
		description, err = services.NewBankRegistryService(uow.BankRepository(), uow.LedgerHistoryRepository()).Describe(ctx, bankID)
		return err
	})
	return description, err
}

// ResolveBank finds a bank id from its description
func (l *Ledger) ResolveBank(ctx context.Context, text string) (int, error) {
	var bankID int
	err := l.readOnly(ctx, func(uow interfaces.UnitOfWork) error {
		var err error
		bankID, err = services.NewBankRegistryService(uow.BankRepository(), uow.LedgerHistoryRepository()).ResolveByDescription(ctx, text)
		return err
	})
	return bankID, err
}

// ListBanks returns the bank registry
func (l *Ledger) ListBanks(ctx context.Context) ([]*entities.Bank, error) {
	var banks []*entities.Bank
	err := l.readOnly(ctx, func(uow interfaces.UnitOfWork) error {
		var err error
		banks, err = services.NewBankRegistryService(uow.BankRepository(), uow.LedgerHistoryRepository()).List(ctx)
		return err
	})
	return banks, err
}

// RegisterBank adds or renames a bank
func (l *Ledger) RegisterBank(ctx context.Context, bankID int, description string) (*entities.Bank, error) {
	uow := l.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	bank, err := services.NewBankRegistryService(uow.BankRepository(), uow.LedgerHistoryRepository()).Register(ctx, bankID, description, l.now())
	if err != nil {
		return nil, err
	}

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return bank, nil
}

// RemoveAccount is the administrative removal path. Transfers in transit are
// orphaned and reported.
func (l *Ledger) RemoveAccount(ctx context.Context, name, actor string) (*RemovalResult, error) {
	return l.store.Remove(ctx, name, actor, true)
}

// History returns the most recent audit entries for an account
func (l *Ledger) History(ctx context.Context, name string, limit int) ([]*entities.LedgerHistory, error) {
	if limit <= 0 {
		limit = 20
	}
	var history []*entities.LedgerHistory
	err := l.readOnly(ctx, func(uow interfaces.UnitOfWork) error {
		var err error
		history, err = uow.LedgerHistoryRepository().GetByAccount(ctx, entities.NormalizeName(name), limit)
		if err != nil {
			return fmt.Errorf("failed to get ledger history: %w", err)
		}
		return nil
	})
	return history, err
}

func (l *Ledger) readOnly(ctx context.Context, fn func(uow interfaces.UnitOfWork) error) error {
	uow := l.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()
	return fn(uow)
}

// recordChange writes the audit entry for a player-initiated change and mirrors it on the bus
func (l *Ledger) recordChange(ctx context.Context, uow interfaces.UnitOfWork, account *entities.Account, action entities.LedgerAction, amount int64, bankID *int, metadata map[string]any, now time.Time) error {
	if err := uow.LedgerHistoryRepository().Record(ctx, &entities.LedgerHistory{
		AccountName: account.Name,
		Action:      action,
		Amount:      amount,
		BankID:      bankID,
		Metadata:    metadata,
		CreatedAt:   now,
	}); err != nil {
		return fmt.Errorf("failed to record ledger history: %w", err)
	}

	if err := uow.EventBus().Publish(events.LedgerChangeEvent{
		AccountName: account.Name,
		Action:      string(action),
		Amount:      amount,
	}); err != nil {
		return fmt.Errorf("failed to publish ledger change event: %w", err)
	}
	return nil
}

func balanceOf(account *entities.Account) *Balance {
	return &Balance{
		Coins:      account.Coins,
		Value:      account.Value(),
		PendingFee: account.PendingFee,
	}
}

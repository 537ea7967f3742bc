package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coffers/domain/entities"
	"coffers/domain/interfaces"
	"coffers/events"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
)

// ErrPendingTransfers is returned when a conditional removal finds gems in transit
var ErrPendingTransfers = errors.New("account has pending transfers")

// UpdateFunc mutates a private copy of an account inside an open unit of work.
// Returning an error rolls everything back.
type UpdateFunc func(uow interfaces.UnitOfWork, account *entities.Account) error

// RemovalResult describes an account removal
type RemovalResult struct {
	AccountName       string
	OrphanedTransfers []string
}

// AccountStore owns account records. Mutations for one name are serialized by a
// per-account lock; different names proceed in parallel. The cache only ever
// holds committed state and callers always receive copies, so evicting an entry
// can never drop unsaved changes. The cache serves reads only: every mutation
// re-reads the row under a row lock, since another process (an admin command,
// a second instance) may have changed or removed it.
type AccountStore struct {
	uowFactory interfaces.UnitOfWorkFactory
	locks      *accountLocks
	cache      *lru.Cache[string, *entities.Account]
	now        func() time.Time
}

// NewAccountStore creates a store caching up to cacheSize hot accounts
func NewAccountStore(uowFactory interfaces.UnitOfWorkFactory, cacheSize int) (*AccountStore, error) {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	cache, err := lru.New[string, *entities.Account](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create account cache: %w", err)
	}
	return &AccountStore{
		uowFactory: uowFactory,
		locks:      newAccountLocks(),
		cache:      cache,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock replaces the time source, mainly for tests
func (s *AccountStore) WithClock(now func() time.Time) *AccountStore {
	s.now = now
	return s
}

// Load returns a private copy of an account. A missing account is created
// (unsaved) when createIfMissing is set, otherwise entities.ErrNotFound.
func (s *AccountStore) Load(ctx context.Context, name string, createIfMissing bool) (*entities.Account, error) {
	name = entities.NormalizeName(name)
	if name == "" {
		return nil, fmt.Errorf("empty account name: %w", entities.ErrNotFound)
	}

	if cached, ok := s.cache.Get(name); ok {
		return cached.Clone(), nil
	}

	// the cache may only be filled under the lock or a racing Update could be undone
	unlock, err := s.locks.Lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	account, err := s.read(ctx, uow, name, false)
	if err != nil {
		return nil, err
	}
	if account == nil {
		if !createIfMissing {
			return nil, fmt.Errorf("account %s: %w", name, entities.ErrNotFound)
		}
		return entities.NewAccount(name, s.now()), nil
	}
	return account, nil
}

// Save persists an account as the caller holds it and audits who did it. Ledger
// operations go through Update so that their own audit entries share the
// transaction; Save is the plain write for administrative corrections.
func (s *AccountStore) Save(ctx context.Context, account *entities.Account, actor string) error {
	saved := account.Clone()
	err := s.update(ctx, account.Name, func(uow interfaces.UnitOfWork, current *entities.Account) (*entities.Account, error) {
		saved.Name = entities.NormalizeName(saved.Name)
		if current != nil {
			saved.CreatedAt = current.CreatedAt
		}
		if err := uow.LedgerHistoryRepository().Record(ctx, &entities.LedgerHistory{
			AccountName: saved.Name,
			Action:      entities.LedgerActionAccountSaved,
			Amount:      saved.Value(),
			Metadata: map[string]any{
				"actor":       actor,
				"created":     current == nil,
				"pending_fee": saved.PendingFee,
			},
			CreatedAt: s.now(),
		}); err != nil {
			return nil, fmt.Errorf("failed to record account save: %w", err)
		}
		return saved, nil
	})
	if err != nil {
		return err
	}
	account.Name = saved.Name
	account.CreatedAt = saved.CreatedAt
	account.UpdatedAt = saved.UpdatedAt
	return nil
}

// Exists probes for an account without decoding it. It always asks the
// database; a cached copy may outlive a removal made elsewhere.
func (s *AccountStore) Exists(ctx context.Context, name string) (bool, error) {
	name = entities.NormalizeName(name)

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	exists, err := uow.AccountRepository().Exists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("failed to check account: %w", err)
	}
	return exists, nil
}

// Update runs fn against the account under its lock and persists the result in
// the same transaction as whatever fn wrote
func (s *AccountStore) Update(ctx context.Context, name string, createIfMissing bool, fn UpdateFunc) (*entities.Account, error) {
	var result *entities.Account
	err := s.update(ctx, name, func(uow interfaces.UnitOfWork, account *entities.Account) (*entities.Account, error) {
		if account == nil {
			if !createIfMissing {
				return nil, fmt.Errorf("account %s: %w", entities.NormalizeName(name), entities.ErrNotFound)
			}
			account = entities.NewAccount(name, s.now())
		}
		if err := fn(uow, account); err != nil {
			return nil, err
		}
		result = account
		return account, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateIfExists is Update for callers that must act whether or not the account
// exists; fn receives nil for a missing account and nothing is saved in that case
func (s *AccountStore) UpdateIfExists(ctx context.Context, name string, fn UpdateFunc) error {
	return s.update(ctx, name, func(uow interfaces.UnitOfWork, account *entities.Account) (*entities.Account, error) {
		if err := fn(uow, account); err != nil {
			return nil, err
		}
		return account, nil
	})
}

func (s *AccountStore) update(ctx context.Context, name string, fn func(uow interfaces.UnitOfWork, account *entities.Account) (*entities.Account, error)) error {
	name = entities.NormalizeName(name)
	if name == "" {
		return fmt.Errorf("empty account name: %w", entities.ErrNotFound)
	}

	unlock, err := s.locks.Lock(ctx, name)
	if err != nil {
		return err
	}
	defer unlock()

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	account, err := s.read(ctx, uow, name, true)
	if err != nil {
		return err
	}

	save, err := fn(uow, account)
	if err != nil {
		return err
	}

	if save != nil {
		if err := uow.AccountRepository().Upsert(ctx, save); err != nil {
			return fmt.Errorf("failed to save account: %w", err)
		}
	}

	if err := uow.Commit(); err != nil {
		s.cache.Remove(name)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	if save != nil {
		s.cache.Add(name, save.Clone())
	}
	return nil
}

// Remove deletes an account and records who did it. Pending transfers owned by
// the account are reported, not resolved; with allowOrphans unset their presence
// aborts the removal with ErrPendingTransfers.
func (s *AccountStore) Remove(ctx context.Context, name, actor string, allowOrphans bool) (*RemovalResult, error) {
	name = entities.NormalizeName(name)
	unlock, err := s.locks.Lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	exists, err := uow.AccountRepository().Exists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to check account: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("account %s: %w", name, entities.ErrNotFound)
	}

	pending, err := uow.PendingTransferRepository().GetByOwner(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending transfers: %w", err)
	}
	if len(pending) > 0 && !allowOrphans {
		return nil, fmt.Errorf("account %s has %d transfers in transit: %w", name, len(pending), ErrPendingTransfers)
	}

	metadata := map[string]any{"actor": actor}
	var amount int64
	account, err := uow.AccountRepository().GetByNameForUpdate(ctx, name)
	switch {
	case errors.Is(err, entities.ErrCorruptRecord):
		metadata["corrupt"] = true
	case err != nil:
		return nil, fmt.Errorf("failed to get account: %w", err)
	case account != nil:
		amount = account.Value()
		metadata["coins"] = account.Coins
		metadata["gem_banks"] = account.GemBanks
		metadata["pending_fee"] = account.PendingFee
	}

	result := &RemovalResult{AccountName: name}
	for _, p := range pending {
		result.OrphanedTransfers = append(result.OrphanedTransfers, p.Code)
	}
	if len(result.OrphanedTransfers) > 0 {
		metadata["orphaned_transfers"] = result.OrphanedTransfers
	}

	if _, err := uow.AccountRepository().Delete(ctx, name); err != nil {
		return nil, fmt.Errorf("failed to delete account: %w", err)
	}
	if err := uow.LedgerHistoryRepository().Record(ctx, &entities.LedgerHistory{
		AccountName: name,
		Action:      entities.LedgerActionAccountRemoved,
		Amount:      amount,
		Metadata:    metadata,
		CreatedAt:   s.now(),
	}); err != nil {
		return nil, fmt.Errorf("failed to record account removal: %w", err)
	}
	if err := uow.EventBus().Publish(events.AccountRemovedEvent{
		AccountName:      name,
		Actor:            actor,
		OrphanedTransfer: result.OrphanedTransfers,
	}); err != nil {
		return nil, fmt.Errorf("failed to publish account removed event: %w", err)
	}

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.cache.Remove(name)

	fields := log.Fields{
		"account": name,
		"actor":   actor,
		"value":   amount,
	}
	if len(result.OrphanedTransfers) > 0 {
		fields["orphaned_transfers"] = result.OrphanedTransfers
		log.WithFields(fields).Error("Account removed with transfers in transit")
	} else {
		log.WithFields(fields).Info("Account removed")
	}

	return result, nil
}

// Evict drops a cached account
func (s *AccountStore) Evict(name string) {
	s.cache.Remove(entities.NormalizeName(name))
}

// read loads an account through the unit of work and refreshes the cache.
// Corrupt rows are logged and reported as missing. forUpdate row-locks the
// account for the rest of the transaction.
func (s *AccountStore) read(ctx context.Context, uow interfaces.UnitOfWork, name string, forUpdate bool) (*entities.Account, error) {
	repo := uow.AccountRepository()
	var account *entities.Account
	var err error
	if forUpdate {
		account, err = repo.GetByNameForUpdate(ctx, name)
	} else {
		account, err = repo.GetByName(ctx, name)
	}
	if errors.Is(err, entities.ErrCorruptRecord) {
		s.cache.Remove(name)
		log.WithFields(log.Fields{
			"account": name,
			"error":   err,
		}).Error("Corrupt account record, treating as missing")
		return nil, fmt.Errorf("account %s: %w", name, entities.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if account == nil {
		s.cache.Remove(name)
		return nil, nil
	}
	s.cache.Add(name, account.Clone())
	return account, nil
}

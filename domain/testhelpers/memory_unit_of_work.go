package testhelpers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"coffers/domain/entities"
	"coffers/domain/interfaces"
	"coffers/events"
)

// MemoryState is the in-memory equivalent of the ledger database
type MemoryState struct {
	Accounts  map[string]*entities.Account
	Banks     map[int]*entities.Bank
	Pending   map[string]*entities.PendingTransfer
	Jobs      map[int64]*entities.Job
	History   []*entities.LedgerHistory
	nextJobID int64
	nextHisID int64

	// Corrupt names read back as entities.ErrCorruptRecord
	Corrupt map[string]bool
}

func newMemoryState() *MemoryState {
	return &MemoryState{
		Accounts: make(map[string]*entities.Account),
		Banks:    make(map[int]*entities.Bank),
		Pending:  make(map[string]*entities.PendingTransfer),
		Jobs:     make(map[int64]*entities.Job),
		Corrupt:  make(map[string]bool),
	}
}

func (s *MemoryState) clone() *MemoryState {
	out := newMemoryState()
	for k, v := range s.Accounts {
		out.Accounts[k] = v.Clone()
	}
	for k, v := range s.Banks {
		b := *v
		out.Banks[k] = &b
	}
	for k, v := range s.Pending {
		p := *v
		p.Gems = v.Gems.Clone()
		out.Pending[k] = &p
	}
	for k, v := range s.Jobs {
		j := *v
		out.Jobs[k] = &j
	}
	for k, v := range s.Corrupt {
		out.Corrupt[k] = v
	}
	out.History = append(out.History, s.History...)
	out.nextJobID = s.nextJobID
	out.nextHisID = s.nextHisID
	return out
}

// MemoryUnitOfWorkFactory creates units of work over a shared in-memory state.
// Transactions are serialized and see a private copy until they commit.
type MemoryUnitOfWorkFactory struct {
	txMu  sync.Mutex
	mu    sync.Mutex
	state *MemoryState
	bus   *events.Bus

	// BeginCount counts started transactions
	BeginCount int
}

// NewMemoryUnitOfWorkFactory creates an empty in-memory ledger
func NewMemoryUnitOfWorkFactory(bus *events.Bus) *MemoryUnitOfWorkFactory {
	return &MemoryUnitOfWorkFactory{state: newMemoryState(), bus: bus}
}

// Create returns a new unit of work
func (f *MemoryUnitOfWorkFactory) Create() interfaces.UnitOfWork {
	return &memoryUnitOfWork{factory: f}
}

// Snapshot returns a copy of the committed state
func (f *MemoryUnitOfWorkFactory) Snapshot() *MemoryState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.clone()
}

// Seed mutates the committed state directly
func (f *MemoryUnitOfWorkFactory) Seed(fn func(state *MemoryState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.state)
}

type memoryUnitOfWork struct {
	factory *MemoryUnitOfWorkFactory
	state   *MemoryState
	bus     *events.TransactionalBus
	ctx     context.Context
}

func (u *memoryUnitOfWork) Begin(ctx context.Context) error {
	if u.state != nil {
		return fmt.Errorf("transaction already started")
	}
	u.factory.txMu.Lock()
	u.factory.mu.Lock()
	u.factory.BeginCount++
	u.state = u.factory.state.clone()
	u.factory.mu.Unlock()
	u.bus = events.NewTransactionalBus(u.factory.bus)
	u.ctx = ctx
	return nil
}

func (u *memoryUnitOfWork) Commit() error {
	if u.state == nil {
		return fmt.Errorf("no transaction to commit")
	}
	u.factory.mu.Lock()
	u.factory.state = u.state
	u.factory.mu.Unlock()
	u.state = nil
	u.factory.txMu.Unlock()

	u.bus.Flush(u.ctx)
	return nil
}

func (u *memoryUnitOfWork) Rollback() error {
	if u.state == nil {
		return nil
	}
	u.state = nil
	u.factory.txMu.Unlock()
	u.bus.Discard()
	return nil
}

func (u *memoryUnitOfWork) started() {
	if u.state == nil {
		panic("unit of work not started - call Begin() first")
	}
}

func (u *memoryUnitOfWork) AccountRepository() interfaces.AccountRepository {
	u.started()
	return &memoryAccountRepository{state: u.state}
}

func (u *memoryUnitOfWork) LedgerHistoryRepository() interfaces.LedgerHistoryRepository {
	u.started()
	return &memoryHistoryRepository{state: u.state}
}

func (u *memoryUnitOfWork) BankRepository() interfaces.BankRepository {
	u.started()
	return &memoryBankRepository{state: u.state}
}

func (u *memoryUnitOfWork) PendingTransferRepository() interfaces.PendingTransferRepository {
	u.started()
	return &memoryPendingRepository{state: u.state}
}

func (u *memoryUnitOfWork) JobRepository() interfaces.JobRepository {
	u.started()
	return &memoryJobRepository{state: u.state}
}

func (u *memoryUnitOfWork) EventBus() interfaces.EventPublisher {
	u.started()
	return u.bus
}

type memoryAccountRepository struct{ state *MemoryState }

func (r *memoryAccountRepository) GetByName(ctx context.Context, name string) (*entities.Account, error) {
	name = entities.NormalizeName(name)
	if r.state.Corrupt[name] {
		return nil, fmt.Errorf("account %s: %w", name, entities.ErrCorruptRecord)
	}
	acct, ok := r.state.Accounts[name]
	if !ok {
		return nil, nil
	}
	return acct.Clone(), nil
}

// GetByNameForUpdate needs no row lock; transactions are already serialized
func (r *memoryAccountRepository) GetByNameForUpdate(ctx context.Context, name string) (*entities.Account, error) {
	return r.GetByName(ctx, name)
}

func (r *memoryAccountRepository) Exists(ctx context.Context, name string) (bool, error) {
	name = entities.NormalizeName(name)
	_, ok := r.state.Accounts[name]
	return ok || r.state.Corrupt[name], nil
}

func (r *memoryAccountRepository) Upsert(ctx context.Context, account *entities.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	now := time.Now()
	saved := account.Clone()
	if existing, ok := r.state.Accounts[account.Name]; ok {
		saved.CreatedAt = existing.CreatedAt
	} else {
		saved.CreatedAt = now
	}
	saved.UpdatedAt = now
	r.state.Accounts[account.Name] = saved
	delete(r.state.Corrupt, account.Name)
	account.CreatedAt = saved.CreatedAt
	account.UpdatedAt = saved.UpdatedAt
	return nil
}

func (r *memoryAccountRepository) Delete(ctx context.Context, name string) (bool, error) {
	name = entities.NormalizeName(name)
	_, ok := r.state.Accounts[name]
	corrupt := r.state.Corrupt[name]
	delete(r.state.Accounts, name)
	delete(r.state.Corrupt, name)
	return ok || corrupt, nil
}

func (r *memoryAccountRepository) ListNamesInPartition(ctx context.Context, partition string) ([]string, error) {
	var names []string
	for name := range r.state.Accounts {
		first := name[:1]
		if partition == "#" {
			if first < "a" || first > "z" {
				names = append(names, name)
			}
		} else if strings.HasPrefix(name, partition) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

type memoryHistoryRepository struct{ state *MemoryState }

func (r *memoryHistoryRepository) Record(ctx context.Context, history *entities.LedgerHistory) error {
	r.state.nextHisID++
	history.ID = r.state.nextHisID
	if history.CreatedAt.IsZero() {
		history.CreatedAt = time.Now()
	}
	entry := *history
	r.state.History = append(r.state.History, &entry)
	return nil
}

func (r *memoryHistoryRepository) GetByAccount(ctx context.Context, name string, limit int) ([]*entities.LedgerHistory, error) {
	name = entities.NormalizeName(name)
	var out []*entities.LedgerHistory
	for i := len(r.state.History) - 1; i >= 0 && len(out) < limit; i-- {
		if r.state.History[i].AccountName == name {
			entry := *r.state.History[i]
			out = append(out, &entry)
		}
	}
	return out, nil
}

type memoryBankRepository struct{ state *MemoryState }

func (r *memoryBankRepository) GetByID(ctx context.Context, id int) (*entities.Bank, error) {
	bank, ok := r.state.Banks[id]
	if !ok {
		return nil, nil
	}
	b := *bank
	return &b, nil
}

func (r *memoryBankRepository) GetAll(ctx context.Context) ([]*entities.Bank, error) {
	out := make([]*entities.Bank, 0, len(r.state.Banks))
	for _, bank := range r.state.Banks {
		b := *bank
		out = append(out, &b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryBankRepository) Upsert(ctx context.Context, bank *entities.Bank) error {
	b := *bank
	r.state.Banks[bank.ID] = &b
	return nil
}

type memoryPendingRepository struct{ state *MemoryState }

func (r *memoryPendingRepository) Create(ctx context.Context, transfer *entities.PendingTransfer) error {
	if _, ok := r.state.Pending[transfer.Code]; ok {
		return fmt.Errorf("transfer code %s already in use", transfer.Code)
	}
	p := *transfer
	p.Gems = transfer.Gems.Clone()
	r.state.Pending[transfer.Code] = &p
	return nil
}

func (r *memoryPendingRepository) GetByCode(ctx context.Context, code string) (*entities.PendingTransfer, error) {
	transfer, ok := r.state.Pending[code]
	if !ok {
		return nil, nil
	}
	p := *transfer
	p.Gems = transfer.Gems.Clone()
	return &p, nil
}

func (r *memoryPendingRepository) GetByCodeForUpdate(ctx context.Context, code string) (*entities.PendingTransfer, error) {
	return r.GetByCode(ctx, code)
}

func (r *memoryPendingRepository) Exists(ctx context.Context, code string) (bool, error) {
	_, ok := r.state.Pending[code]
	return ok, nil
}

func (r *memoryPendingRepository) Delete(ctx context.Context, code string) error {
	delete(r.state.Pending, code)
	return nil
}

func (r *memoryPendingRepository) GetAll(ctx context.Context) ([]*entities.PendingTransfer, error) {
	var out []*entities.PendingTransfer
	for code := range r.state.Pending {
		p, _ := r.GetByCode(ctx, code)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Code < out[j].Code
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memoryPendingRepository) GetByOwner(ctx context.Context, ownerName string) ([]*entities.PendingTransfer, error) {
	all, _ := r.GetAll(ctx)
	var out []*entities.PendingTransfer
	for _, p := range all {
		if p.OwnerName == entities.NormalizeName(ownerName) {
			out = append(out, p)
		}
	}
	return out, nil
}

type memoryJobRepository struct{ state *MemoryState }

func (r *memoryJobRepository) Enqueue(ctx context.Context, jobType entities.JobType, payload any, runAt time.Time) (*entities.Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}
	r.state.nextJobID++
	job := &entities.Job{
		ID:        r.state.nextJobID,
		Type:      jobType,
		Payload:   raw,
		RunAt:     runAt,
		CreatedAt: time.Now(),
	}
	r.state.Jobs[job.ID] = job
	j := *job
	return &j, nil
}

func (r *memoryJobRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*entities.Job, error) {
	var due []*entities.Job
	for _, job := range r.state.Jobs {
		if job.RunAt.After(now) {
			continue
		}
		if job.LockedUntil != nil && job.LockedUntil.After(now) {
			continue
		}
		due = append(due, job)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].RunAt.Equal(due[j].RunAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].RunAt.Before(due[j].RunAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]*entities.Job, 0, len(due))
	for _, job := range due {
		until := now.Add(lease)
		job.LockedUntil = &until
		j := *job
		out = append(out, &j)
	}
	return out, nil
}

func (r *memoryJobRepository) Complete(ctx context.Context, id int64) error {
	delete(r.state.Jobs, id)
	return nil
}

func (r *memoryJobRepository) Retry(ctx context.Context, id int64, runAt time.Time, lastError string) error {
	job, ok := r.state.Jobs[id]
	if !ok {
		return nil
	}
	job.Attempts++
	job.RunAt = runAt
	job.LockedUntil = nil
	job.LastError = &lastError
	return nil
}

func (r *memoryJobRepository) NextRunAt(ctx context.Context) (*time.Time, error) {
	var next *time.Time
	for _, job := range r.state.Jobs {
		t := job.RunAt
		if job.LockedUntil != nil && job.LockedUntil.After(t) {
			t = *job.LockedUntil
		}
		if next == nil || t.Before(*next) {
			next = &t
		}
	}
	return next, nil
}

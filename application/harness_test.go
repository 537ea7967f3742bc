package application_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"coffers/application"
	"coffers/config"
	"coffers/domain/entities"
	"coffers/domain/interfaces"
	"coffers/domain/services"
	"coffers/domain/testhelpers"
	"coffers/events"

	"github.com/stretchr/testify/require"
)

// fakeClock is a settable time source shared by every component of a harness
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type notification struct {
	Player  string
	Message string
}

// recordingNotifier keeps every message it was asked to deliver
type recordingNotifier struct {
	mu       sync.Mutex
	messages []notification
}

func (n *recordingNotifier) Notify(ctx context.Context, playerName, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, notification{Player: playerName, Message: message})
	return nil
}

func (n *recordingNotifier) For(player string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.messages {
		if m.Player == player {
			out = append(out, m.Message)
		}
	}
	return out
}

func (n *recordingNotifier) Contains(player, fragment string) bool {
	for _, m := range n.For(player) {
		if strings.Contains(m, fragment) {
			return true
		}
	}
	return false
}

// ledgerStack is the application layer wired over one unit of work factory.
// Transit time is fixed at base + base/2 = 90s.
type ledgerStack struct {
	bus      *events.Bus
	clock    *fakeClock
	notifier *recordingNotifier
	store    *application.AccountStore
	saga     *application.TransferSaga
	ledger   *application.Ledger
	worker   *application.JobWorker
}

// ledgerHarness runs the stack over the in-memory ledger
type ledgerHarness struct {
	*ledgerStack
	factory *testhelpers.MemoryUnitOfWorkFactory
}

func newLedgerHarness(t *testing.T) *ledgerHarness {
	t.Helper()
	bus := events.NewBus()
	factory := testhelpers.NewMemoryUnitOfWorkFactory(bus)
	return &ledgerHarness{
		ledgerStack: newLedgerStack(t, bus, factory, newFakeClock()),
		factory:     factory,
	}
}

// newLedgerStack builds a fresh set of components, as a process restart would
func newLedgerStack(t *testing.T, bus *events.Bus, factory interfaces.UnitOfWorkFactory, clock *fakeClock) *ledgerStack {
	t.Helper()
	cfg := config.Get()

	notifier := &recordingNotifier{}
	application.RegisterNotificationSubscriptions(bus, notifier)

	feeService := services.NewFeeService(services.DefaultFeePolicy())
	gemLedger := services.NewGemLedgerService(cfg.AppraisalGranularity)

	store, err := application.NewAccountStore(factory, cfg.AccountCacheSize)
	require.NoError(t, err)
	store.WithClock(clock.Now)

	saga := application.NewTransferSaga(store, factory, feeService, gemLedger, time.Minute).
		WithClock(clock.Now).
		WithJitter(func(d time.Duration) time.Duration { return d / 2 })

	ledger := application.NewLedger(store, factory, saga, feeService, gemLedger).WithClock(clock.Now)

	worker := application.NewJobWorker(factory, application.JobWorkerConfig{
		PollInterval: time.Second,
		Lease:        time.Minute,
		BatchSize:    cfg.JobBatchSize,
		MaxAttempts:  cfg.JobMaxAttempts,
		RetryBackoff: cfg.JobRetryBackoff,
	}).WithClock(clock.Now)
	worker.Register(entities.JobTypeCompleteTransfer, saga.HandleJob)

	return &ledgerStack{
		bus:      bus,
		clock:    clock,
		notifier: notifier,
		store:    store,
		saga:     saga,
		ledger:   ledger,
		worker:   worker,
	}
}

func (h *ledgerStack) registerBanks(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := h.ledger.RegisterBank(ctx, 1, "Harbor Vault")
	require.NoError(t, err)
	_, err = h.ledger.RegisterBank(ctx, 2, "Mountain Hold")
	require.NoError(t, err)
}

func (h *ledgerHarness) seedAccount(account *entities.Account) {
	h.factory.Seed(func(s *testhelpers.MemoryState) {
		s.Accounts[account.Name] = account.Clone()
	})
}

func (h *ledgerHarness) history(action entities.LedgerAction) []*entities.LedgerHistory {
	var out []*entities.LedgerHistory
	for _, entry := range h.factory.Snapshot().History {
		if entry.Action == action {
			out = append(out, entry)
		}
	}
	return out
}

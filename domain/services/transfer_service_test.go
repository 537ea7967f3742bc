package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"coffers/domain/entities"
	"coffers/domain/interfaces"
	"coffers/domain/testhelpers"
	"coffers/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transferFixture struct {
	factory *testhelpers.MemoryUnitOfWorkFactory
	bus     *events.Bus
	now     time.Time
}

func newTransferFixture(t *testing.T) *transferFixture {
	t.Helper()
	bus := events.NewBus()
	f := &transferFixture{
		factory: testhelpers.NewMemoryUnitOfWorkFactory(bus),
		bus:     bus,
		now:     time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	f.factory.Seed(func(s *testhelpers.MemoryState) {
		s.Banks[1] = &entities.Bank{ID: 1, Description: "Harbor Vault"}
		s.Banks[2] = &entities.Bank{ID: 2, Description: "Mountain Hold"}
	})
	return f
}

func (f *transferFixture) service(uow interfaces.UnitOfWork) *TransferService {
	return NewTransferService(
		uow.PendingTransferRepository(),
		uow.JobRepository(),
		uow.LedgerHistoryRepository(),
		uow.BankRepository(),
		uow.EventBus(),
		NewFeeService(DefaultFeePolicy()),
		NewGemLedgerService(10),
		time.Minute,
	).WithJitter(func(d time.Duration) time.Duration { return d / 2 })
}

func (f *transferFixture) begin(t *testing.T, acct *entities.Account, from, to int, fee int64) *TransferReceipt {
	t.Helper()
	ctx := context.Background()
	uow := f.factory.Create()
	require.NoError(t, uow.Begin(ctx))
	defer uow.Rollback()

	receipt, err := f.service(uow).Begin(ctx, acct, from, to, fee, f.now)
	require.NoError(t, err)
	require.NoError(t, uow.AccountRepository().Upsert(ctx, acct))
	require.NoError(t, uow.Commit())
	return receipt
}

func TestTransferService_Begin(t *testing.T) {
	t.Parallel()

	f := newTransferFixture(t)
	acct := entities.NewAccount("hank", f.now)
	acct.Coins = entities.Coins{0, 0, 5, 0}
	acct.GemBanks[1] = entities.GemBankHolding{"ruby": 3}
	acct.GemBanks[2] = entities.GemBankHolding{"opal": 1}

	receipt := f.begin(t, acct, 1, 2, 150)

	assert.Nil(t, acct.Holding(1), "source holding debited")
	assert.Equal(t, entities.GemBankHolding{"opal": 1}, acct.Holding(2), "destination untouched until completion")
	assert.Equal(t, int64(350), acct.Value(), "fee charged and settled")
	assert.Equal(t, int64(0), acct.PendingFee)
	assert.Equal(t, f.now.Add(90*time.Second), receipt.RunAt)

	state := f.factory.Snapshot()
	require.Len(t, state.Pending, 1)
	pending := state.Pending[receipt.Transfer.Code]
	require.NotNil(t, pending)
	assert.Equal(t, entities.GemBankHolding{"ruby": 3}, pending.Gems)
	assert.Equal(t, "hank", pending.OwnerName)
	assert.Equal(t, 1, pending.FromBank)
	assert.Equal(t, 2, pending.ToBank)

	require.Len(t, state.Jobs, 1)
	for _, job := range state.Jobs {
		assert.Equal(t, entities.JobTypeCompleteTransfer, job.Type)
		var payload entities.CompleteTransferPayload
		require.NoError(t, json.Unmarshal(job.Payload, &payload))
		assert.Equal(t, receipt.Transfer.Code, payload.Code)
		assert.Equal(t, receipt.RunAt, job.RunAt)
	}

	var actions []entities.LedgerAction
	for _, h := range state.History {
		actions = append(actions, h.Action)
	}
	assert.Equal(t, []entities.LedgerAction{entities.LedgerActionFeeSettled, entities.LedgerActionTransferOut}, actions)
}

func TestTransferService_Begin_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		from, to int
		fee      int64
		wantErr  error
	}{
		{name: "empty source holding", from: 2, to: 1, wantErr: entities.ErrNotFound},
		{name: "same bank", from: 1, to: 1, wantErr: entities.ErrInvalidAmount},
		{name: "negative fee", from: 1, to: 2, fee: -1, wantErr: entities.ErrInvalidAmount},
		{name: "invalid bank id", from: 0, to: 2, wantErr: entities.ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newTransferFixture(t)
			acct := entities.NewAccount("ivy", f.now)
			acct.GemBanks[1] = entities.GemBankHolding{"ruby": 3}

			ctx := context.Background()
			uow := f.factory.Create()
			require.NoError(t, uow.Begin(ctx))
			defer uow.Rollback()

			_, err := f.service(uow).Begin(ctx, acct, tt.from, tt.to, tt.fee, f.now)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, entities.GemBankHolding{"ruby": 3}, acct.Holding(1))
		})
	}
}

func TestTransferService_Complete(t *testing.T) {
	t.Parallel()

	t.Run("credits the destination", func(t *testing.T) {
		t.Parallel()
		f := newTransferFixture(t)
		acct := entities.NewAccount("jack", f.now)
		acct.GemBanks[1] = entities.GemBankHolding{"ruby": 3}
		acct.GemBanks[2] = entities.GemBankHolding{"ruby": 1}
		receipt := f.begin(t, acct, 1, 2, 0)

		var notified []events.PlayerNotificationEvent
		f.bus.Subscribe(events.EventTypePlayerNotification, func(ctx context.Context, e events.Event) {
			notified = append(notified, e.(events.PlayerNotificationEvent))
		})

		ctx := context.Background()
		uow := f.factory.Create()
		require.NoError(t, uow.Begin(ctx))
		transfer, err := uow.PendingTransferRepository().GetByCodeForUpdate(ctx, receipt.Transfer.Code)
		require.NoError(t, err)
		outcome, err := f.service(uow).Complete(ctx, transfer, acct, f.now.Add(2*time.Minute))
		require.NoError(t, err)
		require.NoError(t, uow.AccountRepository().Upsert(ctx, acct))
		require.NoError(t, uow.Commit())
		f.bus.Wait()

		assert.Equal(t, TransferOutcomeCompleted, outcome)
		assert.Equal(t, entities.GemBankHolding{"ruby": 4}, acct.Holding(2))
		state := f.factory.Snapshot()
		assert.Empty(t, state.Pending)
		assert.Equal(t, entities.LedgerActionTransferIn, state.History[len(state.History)-1].Action)
		require.Len(t, notified, 1)
		assert.Equal(t, "jack", notified[0].PlayerName)
		assert.Contains(t, notified[0].Message, "Mountain Hold")
	})

	t.Run("destination gone is terminal", func(t *testing.T) {
		t.Parallel()
		f := newTransferFixture(t)
		acct := entities.NewAccount("kate", f.now)
		acct.GemBanks[1] = entities.GemBankHolding{"ruby": 3}
		receipt := f.begin(t, acct, 1, 99, 0)

		var failed []events.TransferFailedEvent
		f.bus.Subscribe(events.EventTypeTransferFailed, func(ctx context.Context, e events.Event) {
			failed = append(failed, e.(events.TransferFailedEvent))
		})

		ctx := context.Background()
		uow := f.factory.Create()
		require.NoError(t, uow.Begin(ctx))
		transfer, err := uow.PendingTransferRepository().GetByCodeForUpdate(ctx, receipt.Transfer.Code)
		require.NoError(t, err)
		outcome, err := f.service(uow).Complete(ctx, transfer, acct, f.now)
		require.NoError(t, err)
		require.NoError(t, uow.Commit())
		f.bus.Wait()

		assert.Equal(t, TransferOutcomeDestinationGone, outcome)
		assert.Empty(t, acct.GemBanks)
		state := f.factory.Snapshot()
		assert.Empty(t, state.Pending)
		assert.Equal(t, entities.LedgerActionTransferLost, state.History[len(state.History)-1].Action)
		require.Len(t, failed, 1)
		assert.Equal(t, string(TransferOutcomeDestinationGone), failed[0].Reason)
	})

	t.Run("removed owner is surfaced as orphaned", func(t *testing.T) {
		t.Parallel()
		f := newTransferFixture(t)
		acct := entities.NewAccount("liam", f.now)
		acct.GemBanks[1] = entities.GemBankHolding{"jade": 2}
		receipt := f.begin(t, acct, 1, 2, 0)

		ctx := context.Background()
		uow := f.factory.Create()
		require.NoError(t, uow.Begin(ctx))
		transfer, err := uow.PendingTransferRepository().GetByCodeForUpdate(ctx, receipt.Transfer.Code)
		require.NoError(t, err)
		outcome, err := f.service(uow).Complete(ctx, transfer, nil, f.now)
		require.NoError(t, err)
		require.NoError(t, uow.Commit())

		assert.Equal(t, TransferOutcomeOrphaned, outcome)
		state := f.factory.Snapshot()
		assert.Empty(t, state.Pending)
		last := state.History[len(state.History)-1]
		assert.Equal(t, entities.LedgerActionTransferOrphaned, last.Action)
		assert.Equal(t, "liam", last.AccountName)
		assert.Equal(t, int64(2), last.Amount)
	})
}

func TestTransferService_CodesAreUnique(t *testing.T) {
	t.Parallel()

	f := newTransferFixture(t)
	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		acct := entities.NewAccount("mona", f.now)
		acct.GemBanks[1] = entities.GemBankHolding{"agate": int64(i + 1)}
		receipt := f.begin(t, acct, 1, 2, 0)
		assert.False(t, seen[receipt.Transfer.Code])
		seen[receipt.Transfer.Code] = true
		assert.Regexp(t, `^TR[0-9A-Z]+$`, receipt.Transfer.Code)
	}
	assert.Len(t, f.factory.Snapshot().Pending, 5)
}

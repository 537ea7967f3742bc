package application_test

import (
	"context"
	"testing"
	"time"

	"coffers/domain/entities"
	"coffers/domain/services"
	"coffers/domain/testhelpers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const transitTime = 90 * time.Second

func TestTransferSaga_EndToEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newLedgerHarness(t)
	h.registerBanks(t)

	_, err := h.ledger.DepositGem(ctx, "alice", 1, "ruby", 3)
	require.NoError(t, err)
	_, err = h.ledger.DepositCoins(ctx, "alice", entities.Gold, 2)
	require.NoError(t, err)

	receipt, err := h.ledger.BeginTransfer(ctx, "alice", 1, 2, 50)
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now().Add(transitTime), receipt.RunAt)
	assert.Equal(t, int64(50), receipt.Settlement.Paid)

	// source debited, nothing delivered yet
	holding, err := h.ledger.Holdings(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, holding)

	processed, err := h.worker.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, processed, "completion is not due yet")

	h.clock.Advance(transitTime)
	processed, err = h.worker.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	holding, err = h.ledger.Holdings(ctx, "alice", 2)
	require.NoError(t, err)
	assert.Equal(t, entities.GemBankHolding{"ruby": 3}, holding)

	balance, err := h.ledger.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(150), balance.Value)

	snapshot := h.factory.Snapshot()
	assert.Empty(t, snapshot.Pending)
	assert.Empty(t, snapshot.Jobs)
	assert.Len(t, h.history(entities.LedgerActionTransferOut), 1)
	assert.Len(t, h.history(entities.LedgerActionTransferIn), 1)

	h.bus.Wait()
	assert.True(t, h.notifier.Contains("alice", "has arrived at Mountain Hold"))
}

func TestTransferSaga_BeginErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newLedgerHarness(t)
	h.registerBanks(t)
	_, err := h.ledger.DepositGem(ctx, "alice", 1, "ruby", 3)
	require.NoError(t, err)

	tests := []struct {
		name    string
		account string
		from    int
		to      int
		fee     int64
		wantErr error
	}{
		{"missing account", "ghost", 1, 2, 0, entities.ErrNotFound},
		{"empty source bank", "alice", 2, 1, 0, entities.ErrNotFound},
		{"same bank", "alice", 1, 1, 0, entities.ErrInvalidAmount},
		{"negative fee", "alice", 1, 2, -1, entities.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.ledger.BeginTransfer(ctx, tt.account, tt.from, tt.to, tt.fee)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	holding, err := h.ledger.Holdings(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Equal(t, entities.GemBankHolding{"ruby": 3}, holding, "failed begins leave the source untouched")
	assert.Empty(t, h.factory.Snapshot().Pending)
}

func TestTransferSaga_DestinationGone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newLedgerHarness(t)
	h.registerBanks(t)

	_, err := h.ledger.DepositGem(ctx, "alice", 1, "ruby", 3)
	require.NoError(t, err)

	// the destination is not checked until completion
	receipt, err := h.ledger.BeginTransfer(ctx, "alice", 1, 9, 0)
	require.NoError(t, err)

	h.clock.Advance(transitTime)
	_, err = h.worker.ProcessDue(ctx)
	require.NoError(t, err)

	snapshot := h.factory.Snapshot()
	assert.NotContains(t, snapshot.Pending, receipt.Transfer.Code)
	assert.Empty(t, snapshot.Accounts["alice"].GemBanks, "gems are lost")

	lost := h.history(entities.LedgerActionTransferLost)
	require.Len(t, lost, 1)
	assert.Equal(t, int64(3), lost[0].Amount)

	h.bus.Wait()
	assert.True(t, h.notifier.Contains("alice", "bank 9 no longer exists"))
}

func TestTransferSaga_CompleteIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newLedgerHarness(t)
	h.registerBanks(t)

	_, err := h.ledger.DepositGem(ctx, "alice", 1, "ruby", 3)
	require.NoError(t, err)
	receipt, err := h.ledger.BeginTransfer(ctx, "alice", 1, 2, 0)
	require.NoError(t, err)

	outcome, err := h.saga.Complete(ctx, receipt.Transfer.Code)
	require.NoError(t, err)
	assert.Equal(t, services.TransferOutcomeCompleted, outcome)

	outcome, err = h.saga.Complete(ctx, receipt.Transfer.Code)
	require.NoError(t, err)
	assert.Equal(t, services.TransferOutcomeAlreadyDone, outcome)

	// the scheduled job still fires and finds nothing to do
	h.clock.Advance(transitTime)
	processed, err := h.worker.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	holding, err := h.ledger.Holdings(ctx, "alice", 2)
	require.NoError(t, err)
	assert.Equal(t, entities.GemBankHolding{"ruby": 3}, holding, "credited exactly once")
	assert.Len(t, h.history(entities.LedgerActionTransferIn), 1)
}

func TestTransferSaga_Recover(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newLedgerHarness(t)
	h.registerBanks(t)

	_, err := h.ledger.DepositGem(ctx, "alice", 1, "ruby", 3)
	require.NoError(t, err)
	_, err = h.ledger.BeginTransfer(ctx, "alice", 1, 2, 0)
	require.NoError(t, err)

	// simulate a queue that lost its jobs
	h.factory.Seed(func(s *testhelpers.MemoryState) {
		s.Jobs = make(map[int64]*entities.Job)
	})

	pending, err := h.saga.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	count, err := h.saga.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	processed, err := h.worker.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed, "recovered transfers are due immediately")

	holding, err := h.ledger.Holdings(ctx, "alice", 2)
	require.NoError(t, err)
	assert.Equal(t, entities.GemBankHolding{"ruby": 3}, holding)

	count, err = h.saga.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestTransferSaga_OwnerRemoved(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newLedgerHarness(t)
	h.registerBanks(t)

	_, err := h.ledger.DepositGem(ctx, "alice", 1, "ruby", 3)
	require.NoError(t, err)
	receipt, err := h.ledger.BeginTransfer(ctx, "alice", 1, 2, 0)
	require.NoError(t, err)

	result, err := h.ledger.RemoveAccount(ctx, "alice", "admin")
	require.NoError(t, err)
	assert.Equal(t, []string{receipt.Transfer.Code}, result.OrphanedTransfers)

	h.clock.Advance(transitTime)
	_, err = h.worker.ProcessDue(ctx)
	require.NoError(t, err)

	snapshot := h.factory.Snapshot()
	assert.Empty(t, snapshot.Pending)
	assert.NotContains(t, snapshot.Accounts, "alice", "completion must not resurrect the account")
	assert.Len(t, h.history(entities.LedgerActionTransferOrphaned), 1)

	h.bus.Wait()
	assert.True(t, h.notifier.Contains("alice", "no longer exists"))
}

func TestTransferSaga_CorruptOwnerRetries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newLedgerHarness(t)
	h.registerBanks(t)

	_, err := h.ledger.DepositGem(ctx, "alice", 1, "ruby", 3)
	require.NoError(t, err)
	receipt, err := h.ledger.BeginTransfer(ctx, "alice", 1, 2, 0)
	require.NoError(t, err)

	h.store.Evict("alice")
	h.factory.Seed(func(s *testhelpers.MemoryState) {
		s.Corrupt["alice"] = true
	})

	_, err = h.saga.Complete(ctx, receipt.Transfer.Code)
	assert.ErrorIs(t, err, entities.ErrNotFound)
	assert.Contains(t, h.factory.Snapshot().Pending, receipt.Transfer.Code, "gems stay in transit for the operator")
}

package application_test

import (
	"context"
	"errors"
	"testing"

	"coffers/application"
	"coffers/domain/entities"
	"coffers/domain/interfaces"
	"coffers/domain/testhelpers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingSweepObserver struct {
	reports []*application.SweepReport
}

func (o *recordingSweepObserver) RecordSweep(partition string, report *application.SweepReport) {
	o.reports = append(o.reports, report)
}

func seedSweepAccounts(h *ledgerHarness, names ...string) {
	for _, name := range names {
		h.seedAccount(&entities.Account{Name: name, LastFeeTime: h.clock.Now()})
	}
}

func gone(name string) *interfaces.PlayerInfo {
	return &interfaces.PlayerInfo{Name: name, Exists: false}
}

func present(name string) *interfaces.PlayerInfo {
	return &interfaces.PlayerInfo{Name: name, Exists: true}
}

func TestIdleAccountSweeper_DryRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newLedgerHarness(t)
	seedSweepAccounts(h, "alice", "amos", "bob")

	directory := &testhelpers.MockPlayerDirectory{}
	directory.On("Lookup", mock.Anything, "alice").Return(present("alice"), nil)
	directory.On("Lookup", mock.Anything, "amos").Return(gone("amos"), nil)

	sweeper := application.NewIdleAccountSweeper(h.factory, h.store, directory, application.IdleAccountSweeperConfig{})
	report, err := sweeper.SweepPartition(ctx, "a")
	require.NoError(t, err)

	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, []string{"amos"}, report.Prunable)
	assert.Empty(t, report.Removed)
	assert.Contains(t, h.factory.Snapshot().Accounts, "amos", "dry run deletes nothing")
	directory.AssertExpectations(t)
}

func TestIdleAccountSweeper_DeleteEnabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newLedgerHarness(t)
	seedSweepAccounts(h, "amos", "anna", "ava")
	h.factory.Seed(func(s *testhelpers.MemoryState) {
		s.Pending["TR1"] = &entities.PendingTransfer{
			Code:      "TR1",
			OwnerName: "anna",
			FromBank:  1,
			ToBank:    2,
			Gems:      entities.GemBankHolding{"ruby": 1},
		}
	})

	directory := &testhelpers.MockPlayerDirectory{}
	directory.On("Lookup", mock.Anything, "amos").Return(gone("amos"), nil)
	directory.On("Lookup", mock.Anything, "anna").Return(gone("anna"), nil)
	directory.On("Lookup", mock.Anything, "ava").Return(nil, errors.New("directory timeout"))

	observer := &recordingSweepObserver{}
	sweeper := application.NewIdleAccountSweeper(h.factory, h.store, directory, application.IdleAccountSweeperConfig{
		DeleteEnabled: true,
	}).WithObserver(observer)

	report, err := sweeper.SweepPartition(ctx, "a")
	require.NoError(t, err)

	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, []string{"amos"}, report.Prunable)
	assert.Equal(t, []string{"amos"}, report.Removed)
	assert.Equal(t, []string{"anna"}, report.Skipped, "gems in transit keep the account")
	assert.Equal(t, 1, report.Errors, "a failed lookup never stops the sweep")

	snapshot := h.factory.Snapshot()
	assert.NotContains(t, snapshot.Accounts, "amos")
	assert.Contains(t, snapshot.Accounts, "anna")
	assert.Contains(t, snapshot.Accounts, "ava")

	removed := h.history(entities.LedgerActionAccountRemoved)
	require.Len(t, removed, 1)
	assert.Equal(t, "idle-sweeper", removed[0].Metadata["actor"])

	require.Len(t, observer.reports, 1)
	assert.Same(t, report, observer.reports[0])
}

func TestIdleAccountSweeper_PrunableRanks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newLedgerHarness(t)
	seedSweepAccounts(h, "alice", "amos", "anna")

	directory := &testhelpers.MockPlayerDirectory{}
	directory.On("Lookup", mock.Anything, "alice").Return(&interfaces.PlayerInfo{Name: "alice", Exists: true, Rank: "guest"}, nil)
	directory.On("Lookup", mock.Anything, "amos").Return(&interfaces.PlayerInfo{Name: "amos", Exists: true, Rank: "Citizen"}, nil)
	directory.On("Lookup", mock.Anything, "anna").Return(nil, nil)

	sweeper := application.NewIdleAccountSweeper(h.factory, h.store, directory, application.IdleAccountSweeperConfig{
		PrunableRanks: []string{" Guest ", ""},
	})
	report, err := sweeper.SweepPartition(ctx, "a")
	require.NoError(t, err)

	assert.Equal(t, []string{"alice"}, report.Prunable)
	assert.Equal(t, 1, report.Errors, "an empty answer is never read as a vanished player")
	assert.Len(t, h.factory.Snapshot().Accounts, 3)
}

func TestIdleAccountSweeper_CursorWalksPartitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newLedgerHarness(t)
	seedSweepAccounts(h, "alice", "bob", "7of9", "_admin")

	directory := &testhelpers.MockPlayerDirectory{}
	directory.On("Lookup", mock.Anything, mock.Anything).Return(present("x"), nil)

	sweeper := application.NewIdleAccountSweeper(h.factory, h.store, directory, application.IdleAccountSweeperConfig{})

	first, err := sweeper.SweepNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", first.Partition)
	assert.Equal(t, 1, first.Scanned)

	second, err := sweeper.SweepNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", second.Partition)

	reports, err := sweeper.SweepAll(ctx)
	require.NoError(t, err)
	require.Len(t, reports, len(application.SweepPartitions))

	last := reports[len(reports)-1]
	assert.Equal(t, "#", last.Partition)
	assert.Equal(t, 2, last.Scanned, "names not starting with a letter share one partition")

	// the cursor wraps after "#"
	for i := 2; i < len(application.SweepPartitions); i++ {
		_, err := sweeper.SweepNext(ctx)
		require.NoError(t, err)
	}
	again, err := sweeper.SweepNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", again.Partition)
}

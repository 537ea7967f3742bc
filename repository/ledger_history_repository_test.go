package repository

import (
	"context"
	"testing"
	"time"

	"coffers/domain/entities"
	"coffers/repository/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerHistoryRepository(t *testing.T) {
	t.Parallel()
	testDB := testutil.SetupTestDatabase(t)

	repo := NewLedgerHistoryRepository(testDB.DB)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	older := testutil.CreateTestLedgerHistory("dana", entities.LedgerActionDepositCoins, 500)
	older.CreatedAt = base.Add(-time.Hour)
	require.NoError(t, repo.Record(ctx, older))

	bankID := 4
	newer := testutil.CreateTestLedgerHistory("dana", entities.LedgerActionDepositGem, 2)
	newer.BankID = &bankID
	newer.CreatedAt = base
	require.NoError(t, repo.Record(ctx, newer))

	// same timestamp, later id
	tie := testutil.CreateTestLedgerHistory("dana", entities.LedgerActionFeeSettled, 3)
	tie.CreatedAt = base
	require.NoError(t, repo.Record(ctx, tie))

	registry := &entities.LedgerHistory{
		Action:   entities.LedgerActionBankRegistered,
		BankID:   &bankID,
		Metadata: map[string]any{"description": "Harbor Vault"},
	}
	require.NoError(t, repo.Record(ctx, registry))
	assert.False(t, registry.CreatedAt.IsZero(), "database fills in created_at")

	t.Run("newest first", func(t *testing.T) {
		entries, err := repo.GetByAccount(ctx, "dana", 10)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, tie.ID, entries[0].ID)
		assert.Equal(t, newer.ID, entries[1].ID)
		assert.Equal(t, older.ID, entries[2].ID)

		require.NotNil(t, entries[1].BankID)
		assert.Equal(t, 4, *entries[1].BankID)
		assert.Equal(t, true, entries[2].Metadata["test"])
	})

	t.Run("limit", func(t *testing.T) {
		entries, err := repo.GetByAccount(ctx, "dana", 1)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, tie.ID, entries[0].ID)
	})

	t.Run("registry entries have no account", func(t *testing.T) {
		entries, err := repo.GetByAccount(ctx, "", 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, entities.LedgerActionBankRegistered, entries[0].Action)
		assert.Equal(t, "Harbor Vault", entries[0].Metadata["description"])
	})
}

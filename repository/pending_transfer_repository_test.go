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

func TestPendingTransferRepository(t *testing.T) {
	t.Parallel()
	testDB := testutil.SetupTestDatabase(t)

	repo := NewPendingTransferRepository(testDB.DB)
	ctx := context.Background()

	first := testutil.CreateTestPendingTransfer("TRA", "alice", 1, 2)
	first.CreatedAt = first.CreatedAt.Add(-time.Minute)
	second := testutil.CreateTestPendingTransfer("TRB", "alice", 3, 2)
	other := testutil.CreateTestPendingTransfer("TRC", "bob", 1, 4)
	for _, transfer := range []*entities.PendingTransfer{second, first, other} {
		require.NoError(t, repo.Create(ctx, transfer))
	}

	t.Run("get by code", func(t *testing.T) {
		transfer, err := repo.GetByCode(ctx, "TRA")
		require.NoError(t, err)
		require.NotNil(t, transfer)
		assert.Equal(t, "alice", transfer.OwnerName)
		assert.Equal(t, 1, transfer.FromBank)
		assert.Equal(t, 2, transfer.ToBank)
		assert.Equal(t, entities.GemBankHolding{"ruby": 3}, transfer.Gems)

		missing, err := repo.GetByCode(ctx, "TRZ")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("duplicate code fails", func(t *testing.T) {
		err := repo.Create(ctx, testutil.CreateTestPendingTransfer("TRA", "carol", 5, 6))
		assert.Error(t, err)

		exists, err := repo.Exists(ctx, "TRA")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("listing is oldest first", func(t *testing.T) {
		byOwner, err := repo.GetByOwner(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, byOwner, 2)
		assert.Equal(t, "TRA", byOwner[0].Code)
		assert.Equal(t, "TRB", byOwner[1].Code)

		all, err := repo.GetAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)
		assert.Equal(t, "TRA", all[0].Code)
	})

	t.Run("for update inside a transaction", func(t *testing.T) {
		tx, err := testDB.DB.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback(ctx)

		locked, err := newPendingTransferRepository(tx).GetByCodeForUpdate(ctx, "TRC")
		require.NoError(t, err)
		require.NotNil(t, locked)
		assert.Equal(t, "bob", locked.OwnerName)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, "TRC"))
		transfer, err := repo.GetByCode(ctx, "TRC")
		require.NoError(t, err)
		assert.Nil(t, transfer)

		// deleting twice is harmless
		require.NoError(t, repo.Delete(ctx, "TRC"))
	})
}

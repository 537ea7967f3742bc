package repository

import (
	"context"
	"testing"

	"coffers/domain/entities"
	"coffers/repository/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountRepository_GetByName(t *testing.T) {
	t.Parallel()
	testDB := testutil.SetupTestDatabase(t)

	repo := NewAccountRepository(testDB.DB)
	ctx := context.Background()

	t.Run("account not found", func(t *testing.T) {
		account, err := repo.GetByName(ctx, "nobody")
		require.NoError(t, err)
		assert.Nil(t, account)
	})

	t.Run("account found", func(t *testing.T) {
		original := testutil.CreateTestAccountWithGems("alice", 3, entities.GemBankHolding{"ruby": 2, "black opal": 1})
		original.PendingFee = 17
		require.NoError(t, repo.Upsert(ctx, original))
		assert.False(t, original.CreatedAt.IsZero())

		account, err := repo.GetByName(ctx, "alice")
		require.NoError(t, err)
		require.NotNil(t, account)

		assert.Equal(t, original.Coins, account.Coins)
		assert.Equal(t, int64(17), account.PendingFee)
		assert.True(t, original.LastFeeTime.Equal(account.LastFeeTime))
		assert.Equal(t, map[int]entities.GemBankHolding{3: {"ruby": 2, "black opal": 1}}, account.GemBanks)
	})

	t.Run("wrong number of coin slots is corrupt", func(t *testing.T) {
		_, err := testDB.DB.Exec(ctx, `INSERT INTO accounts (name, coins, last_fee_time) VALUES ('short', '{1,2,3}', NOW())`)
		require.NoError(t, err)

		_, err = repo.GetByName(ctx, "short")
		assert.ErrorIs(t, err, entities.ErrCorruptRecord)

		exists, err := repo.Exists(ctx, "short")
		require.NoError(t, err)
		assert.True(t, exists, "corrupt rows still exist")
	})

	t.Run("negative gem count is corrupt", func(t *testing.T) {
		_, err := testDB.DB.Exec(ctx, `INSERT INTO accounts (name, last_fee_time, gem_banks) VALUES ('neg', NOW(), '{"1": {"ruby": -1}}')`)
		require.NoError(t, err)

		_, err = repo.GetByName(ctx, "neg")
		assert.ErrorIs(t, err, entities.ErrCorruptRecord)
	})

	t.Run("non numeric bank key is corrupt", func(t *testing.T) {
		_, err := testDB.DB.Exec(ctx, `INSERT INTO accounts (name, last_fee_time, gem_banks) VALUES ('badkey', NOW(), '{"vault": {"ruby": 1}}')`)
		require.NoError(t, err)

		_, err = repo.GetByName(ctx, "badkey")
		assert.ErrorIs(t, err, entities.ErrCorruptRecord)
	})
}

func TestAccountRepository_Upsert(t *testing.T) {
	t.Parallel()
	testDB := testutil.SetupTestDatabase(t)

	repo := NewAccountRepository(testDB.DB)
	ctx := context.Background()

	t.Run("update keeps created_at", func(t *testing.T) {
		account := testutil.CreateTestAccount("bob")
		require.NoError(t, repo.Upsert(ctx, account))
		createdAt := account.CreatedAt

		account.Coins[entities.Platinum] = 9
		delete(account.GemBanks, 1)
		require.NoError(t, repo.Upsert(ctx, account))
		assert.True(t, createdAt.Equal(account.CreatedAt))

		saved, err := repo.GetByName(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(9), saved.Coins[entities.Platinum])
		assert.Empty(t, saved.GemBanks)
	})

	t.Run("invalid account is refused", func(t *testing.T) {
		account := testutil.CreateTestAccount("carol")
		account.Coins[entities.Copper] = -1

		err := repo.Upsert(ctx, account)
		assert.ErrorIs(t, err, entities.ErrCorruptRecord)

		exists, err := repo.Exists(ctx, "carol")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestAccountRepository_DeleteAndPartitions(t *testing.T) {
	t.Parallel()
	testDB := testutil.SetupTestDatabase(t)

	repo := NewAccountRepository(testDB.DB)
	ctx := context.Background()

	for _, name := range []string{"amos", "alice", "bob", "7of9", "_admin"} {
		require.NoError(t, repo.Upsert(ctx, testutil.CreateTestAccount(name)))
	}

	names, err := repo.ListNamesInPartition(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "amos"}, names)

	names, err = repo.ListNamesInPartition(ctx, "#")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"7of9", "_admin"}, names)

	names, err = repo.ListNamesInPartition(ctx, "q")
	require.NoError(t, err)
	assert.Empty(t, names)

	deleted, err := repo.Delete(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.Delete(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, deleted)
}

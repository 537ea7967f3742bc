package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"coffers/domain/entities"
	"coffers/repository/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobRepository_ClaimAndFinish(t *testing.T) {
	t.Parallel()
	testDB := testutil.SetupTestDatabase(t)

	repo := NewJobRepository(testDB.DB)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	next, err := repo.NextRunAt(ctx)
	require.NoError(t, err)
	assert.Nil(t, next, "empty queue")

	late, err := repo.Enqueue(ctx, entities.JobTypeCompleteTransfer, entities.CompleteTransferPayload{Code: "TRLATE"}, now.Add(-time.Second))
	require.NoError(t, err)
	early, err := repo.Enqueue(ctx, entities.JobTypeCompleteTransfer, entities.CompleteTransferPayload{Code: "TREARLY"}, now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = repo.Enqueue(ctx, entities.JobTypeCompleteTransfer, entities.CompleteTransferPayload{Code: "TRFUTURE"}, now.Add(time.Hour))
	require.NoError(t, err)

	next, err = repo.NextRunAt(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, next.Equal(now.Add(-time.Minute)))

	claimed, err := repo.ClaimDue(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, early.ID, claimed[0].ID)
	assert.Equal(t, late.ID, claimed[1].ID)
	require.NotNil(t, claimed[0].LockedUntil)
	assert.True(t, claimed[0].LockedUntil.Equal(now.Add(time.Minute)))

	var payload entities.CompleteTransferPayload
	require.NoError(t, json.Unmarshal(claimed[0].Payload, &payload))
	assert.Equal(t, "TREARLY", payload.Code)

	// leased jobs are invisible until the lease runs out
	again, err := repo.ClaimDue(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	reclaimed, err := repo.ClaimDue(ctx, now.Add(2*time.Minute), time.Minute, 1)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, early.ID, reclaimed[0].ID)

	require.NoError(t, repo.Complete(ctx, early.ID))
	require.NoError(t, repo.Retry(ctx, late.ID, now.Add(30*time.Second), "boom"))

	retried, err := repo.ClaimDue(ctx, now.Add(30*time.Second), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, retried, 1)
	assert.Equal(t, late.ID, retried[0].ID)
	assert.Equal(t, 1, retried[0].Attempts)
	require.NotNil(t, retried[0].LastError)
	assert.Equal(t, "boom", *retried[0].LastError)

	// the remaining leased job and the future one bound the next wake-up
	next, err = repo.NextRunAt(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, next.Equal(now.Add(90*time.Second)))
}

func TestRequeueParkedJobs(t *testing.T) {
	t.Parallel()
	testDB := testutil.SetupTestDatabase(t)

	repo := NewJobRepository(testDB.DB)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	farFuture := now.Add(100 * 365 * 24 * time.Hour)

	parked, err := repo.Enqueue(ctx, entities.JobTypeCompleteTransfer, entities.CompleteTransferPayload{Code: "TRPARK"}, now)
	require.NoError(t, err)
	require.NoError(t, repo.Retry(ctx, parked.ID, farFuture, "destination exploded"))
	normal, err := repo.Enqueue(ctx, entities.JobTypeCompleteTransfer, entities.CompleteTransferPayload{Code: "TRSOON"}, now.Add(time.Hour))
	require.NoError(t, err)

	requeued, err := RequeueParkedJobs(ctx, testDB.DB, now, now.Add(50*365*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, requeued, 1)
	assert.Equal(t, parked.ID, requeued[0].ID)
	require.NotNil(t, requeued[0].LastError)
	assert.Equal(t, "destination exploded", *requeued[0].LastError)

	claimed, err := repo.ClaimDue(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, parked.ID, claimed[0].ID)
	assert.Equal(t, 0, claimed[0].Attempts)
	assert.NotEqual(t, normal.ID, claimed[0].ID)

	again, err := RequeueParkedJobs(ctx, testDB.DB, now, now.Add(50*365*24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, again)
}

package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidesk/inboxd/pkg/models"
)

func TestSyncJobClaimAndFinish(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	account := seedAccount(t, db, models.PlatformTelegram)
	job := &models.SyncJob{
		AccountID:        account.ID,
		ExternalThreadID: "12345",
		MessageLimit:     50,
	}
	require.NoError(t, db.CreateSyncJob(ctx, job))
	assert.Equal(t, models.JobPending, job.Status)

	claimed, err := db.NextPendingSyncJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, models.JobProcessing, claimed.Status)

	// The queue is now empty; a processing job is never handed out again.
	_, err = db.NextPendingSyncJob(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.FinishSyncJob(ctx, claimed.ID, models.JobCompleted, 42, ""))

	got, err := db.GetSyncJobByID(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.Status)
	assert.Equal(t, 42, got.SyncedCount)
}

func TestFinishSyncJobIsTerminal(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	account := seedAccount(t, db, models.PlatformTelegram)
	job := &models.SyncJob{AccountID: account.ID, ExternalThreadID: "9", MessageLimit: 10}
	require.NoError(t, db.CreateSyncJob(ctx, job))

	claimed, err := db.NextPendingSyncJob(ctx)
	require.NoError(t, err)
	require.NoError(t, db.FinishSyncJob(ctx, claimed.ID, models.JobFailed, 0, "thread not found"))

	// A second transition must not overwrite the terminal state.
	assert.ErrorIs(t, db.FinishSyncJob(ctx, claimed.ID, models.JobCompleted, 5, ""), ErrJobTerminal)

	got, err := db.GetSyncJobByID(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, "thread not found", got.Error)
}

func TestFinishSyncJobRejectsNonTerminalStatus(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	account := seedAccount(t, db, models.PlatformTelegram)
	job := &models.SyncJob{AccountID: account.ID, ExternalThreadID: "9", MessageLimit: 10}
	require.NoError(t, db.CreateSyncJob(ctx, job))

	_, err := db.NextPendingSyncJob(ctx)
	require.NoError(t, err)
	assert.Error(t, db.FinishSyncJob(ctx, job.ID, models.JobPending, 0, ""))
}

func TestMessageJobLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	account := seedAccount(t, db, models.PlatformTelegram)
	job := &models.MessageJob{
		AccountID: account.ID,
		Action:    models.ActionTyping,
		Payload:   `{"conversation_id":1}`,
	}
	require.NoError(t, db.CreateMessageJob(ctx, job))

	pending, err := db.GetPendingMessageJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, db.MarkMessageJobProcessing(ctx, job.ID))
	// Claiming twice fails: the row is no longer pending.
	assert.ErrorIs(t, db.MarkMessageJobProcessing(ctx, job.ID), ErrJobTerminal)

	require.NoError(t, db.FinishMessageJob(ctx, job.ID, models.JobCompleted, ""))
	assert.ErrorIs(t, db.FinishMessageJob(ctx, job.ID, models.JobFailed, "late"), ErrJobTerminal)

	got, err := db.GetMessageJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.Status)
	assert.Empty(t, got.Error)
}

func TestHeartbeatUpsert(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	account := seedAccount(t, db, models.PlatformEmail)

	require.NoError(t, db.UpsertHeartbeat(ctx, &models.Heartbeat{
		AccountID: account.ID,
		Worker:    models.WorkerIngest,
		Status:    models.HeartbeatOnline,
	}))
	require.NoError(t, db.UpsertHeartbeat(ctx, &models.Heartbeat{
		AccountID: account.ID,
		Worker:    models.WorkerIngest,
		Status:    models.HeartbeatOffline,
	}))

	got, err := db.GetHeartbeat(ctx, account.ID, models.WorkerIngest)
	require.NoError(t, err)
	assert.Equal(t, models.HeartbeatOffline, got.Status)

	// Separate worker dimension for the same account.
	_, err = db.GetHeartbeat(ctx, account.ID, models.WorkerDispatch)
	assert.ErrorIs(t, err, ErrNotFound)
}

package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidesk/inboxd/internal/database"
	"github.com/omnidesk/inboxd/pkg/models"
)

type jobsFixture struct {
	db       *database.DB
	registry *Registry
	session  *fakeSession
	account  *models.Account
	conv     *models.Conversation
	proc     *JobProcessor
}

func newJobsFixture(t *testing.T) *jobsFixture {
	t.Helper()
	db := newTestDB(t)
	ctx := context.Background()

	account := seedAccount(t, db, models.PlatformTelegram)
	identity := &models.Identity{
		AccountID: account.ID,
		Kind:      models.IdentityTelegram,
		Value:     "555001",
	}
	require.NoError(t, db.CreateIdentity(ctx, identity))
	conv := &models.Conversation{
		AccountID:   account.ID,
		IdentityID:  identity.ID,
		LastChannel: models.PlatformTelegram,
	}
	require.NoError(t, db.CreateConversation(ctx, conv))

	session := newFakeSession(account.ID, models.PlatformTelegram)
	registry := NewRegistry()
	registry.Register(account.ID, session, AccountInfo{Platform: models.PlatformTelegram}, nil)

	return &jobsFixture{
		db:       db,
		registry: registry,
		session:  session,
		account:  account,
		conv:     conv,
		proc:     NewJobProcessor(db, registry, time.Second, testLogger()),
	}
}

func (f *jobsFixture) message(t *testing.T, externalID string) *models.Message {
	t.Helper()
	msg := &models.Message{
		AccountID:      f.account.ID,
		ConversationID: f.conv.ID,
		ExternalID:     externalID,
		Direction:      models.DirectionOutbound,
		Kind:           models.KindText,
		Body:           "original",
	}
	require.NoError(t, f.db.CreateMessage(context.Background(), msg))
	return msg
}

func (f *jobsFixture) job(t *testing.T, action models.JobAction, messageID *int64, payload string) *models.MessageJob {
	t.Helper()
	job := &models.MessageJob{
		AccountID: f.account.ID,
		MessageID: messageID,
		Action:    action,
		Payload:   payload,
	}
	require.NoError(t, f.db.CreateMessageJob(context.Background(), job))
	return job
}

func TestTypingJob(t *testing.T) {
	f := newJobsFixture(t)
	ctx := context.Background()

	job := f.job(t, models.ActionTyping, nil, fmt.Sprintf(`{"conversation_id":%d}`, f.conv.ID))
	require.NoError(t, f.proc.ProcessPending(ctx))

	assert.Equal(t, []string{"555001"}, f.session.typings)

	got, err := f.db.GetMessageJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.Status)
}

func TestEditJobUpdatesProviderAndBody(t *testing.T) {
	f := newJobsFixture(t)
	ctx := context.Background()

	msg := f.message(t, "555001:42")
	job := f.job(t, models.ActionEdit, &msg.ID, `{"body":"corrected"}`)
	require.NoError(t, f.proc.ProcessPending(ctx))

	assert.Equal(t, "corrected", f.session.edits["555001:42"])

	got, err := f.db.GetMessageByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "corrected", got.Body)

	j, err := f.db.GetMessageJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, j.Status)
}

func TestEditJobRequiresProviderID(t *testing.T) {
	f := newJobsFixture(t)
	ctx := context.Background()

	// A message still carrying its pending placeholder cannot be edited.
	msg := f.message(t, models.NewPendingExternalID())
	job := f.job(t, models.ActionEdit, &msg.ID, `{"body":"too soon"}`)
	require.NoError(t, f.proc.ProcessPending(ctx))

	got, err := f.db.GetMessageJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.NotEmpty(t, got.Error)
	assert.Empty(t, f.session.edits)
}

func TestDeleteJobRemovesProviderAndRow(t *testing.T) {
	f := newJobsFixture(t)
	ctx := context.Background()

	msg := f.message(t, "555001:42")
	job := f.job(t, models.ActionDelete, &msg.ID, `{}`)
	require.NoError(t, f.proc.ProcessPending(ctx))

	assert.Equal(t, []string{"555001:42"}, f.session.deleted)

	_, err := f.db.GetMessageByID(ctx, msg.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)

	got, err := f.db.GetMessageJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.Status)
}

func TestDeleteJobWithPlaceholderSkipsProviderCall(t *testing.T) {
	f := newJobsFixture(t)
	ctx := context.Background()

	// Never confirmed by the provider: only the local row is removed.
	msg := f.message(t, models.NewFailedExternalID())
	f.job(t, models.ActionDelete, &msg.ID, `{}`)
	require.NoError(t, f.proc.ProcessPending(ctx))

	assert.Empty(t, f.session.deleted)
	_, err := f.db.GetMessageByID(ctx, msg.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestJobFailsWhenAccountDisconnected(t *testing.T) {
	f := newJobsFixture(t)
	ctx := context.Background()

	f.registry.Remove(f.account.ID)
	job := f.job(t, models.ActionTyping, nil, fmt.Sprintf(`{"conversation_id":%d}`, f.conv.ID))
	require.NoError(t, f.proc.ProcessPending(ctx))

	got, err := f.db.GetMessageJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
}

func TestUnknownActionFails(t *testing.T) {
	f := newJobsFixture(t)
	ctx := context.Background()

	job := f.job(t, models.JobAction("forward"), nil, `{}`)
	require.NoError(t, f.proc.ProcessPending(ctx))

	got, err := f.db.GetMessageJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
}

func TestJobsRunExactlyOnce(t *testing.T) {
	f := newJobsFixture(t)
	ctx := context.Background()

	f.job(t, models.ActionTyping, nil, fmt.Sprintf(`{"conversation_id":%d}`, f.conv.ID))
	require.NoError(t, f.proc.ProcessPending(ctx))
	require.NoError(t, f.proc.ProcessPending(ctx))

	assert.Len(t, f.session.typings, 1)
}

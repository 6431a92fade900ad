package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidesk/inboxd/internal/database"
	"github.com/omnidesk/inboxd/internal/provider"
	"github.com/omnidesk/inboxd/internal/vault"
	"github.com/omnidesk/inboxd/pkg/models"
)

func newTestVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return v
}

func seedVaultedAccount(t *testing.T, db *database.DB, v *vault.Vault, platform models.Platform, secret string) *models.Account {
	t.Helper()
	sealed, err := v.Encrypt(secret)
	require.NoError(t, err)
	account := &models.Account{
		Platform:    platform,
		Name:        "managed account",
		Credentials: sealed,
		Config:      "{}",
		IsActive:    true,
	}
	require.NoError(t, db.CreateAccount(context.Background(), account))
	return account
}

func newTestManager(db *database.DB, v *vault.Vault, registry *Registry, connector provider.Connector, events chan provider.InboundEvent) *ConnectionManager {
	return NewConnectionManager(db, v, registry, []provider.Connector{connector}, events,
		time.Minute, time.Minute, testLogger())
}

func TestReconcileConnectsActiveAccount(t *testing.T) {
	db := newTestDB(t)
	v := newTestVault(t)
	ctx := context.Background()

	account := seedVaultedAccount(t, db, v, models.PlatformTelegram, "bot-token-123")

	registry := NewRegistry()
	connector := &fakeConnector{platform: models.PlatformTelegram}
	events := make(chan provider.InboundEvent, 16)
	m := newTestManager(db, v, registry, connector, events)

	m.Reconcile(ctx)

	require.NotNil(t, registry.Session(account.ID))
	// Credentials are handed to the connector decrypted.
	require.Len(t, connector.secrets, 1)
	assert.Equal(t, "bot-token-123", connector.secrets[0])

	got, err := db.GetAccountByID(ctx, account.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastSyncAt)

	// Ingest heartbeat started with the session.
	require.Eventually(t, func() bool {
		hb, err := db.GetHeartbeat(ctx, account.ID, models.WorkerIngest)
		return err == nil && hb.Status == models.HeartbeatOnline
	}, 2*time.Second, 10*time.Millisecond)

	// A second cycle does not open a second session.
	m.Reconcile(ctx)
	assert.Len(t, connector.sessions, 1)
}

func TestReconcileTearsDownDeactivatedAccount(t *testing.T) {
	db := newTestDB(t)
	v := newTestVault(t)
	ctx := context.Background()

	account := seedVaultedAccount(t, db, v, models.PlatformTelegram, "token")

	registry := NewRegistry()
	connector := &fakeConnector{platform: models.PlatformTelegram}
	events := make(chan provider.InboundEvent, 16)
	m := newTestManager(db, v, registry, connector, events)

	m.Reconcile(ctx)
	require.NotNil(t, registry.Session(account.ID))

	require.NoError(t, db.SetAccountActive(ctx, account.ID, false))
	m.Reconcile(ctx)

	assert.Nil(t, registry.Session(account.ID))
	assert.True(t, connector.sessions[0].closed)

	// Final heartbeat reports offline.
	hb, err := db.GetHeartbeat(ctx, account.ID, models.WorkerIngest)
	require.NoError(t, err)
	assert.Equal(t, models.HeartbeatOffline, hb.Status)
}

func TestReconcileRecordsConnectFailure(t *testing.T) {
	db := newTestDB(t)
	v := newTestVault(t)
	ctx := context.Background()

	account := seedVaultedAccount(t, db, v, models.PlatformTelegram, "token")

	registry := NewRegistry()
	connector := &fakeConnector{platform: models.PlatformTelegram, connectErr: errors.New("401 unauthorized")}
	events := make(chan provider.InboundEvent, 16)
	m := newTestManager(db, v, registry, connector, events)

	m.Reconcile(ctx)

	assert.Nil(t, registry.Session(account.ID))
	got, err := db.GetAccountByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Contains(t, got.LastError, "401 unauthorized")

	// The error clears once a later cycle succeeds.
	connector.mu.Lock()
	connector.connectErr = nil
	connector.mu.Unlock()
	m.Reconcile(ctx)

	require.NotNil(t, registry.Session(account.ID))
	got, err = db.GetAccountByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Empty(t, got.LastError)
}

func TestSessionEventsReachSharedStream(t *testing.T) {
	db := newTestDB(t)
	v := newTestVault(t)
	ctx := context.Background()

	account := seedVaultedAccount(t, db, v, models.PlatformTelegram, "token")

	registry := NewRegistry()
	connector := &fakeConnector{platform: models.PlatformTelegram}
	events := make(chan provider.InboundEvent, 16)
	m := newTestManager(db, v, registry, connector, events)

	m.Reconcile(ctx)
	require.Len(t, connector.sessions, 1)

	connector.sessions[0].events <- provider.InboundEvent{
		AccountID:  account.ID,
		Platform:   models.PlatformTelegram,
		ExternalID: "555001:1",
	}

	select {
	case ev := <-events:
		assert.Equal(t, "555001:1", ev.ExternalID)
	case <-time.After(time.Second):
		t.Fatal("event never reached the shared stream")
	}

	m.Shutdown(ctx)
}

func TestHeartbeatReporterWritesBeacons(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	account := seedAccount(t, db, models.PlatformEmail)
	h := NewHeartbeatReporter(db, account.ID, models.WorkerDispatch, 10*time.Millisecond, testLogger())
	h.Start()

	require.Eventually(t, func() bool {
		hb, err := db.GetHeartbeat(ctx, account.ID, models.WorkerDispatch)
		return err == nil && hb.Status == models.HeartbeatOnline
	}, 2*time.Second, 5*time.Millisecond)

	h.Stop()

	hb, err := db.GetHeartbeat(ctx, account.ID, models.WorkerDispatch)
	require.NoError(t, err)
	assert.Equal(t, models.HeartbeatOffline, hb.Status)
}

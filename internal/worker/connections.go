package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/omnidesk/inboxd/internal/database"
	"github.com/omnidesk/inboxd/internal/provider"
	"github.com/omnidesk/inboxd/internal/vault"
	"github.com/omnidesk/inboxd/pkg/models"
)

// ConnectionManager reconciles the registry against the set of active
// accounts in storage: it opens sessions for newly active accounts and
// tears down sessions for accounts that were removed or disabled. It is
// the only component that mutates registry membership.
type ConnectionManager struct {
	db         *database.DB
	vault      *vault.Vault
	registry   *Registry
	connectors map[models.Platform]provider.Connector
	events     chan<- provider.InboundEvent
	interval   time.Duration
	hbInterval time.Duration
	logger     *slog.Logger
}

// NewConnectionManager creates a connection manager
func NewConnectionManager(
	db *database.DB,
	v *vault.Vault,
	registry *Registry,
	connectors []provider.Connector,
	events chan<- provider.InboundEvent,
	interval, hbInterval time.Duration,
	logger *slog.Logger,
) *ConnectionManager {
	byPlatform := make(map[models.Platform]provider.Connector, len(connectors))
	for _, c := range connectors {
		byPlatform[c.Platform()] = c
	}
	return &ConnectionManager{
		db:         db,
		vault:      v,
		registry:   registry,
		connectors: byPlatform,
		events:     events,
		interval:   interval,
		hbInterval: hbInterval,
		logger:     logger.With("component", "connection_manager"),
	}
}

// Run reconciles on a fixed interval until ctx is cancelled
func (m *ConnectionManager) Run(ctx context.Context, ping func()) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Reconcile(ctx)
	ping()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reconcile(ctx)
			ping()
		}
	}
}

// Reconcile performs one sync cycle against the accounts table
func (m *ConnectionManager) Reconcile(ctx context.Context) {
	accounts, err := m.db.GetActiveAccounts(ctx, "")
	if err != nil {
		m.logger.Error("failed to list active accounts", "error", err)
		return
	}

	active := make(map[int64]*models.Account, len(accounts))
	for _, account := range accounts {
		active[account.ID] = account
	}

	// Connect accounts that are active but not yet registered.
	for _, account := range accounts {
		if m.registry.Session(account.ID) != nil {
			if err := m.db.TouchAccountSync(ctx, account.ID, time.Now()); err != nil {
				m.logger.Error("failed to stamp account sync", "account_id", account.ID, "error", err)
			}
			continue
		}
		m.connect(ctx, account)
	}

	// Tear down accounts that are registered but no longer active.
	for _, id := range m.registry.IDs() {
		if _, ok := active[id]; ok {
			continue
		}
		m.teardown(ctx, id)
	}
}

func (m *ConnectionManager) connect(ctx context.Context, account *models.Account) {
	connector, ok := m.connectors[account.Platform]
	if !ok {
		m.logger.Warn("no connector for platform", "platform", account.Platform, "account_id", account.ID)
		return
	}

	secret, err := m.vault.Decrypt(account.Credentials)
	if err != nil {
		m.logger.Error("failed to decrypt credentials", "account_id", account.ID, "error", err)
		m.recordError(ctx, account.ID, err)
		return
	}

	session, err := connector.Connect(ctx, account, secret)
	if err != nil {
		// Left unconnected; retried on the next cycle.
		m.logger.Error("failed to connect account", "account_id", account.ID, "platform", account.Platform, "error", err)
		m.recordError(ctx, account.ID, err)
		return
	}

	heartbeat := NewHeartbeatReporter(m.db, account.ID, models.WorkerIngest, m.hbInterval, m.logger)
	heartbeat.Start()

	// Pump session events into the shared inbound stream. The pump exits
	// when the session closes its channel.
	go func() {
		for ev := range session.Events() {
			m.events <- ev
		}
	}()

	m.registry.Register(account.ID, session, AccountInfo{
		Platform: account.Platform,
		Name:     account.Name,
	}, heartbeat.Stop)

	if err := m.db.TouchAccountSync(ctx, account.ID, time.Now()); err != nil {
		m.logger.Error("failed to stamp account sync", "account_id", account.ID, "error", err)
	}

	m.logger.Info("account connected", "account_id", account.ID, "platform", account.Platform)
}

func (m *ConnectionManager) teardown(ctx context.Context, accountID int64) {
	session, stopHeartbeat, ok := m.registry.Remove(accountID)
	if !ok {
		return
	}

	if stopHeartbeat != nil {
		stopHeartbeat()
	}
	if err := session.Close(ctx); err != nil {
		m.logger.Warn("session close failed", "account_id", accountID, "error", err)
	}

	m.logger.Info("account disconnected", "account_id", accountID)
}

// Shutdown tears down every registered session
func (m *ConnectionManager) Shutdown(ctx context.Context) {
	for _, id := range m.registry.IDs() {
		m.teardown(ctx, id)
	}
}

func (m *ConnectionManager) recordError(ctx context.Context, accountID int64, cause error) {
	if err := m.db.SetAccountError(ctx, accountID, cause.Error()); err != nil {
		m.logger.Error("failed to record account error", "account_id", accountID, "error", err)
	}
}

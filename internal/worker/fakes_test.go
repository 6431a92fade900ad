package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omnidesk/inboxd/internal/database"
	"github.com/omnidesk/inboxd/internal/provider"
	"github.com/omnidesk/inboxd/internal/storage"
	"github.com/omnidesk/inboxd/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func newTestStore(t *testing.T) *storage.FileStore {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir(), "http://localhost/media", []byte("test-signing-secret"))
	require.NoError(t, err)
	return store
}

func seedAccount(t *testing.T, db *database.DB, platform models.Platform) *models.Account {
	t.Helper()
	account := &models.Account{
		Platform:    platform,
		Name:        "test account",
		Credentials: "sealed",
		Config:      "{}",
		IsActive:    true,
	}
	require.NoError(t, db.CreateAccount(context.Background(), account))
	return account
}

type sentText struct {
	recipient string
	body      string
	opts      provider.SendOptions
}

type sentMedia struct {
	recipient   string
	body        string
	attachments []provider.OutboundAttachment
	opts        provider.SendOptions
}

// fakeSession is an in-memory provider.Session for engine tests.
type fakeSession struct {
	accountID int64
	platform  models.Platform
	events    chan provider.InboundEvent

	mu        sync.Mutex
	texts     []sentText
	media     []sentMedia
	edits     map[string]string
	deleted   []string
	typings   []string
	sendErr   error
	nextID    int
	thread    provider.Thread
	threadErr error
	history   []provider.InboundEvent
	closed    bool
}

func newFakeSession(accountID int64, platform models.Platform) *fakeSession {
	return &fakeSession{
		accountID: accountID,
		platform:  platform,
		events:    make(chan provider.InboundEvent, 16),
		edits:     make(map[string]string),
	}
}

func (s *fakeSession) AccountID() int64                     { return s.accountID }
func (s *fakeSession) Platform() models.Platform            { return s.platform }
func (s *fakeSession) Events() <-chan provider.InboundEvent { return s.events }

func (s *fakeSession) ResolveRecipient(ctx context.Context, identity *models.Identity) (string, error) {
	return identity.Value, nil
}

func (s *fakeSession) SendText(ctx context.Context, recipient, body string, opts provider.SendOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return "", s.sendErr
	}
	s.texts = append(s.texts, sentText{recipient: recipient, body: body, opts: opts})
	s.nextID++
	return fmt.Sprintf("sent-%d", s.nextID), nil
}

func (s *fakeSession) SendMedia(ctx context.Context, recipient, body string, attachments []provider.OutboundAttachment, opts provider.SendOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return "", s.sendErr
	}
	s.media = append(s.media, sentMedia{recipient: recipient, body: body, attachments: attachments, opts: opts})
	s.nextID++
	return fmt.Sprintf("sent-%d", s.nextID), nil
}

func (s *fakeSession) EditMessage(ctx context.Context, recipient, externalID, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.edits[externalID] = body
	return nil
}

func (s *fakeSession) DeleteMessage(ctx context.Context, recipient, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.deleted = append(s.deleted, externalID)
	return nil
}

func (s *fakeSession) SendTyping(ctx context.Context, recipient string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typings = append(s.typings, recipient)
	return nil
}

func (s *fakeSession) ResolveThread(ctx context.Context, externalThreadID string) (provider.Thread, error) {
	if s.threadErr != nil {
		return provider.Thread{}, s.threadErr
	}
	return s.thread, nil
}

func (s *fakeSession) FetchHistory(ctx context.Context, thread provider.Thread, limit int) ([]provider.InboundEvent, error) {
	if limit > 0 && len(s.history) > limit {
		return s.history[:limit], nil
	}
	return s.history, nil
}

func (s *fakeSession) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// fakeConnector hands out pre-built fake sessions.
type fakeConnector struct {
	platform models.Platform

	mu         sync.Mutex
	connectErr error
	secrets    []string
	sessions   []*fakeSession
}

func (c *fakeConnector) Platform() models.Platform { return c.platform }

func (c *fakeConnector) Connect(ctx context.Context, account *models.Account, secret string) (provider.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	c.secrets = append(c.secrets, secret)
	sess := newFakeSession(account.ID, c.platform)
	c.sessions = append(c.sessions, sess)
	return sess, nil
}

// Package mailbox implements the email provider session: IMAP polling for
// inbound mail and SMTP MIME assembly for outbound sends.
package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/omnidesk/inboxd/internal/provider"
	"github.com/omnidesk/inboxd/pkg/models"
)

// CursorSaver persists the per-account IMAP UID high-water mark.
type CursorSaver func(ctx context.Context, accountID int64, cfg *models.EmailAccountConfig) error

// Connector opens mailbox sessions from account configs.
type Connector struct {
	logger       *slog.Logger
	dialTimeout  time.Duration
	pollInterval time.Duration
	scanLimit    int
	saveCursor   CursorSaver
}

// NewConnector creates a mailbox connector
func NewConnector(logger *slog.Logger, dialTimeout, pollInterval time.Duration, scanLimit int, saveCursor CursorSaver) *Connector {
	return &Connector{
		logger:       logger.With("component", "mailbox_connector"),
		dialTimeout:  dialTimeout,
		pollInterval: pollInterval,
		scanLimit:    scanLimit,
		saveCursor:   saveCursor,
	}
}

// Platform returns the platform type handled by this connector
func (c *Connector) Platform() models.Platform {
	return models.PlatformEmail
}

// Connect dials the IMAP server, selects the folder and starts the poll loop
func (c *Connector) Connect(ctx context.Context, account *models.Account, secret string) (provider.Session, error) {
	cfg, err := account.EmailConfig()
	if err != nil {
		return nil, err
	}

	s := &Session{
		accountID:    account.ID,
		cfg:          cfg,
		password:     secret,
		logger:       c.logger.With("account_id", account.ID, "address", cfg.Address),
		events:       make(chan provider.InboundEvent, 64),
		stopCh:       make(chan struct{}),
		dialTimeout:  c.dialTimeout,
		pollInterval: c.pollInterval,
		scanLimit:    c.scanLimit,
		saveCursor:   c.saveCursor,
		knownSenders: make(map[string]provider.Sender),
		extract:      newHTMLExtractor(),
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	go s.run()
	return s, nil
}

// Session is a live IMAP connection for one mailbox account
type Session struct {
	accountID    int64
	cfg          *models.EmailAccountConfig
	password     string
	logger       *slog.Logger
	events       chan provider.InboundEvent
	stopCh       chan struct{}
	stopOnce     sync.Once
	dialTimeout  time.Duration
	pollInterval time.Duration
	scanLimit    int
	saveCursor   CursorSaver
	extract      *htmlExtractor

	mu           sync.Mutex
	client       *client.Client
	connected    bool
	knownSenders map[string]provider.Sender // by lowercased address and display name
}

// AccountID returns the owning account id
func (s *Session) AccountID() int64 { return s.accountID }

// Platform returns the session platform
func (s *Session) Platform() models.Platform { return models.PlatformEmail }

// Events returns the inbound event stream
func (s *Session) Events() <-chan provider.InboundEvent { return s.events }

// connect dials and logs in to the IMAP server
func (s *Session) connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	s.logger.Info("connecting to IMAP server", "server", s.cfg.IMAPServer)

	timeout := s.dialTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", s.cfg.IMAPServer, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	imapClient, err := client.New(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create IMAP client: %w", err)
	}

	if err := imapClient.Login(s.cfg.Address, s.password); err != nil {
		imapClient.Logout()
		return fmt.Errorf("failed to login: %w", err)
	}

	if _, err := imapClient.Select(s.cfg.Folder, false); err != nil {
		imapClient.Logout()
		return fmt.Errorf("failed to select %s: %w", s.cfg.Folder, err)
	}

	s.client = imapClient
	s.connected = true
	s.logger.Info("connected to IMAP server")
	return nil
}

// run polls for new mail until the session is closed
func (s *Session) run() {
	defer close(s.events)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	// Initial fetch before the first tick.
	s.poll()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

// poll fetches messages above the UID cursor and emits them in order
func (s *Session) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := s.connect(ctx); err != nil {
		s.logger.Error("reconnect failed", "error", err)
		return
	}

	events, highest, err := s.fetchSince(s.cfg.LastUID)
	if err != nil {
		s.logger.Error("fetch failed", "error", err)
		s.handleDisconnect()
		return
	}

	for _, ev := range events {
		s.rememberSender(ev.Sender)
		select {
		case s.events <- ev:
		case <-s.stopCh:
			return
		}
	}

	if highest > s.cfg.LastUID {
		s.cfg.LastUID = highest
		if s.saveCursor != nil {
			if err := s.saveCursor(ctx, s.accountID, s.cfg); err != nil {
				s.logger.Error("failed to persist UID cursor", "error", err)
			}
		}
	}
}

// fetchSince fetches messages with UID > sinceUID
func (s *Session) fetchSince(sinceUID uint32) ([]provider.InboundEvent, uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected || s.client == nil {
		return nil, 0, fmt.Errorf("not connected")
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(sinceUID+1, 0) // 0 means * (all)

	return s.fetchLocked(seqSet)
}

// fetchLocked runs a UID fetch for the given set; caller holds s.mu
func (s *Session) fetchLocked(seqSet *imap.SeqSet) ([]provider.InboundEvent, uint32, error) {
	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 100)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqSet, items, messages)
	}()

	var events []provider.InboundEvent
	var highest uint32
	for msg := range messages {
		if msg.Uid > highest {
			highest = msg.Uid
		}
		ev, err := s.parseMessage(msg, section)
		if err != nil {
			s.logger.Warn("failed to parse message", "uid", msg.Uid, "error", err)
			continue
		}
		events = append(events, ev)
	}

	if err := <-done; err != nil {
		return events, highest, fmt.Errorf("failed to fetch: %w", err)
	}
	return events, highest, nil
}

func (s *Session) rememberSender(sender provider.Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.knownSenders[strings.ToLower(sender.Value)] = sender
	if sender.DisplayName != "" {
		s.knownSenders[strings.ToLower(sender.DisplayName)] = sender
	}
}

func (s *Session) handleDisconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = false
	if s.client != nil {
		s.client.Logout()
		s.client = nil
	}
}

// ResolveRecipient returns the email address held by the identity
func (s *Session) ResolveRecipient(ctx context.Context, identity *models.Identity) (string, error) {
	if identity.Kind != models.IdentityEmail {
		return "", fmt.Errorf("identity kind %q cannot be addressed by email", identity.Kind)
	}
	if !strings.Contains(identity.Value, "@") {
		return "", fmt.Errorf("invalid email address %q", identity.Value)
	}
	return identity.Value, nil
}

// EditMessage is not supported for sent email
func (s *Session) EditMessage(ctx context.Context, _, _, _ string) error {
	return provider.ErrUnsupported
}

// DeleteMessage flags the message with the given Message-ID as deleted
// and expunges it from the folder
func (s *Session) DeleteMessage(ctx context.Context, _ string, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected || s.client == nil {
		return fmt.Errorf("not connected")
	}

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-Id", "<"+externalID+">")
	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return fmt.Errorf("failed to search: %w", err)
	}
	if len(uids) == 0 {
		return fmt.Errorf("message %q not found in folder", externalID)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.DeletedFlag}
	if err := s.client.UidStore(seqSet, item, flags, nil); err != nil {
		return fmt.Errorf("failed to mark as deleted: %w", err)
	}
	if err := s.client.Expunge(nil); err != nil {
		return fmt.Errorf("failed to expunge: %w", err)
	}
	return nil
}

// SendTyping is a no-op for mailboxes
func (s *Session) SendTyping(ctx context.Context, _ string) error {
	return nil
}

// ResolveThread locates a backfill target: a literal address, then a known
// sender by display name, then a bounded partial-match scan of senders seen
// this session.
func (s *Session) ResolveThread(ctx context.Context, externalThreadID string) (provider.Thread, error) {
	if strings.Contains(externalThreadID, "@") {
		addr := strings.ToLower(strings.TrimSpace(externalThreadID))
		thread := provider.Thread{
			Recipient: addr,
			Sender:    provider.Sender{Kind: models.IdentityEmail, Value: addr},
		}
		s.mu.Lock()
		if known, ok := s.knownSenders[addr]; ok {
			thread.Sender = known
		}
		s.mu.Unlock()
		return thread, nil
	}

	key := strings.ToLower(strings.TrimSpace(externalThreadID))

	s.mu.Lock()
	defer s.mu.Unlock()
	if sender, ok := s.knownSenders[key]; ok {
		return provider.Thread{Recipient: sender.Value, Sender: sender}, nil
	}

	scanned := 0
	for _, sender := range s.knownSenders {
		if s.scanLimit > 0 && scanned >= s.scanLimit {
			break
		}
		scanned++
		if strings.Contains(strings.ToLower(sender.DisplayName), key) {
			return provider.Thread{Recipient: sender.Value, Sender: sender}, nil
		}
	}
	return provider.Thread{}, provider.ErrThreadNotFound
}

// FetchHistory searches the folder for mail exchanged with the thread
// address and returns the newest limit items
func (s *Session) FetchHistory(ctx context.Context, thread provider.Thread, limit int) ([]provider.InboundEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected || s.client == nil {
		return nil, fmt.Errorf("not connected")
	}

	from := imap.NewSearchCriteria()
	from.Header.Add("From", thread.Recipient)
	to := imap.NewSearchCriteria()
	to.Header.Add("To", thread.Recipient)
	criteria := imap.NewSearchCriteria()
	criteria.Or = append(criteria.Or, [2]*imap.SearchCriteria{from, to})

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}
	// UIDs ascend with delivery order; keep the newest limit.
	if limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)
	events, _, err := s.fetchLocked(seqSet)
	return events, err
}

// Close stops the poll loop and logs out
func (s *Session) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.mu.Lock()
	imapClient := s.client
	s.client = nil
	s.connected = false
	s.mu.Unlock()

	if imapClient != nil {
		// Try logout with timeout, then force close.
		done := make(chan struct{})
		go func() {
			imapClient.Logout()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			imapClient.Terminate()
		}
	}
	return nil
}

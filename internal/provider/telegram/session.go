// Package telegram implements the messaging-platform provider session on
// top of the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/omnidesk/inboxd/internal/provider"
	"github.com/omnidesk/inboxd/pkg/models"
)

// Connector opens telegram sessions from bot tokens.
type Connector struct {
	logger       *slog.Logger
	scanLimit    int
	historyDepth int
}

// NewConnector creates a telegram connector. scanLimit bounds the known-
// thread scan of the resolution fallback; historyDepth bounds the per-chat
// replay buffer used for backfills.
func NewConnector(logger *slog.Logger, scanLimit, historyDepth int) *Connector {
	if historyDepth <= 0 {
		historyDepth = 200
	}
	return &Connector{
		logger:       logger.With("component", "telegram_connector"),
		scanLimit:    scanLimit,
		historyDepth: historyDepth,
	}
}

// Platform returns the platform type handled by this connector
func (c *Connector) Platform() models.Platform {
	return models.PlatformTelegram
}

// Connect opens a session using the decrypted bot token
func (c *Connector) Connect(ctx context.Context, account *models.Account, secret string) (provider.Session, error) {
	s := &Session{
		accountID:    account.ID,
		logger:       c.logger.With("account_id", account.ID),
		events:       make(chan provider.InboundEvent, 64),
		known:        make(map[int64]provider.Thread),
		recent:       make(map[int64][]provider.InboundEvent),
		scanLimit:    c.scanLimit,
		historyDepth: c.historyDepth,
	}

	b, err := bot.New(secret, bot.WithDefaultHandler(s.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	s.bot = b

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.runCtx = runCtx

	go func() {
		b.Start(runCtx)
		s.closeEvents()
	}()

	return s, nil
}

// Session is a live bot connection for one telegram account
type Session struct {
	accountID int64
	bot       *bot.Bot
	logger    *slog.Logger
	events    chan provider.InboundEvent
	runCtx    context.Context
	cancel    context.CancelFunc

	closeMu sync.Mutex
	closed  bool // events has been closed

	mu           sync.RWMutex
	known        map[int64]provider.Thread         // chats seen this session
	recent       map[int64][]provider.InboundEvent // bounded replay buffer per chat
	scanLimit    int
	historyDepth int
}

// AccountID returns the owning account id
func (s *Session) AccountID() int64 { return s.accountID }

// Platform returns the session platform
func (s *Session) Platform() models.Platform { return models.PlatformTelegram }

// Events returns the inbound event stream
func (s *Session) Events() <-chan provider.InboundEvent { return s.events }

// externalID composes a per-account unique message id from chat and
// message ids; bot message ids are only unique within one chat.
func externalID(chatID int64, messageID int) string {
	return fmt.Sprintf("%d:%d", chatID, messageID)
}

// splitExternalID reverses externalID
func splitExternalID(id string) (chatID int64, messageID int, err error) {
	chatPart, msgPart, ok := strings.Cut(id, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed telegram message id %q", id)
	}
	chatID, err = strconv.ParseInt(chatPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed chat id in %q", id)
	}
	messageID, err = strconv.Atoi(msgPart)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed message id in %q", id)
	}
	return chatID, messageID, nil
}

func (s *Session) handleUpdate(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
	msg := update.Message
	if msg == nil {
		return
	}

	ev := s.normalize(msg)
	s.remember(msg.Chat, ev)
	s.deliver(ev)
}

// deliver hands one event to the stream. The bot dispatches each handler
// in its own goroutine, so a straggler can arrive after Start returned;
// the closed flag keeps it off the already-closed channel.
func (s *Session) deliver(ev provider.InboundEvent) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	case <-s.runCtx.Done():
	}
}

func (s *Session) closeEvents() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

// normalize converts a bot update into the provider event model
func (s *Session) normalize(msg *tgmodels.Message) provider.InboundEvent {
	ev := provider.InboundEvent{
		AccountID:  s.accountID,
		Platform:   models.PlatformTelegram,
		ExternalID: externalID(msg.Chat.ID, msg.ID),
		Kind:       models.KindText,
		Body:       msg.Text,
		SentAt:     time.Unix(int64(msg.Date), 0),
		Sender: provider.Sender{
			Kind:  models.IdentityTelegram,
			Value: strconv.FormatInt(msg.Chat.ID, 10),
		},
	}
	if msg.From != nil {
		ev.Sender.DisplayName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		if ev.Sender.DisplayName == "" {
			ev.Sender.DisplayName = msg.From.Username
		}
	}
	if msg.ReplyToMessage != nil {
		ev.InReplyTo = externalID(msg.Chat.ID, msg.ReplyToMessage.ID)
	}

	switch {
	case len(msg.NewChatMembers) > 0:
		ev.Kind = models.KindService
		ev.Body = "joined the chat"
	case msg.LeftChatMember != nil:
		ev.Kind = models.KindService
		ev.Body = "left the chat"
	}

	if msg.Caption != "" && ev.Body == "" {
		ev.Body = msg.Caption
	}

	if media := s.extractMedia(msg); media != nil {
		ev.Kind = models.KindMedia
		ev.Media = append(ev.Media, *media)
	}

	return ev
}

func (s *Session) extractMedia(msg *tgmodels.Message) *provider.Media {
	switch {
	case len(msg.Photo) > 0:
		// Sizes are ordered smallest first; take the largest rendition.
		photo := msg.Photo[len(msg.Photo)-1]
		return s.media(photo.FileID, "photo.jpg", "image/jpeg")
	case msg.Document != nil:
		name := msg.Document.FileName
		if name == "" {
			name = "document"
		}
		return s.media(msg.Document.FileID, name, msg.Document.MimeType)
	case msg.Voice != nil:
		return s.media(msg.Voice.FileID, "voice.ogg", msg.Voice.MimeType)
	case msg.Video != nil:
		return s.media(msg.Video.FileID, "video.mp4", msg.Video.MimeType)
	case msg.Audio != nil:
		name := msg.Audio.FileName
		if name == "" {
			name = "audio"
		}
		return s.media(msg.Audio.FileID, name, msg.Audio.MimeType)
	}
	return nil
}

// media builds a lazy downloader for a telegram file id
func (s *Session) media(fileID, fileName, mimeType string) *provider.Media {
	return &provider.Media{
		FileName: fileName,
		MimeType: mimeType,
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			file, err := s.bot.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
			if err != nil {
				return nil, fmt.Errorf("failed to get file: %w", err)
			}
			link := s.bot.FileDownloadLink(file)
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
			if err != nil {
				return nil, err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return nil, fmt.Errorf("failed to download file: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				resp.Body.Close()
				return nil, fmt.Errorf("file download returned status %d", resp.StatusCode)
			}
			return resp.Body, nil
		},
	}
}

// remember records the chat and the event for thread resolution and
// bounded history replay
func (s *Session) remember(chat tgmodels.Chat, ev provider.InboundEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sender := ev.Sender
	if title := chatTitle(chat); title != "" {
		sender.DisplayName = title
	}
	s.known[chat.ID] = provider.Thread{
		Recipient: strconv.FormatInt(chat.ID, 10),
		Sender:    sender,
	}

	buf := append(s.recent[chat.ID], ev)
	if len(buf) > s.historyDepth {
		buf = buf[len(buf)-s.historyDepth:]
	}
	s.recent[chat.ID] = buf
}

func chatTitle(chat tgmodels.Chat) string {
	if chat.Title != "" {
		return chat.Title
	}
	return strings.TrimSpace(chat.FirstName + " " + chat.LastName)
}

// ResolveRecipient returns the chat id held by the identity
func (s *Session) ResolveRecipient(ctx context.Context, identity *models.Identity) (string, error) {
	if identity.Kind != models.IdentityTelegram {
		return "", fmt.Errorf("identity kind %q cannot be addressed on telegram", identity.Kind)
	}
	if _, err := strconv.ParseInt(identity.Value, 10, 64); err != nil {
		return "", fmt.Errorf("invalid telegram chat id %q", identity.Value)
	}
	return identity.Value, nil
}

// SendText sends a plain text message
func (s *Session) SendText(ctx context.Context, recipient, body string, _ provider.SendOptions) (string, error) {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid recipient %q: %w", recipient, err)
	}
	sent, err := s.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   body,
	})
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	return externalID(chatID, sent.ID), nil
}

// SendMedia uploads attachments; the caption rides on the first one
func (s *Session) SendMedia(ctx context.Context, recipient, body string, attachments []provider.OutboundAttachment, _ provider.SendOptions) (string, error) {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid recipient %q: %w", recipient, err)
	}

	var firstID string
	for i, att := range attachments {
		reader, err := att.Open(ctx)
		if err != nil {
			return firstID, fmt.Errorf("failed to open attachment %q: %w", att.FileName, err)
		}

		caption := ""
		if i == 0 {
			caption = body
		}

		var sent *tgmodels.Message
		upload := &tgmodels.InputFileUpload{Filename: att.FileName, Data: reader}
		if strings.HasPrefix(att.MimeType, "image/") {
			sent, err = s.bot.SendPhoto(ctx, &bot.SendPhotoParams{
				ChatID:  chatID,
				Photo:   upload,
				Caption: caption,
			})
		} else {
			sent, err = s.bot.SendDocument(ctx, &bot.SendDocumentParams{
				ChatID:   chatID,
				Document: upload,
				Caption:  caption,
			})
		}
		reader.Close()
		if err != nil {
			return firstID, fmt.Errorf("failed to send attachment %q: %w", att.FileName, err)
		}
		if i == 0 {
			firstID = externalID(chatID, sent.ID)
		}
	}
	return firstID, nil
}

// EditMessage replaces the text of a previously sent message
func (s *Session) EditMessage(ctx context.Context, _ string, external, body string) error {
	chatID, messageID, err := splitExternalID(external)
	if err != nil {
		return err
	}
	_, err = s.bot.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      body,
	})
	if err != nil {
		return fmt.Errorf("failed to edit message: %w", err)
	}
	return nil
}

// DeleteMessage removes a previously sent message
func (s *Session) DeleteMessage(ctx context.Context, _ string, external string) error {
	chatID, messageID, err := splitExternalID(external)
	if err != nil {
		return err
	}
	_, err = s.bot.DeleteMessage(ctx, &bot.DeleteMessageParams{
		ChatID:    chatID,
		MessageID: messageID,
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// SendTyping shows a typing indicator in the chat
func (s *Session) SendTyping(ctx context.Context, recipient string) error {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", recipient, err)
	}
	_, err = s.bot.SendChatAction(ctx, &bot.SendChatActionParams{
		ChatID: chatID,
		Action: tgmodels.ChatActionTyping,
	})
	return err
}

// ResolveThread locates a chat by id: direct lookup against chats seen
// this session, then a GetChat call, then a bounded scan of the known
// thread list by title.
func (s *Session) ResolveThread(ctx context.Context, externalThreadID string) (provider.Thread, error) {
	if chatID, err := strconv.ParseInt(externalThreadID, 10, 64); err == nil {
		s.mu.RLock()
		thread, ok := s.known[chatID]
		s.mu.RUnlock()
		if ok {
			return thread, nil
		}

		chat, err := s.bot.GetChat(ctx, &bot.GetChatParams{ChatID: chatID})
		if err == nil {
			return provider.Thread{
				Recipient: externalThreadID,
				Sender: provider.Sender{
					Kind:        models.IdentityTelegram,
					Value:       externalThreadID,
					DisplayName: chatTitle(tgmodels.Chat{Title: chat.Title, FirstName: chat.FirstName, LastName: chat.LastName}),
				},
			}, nil
		}
		s.logger.Debug("chat lookup failed, scanning known threads", "chat_id", chatID, "error", err)
	}

	// Last tier: scan the session's known thread list by display name,
	// bounded by scanLimit.
	s.mu.RLock()
	defer s.mu.RUnlock()
	scanned := 0
	for _, thread := range s.known {
		if s.scanLimit > 0 && scanned >= s.scanLimit {
			break
		}
		scanned++
		if strings.EqualFold(thread.Sender.DisplayName, externalThreadID) {
			return thread, nil
		}
	}
	return provider.Thread{}, provider.ErrThreadNotFound
}

// FetchHistory replays the session's bounded buffer for the chat, newest
// first up to limit. The Bot API exposes no server-side history, so only
// messages observed by this session are available.
func (s *Session) FetchHistory(ctx context.Context, thread provider.Thread, limit int) ([]provider.InboundEvent, error) {
	chatID, err := strconv.ParseInt(thread.Recipient, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid thread recipient %q: %w", thread.Recipient, err)
	}

	s.mu.RLock()
	buf := s.recent[chatID]
	s.mu.RUnlock()

	if limit > 0 && len(buf) > limit {
		buf = buf[len(buf)-limit:]
	}
	out := make([]provider.InboundEvent, len(buf))
	copy(out, buf)
	return out, nil
}

// Close stops the update loop and closes the event stream
func (s *Session) Close(ctx context.Context) error {
	s.cancel()
	return nil
}

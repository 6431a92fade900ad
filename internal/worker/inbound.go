package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/omnidesk/inboxd/internal/database"
	"github.com/omnidesk/inboxd/internal/provider"
	"github.com/omnidesk/inboxd/internal/storage"
	"github.com/omnidesk/inboxd/pkg/models"
)

// previewLength is the rune cap of a conversation's last-message preview.
const previewLength = 120

// inboundPingInterval is how often an idle inbound loop signals liveness.
// Blocked on an empty stream is a healthy state.
const inboundPingInterval = 30 * time.Second

// Reconciler turns inbound provider events into deduplicated, correctly
// threaded messages and conversations.
type Reconciler struct {
	db        *database.DB
	store     storage.Store
	bucket    string
	locks     *keyMutex
	pingEvery time.Duration
	logger    *slog.Logger
}

// NewReconciler creates an inbound reconciler
func NewReconciler(db *database.DB, store storage.Store, bucket string, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		db:        db,
		store:     store,
		bucket:    bucket,
		locks:     newKeyMutex(),
		pingEvery: inboundPingInterval,
		logger:    logger.With("component", "inbound_reconciler"),
	}
}

// Run drains the merged inbound stream until ctx is cancelled
func (r *Reconciler) Run(ctx context.Context, events <-chan provider.InboundEvent, ping func()) {
	ticker := time.NewTicker(r.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ping()
		case ev, ok := <-events:
			if !ok {
				return
			}
			ping()
			if err := r.Handle(ctx, ev); err != nil {
				r.logger.Error("failed to handle inbound event",
					"account_id", ev.AccountID,
					"external_id", ev.ExternalID,
					"error", err,
				)
			}
		}
	}
}

// Handle persists one inbound event and refreshes the conversation summary
func (r *Reconciler) Handle(ctx context.Context, ev provider.InboundEvent) error {
	msg, conv, err := r.Persist(ctx, ev)
	if err != nil {
		return err
	}
	if msg == nil {
		// Idempotent re-delivery.
		return nil
	}

	if err := r.db.UpdateConversationSummary(ctx, conv.ID, ev.Platform, msg.SentAt, msg.Preview(previewLength)); err != nil {
		return fmt.Errorf("failed to update conversation summary: %w", err)
	}
	return nil
}

// Persist writes the message, its conversation/identity rows and media.
// Returns (nil, nil, nil) when the event is a duplicate. The historical
// sync engine shares this path and recomputes summaries itself.
func (r *Reconciler) Persist(ctx context.Context, ev provider.InboundEvent) (*models.Message, *models.Conversation, error) {
	if ev.ExternalID == "" {
		return nil, nil, fmt.Errorf("event without external id")
	}

	// Idempotency check before insert.
	if _, err := r.db.GetMessageByExternalID(ctx, ev.AccountID, ev.ExternalID); err == nil {
		return nil, nil, nil
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, nil, err
	}

	conv, created, err := r.resolveConversation(ctx, ev)
	if err != nil {
		return nil, nil, err
	}

	msg := &models.Message{
		AccountID:      ev.AccountID,
		ConversationID: conv.ID,
		ExternalID:     ev.ExternalID,
		Direction:      models.DirectionInbound,
		Kind:           ev.Kind,
		Body:           ev.Body,
		SentAt:         ev.SentAt,
	}
	if err := r.db.CreateMessage(ctx, msg); err != nil {
		if errors.Is(err, database.ErrAlreadyExists) {
			return nil, nil, nil
		}
		// Compensate: do not leave behind an empty conversation we just
		// created for this event.
		if created {
			if delErr := r.db.DeleteConversation(ctx, conv.ID); delErr != nil {
				r.logger.Error("failed to roll back conversation", "conversation_id", conv.ID, "error", delErr)
			}
		}
		return nil, nil, err
	}

	// Media extraction failures are logged and never block the text row.
	r.storeMedia(ctx, msg, ev.Media)

	return msg, conv, nil
}

// resolveConversation applies the threading precedence: explicit reply
// reference, then the references list, then the sender identity's existing
// conversation, then a fresh identity and conversation.
func (r *Reconciler) resolveConversation(ctx context.Context, ev provider.InboundEvent) (*models.Conversation, bool, error) {
	if ev.InReplyTo != "" {
		if conv, err := r.conversationByExternalID(ctx, ev.AccountID, ev.InReplyTo); err != nil {
			return nil, false, err
		} else if conv != nil {
			return conv, false, nil
		}
	}

	for _, ref := range ev.References {
		if conv, err := r.conversationByExternalID(ctx, ev.AccountID, ref); err != nil {
			return nil, false, err
		} else if conv != nil {
			return conv, false, nil
		}
	}

	value := models.NormalizeIdentityValue(ev.Sender.Kind, ev.Sender.Value)
	if value == "" {
		return nil, false, fmt.Errorf("event with empty sender address")
	}

	// Two concurrent first-contact events from the same address must not
	// create two identities or two conversations; serialize per key.
	unlock := r.locks.Lock(fmt.Sprintf("%d/%s/%s", ev.AccountID, ev.Sender.Kind, value))
	defer unlock()

	identity, err := r.db.GetIdentityByValue(ctx, ev.AccountID, ev.Sender.Kind, value)
	switch {
	case errors.Is(err, database.ErrNotFound):
		identity = &models.Identity{
			AccountID:   ev.AccountID,
			Kind:        ev.Sender.Kind,
			Value:       value,
			DisplayName: ev.Sender.DisplayName,
			AvatarURL:   ev.Sender.AvatarURL,
		}
		if err := r.db.CreateIdentity(ctx, identity); err != nil {
			return nil, false, err
		}
	case err != nil:
		return nil, false, err
	default:
		if ev.Sender.DisplayName != "" && ev.Sender.DisplayName != identity.DisplayName {
			if err := r.db.UpdateIdentityProfile(ctx, identity.ID, ev.Sender.DisplayName, ev.Sender.AvatarURL); err != nil {
				r.logger.Warn("failed to refresh identity profile", "identity_id", identity.ID, "error", err)
			}
		}
	}

	conv, err := r.db.GetConversationByIdentity(ctx, identity.ID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		conv = &models.Conversation{
			AccountID:   ev.AccountID,
			IdentityID:  identity.ID,
			LastChannel: ev.Platform,
		}
		if err := r.db.CreateConversation(ctx, conv); err != nil {
			return nil, false, err
		}
		return conv, true, nil
	case err != nil:
		return nil, false, err
	}
	return conv, false, nil
}

func (r *Reconciler) conversationByExternalID(ctx context.Context, accountID int64, externalID string) (*models.Conversation, error) {
	msg, err := r.db.GetMessageByExternalID(ctx, accountID, externalID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	conv, err := r.db.GetConversationByID(ctx, msg.ConversationID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// storeMedia downloads event media into the object store and records
// attachment rows
func (r *Reconciler) storeMedia(ctx context.Context, msg *models.Message, media []provider.Media) {
	for _, m := range media {
		if err := r.storeOne(ctx, msg, m); err != nil {
			r.logger.Warn("failed to store attachment",
				"message_id", msg.ID,
				"file", m.FileName,
				"error", err,
			)
		}
	}
}

func (r *Reconciler) storeOne(ctx context.Context, msg *models.Message, m provider.Media) error {
	reader, err := m.Open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open media: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to read media: %w", err)
	}

	mimeType := m.MimeType
	if mimeType == "" {
		mimeType = mimetype.Detect(data).String()
	}

	fileName := path.Base(strings.ReplaceAll(m.FileName, "\\", "/"))
	if fileName == "" || fileName == "." || fileName == "/" {
		fileName = "attachment"
	}
	objectPath := fmt.Sprintf("%d/%s/%s", msg.AccountID, uuid.NewString(), fileName)

	size, err := r.store.Put(ctx, r.bucket, objectPath, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to upload media: %w", err)
	}

	att := &models.Attachment{
		MessageID: msg.ID,
		Bucket:    r.bucket,
		Path:      objectPath,
		FileName:  fileName,
		MimeType:  mimeType,
		SizeBytes: size,
	}
	if err := r.db.CreateAttachment(ctx, att); err != nil {
		// Orphaned object; remove it so storage does not leak.
		if delErr := r.store.Delete(ctx, r.bucket, objectPath); delErr != nil {
			r.logger.Warn("failed to remove orphaned object", "path", objectPath, "error", delErr)
		}
		return err
	}
	return nil
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/omnidesk/inboxd/internal/database"
	"github.com/omnidesk/inboxd/internal/provider"
	"github.com/omnidesk/inboxd/internal/storage"
	"github.com/omnidesk/inboxd/pkg/models"
)

// outboundBatchSize caps how many queued messages one dispatch cycle takes.
const outboundBatchSize = 50

// Dispatcher delivers queued outbound messages through live sessions and
// swaps their placeholder external ids for provider-assigned ones.
type Dispatcher struct {
	db       *database.DB
	registry *Registry
	store    storage.Store
	interval time.Duration
	grace    time.Duration
	logger   *slog.Logger
}

// NewDispatcher creates an outbound dispatcher
func NewDispatcher(db *database.DB, registry *Registry, store storage.Store, interval, grace time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		db:       db,
		registry: registry,
		store:    store,
		interval: interval,
		grace:    grace,
		logger:   logger.With("component", "outbound_dispatcher"),
	}
}

// Run polls for queued outbound messages until ctx is cancelled
func (d *Dispatcher) Run(ctx context.Context, ping func()) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ping()
			if err := d.DispatchPending(ctx); err != nil {
				d.logger.Error("dispatch cycle failed", "error", err)
			}
		}
	}
}

// DispatchPending delivers one batch of queued outbound messages
func (d *Dispatcher) DispatchPending(ctx context.Context) error {
	pending, err := d.db.GetPendingOutbound(ctx, outboundBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list pending outbound: %w", err)
	}

	for _, msg := range pending {
		// Freshly queued rows get a grace window so attachment rows written
		// right after the message land before we pick it up.
		if time.Since(msg.CreatedAt) < d.grace {
			continue
		}
		if err := d.dispatchOne(ctx, msg); err != nil {
			d.logger.Error("failed to dispatch message", "message_id", msg.ID, "error", err)
		}
	}
	return nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, msg *models.Message) error {
	sess := d.registry.Session(msg.AccountID)
	if sess == nil {
		// Account not connected; leave the row pending for a later cycle.
		return nil
	}

	externalID, err := d.send(ctx, sess, msg)
	if err != nil {
		// Terminal failure: mark the row so it is never retried.
		if markErr := d.db.UpdateMessageExternalID(ctx, msg.ID, models.NewFailedExternalID()); markErr != nil {
			d.logger.Error("failed to mark message failed", "message_id", msg.ID, "error", markErr)
		}
		return err
	}

	if err := d.db.UpdateMessageExternalID(ctx, msg.ID, externalID); err != nil {
		return fmt.Errorf("failed to record external id: %w", err)
	}
	if err := d.db.UpdateConversationSummary(ctx, msg.ConversationID, sess.Platform(), msg.SentAt, msg.Preview(previewLength)); err != nil {
		d.logger.Warn("failed to update conversation summary", "conversation_id", msg.ConversationID, "error", err)
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, sess provider.Session, msg *models.Message) (string, error) {
	recipient, err := d.resolveRecipient(ctx, sess, msg.ConversationID)
	if err != nil {
		return "", err
	}

	opts, err := d.threadingOptions(ctx, msg.ConversationID)
	if err != nil {
		d.logger.Warn("failed to build threading options", "conversation_id", msg.ConversationID, "error", err)
		opts = provider.SendOptions{}
	}

	attachments, err := d.loadAttachments(ctx, msg)
	if err != nil {
		return "", err
	}

	if len(attachments) == 0 {
		if msg.Body == "" {
			return "", errors.New("message has neither body nor attachments")
		}
		return sess.SendText(ctx, recipient, msg.Body, opts)
	}
	return sess.SendMedia(ctx, recipient, msg.Body, attachments, opts)
}

func (d *Dispatcher) resolveRecipient(ctx context.Context, sess provider.Session, conversationID int64) (string, error) {
	conv, err := d.db.GetConversationByID(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("failed to get conversation: %w", err)
	}
	identity, err := d.db.GetIdentityByID(ctx, conv.IdentityID)
	if err != nil {
		return "", fmt.Errorf("failed to get identity: %w", err)
	}
	recipient, err := sess.ResolveRecipient(ctx, identity)
	if err != nil {
		return "", fmt.Errorf("failed to resolve recipient: %w", err)
	}
	return recipient, nil
}

// threadingOptions derives reply headers from the newest inbound message
// so mail clients keep the exchange in one thread.
func (d *Dispatcher) threadingOptions(ctx context.Context, conversationID int64) (provider.SendOptions, error) {
	last, err := d.db.GetNewestInboundMessage(ctx, conversationID)
	if errors.Is(err, database.ErrNotFound) {
		return provider.SendOptions{}, nil
	}
	if err != nil {
		return provider.SendOptions{}, err
	}
	return provider.SendOptions{
		InReplyTo:  last.ExternalID,
		References: []string{last.ExternalID},
	}, nil
}

func (d *Dispatcher) loadAttachments(ctx context.Context, msg *models.Message) ([]provider.OutboundAttachment, error) {
	rows, err := d.db.GetAttachmentsByMessage(ctx, msg.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}

	out := make([]provider.OutboundAttachment, 0, len(rows))
	for i, att := range rows {
		oa := provider.OutboundAttachment{
			FileName: att.FileName,
			MimeType: att.MimeType,
			Open: func(ctx context.Context) (io.ReadCloser, error) {
				return d.store.Open(ctx, att.Bucket, att.Path)
			},
		}
		if i == 0 {
			oa.Caption = msg.Body
		}
		out = append(out, oa)
	}
	return out, nil
}

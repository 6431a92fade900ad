package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/omnidesk/inboxd/pkg/models"
)

// CreateMessage creates a new message (ignores if the external id is
// already known for the account)
func (db *DB) CreateMessage(ctx context.Context, msg *models.Message) error {
	query := `
		INSERT OR IGNORE INTO messages (account_id, conversation_id, external_id, direction, kind, body, sent_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	if msg.SentAt.IsZero() {
		msg.SentAt = now
	}
	result, err := db.ExecContext(ctx, query,
		msg.AccountID,
		msg.ConversationID,
		msg.ExternalID,
		msg.Direction,
		msg.Kind,
		msg.Body,
		msg.SentAt,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	// Check if row was actually inserted (not ignored due to duplicate)
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAlreadyExists
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	msg.ID = id
	msg.CreatedAt = now
	return nil
}

// GetMessageByID returns a message by ID
func (db *DB) GetMessageByID(ctx context.Context, id int64) (*models.Message, error) {
	var msg models.Message
	query := `SELECT * FROM messages WHERE id = ?`
	err := db.GetContext(ctx, &msg, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

// GetMessageByExternalID returns a message by its provider-native id
func (db *DB) GetMessageByExternalID(ctx context.Context, accountID int64, externalID string) (*models.Message, error) {
	var msg models.Message
	query := `SELECT * FROM messages WHERE account_id = ? AND external_id = ?`
	err := db.GetContext(ctx, &msg, query, accountID, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

// GetPendingOutbound returns outbound messages still carrying the
// placeholder external id prefix, oldest first
func (db *DB) GetPendingOutbound(ctx context.Context, limit int) ([]*models.Message, error) {
	var msgs []*models.Message
	query := `
		SELECT * FROM messages
		WHERE direction = ? AND external_id LIKE ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`
	err := db.SelectContext(ctx, &msgs, query, models.DirectionOutbound, models.PendingExternalPrefix+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending outbound: %w", err)
	}
	return msgs, nil
}

// UpdateMessageExternalID overwrites the placeholder external id with the
// provider-assigned one (or a failure marker)
func (db *DB) UpdateMessageExternalID(ctx context.Context, id int64, externalID string) error {
	query := `UPDATE messages SET external_id = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, externalID, id)
	if err != nil {
		return fmt.Errorf("failed to update external id: %w", err)
	}
	return nil
}

// GetConversationExternalIDs returns the known external ids of a conversation
func (db *DB) GetConversationExternalIDs(ctx context.Context, conversationID int64) ([]string, error) {
	var ids []string
	query := `SELECT external_id FROM messages WHERE conversation_id = ?`
	err := db.SelectContext(ctx, &ids, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get external ids: %w", err)
	}
	return ids, nil
}

// GetNewestMessage returns the newest message of a conversation by sent_at
func (db *DB) GetNewestMessage(ctx context.Context, conversationID int64) (*models.Message, error) {
	var msg models.Message
	query := `SELECT * FROM messages WHERE conversation_id = ? ORDER BY sent_at DESC, id DESC LIMIT 1`
	err := db.GetContext(ctx, &msg, query, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get newest message: %w", err)
	}
	return &msg, nil
}

// GetNewestInboundMessage returns the newest inbound message of a
// conversation that carries a real provider id, for reply threading
func (db *DB) GetNewestInboundMessage(ctx context.Context, conversationID int64) (*models.Message, error) {
	var msg models.Message
	query := `
		SELECT * FROM messages
		WHERE conversation_id = ? AND direction = ?
		  AND external_id NOT LIKE ? AND external_id NOT LIKE ?
		ORDER BY sent_at DESC, id DESC
		LIMIT 1
	`
	err := db.GetContext(ctx, &msg, query, conversationID, models.DirectionInbound,
		models.PendingExternalPrefix+"%", models.FailedExternalPrefix+"%")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get newest inbound message: %w", err)
	}
	return &msg, nil
}

// UpdateMessageBody overwrites the stored body after a provider-side edit
func (db *DB) UpdateMessageBody(ctx context.Context, id int64, body string) error {
	query := `UPDATE messages SET body = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, body, id)
	if err != nil {
		return fmt.Errorf("failed to update message body: %w", err)
	}
	return nil
}

// DeleteMessage removes a message row
func (db *DB) DeleteMessage(ctx context.Context, id int64) error {
	query := `DELETE FROM messages WHERE id = ?`
	_, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/omnidesk/inboxd/pkg/models"
)

// CreateConversation creates a new conversation for an identity
func (db *DB) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	query := `
		INSERT INTO conversations (account_id, identity_id, contact_id, status, last_channel, last_message_at, last_message_preview, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	if conv.Status == "" {
		conv.Status = models.ConversationOpen
	}
	result, err := db.ExecContext(ctx, query,
		conv.AccountID,
		conv.IdentityID,
		conv.ContactID,
		conv.Status,
		conv.LastChannel,
		conv.LastMessageAt,
		conv.LastMessagePreview,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	conv.ID = id
	conv.CreatedAt = now
	conv.UpdatedAt = now
	return nil
}

// GetConversationByID returns a conversation by ID
func (db *DB) GetConversationByID(ctx context.Context, id int64) (*models.Conversation, error) {
	var conv models.Conversation
	query := `SELECT * FROM conversations WHERE id = ?`
	err := db.GetContext(ctx, &conv, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

// GetConversationByIdentity returns the newest conversation for an identity,
// linked or not
func (db *DB) GetConversationByIdentity(ctx context.Context, identityID int64) (*models.Conversation, error) {
	var conv models.Conversation
	query := `SELECT * FROM conversations WHERE identity_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`
	err := db.GetContext(ctx, &conv, query, identityID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

// UpdateConversationSummary updates the denormalized last-message fields
func (db *DB) UpdateConversationSummary(ctx context.Context, id int64, channel models.Platform, lastMessageAt time.Time, preview string) error {
	query := `UPDATE conversations SET last_channel = ?, last_message_at = ?, last_message_preview = ?, updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, channel, lastMessageAt, preview, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update conversation summary: %w", err)
	}
	return nil
}

// DeleteConversation removes a conversation. Only used as the compensating
// action when the first message insert of a just-created conversation fails.
func (db *DB) DeleteConversation(ctx context.Context, id int64) error {
	query := `DELETE FROM conversations WHERE id = ?`
	_, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

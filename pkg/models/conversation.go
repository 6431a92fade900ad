package models

import "time"

// ConversationStatus lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationOpen   ConversationStatus = "open"
	ConversationClosed ConversationStatus = "closed"
)

// Conversation represents a thread keyed by one primary identity
type Conversation struct {
	ID                 int64              `db:"id"`
	AccountID          int64              `db:"account_id"`
	IdentityID         int64              `db:"identity_id"`
	ContactID          *int64             `db:"contact_id"` // Set when linked by the CRM
	Status             ConversationStatus `db:"status"`
	LastChannel        Platform           `db:"last_channel"`
	LastMessageAt      *time.Time         `db:"last_message_at"`
	LastMessagePreview string             `db:"last_message_preview"`
	CreatedAt          time.Time          `db:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at"`
}

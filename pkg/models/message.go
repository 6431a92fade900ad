package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Direction of a message relative to the operator.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageKind classifies the payload of a message.
type MessageKind string

const (
	KindText    MessageKind = "text"
	KindMedia   MessageKind = "media"
	KindService MessageKind = "service" // join/leave and similar system events
)

// External id prefixes. A pending id marks an outbound message queued by the
// rest of the system and not yet confirmed by the provider; a failed id marks
// a terminal send failure.
const (
	PendingExternalPrefix = "pending-"
	FailedExternalPrefix  = "failed-"
)

// NewPendingExternalID generates a placeholder external id for a queued
// outbound message.
func NewPendingExternalID() string {
	return PendingExternalPrefix + uuid.NewString()
}

// NewFailedExternalID generates a terminal failure marker id.
func NewFailedExternalID() string {
	return FailedExternalPrefix + uuid.NewString()
}

// IsPendingExternalID reports whether id is an unsent placeholder.
func IsPendingExternalID(id string) bool {
	return strings.HasPrefix(id, PendingExternalPrefix)
}

// IsFailedExternalID reports whether id marks a terminal send failure.
func IsFailedExternalID(id string) bool {
	return strings.HasPrefix(id, FailedExternalPrefix)
}

// IsProviderExternalID reports whether id is a real provider-assigned id.
func IsProviderExternalID(id string) bool {
	return id != "" && !IsPendingExternalID(id) && !IsFailedExternalID(id)
}

// Message represents one wire-level unit within a conversation
type Message struct {
	ID             int64       `db:"id"`
	AccountID      int64       `db:"account_id"`
	ConversationID int64       `db:"conversation_id"`
	ExternalID     string      `db:"external_id"` // Unique per account
	Direction      Direction   `db:"direction"`
	Kind           MessageKind `db:"kind"`
	Body           string      `db:"body"`
	SentAt         time.Time   `db:"sent_at"` // Provider time when known, else ingestion time
	CreatedAt      time.Time   `db:"created_at"`
}

// Preview returns the conversation preview text for this message,
// truncated to at most n runes.
func (m *Message) Preview(n int) string {
	text := strings.TrimSpace(m.Body)
	if text == "" && m.Kind == KindMedia {
		text = "[attachment]"
	}
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}

package models

import (
	"strings"
	"time"
)

// IdentityKind is the address type of an identity within one channel.
type IdentityKind string

const (
	IdentityTelegram IdentityKind = "telegram_id"
	IdentityEmail    IdentityKind = "email"
	IdentityPhone    IdentityKind = "phone"
)

// Identity represents a contact's address within one channel
type Identity struct {
	ID          int64        `db:"id"`
	AccountID   int64        `db:"account_id"`
	Kind        IdentityKind `db:"kind"`
	Value       string       `db:"value"` // Normalized address
	DisplayName string       `db:"display_name"`
	AvatarURL   string       `db:"avatar_url"`
	ContactID   *int64       `db:"contact_id"` // Linked CRM contact, if any
	Metadata    string       `db:"metadata"`   // Free-form JSON
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
}

// NormalizeIdentityValue canonicalizes an address for uniqueness checks.
// Emails are lowercased, phone numbers keep digits and a leading plus,
// platform user ids are passed through trimmed.
func NormalizeIdentityValue(kind IdentityKind, value string) string {
	value = strings.TrimSpace(value)
	switch kind {
	case IdentityEmail:
		return strings.ToLower(value)
	case IdentityPhone:
		var b strings.Builder
		for i, r := range value {
			if r >= '0' && r <= '9' || (r == '+' && i == 0) {
				b.WriteRune(r)
			}
		}
		return b.String()
	default:
		return value
	}
}

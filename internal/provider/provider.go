// Package provider defines the session abstraction shared by all channel
// providers. A Session is one live authenticated connection for one account;
// it pushes normalized inbound events and executes outbound actions.
package provider

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/omnidesk/inboxd/pkg/models"
)

// ErrUnsupported is returned by sessions for actions the underlying
// provider cannot perform (e.g. editing a sent email).
var ErrUnsupported = errors.New("action not supported by provider")

// ErrThreadNotFound is returned when a thread cannot be resolved by any tier.
var ErrThreadNotFound = errors.New("thread not found")

// Sender describes the counterpart address of an inbound event.
type Sender struct {
	Kind        models.IdentityKind
	Value       string // Raw address; normalized by the reconciler
	DisplayName string
	AvatarURL   string
}

// Media is a downloadable binary payload carried by an inbound event.
// Open is lazy so extraction failures never block text persistence.
type Media struct {
	FileName string
	MimeType string
	Open     func(ctx context.Context) (io.ReadCloser, error)
}

// InboundEvent is a normalized inbound item pushed by a session or
// returned from a history fetch.
type InboundEvent struct {
	AccountID  int64
	Platform   models.Platform
	ExternalID string
	Sender     Sender
	Body       string
	Kind       models.MessageKind
	SentAt     time.Time
	InReplyTo  string   // Explicit reply reference to a provider message id
	References []string // Threading reference chain (email References header)
	Media      []Media
}

// OutboundAttachment is a binary payload to upload with an outbound send.
type OutboundAttachment struct {
	FileName string
	MimeType string
	Caption  string // Attached to the first attachment only
	Open     func(ctx context.Context) (io.ReadCloser, error)
}

// SendOptions carries channel-specific threading metadata for a send.
type SendOptions struct {
	Subject    string
	InReplyTo  string
	References []string
}

// Thread is a resolved backfill target.
type Thread struct {
	// Recipient is the provider-native send/fetch handle.
	Recipient string
	// Sender identifies the thread counterpart for identity resolution.
	Sender Sender
}

// Session is a live provider connection for one account.
type Session interface {
	AccountID() int64
	Platform() models.Platform

	// Events streams inbound items in provider delivery order. The channel
	// is closed when the session shuts down.
	Events() <-chan InboundEvent

	// ResolveRecipient maps a stored identity to a provider-native handle.
	ResolveRecipient(ctx context.Context, identity *models.Identity) (string, error)

	SendText(ctx context.Context, recipient, body string, opts SendOptions) (externalID string, err error)
	SendMedia(ctx context.Context, recipient, body string, attachments []OutboundAttachment, opts SendOptions) (externalID string, err error)
	EditMessage(ctx context.Context, recipient, externalID, body string) error
	DeleteMessage(ctx context.Context, recipient, externalID string) error
	SendTyping(ctx context.Context, recipient string) error

	// ResolveThread locates a backfill target by its external thread id.
	ResolveThread(ctx context.Context, externalThreadID string) (Thread, error)
	// FetchHistory returns up to limit most-recent items for a thread.
	FetchHistory(ctx context.Context, thread Thread, limit int) ([]InboundEvent, error)

	Close(ctx context.Context) error
}

// Connector opens sessions for one platform type.
type Connector interface {
	Platform() models.Platform
	// Connect opens a session using the decrypted credential secret.
	Connect(ctx context.Context, account *models.Account, secret string) (Session, error)
}

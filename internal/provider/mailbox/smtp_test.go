package mailbox

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidesk/inboxd/internal/provider"
	"github.com/omnidesk/inboxd/pkg/models"
)

func newSMTPTestSession() *Session {
	return &Session{
		accountID: 1,
		cfg: &models.EmailAccountConfig{
			Address:    "support@example.com",
			SMTPServer: "mail.example.com:587",
			FromName:   "Example Support",
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestNewMessageIDUsesAccountDomain(t *testing.T) {
	s := newSMTPTestSession()

	id := s.newMessageID()
	assert.True(t, strings.HasSuffix(id, "@example.com"), id)
	assert.False(t, strings.ContainsAny(id, "<>"))
	assert.NotEqual(t, id, s.newMessageID())
}

func TestBuildMessageThreadingHeaders(t *testing.T) {
	s := newSMTPTestSession()

	m, messageID, err := s.buildMessage("alice@example.com", "on it", provider.SendOptions{
		InReplyTo:  "question@example.com",
		References: []string{"root@example.com", "question@example.com"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, messageID)

	var buf strings.Builder
	_, err = m.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()

	assert.Contains(t, raw, "In-Reply-To: <question@example.com>")
	assert.Contains(t, raw, "References: <root@example.com> <question@example.com>")
	assert.Contains(t, raw, "Message-ID: <"+messageID+">")
	assert.Contains(t, raw, "Subject: Re: your message")
	assert.Contains(t, raw, "To: <alice@example.com>")
}

func TestBuildMessageDefaults(t *testing.T) {
	s := newSMTPTestSession()

	m, _, err := s.buildMessage("alice@example.com", "fresh note", provider.SendOptions{})
	require.NoError(t, err)

	var buf strings.Builder
	_, err = m.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()

	assert.Contains(t, raw, "Subject: (no subject)")
	assert.NotContains(t, raw, "In-Reply-To")
	assert.Contains(t, raw, "fresh note")
	// Plain body plus an HTML alternative part.
	assert.Contains(t, raw, "text/plain")
	assert.Contains(t, raw, "text/html")
}

func TestBuildMessageRejectsBadAddresses(t *testing.T) {
	s := newSMTPTestSession()

	_, _, err := s.buildMessage("not an address", "body", provider.SendOptions{})
	assert.Error(t, err)
}

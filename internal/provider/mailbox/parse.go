package mailbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message/mail"

	"github.com/omnidesk/inboxd/internal/provider"
	"github.com/omnidesk/inboxd/pkg/models"
)

// stripAngles removes the angle brackets of a Message-ID style header value
func stripAngles(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

// splitReferences parses a References header into individual message ids
func splitReferences(header string) []string {
	var refs []string
	for _, part := range strings.Fields(header) {
		if id := stripAngles(part); id != "" {
			refs = append(refs, id)
		}
	}
	return refs
}

// parseMessage converts a fetched IMAP message into a provider event
func (s *Session) parseMessage(msg *imap.Message, section *imap.BodySectionName) (provider.InboundEvent, error) {
	ev := provider.InboundEvent{
		AccountID: s.accountID,
		Platform:  models.PlatformEmail,
		Kind:      models.KindText,
		Sender:    provider.Sender{Kind: models.IdentityEmail},
	}

	if msg.Envelope != nil {
		ev.ExternalID = stripAngles(msg.Envelope.MessageId)
		ev.InReplyTo = stripAngles(msg.Envelope.InReplyTo)
		ev.SentAt = msg.Envelope.Date
		if len(msg.Envelope.From) > 0 {
			from := msg.Envelope.From[0]
			ev.Sender.Value = from.Address()
			ev.Sender.DisplayName = from.PersonalName
		}
	}
	if ev.ExternalID == "" {
		// Rare mail without a Message-ID; fall back to the folder UID.
		ev.ExternalID = fmt.Sprintf("uid:%d", msg.Uid)
	}

	var bodyText, bodyHTML, subject string
	if msg.Envelope != nil {
		subject = msg.Envelope.Subject
	}

	bodyReader := msg.GetBody(section)
	if bodyReader != nil {
		mr, err := mail.CreateReader(bodyReader)
		if err != nil {
			s.logger.Warn("failed to create mail reader", "error", err)
		} else {
			if refs := mr.Header.Get("References"); refs != "" {
				ev.References = splitReferences(refs)
			}

			for {
				part, err := mr.NextPart()
				if err == io.EOF {
					break
				}
				if err != nil {
					s.logger.Warn("failed to read part", "error", err)
					break
				}

				switch h := part.Header.(type) {
				case *mail.InlineHeader:
					ct, _, _ := h.ContentType()
					body, err := io.ReadAll(part.Body)
					if err != nil {
						continue
					}
					if strings.HasPrefix(ct, "text/html") {
						bodyHTML = string(body)
					} else if strings.HasPrefix(ct, "text/plain") {
						bodyText = string(body)
					}
				case *mail.AttachmentHeader:
					fileName, _ := h.Filename()
					ct, _, _ := h.ContentType()
					data, err := io.ReadAll(part.Body)
					if err != nil {
						s.logger.Warn("failed to read attachment", "file", fileName, "error", err)
						continue
					}
					ev.Media = append(ev.Media, provider.Media{
						FileName: fileName,
						MimeType: ct,
						Open: func(ctx context.Context) (io.ReadCloser, error) {
							return io.NopCloser(bytes.NewReader(data)), nil
						},
					})
				}
			}
		}
	}

	// Prefer the plain part; extract text from HTML-only mail.
	text := strings.TrimSpace(bodyText)
	if text == "" && bodyHTML != "" {
		extracted, err := s.extract.Text(bodyHTML)
		if err != nil {
			s.logger.Warn("failed to extract HTML body", "error", err)
		} else {
			text = extracted
		}
	}
	if text == "" {
		text = strings.TrimSpace(subject)
	}
	ev.Body = text

	if len(ev.Media) > 0 {
		ev.Kind = models.KindMedia
	}
	return ev, nil
}

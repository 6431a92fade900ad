package mailbox

import (
	"context"
	"fmt"
	"html"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"
	gomail "github.com/wneessen/go-mail"

	"github.com/omnidesk/inboxd/internal/provider"
)

// newMessageID generates an outbound Message-ID local part plus domain,
// without angle brackets
func (s *Session) newMessageID() string {
	domain := "localhost"
	if at := strings.LastIndex(s.cfg.Address, "@"); at >= 0 {
		domain = s.cfg.Address[at+1:]
	}
	return uuid.NewString() + "@" + domain
}

// buildMessage assembles a MIME message with threading headers
func (s *Session) buildMessage(recipient, body string, opts provider.SendOptions) (*gomail.Msg, string, error) {
	m := gomail.NewMsg()
	if s.cfg.FromName != "" {
		if err := m.FromFormat(s.cfg.FromName, s.cfg.Address); err != nil {
			return nil, "", fmt.Errorf("invalid from address: %w", err)
		}
	} else {
		if err := m.From(s.cfg.Address); err != nil {
			return nil, "", fmt.Errorf("invalid from address: %w", err)
		}
	}
	if err := m.To(recipient); err != nil {
		return nil, "", fmt.Errorf("invalid recipient: %w", err)
	}

	subject := opts.Subject
	if subject == "" {
		if opts.InReplyTo != "" {
			subject = "Re: your message"
		} else {
			subject = "(no subject)"
		}
	}
	m.Subject(subject)

	messageID := s.newMessageID()
	m.SetMessageIDWithValue(messageID)

	if opts.InReplyTo != "" {
		m.SetGenHeader(gomail.HeaderInReplyTo, "<"+opts.InReplyTo+">")
	}
	if len(opts.References) > 0 {
		refs := make([]string, 0, len(opts.References))
		for _, ref := range opts.References {
			refs = append(refs, "<"+ref+">")
		}
		m.SetGenHeader(gomail.Header("References"), strings.Join(refs, " "))
	}

	m.SetBodyString(gomail.TypeTextPlain, body)
	if body != "" {
		m.AddAlternativeString(gomail.TypeTextHTML, htmlBody(body))
	}
	return m, messageID, nil
}

// htmlBody renders a plain text body as a minimal HTML alternative part
func htmlBody(body string) string {
	escaped := strings.ReplaceAll(html.EscapeString(body), "\n", "<br>\n")
	return "<html><body><p>" + escaped + "</p></body></html>"
}

// send delivers the assembled message over SMTP
func (s *Session) send(ctx context.Context, m *gomail.Msg) error {
	host, portStr, err := net.SplitHostPort(s.cfg.SMTPServer)
	if err != nil {
		return fmt.Errorf("invalid SMTP server %q: %w", s.cfg.SMTPServer, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid SMTP port %q: %w", portStr, err)
	}

	c, err := gomail.NewClient(host,
		gomail.WithPort(port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.cfg.Address),
		gomail.WithPassword(s.password),
		gomail.WithTLSPolicy(gomail.TLSMandatory),
	)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}

	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}

// SendText sends a plain text email
func (s *Session) SendText(ctx context.Context, recipient, body string, opts provider.SendOptions) (string, error) {
	m, messageID, err := s.buildMessage(recipient, body, opts)
	if err != nil {
		return "", err
	}
	if err := s.send(ctx, m); err != nil {
		return "", err
	}
	return messageID, nil
}

// SendMedia sends an email with attachments; the body doubles as the
// caption of the whole message
func (s *Session) SendMedia(ctx context.Context, recipient, body string, attachments []provider.OutboundAttachment, opts provider.SendOptions) (string, error) {
	m, messageID, err := s.buildMessage(recipient, body, opts)
	if err != nil {
		return "", err
	}

	for _, att := range attachments {
		reader, err := att.Open(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to open attachment %q: %w", att.FileName, err)
		}
		attachErr := m.AttachReader(att.FileName, reader)
		reader.Close()
		if attachErr != nil {
			return "", fmt.Errorf("failed to attach %q: %w", att.FileName, attachErr)
		}
	}

	if err := s.send(ctx, m); err != nil {
		return "", err
	}
	return messageID, nil
}

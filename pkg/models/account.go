package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Platform identifies the external provider type of an account.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformEmail    Platform = "email"
)

// Account represents one external provider identity managed by a worker
type Account struct {
	ID          int64      `db:"id"`
	Platform    Platform   `db:"platform"`
	Name        string     `db:"name"`        // Operator-facing label
	Credentials string     `db:"credentials"` // Vault ciphertext (base64 nonce||ct)
	Config      string     `db:"config"`      // Provider-specific JSON blob
	IsActive    bool       `db:"is_active"`
	LastError   string     `db:"last_error"`
	LastSyncAt  *time.Time `db:"last_sync_at"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// EmailAccountConfig is the Config blob of a mailbox account
type EmailAccountConfig struct {
	Address    string `json:"address"`               // e.g., support@example.com
	IMAPServer string `json:"imap_server"`           // host:port
	SMTPServer string `json:"smtp_server"`           // host:port
	Folder     string `json:"folder,omitempty"`      // defaults to INBOX
	LastUID    uint32 `json:"last_uid,omitempty"`    // IMAP UID high-water mark
	FromName   string `json:"from_name,omitempty"`   // Display name on outbound mail
}

// TelegramAccountConfig is the Config blob of a messaging platform account
type TelegramAccountConfig struct {
	BotUsername string `json:"bot_username,omitempty"`
}

// EmailConfig parses the account config blob as a mailbox configuration
func (a *Account) EmailConfig() (*EmailAccountConfig, error) {
	var cfg EmailAccountConfig
	if err := json.Unmarshal([]byte(a.Config), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse email account config: %w", err)
	}
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	return &cfg, nil
}

// TelegramConfig parses the account config blob as a telegram configuration
func (a *Account) TelegramConfig() (*TelegramAccountConfig, error) {
	var cfg TelegramAccountConfig
	if a.Config == "" {
		return &cfg, nil
	}
	if err := json.Unmarshal([]byte(a.Config), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse telegram account config: %w", err)
	}
	return &cfg, nil
}

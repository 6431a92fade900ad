package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config application configuration
type Config struct {
	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/inboxd.db"`

	// Object storage
	StorageRoot   string        `env:"STORAGE_ROOT" envDefault:"./data/blobs"`
	StorageBucket string        `env:"STORAGE_BUCKET" envDefault:"attachments"`
	SignedURLBase string        `env:"SIGNED_URL_BASE" envDefault:"http://localhost:8080/media"`
	SignedURLTTL  time.Duration `env:"SIGNED_URL_TTL" envDefault:"15m"`

	// Worker poll intervals
	ConnectionSyncInterval time.Duration `env:"CONNECTION_SYNC_INTERVAL" envDefault:"30s"`
	OutboundPollInterval   time.Duration `env:"OUTBOUND_POLL_INTERVAL" envDefault:"3s"`
	JobPollInterval        time.Duration `env:"JOB_POLL_INTERVAL" envDefault:"3s"`
	SyncPollInterval       time.Duration `env:"SYNC_POLL_INTERVAL" envDefault:"10s"`
	MailPollInterval       time.Duration `env:"MAIL_POLL_INTERVAL" envDefault:"1m"`

	// Outbound sends younger than this are skipped so attachment rows
	// written by another process have time to commit.
	OutboundGraceWindow time.Duration `env:"OUTBOUND_GRACE_WINDOW" envDefault:"10s"`

	// Historical sync
	HistoryRetention time.Duration `env:"HISTORY_RETENTION" envDefault:"2160h"` // 90 days
	SyncScanLimit    int           `env:"SYNC_SCAN_LIMIT" envDefault:"500"`

	// Supervision
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	WatchdogInterval  time.Duration `env:"WATCHDOG_INTERVAL" envDefault:"15s"`
	LoopSilenceLimit  time.Duration `env:"LOOP_SILENCE_LIMIT" envDefault:"2m"`
	LoopStopTimeout   time.Duration `env:"LOOP_STOP_TIMEOUT" envDefault:"10s"`

	// Email
	IMAPDialTimeout time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`

	// Security
	EncryptionKey string `env:"ENCRYPTION_KEY,required"`
	SigningSecret string `env:"SIGNING_SECRET,required"` // HMAC key for signed media URLs

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate encryption key length (32 bytes for AES-256)
	if len(cfg.EncryptionKey) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(cfg.EncryptionKey))
	}

	return cfg, nil
}

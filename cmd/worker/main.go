package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/omnidesk/inboxd/internal/config"
	"github.com/omnidesk/inboxd/internal/database"
	"github.com/omnidesk/inboxd/internal/provider"
	"github.com/omnidesk/inboxd/internal/provider/mailbox"
	"github.com/omnidesk/inboxd/internal/provider/telegram"
	"github.com/omnidesk/inboxd/internal/storage"
	"github.com/omnidesk/inboxd/internal/vault"
	"github.com/omnidesk/inboxd/internal/worker"
	"github.com/omnidesk/inboxd/pkg/models"
)

// eventBufferSize is the capacity of the merged inbound stream shared by
// all sessions.
const eventBufferSize = 256

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting channel ingestion worker")

	// Connect to database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations completed")

	// Credential vault and object store
	v, err := vault.New([]byte(cfg.EncryptionKey))
	if err != nil {
		logger.Error("failed to create vault", "error", err)
		os.Exit(1)
	}
	store, err := storage.NewFileStore(cfg.StorageRoot, cfg.SignedURLBase, []byte(cfg.SigningSecret))
	if err != nil {
		logger.Error("failed to create object store", "error", err)
		os.Exit(1)
	}

	// Mailbox sessions persist their UID cursor back into the account row.
	saveCursor := func(ctx context.Context, accountID int64, emailCfg *models.EmailAccountConfig) error {
		raw, err := json.Marshal(emailCfg)
		if err != nil {
			return fmt.Errorf("failed to marshal email config: %w", err)
		}
		return db.UpdateAccountConfig(ctx, accountID, string(raw))
	}

	connectors := []provider.Connector{
		telegram.NewConnector(logger, cfg.SyncScanLimit, 0),
		mailbox.NewConnector(logger, cfg.IMAPDialTimeout, cfg.MailPollInterval, cfg.SyncScanLimit, saveCursor),
	}

	// Create components
	registry := worker.NewRegistry()
	events := make(chan provider.InboundEvent, eventBufferSize)

	manager := worker.NewConnectionManager(db, v, registry, connectors, events,
		cfg.ConnectionSyncInterval, cfg.HeartbeatInterval, logger)
	reconciler := worker.NewReconciler(db, store, cfg.StorageBucket, logger)
	dispatcher := worker.NewDispatcher(db, registry, store,
		cfg.OutboundPollInterval, cfg.OutboundGraceWindow, logger)
	jobs := worker.NewJobProcessor(db, registry, cfg.JobPollInterval, logger)
	syncEngine := worker.NewSyncEngine(db, registry, reconciler,
		cfg.SyncPollInterval, cfg.HistoryRetention, logger)

	// Supervised loops
	watchdog := worker.NewWatchdog(cfg.WatchdogInterval, cfg.LoopSilenceLimit, cfg.LoopStopTimeout, logger)
	watchdog.Register("connection-sync", manager.Run)
	watchdog.Register("inbound-events", func(ctx context.Context, ping func()) {
		reconciler.Run(ctx, events, ping)
	})
	watchdog.Register("outbound-dispatch", dispatcher.Run)
	watchdog.Register("message-jobs", jobs.Run)
	watchdog.Register("historical-sync", syncEngine.Run)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		logger.Info("received shutdown signal", "signal", sig)
		logger.Info("shutting down...")
		cancel()
	}()

	logger.Info("worker is running, press Ctrl+C to stop")
	watchdog.Run(ctx)

	// Close sessions and write final offline heartbeats.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	manager.Shutdown(shutdownCtx)

	logger.Info("worker stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
			NoColor:    false,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/omnidesk/inboxd/internal/database"
	"github.com/omnidesk/inboxd/pkg/models"
)

// SyncEngine works through historical backfill jobs one at a time,
// replaying fetched history through the inbound write path.
type SyncEngine struct {
	db         *database.DB
	registry   *Registry
	reconciler *Reconciler
	interval   time.Duration
	retention  time.Duration
	logger     *slog.Logger
}

// NewSyncEngine creates a historical sync engine
func NewSyncEngine(db *database.DB, registry *Registry, reconciler *Reconciler, interval, retention time.Duration, logger *slog.Logger) *SyncEngine {
	return &SyncEngine{
		db:         db,
		registry:   registry,
		reconciler: reconciler,
		interval:   interval,
		retention:  retention,
		logger:     logger.With("component", "sync_engine"),
	}
}

// Run polls for pending sync jobs until ctx is cancelled
func (e *SyncEngine) Run(ctx context.Context, ping func()) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ping()
			if err := e.ProcessNext(ctx); err != nil && !errors.Is(err, database.ErrNotFound) {
				e.logger.Error("sync cycle failed", "error", err)
			}
		}
	}
}

// ProcessNext claims and runs the oldest pending sync job. Returns
// database.ErrNotFound when the queue is empty.
func (e *SyncEngine) ProcessNext(ctx context.Context) error {
	job, err := e.db.NextPendingSyncJob(ctx)
	if err != nil {
		return err
	}

	synced, runErr := e.runJob(ctx, job)

	status := models.JobCompleted
	errMsg := ""
	if runErr != nil {
		status = models.JobFailed
		errMsg = runErr.Error()
		e.logger.Warn("sync job failed", "job_id", job.ID, "thread", job.ExternalThreadID, "error", runErr)
	} else {
		e.logger.Info("sync job completed", "job_id", job.ID, "thread", job.ExternalThreadID, "synced", synced)
	}
	if err := e.db.FinishSyncJob(ctx, job.ID, status, synced, errMsg); err != nil && !errors.Is(err, database.ErrJobTerminal) {
		return fmt.Errorf("failed to finish sync job: %w", err)
	}
	return nil
}

func (e *SyncEngine) runJob(ctx context.Context, job *models.SyncJob) (int, error) {
	sess := e.registry.Session(job.AccountID)
	if sess == nil {
		return 0, fmt.Errorf("account %d not connected", job.AccountID)
	}

	thread, err := sess.ResolveThread(ctx, job.ExternalThreadID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve thread %q: %w", job.ExternalThreadID, err)
	}

	events, err := sess.FetchHistory(ctx, thread, job.MessageLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch history: %w", err)
	}

	cutoff := time.Now().Add(-e.retention)
	synced := 0
	var lastConv *models.Conversation
	for _, ev := range events {
		if !ev.SentAt.IsZero() && ev.SentAt.Before(cutoff) {
			continue
		}
		msg, conv, err := e.reconciler.Persist(ctx, ev)
		if err != nil {
			// One bad item does not sink the job.
			e.logger.Warn("failed to persist history item", "job_id", job.ID, "external_id", ev.ExternalID, "error", err)
			continue
		}
		if msg == nil {
			// Already ingested earlier.
			continue
		}
		synced++
		lastConv = conv
	}

	// History arrives out of order relative to live ingestion; recompute the
	// summary from the newest stored message rather than the last fetched one.
	if lastConv != nil {
		if err := e.refreshSummary(ctx, sess.Platform(), lastConv.ID); err != nil {
			e.logger.Warn("failed to refresh conversation summary", "conversation_id", lastConv.ID, "error", err)
		}
	}
	return synced, nil
}

func (e *SyncEngine) refreshSummary(ctx context.Context, platform models.Platform, conversationID int64) error {
	newest, err := e.db.GetNewestMessage(ctx, conversationID)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return e.db.UpdateConversationSummary(ctx, conversationID, platform, newest.SentAt, newest.Preview(previewLength))
}

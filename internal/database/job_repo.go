package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/omnidesk/inboxd/pkg/models"
)

// ErrJobTerminal is returned when attempting to transition a job whose
// status is already completed or failed.
var ErrJobTerminal = errors.New("job already in terminal state")

// CreateSyncJob creates a backfill request
func (db *DB) CreateSyncJob(ctx context.Context, job *models.SyncJob) error {
	query := `
		INSERT INTO sync_jobs (account_id, external_thread_id, message_limit, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	if job.Status == "" {
		job.Status = models.JobPending
	}
	result, err := db.ExecContext(ctx, query,
		job.AccountID,
		job.ExternalThreadID,
		job.MessageLimit,
		job.Status,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync job: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	job.ID = id
	job.CreatedAt = now
	job.UpdatedAt = now
	return nil
}

// NextPendingSyncJob claims the oldest pending sync job, moving it to
// processing in the same statement so a job is consumed exactly once
func (db *DB) NextPendingSyncJob(ctx context.Context) (*models.SyncJob, error) {
	var job models.SyncJob
	query := `SELECT * FROM sync_jobs WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT 1`
	err := db.GetContext(ctx, &job, query, models.JobPending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending sync job: %w", err)
	}

	result, err := db.ExecContext(ctx,
		`UPDATE sync_jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.JobProcessing, time.Now(), job.ID, models.JobPending,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim sync job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		// Someone else claimed it between the read and the write.
		return nil, ErrNotFound
	}

	job.Status = models.JobProcessing
	return &job, nil
}

// FinishSyncJob sets the terminal status of a sync job exactly once
func (db *DB) FinishSyncJob(ctx context.Context, id int64, status models.JobStatus, syncedCount int, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish requires a terminal status, got %q", status)
	}
	result, err := db.ExecContext(ctx,
		`UPDATE sync_jobs SET status = ?, synced_count = ?, error = ?, updated_at = ? WHERE id = ? AND status = ?`,
		status, syncedCount, errMsg, time.Now(), id, models.JobProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to finish sync job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrJobTerminal
	}
	return nil
}

// GetSyncJobByID returns a sync job by ID
func (db *DB) GetSyncJobByID(ctx context.Context, id int64) (*models.SyncJob, error) {
	var job models.SyncJob
	err := db.GetContext(ctx, &job, `SELECT * FROM sync_jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync job: %w", err)
	}
	return &job, nil
}

// CreateMessageJob creates a queued provider action
func (db *DB) CreateMessageJob(ctx context.Context, job *models.MessageJob) error {
	query := `
		INSERT INTO message_jobs (account_id, message_id, action, payload, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	if job.Status == "" {
		job.Status = models.JobPending
	}
	if job.Payload == "" {
		job.Payload = "{}"
	}
	result, err := db.ExecContext(ctx, query,
		job.AccountID,
		job.MessageID,
		job.Action,
		job.Payload,
		job.Status,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create message job: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	job.ID = id
	job.CreatedAt = now
	job.UpdatedAt = now
	return nil
}

// GetPendingMessageJobs returns pending jobs ordered by creation time
func (db *DB) GetPendingMessageJobs(ctx context.Context, limit int) ([]*models.MessageJob, error) {
	var jobs []*models.MessageJob
	query := `SELECT * FROM message_jobs WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT ?`
	err := db.SelectContext(ctx, &jobs, query, models.JobPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending message jobs: %w", err)
	}
	return jobs, nil
}

// MarkMessageJobProcessing transitions a pending job to processing
func (db *DB) MarkMessageJobProcessing(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx,
		`UPDATE message_jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.JobProcessing, time.Now(), id, models.JobPending,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job processing: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrJobTerminal
	}
	return nil
}

// FinishMessageJob sets the terminal status of a message job exactly once
func (db *DB) FinishMessageJob(ctx context.Context, id int64, status models.JobStatus, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish requires a terminal status, got %q", status)
	}
	result, err := db.ExecContext(ctx,
		`UPDATE message_jobs SET status = ?, error = ?, updated_at = ? WHERE id = ? AND status = ?`,
		status, errMsg, time.Now(), id, models.JobProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to finish message job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrJobTerminal
	}
	return nil
}

// GetMessageJobByID returns a message job by ID
func (db *DB) GetMessageJobByID(ctx context.Context, id int64) (*models.MessageJob, error) {
	var job models.MessageJob
	err := db.GetContext(ctx, &job, `SELECT * FROM message_jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message job: %w", err)
	}
	return &job, nil
}

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/omnidesk/inboxd/pkg/models"
)

// UpsertHeartbeat overwrites the liveness beacon for (account, worker)
func (db *DB) UpsertHeartbeat(ctx context.Context, hb *models.Heartbeat) error {
	query := `
		INSERT INTO heartbeats (account_id, worker, status, beat_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id, worker) DO UPDATE SET status = excluded.status, beat_at = excluded.beat_at
	`
	_, err := db.ExecContext(ctx, query, hb.AccountID, hb.Worker, hb.Status, hb.BeatAt)
	if err != nil {
		return fmt.Errorf("failed to upsert heartbeat: %w", err)
	}
	return nil
}

// GetHeartbeat returns the latest beacon for (account, worker)
func (db *DB) GetHeartbeat(ctx context.Context, accountID int64, worker string) (*models.Heartbeat, error) {
	var hb models.Heartbeat
	query := `SELECT * FROM heartbeats WHERE account_id = ? AND worker = ?`
	err := db.GetContext(ctx, &hb, query, accountID, worker)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get heartbeat: %w", err)
	}
	return &hb, nil
}

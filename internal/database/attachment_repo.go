package database

import (
	"context"
	"fmt"
	"time"

	"github.com/omnidesk/inboxd/pkg/models"
)

// CreateAttachment creates an attachment row for a message
func (db *DB) CreateAttachment(ctx context.Context, att *models.Attachment) error {
	query := `
		INSERT INTO attachments (message_id, bucket, path, file_name, mime_type, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		att.MessageID,
		att.Bucket,
		att.Path,
		att.FileName,
		att.MimeType,
		att.SizeBytes,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create attachment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	att.ID = id
	att.CreatedAt = now
	return nil
}

// GetAttachmentsByMessage returns the attachments of a message
func (db *DB) GetAttachmentsByMessage(ctx context.Context, messageID int64) ([]*models.Attachment, error) {
	var atts []*models.Attachment
	query := `SELECT * FROM attachments WHERE message_id = ? ORDER BY id ASC`
	err := db.SelectContext(ctx, &atts, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attachments: %w", err)
	}
	return atts, nil
}

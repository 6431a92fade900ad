package models

import "time"

// Attachment represents a binary payload reference owned by one message
type Attachment struct {
	ID        int64     `db:"id"`
	MessageID int64     `db:"message_id"`
	Bucket    string    `db:"bucket"`
	Path      string    `db:"path"`
	FileName  string    `db:"file_name"`
	MimeType  string    `db:"mime_type"`
	SizeBytes int64     `db:"size_bytes"`
	CreatedAt time.Time `db:"created_at"`
}

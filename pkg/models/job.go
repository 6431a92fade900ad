package models

import "time"

// JobStatus lifecycle of a queued job. Completed and failed are terminal;
// a terminal job is never transitioned again.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// JobAction is a discrete provider action queued against a message.
type JobAction string

const (
	ActionTyping JobAction = "typing"
	ActionEdit   JobAction = "edit"
	ActionDelete JobAction = "delete"
)

// SyncJob represents a bounded historical backfill request
type SyncJob struct {
	ID               int64     `db:"id"`
	AccountID        int64     `db:"account_id"`
	ExternalThreadID string    `db:"external_thread_id"`
	MessageLimit     int       `db:"message_limit"`
	Status           JobStatus `db:"status"`
	SyncedCount      int       `db:"synced_count"`
	Error            string    `db:"error"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// MessageJob represents a queued outbound side-effect
type MessageJob struct {
	ID        int64     `db:"id"`
	AccountID int64     `db:"account_id"`
	MessageID *int64    `db:"message_id"` // Not required for typing
	Action    JobAction `db:"action"`
	Payload   string    `db:"payload"` // Action-specific JSON (new body, recipient)
	Status    JobStatus `db:"status"`
	Error     string    `db:"error"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

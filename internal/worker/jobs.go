package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/omnidesk/inboxd/internal/database"
	"github.com/omnidesk/inboxd/internal/provider"
	"github.com/omnidesk/inboxd/pkg/models"
)

// jobBatchSize caps how many message jobs one cycle takes.
const jobBatchSize = 50

// jobPayload is the JSON payload of a message job.
type jobPayload struct {
	ConversationID int64  `json:"conversation_id"`
	Body           string `json:"body"`
}

// JobProcessor executes queued provider actions: typing indicators,
// message edits and message deletions.
type JobProcessor struct {
	db       *database.DB
	registry *Registry
	interval time.Duration
	logger   *slog.Logger
}

// NewJobProcessor creates a message job processor
func NewJobProcessor(db *database.DB, registry *Registry, interval time.Duration, logger *slog.Logger) *JobProcessor {
	return &JobProcessor{
		db:       db,
		registry: registry,
		interval: interval,
		logger:   logger.With("component", "job_processor"),
	}
}

// Run polls for pending jobs until ctx is cancelled
func (p *JobProcessor) Run(ctx context.Context, ping func()) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ping()
			if err := p.ProcessPending(ctx); err != nil {
				p.logger.Error("job cycle failed", "error", err)
			}
		}
	}
}

// ProcessPending claims and executes one batch of pending jobs
func (p *JobProcessor) ProcessPending(ctx context.Context) error {
	jobs, err := p.db.GetPendingMessageJobs(ctx, jobBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list pending jobs: %w", err)
	}

	for _, job := range jobs {
		if err := p.db.MarkMessageJobProcessing(ctx, job.ID); err != nil {
			if errors.Is(err, database.ErrJobTerminal) {
				continue
			}
			p.logger.Error("failed to claim job", "job_id", job.ID, "error", err)
			continue
		}
		p.execute(ctx, job)
	}
	return nil
}

func (p *JobProcessor) execute(ctx context.Context, job *models.MessageJob) {
	execErr := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: %v", r)
			}
		}()
		return p.run(ctx, job)
	}()

	status := models.JobCompleted
	errMsg := ""
	if execErr != nil {
		status = models.JobFailed
		errMsg = execErr.Error()
		p.logger.Warn("job failed", "job_id", job.ID, "action", job.Action, "error", execErr)
	}
	if err := p.db.FinishMessageJob(ctx, job.ID, status, errMsg); err != nil && !errors.Is(err, database.ErrJobTerminal) {
		p.logger.Error("failed to finish job", "job_id", job.ID, "error", err)
	}
}

func (p *JobProcessor) run(ctx context.Context, job *models.MessageJob) error {
	sess := p.registry.Session(job.AccountID)
	if sess == nil {
		return fmt.Errorf("account %d not connected", job.AccountID)
	}

	var payload jobPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}

	switch job.Action {
	case models.ActionTyping:
		return p.sendTyping(ctx, sess, payload.ConversationID)
	case models.ActionEdit:
		return p.editMessage(ctx, sess, job, payload.Body)
	case models.ActionDelete:
		return p.deleteMessage(ctx, sess, job)
	default:
		return fmt.Errorf("unknown action %q", job.Action)
	}
}

func (p *JobProcessor) sendTyping(ctx context.Context, sess provider.Session, conversationID int64) error {
	recipient, err := p.recipientForConversation(ctx, sess, conversationID)
	if err != nil {
		return err
	}
	return sess.SendTyping(ctx, recipient)
}

func (p *JobProcessor) editMessage(ctx context.Context, sess provider.Session, job *models.MessageJob, body string) error {
	msg, err := p.targetMessage(ctx, job)
	if err != nil {
		return err
	}
	// Edits only apply to messages the provider has confirmed.
	if !models.IsProviderExternalID(msg.ExternalID) {
		return fmt.Errorf("message %d has no provider id", msg.ID)
	}
	recipient, err := p.recipientForConversation(ctx, sess, msg.ConversationID)
	if err != nil {
		return err
	}
	if err := sess.EditMessage(ctx, recipient, msg.ExternalID, body); err != nil {
		return err
	}
	return p.db.UpdateMessageBody(ctx, msg.ID, body)
}

func (p *JobProcessor) deleteMessage(ctx context.Context, sess provider.Session, job *models.MessageJob) error {
	msg, err := p.targetMessage(ctx, job)
	if err != nil {
		return err
	}
	if models.IsProviderExternalID(msg.ExternalID) {
		recipient, err := p.recipientForConversation(ctx, sess, msg.ConversationID)
		if err != nil {
			return err
		}
		if err := sess.DeleteMessage(ctx, recipient, msg.ExternalID); err != nil {
			return err
		}
	}
	return p.db.DeleteMessage(ctx, msg.ID)
}

func (p *JobProcessor) targetMessage(ctx context.Context, job *models.MessageJob) (*models.Message, error) {
	if job.MessageID == nil {
		return nil, errors.New("job has no target message")
	}
	msg, err := p.db.GetMessageByID(ctx, *job.MessageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get target message: %w", err)
	}
	return msg, nil
}

func (p *JobProcessor) recipientForConversation(ctx context.Context, sess provider.Session, conversationID int64) (string, error) {
	conv, err := p.db.GetConversationByID(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("failed to get conversation: %w", err)
	}
	identity, err := p.db.GetIdentityByID(ctx, conv.IdentityID)
	if err != nil {
		return "", fmt.Errorf("failed to get identity: %w", err)
	}
	return sess.ResolveRecipient(ctx, identity)
}

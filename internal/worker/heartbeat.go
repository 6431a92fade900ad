package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/omnidesk/inboxd/internal/database"
	"github.com/omnidesk/inboxd/pkg/models"
)

// HeartbeatReporter writes a periodic liveness beacon for one
// (account, worker) pair. Its lifecycle is bound to the owning session:
// the connection manager starts it on connect and stops it on teardown.
type HeartbeatReporter struct {
	db        *database.DB
	accountID int64
	worker    string
	interval  time.Duration
	logger    *slog.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewHeartbeatReporter creates a reporter; call Start to begin beating
func NewHeartbeatReporter(db *database.DB, accountID int64, worker string, interval time.Duration, logger *slog.Logger) *HeartbeatReporter {
	return &HeartbeatReporter{
		db:        db,
		accountID: accountID,
		worker:    worker,
		interval:  interval,
		logger:    logger.With("component", "heartbeat", "account_id", accountID, "worker", worker),
	}
}

// Start begins the beacon loop in its own goroutine
func (h *HeartbeatReporter) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})

	go func() {
		defer close(h.done)

		h.beat(ctx, models.HeartbeatOnline)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.beat(ctx, models.HeartbeatOnline)
			}
		}
	}()
}

// Stop halts the loop and records a final offline beacon
func (h *HeartbeatReporter) Stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.beat(ctx, models.HeartbeatOffline)
}

func (h *HeartbeatReporter) beat(ctx context.Context, status models.HeartbeatStatus) {
	err := h.db.UpsertHeartbeat(ctx, &models.Heartbeat{
		AccountID: h.accountID,
		Worker:    h.worker,
		Status:    status,
		BeatAt:    time.Now(),
	})
	if err != nil {
		h.logger.Error("failed to record heartbeat", "error", err)
	}
}

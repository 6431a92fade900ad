package models

import "time"

// HeartbeatStatus liveness state reported by a worker loop.
type HeartbeatStatus string

const (
	HeartbeatOnline  HeartbeatStatus = "online"
	HeartbeatOffline HeartbeatStatus = "offline"
	HeartbeatError   HeartbeatStatus = "error"
)

// Worker names used as the heartbeat worker-type dimension.
const (
	WorkerIngest   = "ingest"
	WorkerDispatch = "dispatch"
)

// Heartbeat is the latest liveness beacon per (account, worker).
// Overwritten in place, never historically retained.
type Heartbeat struct {
	AccountID int64           `db:"account_id"`
	Worker    string          `db:"worker"`
	Status    HeartbeatStatus `db:"status"`
	BeatAt    time.Time       `db:"beat_at"`
}

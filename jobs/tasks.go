package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskVerifyProjection replays the ledger and compares it with the projection.
	TaskVerifyProjection = "ledger:verify-projection"
	// TaskLowStockScan reports items at or below their threshold.
	TaskLowStockScan = "inventory:low-stock-scan"
	// TaskIdempotencyCleanup deletes expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency-cleanup"
)

// DefaultIdempotencyRetention is how long processed request keys are kept.
const DefaultIdempotencyRetention = 7 * 24 * time.Hour

// VerifyProjectionPayload controls a verification run.
type VerifyProjectionPayload struct {
	Repair bool `json:"repair"`
}

// IdempotencyCleanupPayload controls a cleanup run.
type IdempotencyCleanupPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// NewVerifyProjectionTask constructs a verification task.
func NewVerifyProjectionTask(repair bool) (*asynq.Task, error) {
	body, err := json.Marshal(VerifyProjectionPayload{Repair: repair})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskVerifyProjection, body, asynq.Queue(QueueDefault), asynq.MaxRetry(2), asynq.Timeout(30*time.Minute)), nil
}

// NewLowStockScanTask constructs a low-stock scan task.
func NewLowStockScanTask() *asynq.Task {
	return asynq.NewTask(TaskLowStockScan, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(1))
}

// NewIdempotencyCleanupTask constructs a cleanup task. A zero olderThan uses the default retention.
func NewIdempotencyCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// DefaultSchedule returns the cron registrations of the worker.
func DefaultSchedule() ([]CronRegistration, error) {
	verify, err := NewVerifyProjectionTask(false)
	if err != nil {
		return nil, err
	}
	cleanup, err := NewIdempotencyCleanupTask(DefaultIdempotencyRetention)
	if err != nil {
		return nil, err
	}
	return []CronRegistration{
		{Spec: "0 3 * * *", Task: verify},
		{Spec: "0 * * * *", Task: NewLowStockScanTask()},
		{Spec: "30 4 * * *", Task: cleanup},
	}, nil
}

package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeIndentSweep promotes pending-purchase indents covered by stock.
	TaskTypeIndentSweep = "indent:promote_pending"
	// TaskTypeLowStockScan reports items at or below their reorder level.
	TaskTypeLowStockScan = "inventory:low_stock_scan"
	// TaskTypeIdempotencyCleanup prunes expired idempotency keys.
	TaskTypeIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// SweepPayload carries scheduling metadata for the promotion sweep.
type SweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewIndentSweepTask constructs an Asynq task for the promotion sweep.
func NewIndentSweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeIndentSweep, body, asynq.Queue(QueueDefault)), nil
}

// NewLowStockScanTask constructs an Asynq task for the low-stock scan.
func NewLowStockScanTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeLowStockScan, body, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupTask constructs an Asynq task for key cleanup.
func NewIdempotencyCleanupTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

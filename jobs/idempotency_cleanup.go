package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// KeyCleaner prunes processed idempotency keys past retention.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

const idempotencyRetention = 30 * 24 * time.Hour

// NewIdempotencyCleanupHandler returns the handler for
// TaskTypeIdempotencyCleanup.
func NewIdempotencyCleanupHandler(logger *slog.Logger, cleaner KeyCleaner) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if err := cleaner.Cleanup(ctx, idempotencyRetention); err != nil {
			logger.Error("idempotency cleanup", slog.Any("error", err))
			return err
		}
		return nil
	}
}

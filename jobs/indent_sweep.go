package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

// PendingReconciler promotes pending-purchase indents covered by stock.
// Implemented by the indent service.
type PendingReconciler interface {
	ReconcilePending(ctx context.Context) (int, error)
}

// NewIndentSweepHandler returns the handler for TaskTypeIndentSweep. The sweep
// backstops the inline promotion after GRN stock-in: any indent the inline
// path missed gets picked up on the next tick.
func NewIndentSweepHandler(logger *slog.Logger, reconciler PendingReconciler) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		promoted, err := reconciler.ReconcilePending(ctx)
		if err != nil {
			logger.Error("indent sweep", slog.Any("error", err))
			return err
		}
		if promoted > 0 {
			logger.Info("indent sweep", slog.Int("promoted", promoted))
		}
		return nil
	}
}

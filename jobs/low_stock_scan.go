package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// LowStockLister lists inventory items for the reorder scan.
type LowStockLister interface {
	ListMaterials(ctx context.Context, filter inventory.ItemFilter) ([]inventory.Item, shared.Pagination, error)
}

// NewLowStockScanHandler returns the handler for TaskTypeLowStockScan. It only
// reports: reordering stays a human decision.
func NewLowStockScanHandler(logger *slog.Logger, lister LowStockLister) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		items, _, err := lister.ListMaterials(ctx, inventory.ItemFilter{LowStockOnly: true, PerPage: 200})
		if err != nil {
			logger.Error("low stock scan", slog.Any("error", err))
			return err
		}
		for _, item := range items {
			logger.Warn("low stock",
				slog.String("material", item.Name),
				slog.String("code", item.Code),
				slog.Float64("current_stock", item.CurrentStock),
				slog.Float64("reorder_level", item.ReorderLevel))
		}
		return nil
	}
}

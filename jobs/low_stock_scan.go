package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

// LowStockLister lists items at or below their threshold.
type LowStockLister interface {
	ListLowStock(ctx context.Context) ([]ledger.StockLevel, error)
}

// LowStockScanJob logs low stock and exports the count.
type LowStockScanJob struct {
	Stock   LowStockLister
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLowStockScanJob initialises the handler.
func NewLowStockScanJob(stock LowStockLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{Stock: stock, Logger: logger, Metrics: metrics}
}

// Handle executes one scan.
func (j *LowStockScanJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Stock == nil {
		return errors.New("low stock scan: handler not configured")
	}
	tracker := j.Metrics.Track(TaskLowStockScan)
	logger := loggerOr(j.Logger).With(slog.String("job", TaskLowStockScan))
	levels, err := j.Stock.ListLowStock(ctx)
	if err != nil {
		logger.Error("low stock scan failed", slog.Any("error", err))
		return tracker.End(err)
	}
	for _, lvl := range levels {
		logger.Warn("item at or below threshold",
			slog.String("item_code", lvl.ItemCode),
			slog.Int("quantity", lvl.Quantity),
			slog.Int("threshold", lvl.LowStockThreshold),
		)
	}
	j.Metrics.SetLowStock(len(levels))
	return tracker.End(nil)
}

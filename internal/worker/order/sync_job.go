package order

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Additional-Code/erpsync/internal/config"
	"github.com/Additional-Code/erpsync/internal/service/ordersync"
	"github.com/Additional-Code/erpsync/internal/worker"
	"github.com/Additional-Code/erpsync/pkg/errorbank"
)

// BatchSyncer pulls and syncs one batch of orders.
type BatchSyncer interface {
	SyncBatch(ctx context.Context) (ordersync.BatchResult, error)
}

// NewSyncJob polls upstream for pending orders every Sync.PollInterval.
func NewSyncJob(svc *ordersync.Service, logger *zap.Logger, cfg config.Config) worker.Job {
	return syncJob(svc, logger, cfg)
}

func syncJob(svc BatchSyncer, logger *zap.Logger, cfg config.Config) worker.Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	return worker.Job{
		Name:     "order-sync",
		Interval: cfg.Sync.PollInterval,
		Run: func(ctx context.Context) error {
			_, err := svc.SyncBatch(ctx)
			var appErr *errorbank.AppError
			if errors.As(err, &appErr) && appErr.Kind() == errorbank.KindConflict {
				// another instance holds the batch lock
				logger.Info("order sync skipped", zap.String("reason", appErr.Message()))
				return nil
			}
			return err
		},
	}
}

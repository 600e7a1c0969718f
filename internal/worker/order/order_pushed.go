package order

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/erpsync/internal/config"
	"github.com/Additional-Code/erpsync/internal/dto"
	"github.com/Additional-Code/erpsync/internal/messaging"
	"github.com/Additional-Code/erpsync/internal/service/ordersync"
	"github.com/Additional-Code/erpsync/internal/worker"
	"github.com/Additional-Code/erpsync/pkg/errorbank"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/erpsync/worker/order")

// Module registers the order sync handler and the periodic pull job.
var Module = fx.Module("worker_order",
	fx.Provide(
		fx.Annotate(
			NewOrderPushedHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
		fx.Annotate(
			NewSyncJob,
			fx.ResultTags(`group:"worker.jobs"`),
		),
	),
)

// Syncer writes one order into the ERP.
type Syncer interface {
	SyncOne(ctx context.Context, order *dto.Order) ordersync.Result
}

// NewOrderPushedHandler syncs orders upstream pushes onto the orders topic.
func NewOrderPushedHandler(svc *ordersync.Service, logger *zap.Logger, cfg config.Config) worker.HandlerRegistration {
	return worker.HandlerRegistration{
		Topic:   cfg.Messaging.Kafka.OrdersTopic,
		Handler: orderPushedHandler(svc, logger),
	}
}

// orderPushedHandler leaves a message uncommitted only when a retry could
// succeed. Malformed payloads and permanent failures are logged and dropped.
func orderPushedHandler(svc Syncer, logger *zap.Logger) messaging.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.orders.sync", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
			attribute.Int64("messaging.offset", msg.Offset),
		))
		defer span.End()

		var order dto.Order
		if err := json.Unmarshal(msg.Value, &order); err != nil {
			logger.Error("failed to decode pushed order", zap.Int64("offset", msg.Offset), zap.Error(err))

			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return nil
		}

		res := svc.SyncOne(ctx, &order)
		span.SetAttributes(
			attribute.String("order.number", res.OrderNo),
			attribute.String("sync.status", string(res.Status)),
		)
		if res.Err == nil {
			return nil
		}

		span.RecordError(res.Err)
		span.SetStatus(codes.Error, string(errorbank.KindOf(res.Err)))
		if errorbank.From(res.Err).Retryable() {
			return res.Err
		}
		logger.Warn("pushed order dropped",
			zap.String("order_no", res.OrderNo),
			zap.String("error_kind", string(errorbank.KindOf(res.Err))),
		)
		return nil
	}
}

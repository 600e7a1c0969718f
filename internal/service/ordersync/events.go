package ordersync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Additional-Code/erpsync/internal/dto"
)

// OrderSyncedEvent is published after an order is committed to the ERP.
type OrderSyncedEvent struct {
	EventID   string    `json:"event_id"`
	OrderNo   string    `json:"order_no"`
	RootID    int64     `json:"root_id"`
	Namespace string    `json:"namespace"`
	Lines     int       `json:"lines"`
	Skipped   int       `json:"skipped"`
	Source    string    `json:"source,omitempty"`
	SyncedAt  time.Time `json:"synced_at"`
}

// notify tells upstream the order was handled. The ERP write is already
// committed, so a failure is only logged and counted.
func (s *Service) notify(ctx context.Context, order *dto.Order) bool {
	if err := s.upstream.NotifySynced(ctx, order); err != nil {
		s.metrics.RecordNotifyFailure(ctx)
		s.logger.Warn("upstream notification failed",
			zap.String("order_no", order.SubOrderSN),
			zap.Int64("upstream_id", order.ID),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (s *Service) publishSynced(ctx context.Context, res Result) {
	if !s.publishEvents {
		return
	}

	event := OrderSyncedEvent{
		EventID:   uuid.NewString(),
		OrderNo:   res.OrderNo,
		RootID:    res.RootID,
		Namespace: res.Namespace.String(),
		Lines:     res.LinesWritten,
		Skipped:   res.LinesSkipped,
		Source:    s.publisher.Source(),
		SyncedAt:  s.now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to encode order synced event", zap.String("order_no", res.OrderNo), zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, []byte(res.OrderNo), payload); err != nil {
		s.logger.Warn("failed to publish order synced event",
			zap.String("order_no", res.OrderNo),
			zap.String("topic", s.publisher.Topic()),
			zap.Error(err),
		)
	}
}

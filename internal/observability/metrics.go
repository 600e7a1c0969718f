package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	syncMeterName     = "github.com/Additional-Code/erpsync/ordersync"
	orderDurationName = "erpsync.order.duration"
)

// SyncMetrics holds the instruments of the order sync engine.
type SyncMetrics struct {
	orders         metric.Int64Counter
	linesSkipped   metric.Int64Counter
	notifyFailures metric.Int64Counter
	duration       metric.Float64Histogram
}

// NewSyncMetrics registers the sync instruments on the manager's meter.
func NewSyncMetrics(mgr *Manager) (*SyncMetrics, error) {
	meter := mgr.Meter(syncMeterName)

	orders, err := meter.Int64Counter("erpsync.orders",
		metric.WithDescription("Orders processed, by outcome"))
	if err != nil {
		return nil, err
	}
	linesSkipped, err := meter.Int64Counter("erpsync.lines.skipped",
		metric.WithDescription("Order lines skipped for lack of stock"))
	if err != nil {
		return nil, err
	}
	notifyFailures, err := meter.Int64Counter("erpsync.notify.failures",
		metric.WithDescription("Upstream notifications that failed after retries"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(orderDurationName,
		metric.WithDescription("Time spent syncing one order"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		orders:         orders,
		linesSkipped:   linesSkipped,
		notifyFailures: notifyFailures,
		duration:       duration,
	}, nil
}

// RecordOrder counts one processed order and its duration.
func (m *SyncMetrics) RecordOrder(ctx context.Context, status, namespace string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("namespace", namespace),
	)
	m.orders.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordSkippedLines counts lines left out of a committed order.
func (m *SyncMetrics) RecordSkippedLines(ctx context.Context, namespace string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.linesSkipped.Add(ctx, int64(n), metric.WithAttributes(attribute.String("namespace", namespace)))
}

// RecordNotifyFailure counts a notification that gave up.
func (m *SyncMetrics) RecordNotifyFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.notifyFailures.Add(ctx, 1)
}

// Package ordersync pulls pending orders from upstream and writes each one
// into the ERP as a single transaction.
package ordersync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/erpsync/internal/cache"
	"github.com/Additional-Code/erpsync/internal/config"
	"github.com/Additional-Code/erpsync/internal/database"
	"github.com/Additional-Code/erpsync/internal/dto"
	"github.com/Additional-Code/erpsync/internal/entity"
	"github.com/Additional-Code/erpsync/internal/logger"
	"github.com/Additional-Code/erpsync/internal/messaging"
	"github.com/Additional-Code/erpsync/internal/namespace"
	"github.com/Additional-Code/erpsync/internal/observability"
	"github.com/Additional-Code/erpsync/internal/repository/erp"
	"github.com/Additional-Code/erpsync/internal/upstream"
	"github.com/Additional-Code/erpsync/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/erpsync/service/ordersync")

// Module provides the sync service to Fx.
var Module = fx.Provide(NewService)

const (
	batchLockKey  = "erpsync:batch"
	orderLockKey  = "erpsync:order:"
	markerKey     = "erpsync:last_sync_time"
	customerKey   = "erpsync:customer:"
	releaseWindow = 5 * time.Second
)

// Store is the ERP data access the service needs.
type Store interface {
	Writer() *bun.DB
	ResolveCustomer(ctx context.Context, ns namespace.Namespace, customerNo string) (entity.Customer, error)
	OrderExists(ctx context.Context, ns namespace.Namespace, orderNo string) (bool, error)
	InsertSheetRoot(ctx context.Context, db bun.IDB, ns namespace.Namespace, root *entity.SheetRoot) error
	InsertStatusFlow(ctx context.Context, db bun.IDB, ns namespace.Namespace, flow *entity.StatusFlow) error
	LinkStatusFlow(ctx context.Context, db bun.IDB, ns namespace.Namespace, rootID, flowID int64) error
	InsertSalesOrder(ctx context.Context, db bun.IDB, ns namespace.Namespace, order *entity.SalesOrder) error
	InsertSalesOrderDetail(ctx context.Context, db bun.IDB, ns namespace.Namespace, detail *entity.SalesOrderDetail) error
	CountDetails(ctx context.Context, db bun.IDB, ns namespace.Namespace, rootID int64) (int, error)
	InsertMidOrder(ctx context.Context, db bun.IDB, ns namespace.Namespace, mid *entity.MidOrder) error
	SelectBatch(ctx context.Context, db bun.IDB, ns namespace.Namespace, q erp.BatchQuery) (entity.BatchAllocation, bool, error)
	LookupTax(ctx context.Context, db bun.IDB, ns namespace.Namespace, productCode string) (entity.TaxInfo, error)
	LookupLedgerCost(ctx context.Context, db bun.IDB, ns namespace.Namespace, productCode string, batch entity.BatchAllocation) (entity.LedgerCost, bool, error)
	ReserveStock(ctx context.Context, db bun.IDB, ns namespace.Namespace, productCode string, batch entity.BatchAllocation, qty decimal.Decimal) error
}

// Upstream is the order source and the receiver of completion notices.
type Upstream interface {
	FetchOrders(ctx context.Context, since string) ([]dto.Order, error)
	NotifySynced(ctx context.Context, order *dto.Order) error
}

// Service runs order synchronization.
type Service struct {
	store     Store
	upstream  Upstream
	cache     cache.Store
	locker    cache.Locker
	publisher messaging.Client
	metrics   *observability.SyncMetrics
	logger    *zap.Logger
	validate  *validator.Validate
	now       func() time.Time

	publishEvents     bool
	systemUserID      int64
	defaultDepartment int64
	lockTTL           time.Duration
	customerTTL       time.Duration
	reserveAttempts   int

	mu        sync.RWMutex
	marker    string
	lastBatch *BatchResult
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository *erp.Repository
	Upstream   *upstream.Client
	Cache      cache.Store
	Locker     cache.Locker
	Publisher  messaging.Client
	Metrics    *observability.SyncMetrics `optional:"true"`
	Config     config.Config
	Logger     *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return New(p.Repository, p.Upstream, p)
}

// New builds a Service over explicit store and upstream implementations. The
// remaining collaborators come from p.
func New(store Store, source Upstream, p Params) *Service {
	cacheStore := p.Cache
	if cacheStore == nil {
		cacheStore = cache.NoopStore()
	}
	locker := p.Locker
	if locker == nil {
		locker = cache.NewLocalLocker()
	}
	attempts := p.Config.Sync.ReserveAttempts
	if attempts <= 0 {
		attempts = 1
	}

	return &Service{
		store:             store,
		upstream:          source,
		cache:             cacheStore,
		locker:            locker,
		publisher:         p.Publisher,
		metrics:           p.Metrics,
		logger:            logger.Component(p.Logger, "ordersync"),
		validate:          validator.New(validator.WithRequiredStructEnabled()),
		now:               time.Now,
		publishEvents:     p.Config.Messaging.Enabled && p.Publisher != nil,
		systemUserID:      p.Config.Sync.SystemUserID,
		defaultDepartment: p.Config.Sync.DefaultDepartment,
		lockTTL:           p.Config.Sync.LockTTL,
		customerTTL:       p.Config.Sync.CustomerCacheTTL,
		reserveAttempts:   attempts,
		marker:            p.Config.Sync.InitialSince,
	}
}

// SyncBatch pulls the orders changed since the sync marker and syncs them one
// by one. A failed order never stops the batch. The marker advances to the
// batch start only when the pull was accepted and every order ended up in the
// ERP.
func (s *Service) SyncBatch(ctx context.Context) (BatchResult, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderSyncService.SyncBatch")
	defer span.End()

	lock, err := s.obtainLock(ctx, batchLockKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock")
		return BatchResult{}, err
	}
	defer s.releaseLock(ctx, lock, batchLockKey)

	started := s.now()
	since := s.Marker(ctx)
	result := BatchResult{StartedAt: started, Since: since}
	orders, err := s.upstream.FetchOrders(ctx, since)
	var rejected *upstream.RejectedError
	switch {
	case errors.As(err, &rejected):
		// nothing to sync, and the marker must not move past a refused pull
		s.logger.Warn("upstream refused the pull; nothing to sync",
			zap.String("since", since),
			zap.Int("upstream_status", rejected.Status),
			zap.String("upstream_message", rejected.Message),
		)
		span.SetAttributes(attribute.Bool("pull.rejected", true))
		result.Rejected = true
		s.mu.Lock()
		s.lastBatch = &result
		s.mu.Unlock()
		return result, nil
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch orders")
		return BatchResult{}, errorbank.Unavailable("failed to pull orders from upstream", errorbank.WithCause(err))
	}

	result.Orders = make([]Result, 0, len(orders))
	for i := range orders {
		if ctx.Err() != nil {
			break
		}
		res := s.SyncOne(ctx, &orders[i])
		if res.OK() {
			result.Succeeded++
		}
		result.Orders = append(result.Orders, res)
	}

	span.SetAttributes(
		attribute.Int("orders.total", len(orders)),
		attribute.Int("orders.succeeded", result.Succeeded),
	)
	s.logger.Info("order sync batch finished",
		zap.String("since", since),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("total", len(orders)),
		zap.String("ratio", fmt.Sprintf("%d/%d", result.Succeeded, len(orders))),
	)

	if result.Succeeded == len(orders) && len(result.Orders) == len(orders) {
		s.advanceMarker(ctx, dto.FormatUpstream(started))
	}
	s.mu.Lock()
	s.lastBatch = &result
	s.mu.Unlock()

	return result, nil
}

// SyncOne writes one order into the ERP. Failures are reported in the result,
// never returned.
func (s *Service) SyncOne(ctx context.Context, order *dto.Order) Result {
	started := s.now()
	orderNo := ""
	if order != nil {
		orderNo = order.SubOrderSN
	}
	ctx, span := serviceTracer.Start(ctx, "OrderSyncService.SyncOne", trace.WithAttributes(attribute.String("order.number", orderNo)))
	defer span.End()

	res := s.syncOne(ctx, order)

	span.SetAttributes(
		attribute.String("erp.namespace", res.Namespace.String()),
		attribute.String("sync.status", string(res.Status)),
	)
	fields := []zap.Field{
		zap.String("order_no", res.OrderNo),
		zap.String("namespace", res.Namespace.String()),
		zap.String("status", string(res.Status)),
	}
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, string(errorbank.KindOf(res.Err)))
		s.logger.Error("order sync failed", append(fields,
			zap.String("error_kind", string(errorbank.KindOf(res.Err))),
			zap.Error(res.Err),
		)...)
	} else {
		s.logger.Info("order sync finished", append(fields,
			zap.Int64("root_id", res.RootID),
			zap.Int("lines_written", res.LinesWritten),
			zap.Int("lines_skipped", res.LinesSkipped),
		)...)
	}
	s.metrics.RecordOrder(ctx, string(res.Status), res.Namespace.String(), s.now().Sub(started))

	return res
}

func (s *Service) syncOne(ctx context.Context, order *dto.Order) Result {
	if order == nil {
		return failed(Result{}, errorbank.InvalidInput("order payload is required"))
	}
	res := Result{OrderNo: order.SubOrderSN}

	hints, err := s.validateOrder(order)
	if err != nil {
		return failed(res, err)
	}
	ns := namespace.Resolve(order)
	res.Namespace = ns

	lock, err := s.obtainLock(ctx, orderLockKey+order.SubOrderSN)
	if err != nil {
		return failed(res, err)
	}
	defer s.releaseLock(ctx, lock, orderLockKey+order.SubOrderSN)

	customer, err := s.resolveCustomer(ctx, ns, order)
	if err != nil {
		return failed(res, err)
	}

	exists, err := s.store.OrderExists(ctx, ns, order.SubOrderSN)
	if err != nil {
		return failed(res, errorbank.Internal("failed to check order existence", errorbank.WithCause(err), errorbank.WithOrder(order.SubOrderSN)))
	}
	if exists {
		res.Status = StatusDuplicate
		return res
	}

	var (
		doc   Document
		lines lineOutcome
	)
	err = database.WithTx(ctx, s.store.Writer(), func(ctx context.Context, tx bun.Tx) error {
		var err error
		if doc, err = s.createDocument(ctx, tx, ns, order, customer); err != nil {
			return err
		}
		if err = s.writeHeader(ctx, tx, ns, doc, order, customer); err != nil {
			return err
		}
		if lines, err = s.writeLines(ctx, tx, ns, doc, order, hints); err != nil {
			return err
		}
		if err = s.verify(ctx, tx, ns, doc, order); err != nil {
			return err
		}
		return s.recordBookkeeping(ctx, tx, ns, order)
	})
	if err != nil {
		return failed(res, writeFailure("order transaction", order, err))
	}

	res.Status = StatusSynced
	res.RootID = doc.RootID
	res.LinesWritten = lines.written
	res.LinesSkipped = lines.skipped
	s.metrics.RecordSkippedLines(ctx, ns.String(), lines.skipped)

	res.Notified = s.notify(ctx, order)
	s.publishSynced(ctx, res)
	return res
}

func failed(res Result, err error) Result {
	res.Status = StatusFailed
	res.Err = err
	return res
}

// validateOrder rejects payloads that can never be synced and parses the
// batch hints of every line. Problems confined to one line are left to
// writeLines, which skips that line.
func (s *Service) validateOrder(order *dto.Order) ([]batchHint, error) {
	if err := s.validate.Struct(order); err != nil {
		return nil, errorbank.InvalidInput("order payload is invalid", errorbank.WithCause(err), errorbank.WithOrder(order.SubOrderSN))
	}

	hints := make([]batchHint, len(order.OrderGoods))
	for i, line := range order.OrderGoods {
		if namespace.ProductCode(line.ErpGoodsID) == "" {
			return nil, errorbank.InvalidInput("line product reference is malformed",
				errorbank.WithOrder(order.SubOrderSN), errorbank.WithDetail("line", i+1))
		}
		if line.HasBatchHint() {
			hints[i] = parseBatchHint(line)
		}
	}
	return hints, nil
}

// verify fails the order when no line made it into the ERP.
func (s *Service) verify(ctx context.Context, tx bun.IDB, ns namespace.Namespace, doc Document, order *dto.Order) error {
	n, err := s.store.CountDetails(ctx, tx, ns, doc.RootID)
	if err != nil {
		return writeFailure("count order lines", order, err)
	}
	if n == 0 {
		return errorbank.BusinessRule("order has no lines with available stock",
			errorbank.WithOrder(order.SubOrderSN), errorbank.WithDetail("root_id", doc.RootID))
	}
	return nil
}

func (s *Service) resolveCustomer(ctx context.Context, ns namespace.Namespace, order *dto.Order) (entity.Customer, error) {
	customerNo := order.ErpCustomerNo.String()
	key := customerKey + ns.String() + ":" + customerNo

	if raw, err := s.cache.Get(ctx, key); err == nil {
		var customer entity.Customer
		if err := json.Unmarshal(raw, &customer); err == nil {
			return customer, nil
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("customer cache read failed", zap.String("key", key), zap.Error(err))
	}

	customer, err := s.store.ResolveCustomer(ctx, ns, customerNo)
	if errors.Is(err, erp.ErrNotFound) {
		return entity.Customer{}, errorbank.NotFound("customer not found",
			errorbank.WithOrder(order.SubOrderSN), errorbank.WithDetail("customer_no", customerNo))
	}
	if err != nil {
		return entity.Customer{}, errorbank.Internal("failed to resolve customer", errorbank.WithCause(err), errorbank.WithOrder(order.SubOrderSN))
	}

	if raw, err := json.Marshal(customer); err == nil {
		if err := s.cache.Set(ctx, key, raw, s.customerTTL); err != nil {
			s.logger.Warn("customer cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return customer, nil
}

func (s *Service) obtainLock(ctx context.Context, key string) (cache.Lock, error) {
	lock, err := s.locker.Obtain(ctx, key, s.lockTTL)
	if errors.Is(err, cache.ErrLockHeld) {
		return nil, errorbank.Conflict("sync already in progress", errorbank.WithCause(err), errorbank.WithDetail("lock", key))
	}
	if err != nil {
		return nil, errorbank.Unavailable("failed to obtain lock", errorbank.WithCause(err), errorbank.WithDetail("lock", key))
	}
	return lock, nil
}

func (s *Service) releaseLock(ctx context.Context, lock cache.Lock, key string) {
	// release even when the caller's context is already done
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseWindow)
	defer cancel()
	if err := lock.Release(releaseCtx); err != nil {
		s.logger.Warn("lock release failed", zap.String("lock", key), zap.Error(err))
	}
}

// Marker returns the timestamp the next pull starts from.
func (s *Service) Marker(ctx context.Context) string {
	raw, err := s.cache.Get(ctx, markerKey)
	if err == nil {
		return string(raw)
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("sync marker read failed", zap.Error(err))
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.marker
}

func (s *Service) advanceMarker(ctx context.Context, marker string) {
	s.mu.Lock()
	s.marker = marker
	s.mu.Unlock()
	if err := s.cache.Set(ctx, markerKey, []byte(marker), cache.Persist); err != nil {
		s.logger.Warn("sync marker write failed", zap.String("marker", marker), zap.Error(err))
	}
}

// LastBatch returns the most recent batch result, if any.
func (s *Service) LastBatch() (BatchResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastBatch == nil {
		return BatchResult{}, false
	}
	return *s.lastBatch, true
}

// Status renders the marker and the last batch for the ops API.
func (s *Service) Status(ctx context.Context) dto.SyncStatusResponse {
	resp := dto.SyncStatusResponse{Marker: s.Marker(ctx)}
	if batch, ok := s.LastBatch(); ok {
		summary := batch.Response()
		resp.LastBatch = &summary
	}
	return resp
}

func writeFailure(step string, order *dto.Order, err error) error {
	var appErr *errorbank.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return errorbank.WriteFailure(step+" failed", errorbank.WithCause(err), errorbank.WithOrder(order.SubOrderSN))
}

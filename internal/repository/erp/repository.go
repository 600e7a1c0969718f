package erp

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/Additional-Code/erpsync/internal/database"
	"github.com/Additional-Code/erpsync/internal/namespace"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/erpsync/repository/erp")

// Module provides the ERP repository to Fx.
var Module = fx.Provide(NewRepository)

var (
	// ErrNotFound is returned when a looked-up record is missing.
	ErrNotFound = errors.New("erp: record not found")
	// ErrReservationConflict is returned when a batch no longer has enough
	// unreserved stock at reservation time.
	ErrReservationConflict = errors.New("erp: batch stock changed since selection")
	// ErrNoRowsAffected is returned when an update matched nothing.
	ErrNoRowsAffected = errors.New("erp: no rows affected")
)

// Physical table names inside a namespace.
const (
	tableSheetRoots       = "_SheetRoots"
	tableStatusFlow       = "_StatusFlow"
	tableSalesOrder       = "Sheet_销售订单"
	tableSalesOrderDetail = "Sheet_销售订单_明细"
	tableMidOrder         = "T_YIIDELIVERY_YQYK174"
	tableCustomer         = "Info_客商"
	tableCustomerAddress  = "Info_客商_收货地址"
	tableAddress          = "Info_收货地址"
	tableCustomerTree     = "Tree_客商分类_info"
	tableTerritoryStaff   = "客商区域对应职员"
	tableStaffProfile     = "User__profile_职员"
	tableBatch            = "Specific_批次商品"
	tableLedger           = "book_商品开票库存账_WMS_sum"
	tableProduct          = "info_商品"
)

// tableAssessPrice lives outside both namespaces.
const tableAssessPrice = "Assign_批次ABC价账"

// Repository encapsulates read/write access to the ERP schema. Methods that
// take a bun.IDB run on the caller's transaction; the rest use the
// repository's own pools.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
	tables *namespace.Catalog
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections, tables *namespace.Catalog) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
		tables: tables,
	}
}

// Writer exposes the primary pool so callers can open transactions on it.
func (r *Repository) Writer() *bun.DB {
	return r.writer
}

func (r *Repository) table(ns namespace.Namespace, name string) bun.Safe {
	return bun.Safe(r.tables.Table(ns, name))
}

func (r *Repository) startSpan(ctx context.Context, name string, ns namespace.Namespace, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("erp.namespace", ns.String()))
	return repoTracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func recordErr(span trace.Span, err error, msg string) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}

// num renders a decimal as an unquoted SQL numeric literal.
func num(d decimal.Decimal) bun.Safe {
	return bun.Safe(d.String())
}

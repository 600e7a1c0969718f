package erp

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Additional-Code/erpsync/internal/entity"
	"github.com/Additional-Code/erpsync/internal/namespace"
)

// InsertSheetRoot inserts a document root and fills in its generated id.
func (r *Repository) InsertSheetRoot(ctx context.Context, db bun.IDB, ns namespace.Namespace, root *entity.SheetRoot) error {
	ctx, span := r.startSpan(ctx, "ERPRepository.InsertSheetRoot", ns, attribute.String("order.number", root.No))
	defer span.End()

	_, err := db.NewInsert().
		Model(root).
		ModelTableExpr("?", r.table(ns, tableSheetRoots)).
		Exec(ctx)
	if err != nil {
		recordErr(span, err, "insert failed")
		return fmt.Errorf("insert sheet root: %w", err)
	}
	if root.ID == 0 {
		return fmt.Errorf("insert sheet root: no id returned")
	}
	return nil
}

// InsertStatusFlow inserts a workflow status and fills in its generated id.
func (r *Repository) InsertStatusFlow(ctx context.Context, db bun.IDB, ns namespace.Namespace, flow *entity.StatusFlow) error {
	ctx, span := r.startSpan(ctx, "ERPRepository.InsertStatusFlow", ns, attribute.Int64("sheet.id", flow.SheetID))
	defer span.End()

	_, err := db.NewInsert().
		Model(flow).
		ModelTableExpr("?", r.table(ns, tableStatusFlow)).
		Exec(ctx)
	if err != nil {
		recordErr(span, err, "insert failed")
		return fmt.Errorf("insert status flow: %w", err)
	}
	if flow.ID == 0 {
		return fmt.Errorf("insert status flow: no id returned")
	}
	return nil
}

// LinkStatusFlow points a document root at its current workflow status.
func (r *Repository) LinkStatusFlow(ctx context.Context, db bun.IDB, ns namespace.Namespace, rootID, flowID int64) error {
	ctx, span := r.startSpan(ctx, "ERPRepository.LinkStatusFlow", ns, attribute.Int64("sheet.id", rootID), attribute.Int64("flow.id", flowID))
	defer span.End()

	res, err := db.NewUpdate().
		TableExpr("?", r.table(ns, tableSheetRoots)).
		Set("stateFlowId = ?", flowID).
		Where("_id = ?", rootID).
		Exec(ctx)
	if err != nil {
		recordErr(span, err, "update failed")
		return fmt.Errorf("link status flow: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("link status flow to root %d: %w", rootID, ErrNoRowsAffected)
	}
	return nil
}

// InsertSalesOrder inserts the header row of a sales order.
func (r *Repository) InsertSalesOrder(ctx context.Context, db bun.IDB, ns namespace.Namespace, order *entity.SalesOrder) error {
	ctx, span := r.startSpan(ctx, "ERPRepository.InsertSalesOrder", ns, attribute.String("order.number", order.No))
	defer span.End()

	_, err := db.NewInsert().
		Model(order).
		ModelTableExpr("?", r.table(ns, tableSalesOrder)).
		Exec(ctx)
	if err != nil {
		recordErr(span, err, "insert failed")
		return fmt.Errorf("insert sales order: %w", err)
	}
	return nil
}

// InsertSalesOrderDetail inserts one sales order line.
func (r *Repository) InsertSalesOrderDetail(ctx context.Context, db bun.IDB, ns namespace.Namespace, detail *entity.SalesOrderDetail) error {
	ctx, span := r.startSpan(ctx, "ERPRepository.InsertSalesOrderDetail", ns,
		attribute.Int64("sheet.id", detail.SheetID),
		attribute.Int("line.seq", detail.Seq),
	)
	defer span.End()

	_, err := db.NewInsert().
		Model(detail).
		ModelTableExpr("?", r.table(ns, tableSalesOrderDetail)).
		Exec(ctx)
	if err != nil {
		recordErr(span, err, "insert failed")
		return fmt.Errorf("insert sales order detail %d: %w", detail.Seq, err)
	}
	return nil
}

// CountDetails counts the lines written for a document root.
func (r *Repository) CountDetails(ctx context.Context, db bun.IDB, ns namespace.Namespace, rootID int64) (int, error) {
	ctx, span := r.startSpan(ctx, "ERPRepository.CountDetails", ns, attribute.Int64("sheet.id", rootID))
	defer span.End()

	n, err := db.NewSelect().
		TableExpr("?", r.table(ns, tableSalesOrderDetail)).
		Where("_pid = ?", rootID).
		Count(ctx)
	recordErr(span, err, "count failed")
	return n, err
}

// InsertMidOrder writes the reconciliation record of an order.
func (r *Repository) InsertMidOrder(ctx context.Context, db bun.IDB, ns namespace.Namespace, mid *entity.MidOrder) error {
	ctx, span := r.startSpan(ctx, "ERPRepository.InsertMidOrder", ns, attribute.String("order.number", mid.OrderNumber))
	defer span.End()

	_, err := db.NewInsert().
		Model(mid).
		ModelTableExpr("?", r.table(ns, tableMidOrder)).
		Exec(ctx)
	if err != nil {
		recordErr(span, err, "insert failed")
		return fmt.Errorf("insert mid order: %w", err)
	}
	return nil
}

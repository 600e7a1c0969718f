package erp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Additional-Code/erpsync/internal/entity"
	"github.com/Additional-Code/erpsync/internal/namespace"
)

// Unreserved ledger quantity: on-hand minus positive in-transit minus
// positive reserved.
const (
	ledgerAvailable = "COALESCE(b.数量, 0)" +
		" - CASE WHEN COALESCE(b.在提数量, 0) <= 0 THEN 0 ELSE b.在提数量 END" +
		" - CASE WHEN COALESCE(b.并发数量, 0) <= 0 THEN 0 ELSE b.并发数量 END"
	reserveAvailable = "COALESCE(数量, 0)" +
		" - CASE WHEN COALESCE(在提数量, 0) <= 0 THEN 0 ELSE 在提数量 END" +
		" - CASE WHEN COALESCE(并发数量, 0) <= 0 THEN 0 ELSE 并发数量 END"
)

// BatchQuery narrows batch selection to one product and, when Hinted, to the
// batch upstream already picked. A positive Quantity only admits batches that
// can cover it.
type BatchQuery struct {
	ProductCode string
	BatchCode   string
	BatchID     int64
	Hinted      bool
	Quantity    decimal.Decimal
}

// SelectBatch returns the first eligible batch of a product, earliest expiry
// first, then earliest production date, then smallest pack. ok is false when
// no batch has unreserved stock.
func (r *Repository) SelectBatch(ctx context.Context, db bun.IDB, ns namespace.Namespace, q BatchQuery) (entity.BatchAllocation, bool, error) {
	ctx, span := r.startSpan(ctx, "ERPRepository.SelectBatch", ns,
		attribute.String("product.code", q.ProductCode),
		attribute.Bool("batch.hinted", q.Hinted),
	)
	defer span.End()

	sel := db.NewSelect().
		ColumnExpr("a.打印批号 AS batch_code").
		ColumnExpr("a._id AS batch_id").
		ColumnExpr("COALESCE(b.包装, 0) AS pack_size").
		ColumnExpr("COALESCE(b.并发数量, 0) AS reserved").
		ColumnExpr("COALESCE(c.考核价Y, 0) AS assess_price").
		ColumnExpr("("+ledgerAvailable+") AS available").
		TableExpr("? AS a", r.table(ns, tableBatch)).
		Join("LEFT JOIN ? AS b ON a._oid = b.商品 AND a._id = b.批次商品 AND b.类型 = 0", r.table(ns, tableLedger)).
		Join("LEFT JOIN ? AS c ON b.商品 = c.商品 AND b.批次商品 = c.批次商品 AND b.公司机构 = c.公司机构",
			bun.Safe(r.tables.Shared(tableAssessPrice))).
		Where("a._oid <> '-1'").
		Where("a._oid = ?", q.ProductCode).
		Where("COALESCE(b.公司机构, 1) = 1").
		Where("COALESCE(b.类型, 0) = 0").
		Where("COALESCE(b.包装, 0) > 0")
	if q.Quantity.IsPositive() {
		sel = sel.Where("("+ledgerAvailable+") >= ?", num(q.Quantity))
	} else {
		sel = sel.Where("(" + ledgerAvailable + ") > 0")
	}
	if q.Hinted {
		sel = sel.Where("a.打印批号 = ?", q.BatchCode).Where("a._id = ?", q.BatchID)
	}
	sel = sel.OrderExpr("a.效期 ASC, a.生产日期 ASC, b.包装 ASC, a._id ASC")

	var batch entity.BatchAllocation
	ok, err := selectOne(ctx, sel, &batch)
	if err != nil {
		recordErr(span, err, "select failed")
		return entity.BatchAllocation{}, false, fmt.Errorf("select batch for %s: %w", q.ProductCode, err)
	}
	return batch, ok, nil
}

// LookupTax returns the tax rates of a product, or zero rates when the
// product master has no row.
func (r *Repository) LookupTax(ctx context.Context, db bun.IDB, ns namespace.Namespace, productCode string) (entity.TaxInfo, error) {
	ctx, span := r.startSpan(ctx, "ERPRepository.LookupTax", ns, attribute.String("product.code", productCode))
	defer span.End()

	var tax entity.TaxInfo
	sel := db.NewSelect().
		ColumnExpr("COALESCE(a.税率, 0) AS tax_rate").
		ColumnExpr("COALESCE(a.销项税率, 0) AS output_tax_rate").
		TableExpr("? AS a", r.table(ns, tableProduct)).
		Where("a._id = ?", productCode).
		OrderExpr("a._id ASC")
	ok, err := selectOne(ctx, sel, &tax)
	if err != nil {
		recordErr(span, err, "select failed")
		return entity.TaxInfo{}, fmt.Errorf("lookup tax for %s: %w", productCode, err)
	}
	if !ok {
		return entity.TaxInfo{TaxRate: decimal.Zero, OutputTaxRate: decimal.Zero}, nil
	}
	return tax, nil
}

// LookupLedgerCost returns the booked cost and quantity of a batch. found is
// false when the ledger has no row for it.
func (r *Repository) LookupLedgerCost(ctx context.Context, db bun.IDB, ns namespace.Namespace, productCode string, batch entity.BatchAllocation) (entity.LedgerCost, bool, error) {
	ctx, span := r.startSpan(ctx, "ERPRepository.LookupLedgerCost", ns,
		attribute.String("product.code", productCode),
		attribute.Int64("batch.id", batch.BatchID),
	)
	defer span.End()

	var cost entity.LedgerCost
	sel := db.NewSelect().
		ColumnExpr("COALESCE(a.进价金额, 0) AS cost_amount").
		ColumnExpr("COALESCE(a.数量, 0) AS quantity").
		TableExpr("? AS a", r.table(ns, tableLedger)).
		Where("a.商品 = ?", productCode).
		Where("a.批号 = ?", batch.BatchCode).
		Where("a.批次商品 = ?", batch.BatchID).
		OrderExpr("a.包装 ASC")
	ok, err := selectOne(ctx, sel, &cost)
	if err != nil {
		recordErr(span, err, "select failed")
		return entity.LedgerCost{}, false, fmt.Errorf("lookup ledger cost for %s: %w", productCode, err)
	}
	return cost, ok, nil
}

// ReserveStock adds qty to the reserved quantity of a batch ledger row. The
// update only applies while the row still has qty unreserved; otherwise it
// returns ErrReservationConflict and changes nothing.
func (r *Repository) ReserveStock(ctx context.Context, db bun.IDB, ns namespace.Namespace, productCode string, batch entity.BatchAllocation, qty decimal.Decimal) error {
	ctx, span := r.startSpan(ctx, "ERPRepository.ReserveStock", ns,
		attribute.String("product.code", productCode),
		attribute.Int64("batch.id", batch.BatchID),
		attribute.String("quantity", qty.String()),
	)
	defer span.End()

	res, err := db.NewUpdate().
		TableExpr("?", r.table(ns, tableLedger)).
		Set("并发数量 = COALESCE(并发数量, 0) + ?", num(qty)).
		Where("COALESCE(公司机构, 1) = 1").
		Where("COALESCE(类型, 0) = 0").
		Where("商品 = ?", productCode).
		Where("批次商品 = ?", batch.BatchID).
		Where("包装 = ?", num(batch.PackSize)).
		Where("("+reserveAvailable+") >= ?", num(qty)).
		Exec(ctx)
	if err != nil {
		recordErr(span, err, "update failed")
		return fmt.Errorf("reserve stock for %s: %w", productCode, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		recordErr(span, err, "rows affected failed")
		return fmt.Errorf("reserve stock for %s: %w", productCode, err)
	}
	if n == 0 {
		return ErrReservationConflict
	}
	return nil
}

func selectOne(ctx context.Context, q *bun.SelectQuery, dest any) (bool, error) {
	err := q.Limit(1).Scan(ctx, dest)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

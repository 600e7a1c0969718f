package erp

import (
	"context"
	"database/sql"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Additional-Code/erpsync/internal/entity"
	"github.com/Additional-Code/erpsync/internal/namespace"
)

// ResolveCustomer looks a customer up by its external number, joining the
// address, classification and territory-staff tables. When the joins fan out
// the row with the lowest customer id, then lowest address id, wins.
func (r *Repository) ResolveCustomer(ctx context.Context, ns namespace.Namespace, customerNo string) (entity.Customer, error) {
	ctx, span := r.startSpan(ctx, "ERPRepository.ResolveCustomer", ns, attribute.String("customer.number", customerNo))
	defer span.End()

	var customer entity.Customer
	err := r.reader.NewSelect().
		ColumnExpr("a._id AS _id").
		ColumnExpr("a.编号 AS number").
		ColumnExpr("a.默认销价 AS default_price").
		ColumnExpr("a.换票类型 AS exchange_type").
		ColumnExpr("a.运输方式 AS transport_method").
		ColumnExpr("a.记账方式 AS settlement_method").
		ColumnExpr("COALESCE(c._id, 0) AS address_id").
		ColumnExpr("COALESCE(e.业务员ID, 0) AS salesperson_id").
		ColumnExpr("COALESCE(e.开票员ID, 0) AS biller_id").
		ColumnExpr("COALESCE(g._userId, 0) AS biller_user_id").
		TableExpr("? AS a", r.table(ns, tableCustomer)).
		Join("LEFT JOIN ? AS b ON a._id = b._pid", r.table(ns, tableCustomerAddress)).
		Join("LEFT JOIN ? AS c ON b.收货地址 = c._id", r.table(ns, tableAddress)).
		Join("LEFT JOIN ? AS d ON a._id = d.info", r.table(ns, tableCustomerTree)).
		Join("LEFT JOIN ? AS e ON d.tree = e.区域ID", r.table(ns, tableTerritoryStaff)).
		Join("LEFT JOIN ? AS g ON e.开票员ID = g.职员", r.table(ns, tableStaffProfile)).
		Where("a.编号 = ?", customerNo).
		OrderExpr("a._id ASC, c._id ASC").
		Limit(1).
		Scan(ctx, &customer)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Customer{}, ErrNotFound
	}
	if err != nil {
		recordErr(span, err, "select failed")
		return entity.Customer{}, err
	}
	return customer, nil
}

// OrderExists reports whether a sales order with the business number is
// already present. It reads from the writer so a just-committed order is seen.
func (r *Repository) OrderExists(ctx context.Context, ns namespace.Namespace, orderNo string) (bool, error) {
	ctx, span := r.startSpan(ctx, "ERPRepository.OrderExists", ns, attribute.String("order.number", orderNo))
	defer span.End()

	exists, err := r.writer.NewSelect().
		TableExpr("?", r.table(ns, tableSalesOrder)).
		Where("_no = ?", orderNo).
		Exists(ctx)
	recordErr(span, err, "exists failed")
	return exists, err
}

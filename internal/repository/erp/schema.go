package erp

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"

	"github.com/Additional-Code/erpsync/internal/namespace"
)

var namespaceTables = []string{
	tableSheetRoots,
	tableStatusFlow,
	tableSalesOrder,
	tableSalesOrderDetail,
	tableMidOrder,
	tableCustomer,
	tableCustomerAddress,
	tableAddress,
	tableCustomerTree,
	tableTerritoryStaff,
	tableStaffProfile,
	tableBatch,
	tableLedger,
	tableProduct,
}

// RequiredTables lists the physical tables the sync reads or writes in ns,
// followed by the shared ones.
func (r *Repository) RequiredTables(ns namespace.Namespace) []string {
	out := make([]string, 0, len(namespaceTables)+1)
	for _, t := range namespaceTables {
		out = append(out, r.tables.Table(ns, t))
	}
	return append(out, r.tables.Shared(tableAssessPrice))
}

// TableReachable reports whether table can be queried on the writer.
func (r *Repository) TableReachable(ctx context.Context, table string) error {
	var one int
	err := r.writer.NewSelect().
		ColumnExpr("1").
		TableExpr("?", bun.Safe(table)).
		Where("1 = 0").
		Scan(ctx, &one)
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return err
}

package ordersync

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/Additional-Code/erpsync/internal/dto"
	"github.com/Additional-Code/erpsync/internal/entity"
	"github.com/Additional-Code/erpsync/internal/namespace"
	"github.com/Additional-Code/erpsync/internal/repository/erp"
	"github.com/Additional-Code/erpsync/pkg/errorbank"
)

// lineOutcome counts what writeLines did.
type lineOutcome struct {
	written int
	skipped int
}

// writeLines allocates, reserves and inserts every line of the order. Lines
// rejected by unusableLine and lines whose product has no batch with enough
// unreserved stock are skipped; any other failure aborts the order.
func (s *Service) writeLines(ctx context.Context, tx bun.IDB, ns namespace.Namespace, doc Document, order *dto.Order, hints []batchHint) (lineOutcome, error) {
	var out lineOutcome
	for i := range order.OrderGoods {
		line := &order.OrderGoods[i]
		// sequence follows the upstream position, so skipped lines leave gaps
		seq := i + 1

		product := namespace.ProductCode(line.ErpGoodsID)
		if reason := unusableLine(line, hints[i]); reason != "" {
			s.logger.Warn("line cannot be allocated; line skipped",
				zap.String("order_no", order.SubOrderSN),
				zap.String("namespace", ns.String()),
				zap.Int("line", seq),
				zap.String("product", product),
				zap.String("reason", reason),
			)
			out.skipped++
			continue
		}

		batch, ok, err := s.allocate(ctx, tx, ns, order, product, line.Quantity, hints[i])
		if err != nil {
			return out, err
		}
		if !ok {
			s.logger.Warn("no batch available; line skipped",
				zap.String("order_no", order.SubOrderSN),
				zap.String("namespace", ns.String()),
				zap.Int("line", seq),
				zap.String("product", product),
			)
			out.skipped++
			continue
		}

		if err := s.insertLine(ctx, tx, ns, doc, order, line, seq, product, batch); err != nil {
			return out, err
		}
		out.written++
	}
	return out, nil
}

// batchHint is the batch upstream picked for a line, parsed up front. A
// malformed hint names no batch that can exist.
type batchHint struct {
	code      string
	id        int64
	present   bool
	malformed bool
}

func parseBatchHint(line dto.OrderGoods) batchHint {
	id, err := strconv.ParseInt(strings.TrimSpace(line.SelectedBatchTimes.String()), 10, 64)
	if err != nil {
		return batchHint{present: true, malformed: true}
	}
	return batchHint{code: line.SelectedBatchCode, id: id, present: true}
}

// unusableLine names why a line can never be allocated, or returns "".
func unusableLine(line *dto.OrderGoods, hint batchHint) string {
	switch {
	case !line.Quantity.IsPositive():
		return "quantity is not positive"
	case hint.malformed:
		return "batch hint is malformed"
	default:
		return ""
	}
}

// allocate selects the first batch that covers the line's quantity and
// reserves it. When the batch was drained between selection and reservation it
// selects again, up to the configured number of attempts.
func (s *Service) allocate(ctx context.Context, tx bun.IDB, ns namespace.Namespace, order *dto.Order, product string, qty decimal.Decimal, hint batchHint) (entity.BatchAllocation, bool, error) {
	query := erp.BatchQuery{ProductCode: product, Quantity: qty}
	if hint.present {
		query.BatchCode, query.BatchID, query.Hinted = hint.code, hint.id, true
	}

	for attempt := 1; attempt <= s.reserveAttempts; attempt++ {
		batch, ok, err := s.store.SelectBatch(ctx, tx, ns, query)
		if err != nil {
			return entity.BatchAllocation{}, false, writeFailure("select batch", order, err)
		}
		if !ok {
			return entity.BatchAllocation{}, false, nil
		}

		err = s.store.ReserveStock(ctx, tx, ns, product, batch, qty)
		if err == nil {
			return batch, true, nil
		}
		if !errors.Is(err, erp.ErrReservationConflict) {
			return entity.BatchAllocation{}, false, writeFailure("reserve stock", order, err)
		}
		s.logger.Info("batch drained before reservation; reselecting",
			zap.String("order_no", order.SubOrderSN),
			zap.String("product", product),
			zap.Int64("batch_id", batch.BatchID),
			zap.Int("attempt", attempt),
		)
	}
	return entity.BatchAllocation{}, false, errorbank.Conflict("stock reservation kept conflicting",
		errorbank.WithOrder(order.SubOrderSN),
		errorbank.WithDetail("product", product),
		errorbank.WithCause(erp.ErrReservationConflict),
	)
}

func (s *Service) insertLine(ctx context.Context, tx bun.IDB, ns namespace.Namespace, doc Document, order *dto.Order, line *dto.OrderGoods, seq int, product string, batch entity.BatchAllocation) error {
	tax, err := s.store.LookupTax(ctx, tx, ns, product)
	if err != nil {
		return writeFailure("lookup tax", order, err)
	}
	cost, found, err := s.store.LookupLedgerCost(ctx, tx, ns, product, batch)
	if err != nil {
		return writeFailure("lookup ledger cost", order, err)
	}

	price := line.PriceRecords.SalePrice
	listPrice := line.PriceRecords.WeightWholePrice
	qty := line.Quantity
	amount := price.Mul(qty)
	profit, rate := lineProfit(price, qty, cost.CostAmount, cost.Quantity, found)

	detail := &entity.SalesOrderDetail{
		SheetID:          doc.RootID,
		Seq:              seq,
		OriginalProduct:  product,
		Product:          product,
		Batch:            batch.BatchID,
		PackSize:         batch.PackSize,
		Quantity:         qty,
		Units:            unitCount(qty, batch.PackSize),
		Price:            price,
		ListPrice:        listPrice,
		TaxRate:          tax.TaxRate,
		OutputTaxRate:    tax.OutputTaxRate,
		Amount:           amount,
		Profit:           profit,
		ProfitRate:       rate,
		Gift:             line.IsGift,
		Company:          entity.DefaultCompany,
		LogisticsCenter:  entity.DefaultLogistic,
		PriceBeforeDisc:  listPrice,
		PriceAfterDisc:   price,
		Remark:           lineRemark(line),
		ReturnPrice:      price,
		ReturnAmount:     amount,
		ReturnDifference: listPrice.Sub(price).Mul(qty),
		AssessPrice:      batch.AssessPrice,
		AssessAmount:     batch.AssessPrice.Mul(qty),
	}
	if err := s.store.InsertSalesOrderDetail(ctx, tx, ns, detail); err != nil {
		return writeFailure("insert order line", order, err)
	}
	return nil
}

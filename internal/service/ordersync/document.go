package ordersync

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"github.com/Additional-Code/erpsync/internal/dto"
	"github.com/Additional-Code/erpsync/internal/entity"
	"github.com/Additional-Code/erpsync/internal/namespace"
)

// Document is a document root whose workflow pointer is already linked.
// Only createDocument builds one.
type Document struct {
	RootID int64
	FlowID int64
	No     string
	Date   time.Time
}

// createDocument inserts the root with an empty workflow pointer, inserts its
// first workflow status, then links the two.
func (s *Service) createDocument(ctx context.Context, tx bun.IDB, ns namespace.Namespace, order *dto.Order, customer entity.Customer) (Document, error) {
	date := orderDate(order, s.now)

	root := &entity.SheetRoot{
		TypeID:   entity.SalesOrderSheetType,
		No:       order.SubOrderSN,
		Date:     date,
		Operator: customer.BillerUserID,
		Status:   entity.SheetStatusPending,
		Caption:  entity.SheetCaption,
	}
	if err := s.store.InsertSheetRoot(ctx, tx, ns, root); err != nil {
		return Document{}, writeFailure("insert document root", order, err)
	}

	flow := &entity.StatusFlow{
		SheetTypeID: entity.SalesOrderSheetType,
		SheetID:     root.ID,
		Command:     entity.FlowCommand,
		Status:      entity.FlowStatusCreated,
		Date:        date,
		Operator:    s.systemUserID,
	}
	if err := s.store.InsertStatusFlow(ctx, tx, ns, flow); err != nil {
		return Document{}, writeFailure("insert workflow status", order, err)
	}

	if err := s.store.LinkStatusFlow(ctx, tx, ns, root.ID, flow.ID); err != nil {
		return Document{}, writeFailure("link workflow status", order, err)
	}

	return Document{RootID: root.ID, FlowID: flow.ID, No: order.SubOrderSN, Date: date}, nil
}

// orderDate is the order's creation time, or now when upstream sent none.
func orderDate(order *dto.Order, now func() time.Time) time.Time {
	if order.CreatedAt.IsZero() {
		return now()
	}
	return order.CreatedAt.Time
}

// writeHeader inserts the sales order header of doc.
func (s *Service) writeHeader(ctx context.Context, tx bun.IDB, ns namespace.Namespace, doc Document, order *dto.Order, customer entity.Customer) error {
	header := &entity.SalesOrder{
		ID:                doc.RootID,
		No:                order.SubOrderSN,
		Date:              doc.Date,
		Customer:          customer.ID,
		SettleCustomer:    customer.ID,
		RefCustomer:       customer.ID,
		Salesperson:       customer.SalespersonID,
		OrderOperator:     customer.BillerID,
		Biller:            customer.BillerID,
		Department:        s.defaultDepartment,
		Bookkeeper:        entity.UnassignedStaff,
		SettlementMethod:  customer.SettlementMethod,
		ExchangeType:      customer.ExchangeType,
		TransportMethod:   customer.TransportMethod,
		MemberLevel:       entity.UnassignedStaff,
		DefaultPrice:      customer.DefaultPrice,
		Remark:            orderRemark(order),
		CustomerNote:      customerNote(order),
		GUID:              order.SubOrderSN,
		Company:           entity.DefaultCompany,
		LogisticsCenter:   entity.DefaultLogistic,
		Address:           customer.AddressID,
		TotalAmount:       order.GoodsTotalFee,
		OutboundAmount:    order.GoodsTotalFee,
		TotalRefundAmount: order.SubOrderTotalFee,
	}
	if err := s.store.InsertSalesOrder(ctx, tx, ns, header); err != nil {
		return writeFailure("insert order header", order, err)
	}
	return nil
}

// recordBookkeeping writes the reconciliation row of the order.
func (s *Service) recordBookkeeping(ctx context.Context, tx bun.IDB, ns namespace.Namespace, order *dto.Order) error {
	mid := &entity.MidOrder{
		OrderNumber:   order.SubOrderSN,
		ErpCustomerID: order.ErpCustomerID.String(),
		LastDate:      s.now(),
	}
	if err := s.store.InsertMidOrder(ctx, tx, ns, mid); err != nil {
		return writeFailure("insert bookkeeping record", order, err)
	}
	return nil
}

package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Values the ERP expects for columns this service does not manage.
const (
	UnassignedStaff = -1
	DefaultCompany  = 1
	DefaultLogistic = 1
)

// SalesOrder is the header row of a sales order, keyed by its document root.
type SalesOrder struct {
	bun.BaseModel `bun:"table:Sheet_销售订单"`

	ID                int64           `bun:"_id,pk"`
	No                string          `bun:"_no"`
	Date              time.Time       `bun:"_date"`
	Customer          int64           `bun:"客商"`
	SettleCustomer    int64           `bun:"结算客商"`
	RefCustomer       int64           `bun:"参考客商"`
	Salesperson       int64           `bun:"销售员"`
	OrderOperator     int64           `bun:"订单操作员"`
	Biller            int64           `bun:"开票员"`
	Department        int64           `bun:"职员部门"`
	Bookkeeper        int64           `bun:"记账员"`
	SettlementMethod  string          `bun:"记账方式"`
	ExchangeType      string          `bun:"换票类型"`
	TransportMethod   string          `bun:"运输方式"`
	MemberLevel       int64           `bun:"会员级别"`
	DefaultPrice      string          `bun:"默认销价"`
	Remark            string          `bun:"备注"`
	CustomerNote      string          `bun:"客户备注"`
	GUID              string          `bun:"guid"`
	Company           int64           `bun:"公司机构"`
	LogisticsCenter   int64           `bun:"物流中心"`
	Address           int64           `bun:"收货地址"`
	TotalAmount       decimal.Decimal `bun:"总金额"`
	OutboundAmount    decimal.Decimal `bun:"出库金额"`
	TotalRefundAmount decimal.Decimal `bun:"总退补金额"`
}

// SalesOrderDetail is one line of a sales order, keyed by (document root,
// line sequence starting at 1).
type SalesOrderDetail struct {
	bun.BaseModel `bun:"table:Sheet_销售订单_明细"`

	SheetID          int64           `bun:"_pid,pk"`
	Seq              int             `bun:"_rid,pk"`
	OriginalProduct  string          `bun:"原商品"`
	Product          string          `bun:"商品"`
	Batch            int64           `bun:"批次商品"`
	PackSize         decimal.Decimal `bun:"包装"`
	Quantity         decimal.Decimal `bun:"数量"`
	Units            decimal.Decimal `bun:"件数"`
	Price            decimal.Decimal `bun:"单价"`
	ListPrice        decimal.Decimal `bun:"默认销价"`
	TaxRate          decimal.Decimal `bun:"税率"`
	OutputTaxRate    decimal.Decimal `bun:"销项税率"`
	Amount           decimal.Decimal `bun:"金额"`
	Profit           decimal.Decimal `bun:"利润"`
	ProfitRate       decimal.Decimal `bun:"利润率"`
	Gift             int             `bun:"赠品"`
	Company          int64           `bun:"公司机构"`
	LogisticsCenter  int64           `bun:"物流中心"`
	PriceBeforeDisc  decimal.Decimal `bun:"折前价格"`
	PriceAfterDisc   decimal.Decimal `bun:"折后价格"`
	Remark           string          `bun:"商品备注"`
	ReturnPrice      decimal.Decimal `bun:"退补价"`
	ReturnAmount     decimal.Decimal `bun:"退补金额"`
	ReturnDifference decimal.Decimal `bun:"退补差额"`
	AssessPrice      decimal.Decimal `bun:"考核价"`
	AssessAmount     decimal.Decimal `bun:"考核金额"`
}

// MidOrder is the reconciliation record external tooling reads to track
// which orders reached the ERP.
type MidOrder struct {
	bun.BaseModel `bun:"table:T_YIIDELIVERY_YQYK174"`

	OrderNumber   string    `bun:"order_number"`
	ErpCustomerID string    `bun:"erp_customer_id"`
	SyncStatus    int       `bun:"sync_status"`
	LastDate      time.Time `bun:"last_date"`
}

package dto

import (
	"github.com/shopspring/decimal"
)

// Order is a pending sales order as published by the upstream
// order-management service. It is immutable once fetched; SubOrderSN is its
// business key.
type Order struct {
	ID                 int64           `json:"id"`
	SubOrderSN         string          `json:"sub_order_sn" validate:"required"`
	ErpCustomerID      FlexString      `json:"erp_customer_id" validate:"required"`
	ErpCustomerNo      FlexString      `json:"erp_customer_no"`
	CreatedAt          Timestamp       `json:"created_at"`
	PayMethod          string          `json:"pay_method"`
	Source             string          `json:"source"`
	OrderDiscountTotal decimal.Decimal `json:"order_discount_total"`
	GoodsTotalFee      decimal.Decimal `json:"goods_total_fee"`
	SubOrderTotalFee   decimal.Decimal `json:"sub_order_total_fee"`
	Message            string          `json:"message"`
	SplitRules         []SplitRule     `json:"split_rules"`
	OrderGoods         []OrderGoods    `json:"order_goods" validate:"dive"`
}

// SplitRule is one classification rule upstream applied when splitting a
// parent order.
type SplitRule struct {
	RuleNo int    `json:"rule_no"`
	Value  string `json:"value"`
}

// OrderGoods is one ordered line.
type OrderGoods struct {
	ErpGoodsID         string          `json:"erp_goods_id" validate:"required"`
	Quantity           decimal.Decimal `json:"quantity"`
	IsGift             int             `json:"is_gift"`
	ErpStockID         FlexString      `json:"erp_stock_id"`
	SelectedBatchCode  string          `json:"selected_batch_code"`
	SelectedBatchTimes FlexString      `json:"selected_batch_times"`
	PriceRecords       PriceRecords    `json:"price_records"`
	Promotions         []Promotion     `json:"promotions"`
}

// HasBatchHint reports whether the buyer picked a specific batch.
func (g OrderGoods) HasBatchHint() bool {
	return g.ErpStockID != ""
}

// PriceRecords carries the pricing of one line.
type PriceRecords struct {
	SalePrice            decimal.Decimal `json:"sale_price"`
	WeightWholePrice     decimal.Decimal `json:"weight_whole_price"`
	SingleAllDiscountFee decimal.Decimal `json:"single_all_discount_fee"`
}

// Promotion tags a line with the campaign that priced it.
type Promotion struct {
	PromotionType int `json:"promotion_type"`
}

// OrdersEnvelope is the response of the pull endpoint.
type OrdersEnvelope struct {
	Status  int     `json:"status"`
	Message string  `json:"message,omitempty"`
	Data    []Order `json:"data"`
}

// StatusEnvelope is the response of the notify endpoint.
type StatusEnvelope struct {
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
}

// SyncStatusRequest reports a handled order back to upstream.
type SyncStatusRequest struct {
	ID            int64      `json:"id"`
	ErpCustomerID FlexString `json:"erp_customer_id"`
	HandleStatus  int        `json:"handle_status"`
}

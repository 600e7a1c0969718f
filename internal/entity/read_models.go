package entity

import (
	"github.com/shopspring/decimal"
)

// Customer is the routing and pricing view of a customer master record.
type Customer struct {
	ID               int64  `bun:"_id" json:"id"`
	Number           string `bun:"number" json:"number"`
	DefaultPrice     string `bun:"default_price" json:"default_price"`
	ExchangeType     string `bun:"exchange_type" json:"exchange_type"`
	TransportMethod  string `bun:"transport_method" json:"transport_method"`
	SettlementMethod string `bun:"settlement_method" json:"settlement_method"`
	AddressID        int64  `bun:"address_id" json:"address_id"`
	SalespersonID    int64  `bun:"salesperson_id" json:"salesperson_id"`
	BillerID         int64  `bun:"biller_id" json:"biller_id"`
	BillerUserID     int64  `bun:"biller_user_id" json:"biller_user_id"`
}

// BatchAllocation is one stocked batch of a product together with its
// unreserved quantity at selection time.
type BatchAllocation struct {
	BatchCode   string          `bun:"batch_code"`
	BatchID     int64           `bun:"batch_id"`
	PackSize    decimal.Decimal `bun:"pack_size"`
	Reserved    decimal.Decimal `bun:"reserved"`
	AssessPrice decimal.Decimal `bun:"assess_price"`
	Available   decimal.Decimal `bun:"available"`
}

// TaxInfo holds the tax rates of a product.
type TaxInfo struct {
	TaxRate       decimal.Decimal `bun:"tax_rate"`
	OutputTaxRate decimal.Decimal `bun:"output_tax_rate"`
}

// LedgerCost is the booked cost of a batch on the inventory ledger.
type LedgerCost struct {
	CostAmount decimal.Decimal `bun:"cost_amount"`
	Quantity   decimal.Decimal `bun:"quantity"`
}

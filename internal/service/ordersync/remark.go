package ordersync

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Additional-Code/erpsync/internal/dto"
)

const onlinePayment = "线上支付"

var sourceLabels = map[string]string{
	"wechat":       "微信",
	"app":          "APP",
	"web":          "网页",
	"mini_program": "小程序",
}

var promotionLabels = map[int]string{
	0: "优惠券",
	1: "采满",
	2: "特价",
	3: "套餐",
	4: "拼团",
	5: "全场促销",
	6: "积分抵现",
	7: "预付金",
	8: "积分商城兑换",
}

func sourceLabel(source string) string {
	if label, ok := sourceLabels[source]; ok {
		return label
	}
	return "未知来源"
}

func promotionLabel(kind int) string {
	if label, ok := promotionLabels[kind]; ok {
		return label
	}
	return "普通商品"
}

// orderRemark renders "<source>;<pay method>;<discount>" where the discount
// part is empty unless the order carries a positive discount.
func orderRemark(order *dto.Order) string {
	discount := ""
	if order.OrderDiscountTotal.IsPositive() {
		discount = "订单优惠:" + order.OrderDiscountTotal.String()
	}
	return sourceLabel(order.Source) + ";" + order.PayMethod + ";" + discount
}

func customerNote(order *dto.Order) string {
	if order.PayMethod == onlinePayment {
		return "线上已付款;" + order.Message
	}
	return order.Message
}

// lineRemark renders "<promotion labels>;<discount>" for one line.
func lineRemark(line *dto.OrderGoods) string {
	labels := make([]string, 0, len(line.Promotions))
	for _, p := range line.Promotions {
		labels = append(labels, promotionLabel(p.PromotionType))
	}

	discount := ""
	if total := line.PriceRecords.SingleAllDiscountFee.Mul(line.Quantity); total.IsPositive() {
		discount = "优惠金额:" + total.String()
	}
	return strings.Join(labels, ",") + ";" + discount
}

var hundred = decimal.NewFromInt(100)

// lineProfit computes the gross profit of a line against the batch's booked
// unit cost, and the profit rate in percent. Both are zero when the ledger
// has no usable cost.
func lineProfit(price, qty, costAmount, bookedQty decimal.Decimal, found bool) (profit, rate decimal.Decimal) {
	if !found || bookedQty.IsZero() {
		return decimal.Zero, decimal.Zero
	}
	amount := price.Mul(qty)
	gross := amount.Sub(costAmount.Div(bookedQty).Mul(qty))
	profit = gross.Round(2)
	if amount.IsZero() {
		return profit, decimal.Zero
	}
	rate = gross.Div(amount).Round(2).Mul(hundred)
	return profit, rate
}

// unitCount is the number of packs a quantity fills, to two places.
func unitCount(qty, pack decimal.Decimal) decimal.Decimal {
	if pack.IsZero() {
		return decimal.Zero
	}
	return qty.Div(pack).Round(2)
}

package exchange

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide 表示下单方向。
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus 表示订单生命周期状态。
type OrderStatus string

const (
	// OrderStatusPending 已提交，等待交易所确认。
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusOpen 已挂入订单簿，尚无成交。
	OrderStatusOpen OrderStatus = "open"
	// OrderStatusPartiallyFilled 部分成交且仍在挂单。
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// IsTerminal 判断订单是否已结束。
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// Order 为交易所视角的订单快照。
type Order struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	Filled        decimal.Decimal
	AveragePrice  decimal.Decimal
	Status        OrderStatus
	Timestamp     time.Time
}

// OrderBookTop 为盘口一档快照。买一卖一均存在时满足 BestBid < BestAsk。
type OrderBookTop struct {
	Symbol    string
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	Timestamp time.Time
}

// Empty 判断盘口是否缺少买一或卖一。
func (b OrderBookTop) Empty() bool {
	return b.BestBid.IsZero() || b.BestAsk.IsZero()
}

// Mid 返回买一卖一中间价。
func (b OrderBookTop) Mid() decimal.Decimal {
	return b.BestBid.Add(b.BestAsk).Div(decimal.NewFromInt(2))
}

// SpreadRatio 返回相对买一的价差比例。
func (b OrderBookTop) SpreadRatio() decimal.Decimal {
	if b.BestBid.IsZero() {
		return decimal.Zero
	}
	return b.BestAsk.Sub(b.BestBid).Div(b.BestBid)
}

// MarketMeta 描述交易对的下单精度约束，来自交易所市场元数据。
type MarketMeta struct {
	Symbol       string
	PriceTick    decimal.Decimal
	QuantityStep decimal.Decimal
	MinQuantity  decimal.Decimal
}

// RoundPrice 将价格向下对齐到最小报价单位。
func (m MarketMeta) RoundPrice(price decimal.Decimal) decimal.Decimal {
	if m.PriceTick.IsZero() {
		return price
	}
	return price.Div(m.PriceTick).Floor().Mul(m.PriceTick)
}

// RoundPriceUp 将价格向上对齐到最小报价单位。
func (m MarketMeta) RoundPriceUp(price decimal.Decimal) decimal.Decimal {
	if m.PriceTick.IsZero() {
		return price
	}
	return price.Div(m.PriceTick).Ceil().Mul(m.PriceTick)
}

// RoundQuantity 将数量向下对齐到最小数量单位，低于最小下单量时返回 0。
func (m MarketMeta) RoundQuantity(qty decimal.Decimal) decimal.Decimal {
	rounded := qty
	if !m.QuantityStep.IsZero() {
		rounded = qty.Div(m.QuantityStep).Floor().Mul(m.QuantityStep)
	}
	if rounded.LessThan(m.MinQuantity) {
		return decimal.Zero
	}
	return rounded
}

package execution

import (
	"time"

	"github.com/shopspring/decimal"

	"jlp-hedge/internal/exchange"
)

// DeltaSide 表示调仓方向。
type DeltaSide string

const (
	// DeltaIncreaseShort 需要增加空头，卖出开空。
	DeltaIncreaseShort DeltaSide = "increase_short"
	// DeltaDecreaseShort 需要减少空头，买入平空 (只减仓)。
	DeltaDecreaseShort DeltaSide = "decrease_short"
)

// PositionDelta 描述一次调仓目标，由上层策略计算后传入，不可变。
type PositionDelta struct {
	Symbol   string
	Side     DeltaSide
	Quantity decimal.Decimal
}

// OrderSide 返回调仓对应的下单方向。
func (d PositionDelta) OrderSide() exchange.OrderSide {
	if d.Side == DeltaDecreaseShort {
		return exchange.OrderSideBuy
	}
	return exchange.OrderSideSell
}

// ReduceOnly 平空方向只减仓，避免反向开仓并绕过最小名义价值限制。
func (d PositionDelta) ReduceOnly() bool {
	return d.Side == DeltaDecreaseShort
}

// Status 表示一次执行的最终状态。
type Status string

const (
	// StatusSuccess 成交比例达到 partial_fill_threshold。
	StatusSuccess Status = "success"
	// StatusPartial 有成交但未达到阈值。
	StatusPartial Status = "partial"
	// StatusFailed 无成交且时间预算耗尽，或遇到致命错误。
	StatusFailed Status = "failed"
	// StatusSkipped 数量低于最小下单量，未进入执行循环。
	StatusSkipped Status = "skipped"
)

// Result 为单次调仓执行结果，生成后不可变。
type Result struct {
	Symbol         string
	Status         Status
	TargetQuantity decimal.Decimal
	FilledQuantity decimal.Decimal
	AveragePrice   decimal.Decimal
	// Replaces 为撤单重挂总次数。
	Replaces int
	Elapsed  time.Duration
	// CleanupPending 为真时表示超时清理撤单失败，场上可能残留挂单。
	CleanupPending bool
	Error          string
}

// FillRatio 返回成交比例。
func (r Result) FillRatio() decimal.Decimal {
	if !r.TargetQuantity.IsPositive() {
		return decimal.Zero
	}
	return r.FilledQuantity.Div(r.TargetQuantity)
}

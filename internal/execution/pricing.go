package execution

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"jlp-hedge/internal/exchange"
)

// pricer 根据盘口快照计算被动挂单价，并判定既有挂单是否需要撤换。
type pricer struct {
	meta       exchange.MarketMeta
	tolerance  decimal.Decimal
	maxSpread  decimal.Decimal
	aggressive bool
	logger     *zap.Logger
}

func newPricer(meta exchange.MarketMeta, tolerance, maxSpread float64, aggressive bool, logger *zap.Logger) *pricer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &pricer{
		meta:       meta,
		tolerance:  decimal.NewFromFloat(tolerance),
		maxSpread:  decimal.NewFromFloat(maxSpread),
		aggressive: aggressive,
		logger:     logger,
	}
}

// quote 返回 Post-Only 挂单价。卖单挂在卖一，买单挂在买一；
// 价差异常放大时回退到中间价，避免跟随瞬时插针。
// 价格按报价单位取整，取整方向保证不会越过对手价。
func (p *pricer) quote(book exchange.OrderBookTop, side exchange.OrderSide) (decimal.Decimal, error) {
	if book.Empty() {
		return decimal.Zero, exchange.ErrEmptyBook
	}

	if spread := book.SpreadRatio(); spread.GreaterThan(p.maxSpread) {
		p.logger.Warn("价差异常，回退到中间价挂单",
			zap.String("symbol", book.Symbol),
			zap.String("spread_ratio", spread.String()),
			zap.String("best_bid", book.BestBid.String()),
			zap.String("best_ask", book.BestAsk.String()),
		)
		mid := book.Mid()
		if side == exchange.OrderSideSell {
			return p.meta.RoundPriceUp(mid), nil
		}
		return p.meta.RoundPrice(mid), nil
	}

	if side == exchange.OrderSideSell {
		// 激进模式在买一上方一个报价单位挂卖单，抢占卖方队列头
		if p.aggressive && p.meta.PriceTick.IsPositive() {
			price := book.BestBid.Add(p.meta.PriceTick)
			if price.LessThan(book.BestAsk) {
				return p.meta.RoundPriceUp(price), nil
			}
		}
		return p.meta.RoundPriceUp(book.BestAsk), nil
	}

	if p.aggressive && p.meta.PriceTick.IsPositive() {
		price := book.BestAsk.Sub(p.meta.PriceTick)
		if price.GreaterThan(book.BestBid) {
			return p.meta.RoundPrice(price), nil
		}
	}
	return p.meta.RoundPrice(book.BestBid), nil
}

// shouldReplace 判定既有挂单价相对最新报价是否需要撤换。
// 两种情况触发：盘口向有利方向移动 (可以更优价格成交)，
// 或价格偏离超出容忍度 (挂单已远离盘口)。
func (p *pricer) shouldReplace(side exchange.OrderSide, orderPrice, target decimal.Decimal) (bool, string) {
	if orderPrice.IsZero() || target.IsZero() {
		return false, ""
	}

	if side == exchange.OrderSideSell {
		if target.GreaterThan(orderPrice) {
			return true, "盘口向有利方向移动"
		}
	} else {
		if target.LessThan(orderPrice) {
			return true, "盘口向有利方向移动"
		}
	}

	drift := target.Sub(orderPrice).Abs().Div(orderPrice)
	if drift.GreaterThan(p.tolerance) {
		return true, "价格偏离超出容忍度"
	}

	return false, ""
}

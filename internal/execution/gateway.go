package execution

import (
	"context"

	"github.com/shopspring/decimal"

	"jlp-hedge/internal/exchange"
)

// Gateway 是执行引擎对交易所网关的依赖，按消费方需要定义。
type Gateway interface {
	// FetchTopOfBook 返回最优买卖价，盘口为空时返回 exchange.ErrEmptyBook。
	FetchTopOfBook(ctx context.Context) (exchange.OrderBookTop, error)
	// PlacePostOnly 提交 Post-Only 限价单，
	// 会立即成交而被拒绝时返回 exchange.ErrPostOnlyRejected。
	PlacePostOnly(ctx context.Context, side exchange.OrderSide, quantity, price decimal.Decimal, reduceOnly bool, clientOrderID string) (exchange.Order, error)
	// CancelOrder 撤销订单，订单已不存在时返回 exchange.ErrOrderNotFound。
	CancelOrder(ctx context.Context, orderID string) error
	// FetchOrder 查询订单最新状态。
	FetchOrder(ctx context.Context, orderID string) (exchange.Order, error)
	// FetchOrderFills 从成交历史汇总指定订单的成交数量与均价，
	// 用于订单查询返回 not found 时的对账。
	FetchOrderFills(ctx context.Context, orderID string) (decimal.Decimal, decimal.Decimal, error)
	// MarketMeta 返回合约的报价单位、数量步长与最小下单量。
	MarketMeta(ctx context.Context) (exchange.MarketMeta, error)
}

var _ Gateway = (*exchange.Client)(nil)

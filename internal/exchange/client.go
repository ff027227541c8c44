package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"jlp-hedge/internal/config"
)

// Client 负责与交易所交互并实现重试机制。
// 价格与数量在此边界完成 float 与 decimal 的互转，内部组件只使用 decimal。
type Client struct {
	cfg      config.ExchangeConfig
	logger   *zap.Logger
	exchange *ccxt.Binanceusdm
	symbol   string

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewClient 构造 Binance USDⓈ-M 客户端。
func NewClient(cfg config.ExchangeConfig, symbol string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}

	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &Client{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
		symbol:   symbol,
	}, nil
}

// Symbol 返回交易对符号。
func (c *Client) Symbol() string {
	return c.symbol
}

// FetchTopOfBook 获取盘口一档。盘口为空时返回 ErrEmptyBook，由调用方退避重试。
func (c *Client) FetchTopOfBook(ctx context.Context) (OrderBookTop, error) {
	depth := c.cfg.DepthLevels
	if depth <= 0 {
		depth = 5
	}

	var raw ccxt.OrderBook
	err := c.callWithRetry(ctx, "fetch_order_book", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		orderBook, err := c.exchange.FetchOrderBook(
			c.symbol,
			ccxt.WithFetchOrderBookLimit(depth),
		)
		if err != nil {
			return err
		}

		raw = orderBook
		return nil
	})
	if err != nil {
		return OrderBookTop{}, err
	}

	top := convertOrderBookTop(c.symbol, raw)
	if top.Empty() {
		return OrderBookTop{}, fmt.Errorf("%w: %s", ErrEmptyBook, c.symbol)
	}
	return top, nil
}

// PlacePostOnly 提交 Post-Only 限价单。
// 订单因会立即成交被交易所拒绝时返回 ErrPostOnlyRejected，不做网关层重试。
func (c *Client) PlacePostOnly(
	ctx context.Context,
	side OrderSide,
	quantity decimal.Decimal,
	price decimal.Decimal,
	reduceOnly bool,
	clientOrderID string,
) (Order, error) {
	params := map[string]interface{}{
		"postOnly": true,
	}
	if reduceOnly {
		params["reduceOnly"] = true
	}
	if c.cfg.PositionSide != "" {
		params["positionSide"] = strings.ToUpper(c.cfg.PositionSide)
	}
	if clientOrderID != "" {
		params["clientOrderId"] = clientOrderID
	}

	var raw ccxt.Order
	err := c.callWithRetry(ctx, "create_post_only_order", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		order, err := c.exchange.CreateLimitOrder(
			c.symbol,
			string(side),
			quantity.InexactFloat64(),
			price.InexactFloat64(),
			ccxt.WithCreateLimitOrderParams(params),
		)
		if err != nil {
			return err
		}

		raw = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	return convertOrder(c.symbol, raw), nil
}

// CancelOrder 撤销订单。订单已不存在时返回 ErrOrderNotFound。
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.callWithRetry(ctx, "cancel_order", func() error {
		_, err := c.exchange.CancelOrder(
			orderID,
			ccxt.WithCancelOrderSymbol(c.symbol),
		)
		return err
	})
}

// FetchOrder 查询订单状态与累计成交。订单已不存在时返回 ErrOrderNotFound。
func (c *Client) FetchOrder(ctx context.Context, orderID string) (Order, error) {
	var raw ccxt.Order
	err := c.callWithRetry(ctx, "fetch_order", func() error {
		order, err := c.exchange.FetchOrder(
			orderID,
			ccxt.WithFetchOrderSymbol(c.symbol),
		)
		if err != nil {
			return err
		}

		raw = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	return convertOrder(c.symbol, raw), nil
}

// FetchOrderFills 从成交历史汇总指定订单的成交数量与均价。
// 用于订单已不存在时的撤单竞态对账。
func (c *Client) FetchOrderFills(ctx context.Context, orderID string) (decimal.Decimal, decimal.Decimal, error) {
	var raw []ccxt.Trade
	err := c.callWithRetry(ctx, "fetch_my_trades", func() error {
		trades, err := c.exchange.FetchMyTrades(
			ccxt.WithFetchMyTradesSymbol(c.symbol),
			ccxt.WithFetchMyTradesLimit(100),
		)
		if err != nil {
			return err
		}

		raw = trades
		return nil
	})
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	filled := decimal.Zero
	value := decimal.Zero
	for _, trade := range raw {
		if trade.Order == nil || *trade.Order != orderID {
			continue
		}
		qty := decimalFromPtr(trade.Amount)
		filled = filled.Add(qty)
		value = value.Add(qty.Mul(decimalFromPtr(trade.Price)))
	}

	avgPrice := decimal.Zero
	if filled.IsPositive() {
		avgPrice = value.Div(filled)
	}
	return filled, avgPrice, nil
}

// MarketMeta 从交易所市场元数据解析最小报价单位、数量单位与最小下单量。
func (c *Client) MarketMeta(ctx context.Context) (MarketMeta, error) {
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return MarketMeta{}, err
	}

	meta := MarketMeta{Symbol: c.symbol}

	market := c.exchange.Market(c.symbol)
	marketMap, ok := market.(map[string]interface{})
	if !ok {
		return MarketMeta{}, fmt.Errorf("无法解析 %s 市场元数据", c.symbol)
	}

	if precision, ok := marketMap["precision"].(map[string]interface{}); ok {
		if tick, ok := precision["price"].(float64); ok && tick > 0 {
			meta.PriceTick = decimal.NewFromFloat(tick)
		}
		if step, ok := precision["amount"].(float64); ok && step > 0 {
			meta.QuantityStep = decimal.NewFromFloat(step)
		}
	}
	if limits, ok := marketMap["limits"].(map[string]interface{}); ok {
		if amount, ok := limits["amount"].(map[string]interface{}); ok {
			if minVal, ok := amount["min"].(float64); ok && minVal > 0 {
				meta.MinQuantity = decimal.NewFromFloat(minVal)
			}
		}
	}

	if meta.PriceTick.IsZero() {
		return MarketMeta{}, fmt.Errorf("%s 市场元数据缺少价格精度", c.symbol)
	}

	return meta, nil
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	if c.marketsLoaded {
		return nil
	}

	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	loadErr := c.callWithRetry(ctx, "load_markets", func() error {
		_, err := c.exchange.LoadMarkets()
		return err
	})
	if loadErr != nil {
		return loadErr
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.String("symbol", c.symbol))
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := c.classifyError(err)

		if !retry {
			if !isExpectedOutcome(normalizedErr) {
				c.logger.Error("交易所调用失败",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
					zap.Error(normalizedErr),
				)
			}
			return normalizedErr
		}

		if attempt >= maxAttempts {
			c.logger.Error("交易所调用重试次数耗尽",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Error(normalizedErr),
			)
			return fmt.Errorf("%w: %v", ErrGatewayUnavailable, normalizedErr)
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// classifyError 将 ccxt 错误归一化为包内哨兵错误，并判断是否可重试。
func (c *Client) classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		message := strings.TrimSpace(ccxtErr.Message)
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return err, true
		case ccxt.OnMaintenanceErrType:
			if message == "" {
				message = "exchange under maintenance"
			}
			return fmt.Errorf("%w: %s", ErrMaintenance, message), false
		case ccxt.OrderImmediatelyFillableErrType:
			return fmt.Errorf("%w: %s", ErrPostOnlyRejected, message), false
		case ccxt.OrderNotFoundErrType:
			return fmt.Errorf("%w: %s", ErrOrderNotFound, message), false
		case ccxt.InsufficientFundsErrType:
			return fmt.Errorf("%w: %s", ErrInsufficientBalance, message), false
		case ccxt.InvalidOrderErrType:
			// GTX 被拒绝在部分接口上报 InvalidOrder，按报错文案区分。
			lower := strings.ToLower(message)
			if strings.Contains(lower, "post only") || strings.Contains(lower, "immediately") {
				return fmt.Errorf("%w: %s", ErrPostOnlyRejected, message), false
			}
			return fmt.Errorf("%w: %s", ErrInvalidOrder, message), false
		default:
			return err, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err, true
	}

	return err, false
}

// isExpectedOutcome 判断错误是否属于执行循环中预期的业务结果，避免刷错误日志。
func isExpectedOutcome(err error) bool {
	return errors.Is(err, ErrPostOnlyRejected) || errors.Is(err, ErrOrderNotFound)
}

func convertOrder(symbol string, order ccxt.Order) Order {
	result := Order{
		Symbol:       symbol,
		Price:        decimalFromPtr(order.Price),
		Quantity:     decimalFromPtr(order.Amount),
		Filled:       decimalFromPtr(order.Filled),
		AveragePrice: decimalFromPtr(order.Average),
	}

	if order.Id != nil {
		result.ID = *order.Id
	}
	if order.ClientOrderId != nil {
		result.ClientOrderID = *order.ClientOrderId
	}
	if order.Side != nil {
		result.Side = OrderSide(strings.ToLower(*order.Side))
	}
	if order.Timestamp != nil {
		result.Timestamp = time.UnixMilli(int64(*order.Timestamp)).UTC()
	}

	status := ""
	if order.Status != nil {
		status = strings.ToLower(*order.Status)
	}
	switch status {
	case "closed":
		result.Status = OrderStatusFilled
	case "canceled", "cancelled", "expired":
		result.Status = OrderStatusCancelled
	case "rejected":
		result.Status = OrderStatusRejected
	case "open":
		if result.Filled.IsPositive() {
			result.Status = OrderStatusPartiallyFilled
		} else {
			result.Status = OrderStatusOpen
		}
	default:
		result.Status = OrderStatusPending
	}

	return result
}

func convertOrderBookTop(symbol string, ob ccxt.OrderBook) OrderBookTop {
	top := OrderBookTop{Symbol: symbol}

	if len(ob.Bids) > 0 && len(ob.Bids[0]) >= 2 {
		top.BestBid = decimal.NewFromFloat(ob.Bids[0][0])
	}
	if len(ob.Asks) > 0 && len(ob.Asks[0]) >= 2 {
		top.BestAsk = decimal.NewFromFloat(ob.Asks[0][0])
	}

	if ob.Timestamp != nil {
		top.Timestamp = time.UnixMilli(*ob.Timestamp).UTC()
	} else {
		top.Timestamp = time.Now().UTC()
	}

	return top
}

func decimalFromPtr(v *float64) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(*v)
}

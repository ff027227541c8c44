package execution

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"jlp-hedge/internal/config"
	"jlp-hedge/internal/exchange"
)

// cleanupTimeout 为超时清理撤单的独立时间预算，不受执行截止时间约束。
const cleanupTimeout = 5 * time.Second

type controllerState uint8

const (
	statePlacing controllerState = iota
	stateResting
	stateReplacing
	stateDone
)

// chunkOutcome 为单个分片的执行结果。
type chunkOutcome struct {
	filled decimal.Decimal
	// value 为成交金额，用于跨分片计算加权均价。
	value          decimal.Decimal
	replaces       int
	cleanupPending bool
	err            error
}

// bookCache 在 TTL 内复用盘口快照，降低状态轮询期间的请求频率。
// 仅在单次执行内部使用，不做并发保护。
type bookCache struct {
	gateway Gateway
	ttl     time.Duration
	snap    exchange.OrderBookTop
	at      time.Time
}

func newBookCache(gateway Gateway, ttl time.Duration) *bookCache {
	return &bookCache{gateway: gateway, ttl: ttl}
}

func (b *bookCache) snapshot(ctx context.Context) (exchange.OrderBookTop, error) {
	if !b.at.IsZero() && time.Since(b.at) < b.ttl {
		return b.snap, nil
	}
	return b.refresh(ctx)
}

func (b *bookCache) refresh(ctx context.Context) (exchange.OrderBookTop, error) {
	top, err := b.gateway.FetchTopOfBook(ctx)
	if err != nil {
		return exchange.OrderBookTop{}, err
	}
	b.snap = top
	b.at = time.Now()
	return top, nil
}

func (b *bookCache) invalidate() {
	b.at = time.Time{}
}

// orderController 负责单个分片的完整生命周期：
// 挂单、轮询、撤单重挂，任一时刻最多只有一张在场订单。
type orderController struct {
	gateway    Gateway
	pricer     *pricer
	cfg        config.MakerConfig
	meta       exchange.MarketMeta
	symbol     string
	side       exchange.OrderSide
	reduceOnly bool
	books      *bookCache
	recorder   Recorder
	logger     *zap.Logger
}

func newOrderController(
	gateway Gateway,
	symbol string,
	side exchange.OrderSide,
	reduceOnly bool,
	meta exchange.MarketMeta,
	cfg config.MakerConfig,
	books *bookCache,
	recorder Recorder,
	logger *zap.Logger,
) *orderController {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &orderController{
		gateway:    gateway,
		pricer:     newPricer(meta, cfg.PriceTolerance, cfg.MaxSpreadRatio, cfg.AggressiveCross, logger),
		cfg:        cfg,
		meta:       meta,
		symbol:     symbol,
		side:       side,
		reduceOnly: reduceOnly,
		books:      books,
		recorder:   recorder,
		logger:     logger,
	}
}

// run 执行单个分片直到成交完毕、剩余量低于停止阈值或时间预算耗尽。
// 墙钟截止时间是权威终止条件，撤换次数上限只是安全兜底。
func (c *orderController) run(ctx context.Context, target decimal.Decimal, deadline time.Time) chunkOutcome {
	out := chunkOutcome{filled: decimal.Zero, value: decimal.Zero}
	remaining := target
	minRemaining := target.Mul(decimal.NewFromFloat(c.cfg.MinRemainingRatio))
	acceptFilled := target.Mul(decimal.NewFromFloat(c.cfg.PartialFillThreshold))

	var live *exchange.Order
	var restUntil time.Time
	rejects := 0
	iterations := 0

	// settle 累计单张订单的最终成交，保证每张订单只入账一次。
	settle := func(ord exchange.Order) {
		if !ord.Filled.IsPositive() {
			return
		}
		price := ord.AveragePrice
		if price.IsZero() {
			price = ord.Price
		}
		out.filled = out.filled.Add(ord.Filled)
		out.value = out.value.Add(ord.Filled.Mul(price))
		remaining = remaining.Sub(ord.Filled)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
	}

	state := statePlacing
	for state != stateDone {
		if err := ctx.Err(); err != nil {
			out.err = err
			break
		}
		if !time.Now().Before(deadline) {
			c.logger.Info("时间预算耗尽，停止当前分片",
				zap.String("symbol", c.symbol),
				zap.String("remaining", remaining.String()),
			)
			break
		}

		switch state {
		case statePlacing:
			if !remaining.IsPositive() {
				state = stateDone
				continue
			}
			quantity := c.meta.RoundQuantity(remaining)
			if !quantity.IsPositive() || remaining.LessThanOrEqual(minRemaining) || out.filled.GreaterThanOrEqual(acceptFilled) {
				c.logger.Info("剩余数量低于停止阈值，接受当前成交结果",
					zap.String("symbol", c.symbol),
					zap.String("remaining", remaining.String()),
					zap.String("min_remaining", minRemaining.String()),
				)
				state = stateDone
				continue
			}

			book, err := c.freshBook(ctx, deadline)
			if err != nil {
				out.err = err
				state = stateDone
				continue
			}
			price, err := c.pricer.quote(book, c.side)
			if err != nil {
				out.err = err
				state = stateDone
				continue
			}

			order, err := c.gateway.PlacePostOnly(ctx, c.side, quantity, price, c.reduceOnly, newClientOrderID())
			switch {
			case err == nil:
				rejects = 0
				if order.Price.IsZero() {
					order.Price = price
				}
				if order.Quantity.IsZero() {
					order.Quantity = quantity
				}
				live = &order
				restUntil = time.Now().Add(c.cfg.OrderTimeout)
				c.logger.Info("挂单成功",
					zap.String("symbol", c.symbol),
					zap.String("side", string(c.side)),
					zap.String("price", price.String()),
					zap.String("quantity", quantity.String()),
					zap.String("order_id", order.ID),
				)
				c.record(ctx, EventOrderPlaced, map[string]interface{}{
					"order_id": order.ID,
					"side":     string(c.side),
					"price":    price.String(),
					"quantity": quantity.String(),
				})
				state = stateResting

			case errors.Is(err, exchange.ErrPostOnlyRejected):
				rejects++
				if rejects > c.cfg.PlacementRetries {
					out.err = fmt.Errorf("post-only 连续被拒%d次: %w", rejects, err)
					state = stateDone
					continue
				}
				c.logger.Debug("post-only 被拒，按最新盘口重挂",
					zap.String("symbol", c.symbol),
					zap.Int("attempt", rejects),
				)
				c.books.invalidate()
				if !c.sleep(ctx, 100*time.Millisecond, deadline) {
					state = stateDone
				}

			default:
				out.err = err
				state = stateDone
			}

		case stateResting:
			if !c.sleep(ctx, c.cfg.CheckInterval, deadline) {
				state = stateDone
				continue
			}

			ord, err := c.gateway.FetchOrder(ctx, live.ID)
			if err != nil {
				if errors.Is(err, exchange.ErrOrderNotFound) {
					settle(c.reconcileLost(ctx, *live))
					live = nil
					state = statePlacing
					continue
				}
				if exchange.IsFatal(err) || errors.Is(err, exchange.ErrGatewayUnavailable) {
					out.err = err
					state = stateDone
					continue
				}
				// 瞬时查询失败，下一轮继续
				c.logger.Warn("查询订单状态失败", zap.String("order_id", live.ID), zap.Error(err))
				continue
			}

			if ord.Status.IsTerminal() {
				settle(ord)
				if ord.Status == exchange.OrderStatusFilled {
					c.logger.Info("订单完全成交",
						zap.String("order_id", ord.ID),
						zap.String("filled", ord.Filled.String()),
					)
				}
				live = nil
				state = statePlacing
				continue
			}

			if ord.Filled.GreaterThan(live.Filled) {
				c.logger.Info("订单部分成交",
					zap.String("order_id", ord.ID),
					zap.String("filled", ord.Filled.String()),
					zap.String("quantity", ord.Quantity.String()),
				)
				c.record(ctx, EventPartialFill, map[string]interface{}{
					"order_id": ord.ID,
					"filled":   ord.Filled.String(),
					"quantity": ord.Quantity.String(),
				})
				live.Filled = ord.Filled
				live.AveragePrice = ord.AveragePrice
			}

			if time.Now().After(restUntil) {
				c.logger.Info("挂单超时，撤单重挂", zap.String("order_id", live.ID))
				state = stateReplacing
				continue
			}

			book, err := c.books.snapshot(ctx)
			if err != nil {
				continue
			}
			quotePrice, err := c.pricer.quote(book, c.side)
			if err != nil {
				continue
			}
			if replace, reason := c.pricer.shouldReplace(c.side, live.Price, quotePrice); replace {
				c.logger.Info("撤单重挂",
					zap.String("order_id", live.ID),
					zap.String("reason", reason),
					zap.String("order_price", live.Price.String()),
					zap.String("quote_price", quotePrice.String()),
				)
				state = stateReplacing
			}

		case stateReplacing:
			final, err := c.withdraw(ctx, *live)
			if err != nil {
				// 撤单失败且订单可能仍在场上，交由收尾清理兜底
				out.err = err
				state = stateDone
				continue
			}
			settle(final)
			c.record(ctx, EventOrderReplaced, map[string]interface{}{
				"order_id": live.ID,
				"filled":   final.Filled.String(),
			})
			live = nil
			out.replaces++
			iterations++
			if iterations >= c.cfg.MaxIterations {
				c.logger.Warn("达到撤换次数安全上限，停止当前分片",
					zap.String("symbol", c.symbol),
					zap.Int("iterations", iterations),
				)
				state = stateDone
				continue
			}
			state = statePlacing
		}
	}

	if live != nil {
		final, ok := c.cleanup(*live)
		settle(final)
		if !ok {
			out.cleanupPending = true
		}
	}

	return out
}

// withdraw 撤销挂单并返回其最终状态。撤单与成交存在竞态，
// 以撤单后的订单查询或成交历史为准，绝不凭空推断成交数量。
// 返回错误时订单可能仍在场上，调用方不得继续挂新单。
func (c *orderController) withdraw(ctx context.Context, live exchange.Order) (exchange.Order, error) {
	// 先查一次，订单可能在撤单前已经成交
	ord, err := c.gateway.FetchOrder(ctx, live.ID)
	if err == nil && ord.Status.IsTerminal() {
		return ord, nil
	}
	if errors.Is(err, exchange.ErrOrderNotFound) {
		return c.reconcileLost(ctx, live), nil
	}

	if err := c.gateway.CancelOrder(ctx, live.ID); err != nil {
		if errors.Is(err, exchange.ErrOrderNotFound) {
			// 撤单瞬间订单已终结，典型的撤单成交竞态
			if final, qErr := c.gateway.FetchOrder(ctx, live.ID); qErr == nil {
				return final, nil
			}
			return c.reconcileLost(ctx, live), nil
		}
		c.logger.Warn("撤单失败", zap.String("order_id", live.ID), zap.Error(err))
		if final, qErr := c.gateway.FetchOrder(ctx, live.ID); qErr == nil && final.Status.IsTerminal() {
			return final, nil
		}
		return live, fmt.Errorf("撤单失败且订单未终结: %w", err)
	}

	// 撤单成功后重新查询，拿到撤单前的最终成交数量
	if final, qErr := c.gateway.FetchOrder(ctx, live.ID); qErr == nil {
		return final, nil
	}
	return live, nil
}

// reconcileLost 处理订单查询返回 not found 的场景：
// 从成交历史汇总该订单的真实成交，历史不可用时按全部成交处理，
// 宁可少补仓也不能因重复挂单导致超额成交。
func (c *orderController) reconcileLost(ctx context.Context, live exchange.Order) exchange.Order {
	filled, avg, err := c.gateway.FetchOrderFills(ctx, live.ID)
	if err != nil {
		c.logger.Warn("订单丢失且成交历史不可用，按全部成交处理",
			zap.String("order_id", live.ID),
			zap.Error(err),
		)
		live.Filled = live.Quantity
		if live.AveragePrice.IsZero() {
			live.AveragePrice = live.Price
		}
		live.Status = exchange.OrderStatusFilled
		return live
	}

	c.logger.Info("按成交历史对账丢失订单",
		zap.String("order_id", live.ID),
		zap.String("filled", filled.String()),
	)
	live.Filled = filled
	if avg.IsPositive() {
		live.AveragePrice = avg
	}
	live.Status = exchange.OrderStatusCancelled
	return live
}

// cleanup 在时间预算耗尽后尽力撤销在场订单。父 ctx 可能已取消，
// 使用独立的短时预算。返回值第二项为假时表示场上可能残留挂单。
func (c *orderController) cleanup(live exchange.Order) (exchange.Order, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	err := c.gateway.CancelOrder(ctx, live.ID)
	if errors.Is(err, exchange.ErrOrderNotFound) {
		return c.reconcileLost(ctx, live), true
	}
	if err != nil {
		c.logger.Error("超时清理撤单失败，场上可能残留挂单",
			zap.String("order_id", live.ID),
			zap.Error(err),
		)
		if final, qErr := c.gateway.FetchOrder(ctx, live.ID); qErr == nil {
			return final, final.Status.IsTerminal()
		}
		return live, false
	}

	if final, qErr := c.gateway.FetchOrder(ctx, live.ID); qErr == nil {
		return final, true
	}
	return live, true
}

// freshBook 拉取最新盘口，对空盘口与瞬时错误做有界重试。
func (c *orderController) freshBook(ctx context.Context, deadline time.Time) (exchange.OrderBookTop, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.EmptyBookRetries; attempt++ {
		if attempt > 0 {
			if !c.sleep(ctx, c.cfg.EmptyBookBackoff, deadline) {
				break
			}
		}
		book, err := c.books.refresh(ctx)
		if err == nil {
			return book, nil
		}
		lastErr = err
		if exchange.IsFatal(err) {
			break
		}
		c.logger.Warn("获取盘口失败",
			zap.String("symbol", c.symbol),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return exchange.OrderBookTop{}, lastErr
}

// sleep 等待指定时长，ctx 取消或越过墙钟截止时间时返回假。
func (c *orderController) sleep(ctx context.Context, d time.Duration, deadline time.Time) bool {
	if wait := time.Until(deadline); wait < d {
		d = wait
	}
	if d <= 0 {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return time.Now().Before(deadline)
	}
}

func (c *orderController) record(ctx context.Context, typ EventType, payload map[string]interface{}) {
	c.recorder.Record(ctx, Event{
		Type:      typ,
		Symbol:    c.symbol,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

// newClientOrderID 生成带固定前缀的客户端订单号，便于在成交历史中识别本引擎的订单。
func newClientOrderID() string {
	return fmt.Sprintf("maker_%016x", rand.Uint64())
}

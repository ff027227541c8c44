package execution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"jlp-hedge/internal/config"
	"jlp-hedge/internal/exchange"
)

// Executor 通过被动 Maker 挂单执行调仓目标。
// 每次 Execute 调用自包含：行情缓存、挂单状态都只存在于调用内部，
// 同一 Executor 可被不同调仓并发使用 (不同 symbol 各建一个实例)。
type Executor struct {
	gateway  Gateway
	recorder Recorder
	logger   *zap.Logger
}

// NewExecutor 创建执行器。recorder 为 nil 时事件被丢弃。
func NewExecutor(gateway Gateway, recorder Recorder, logger *zap.Logger) *Executor {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		gateway:  gateway,
		recorder: recorder,
		logger:   logger,
	}
}

// Execute 执行一次调仓，在 cfg.TotalTimeout 墙钟预算内尽力成交目标数量，
// 预算耗尽时返回当前已成交结果并撤销在场订单。
func (e *Executor) Execute(ctx context.Context, delta PositionDelta, cfg config.MakerConfig) Result {
	start := time.Now()
	deadline := start.Add(cfg.TotalTimeout)
	side := delta.OrderSide()

	e.logger.Info("开始执行调仓",
		zap.String("symbol", delta.Symbol),
		zap.String("delta_side", string(delta.Side)),
		zap.String("quantity", delta.Quantity.String()),
		zap.Duration("total_timeout", cfg.TotalTimeout),
	)

	meta, err := e.gateway.MarketMeta(ctx)
	if err != nil {
		e.logger.Error("获取合约元信息失败", zap.String("symbol", delta.Symbol), zap.Error(err))
		result := buildResult(delta, delta.Quantity, decimal.Zero, decimal.Zero, 0, time.Since(start), cfg.PartialFillThreshold, false, err)
		e.finish(ctx, result)
		return result
	}

	target := meta.RoundQuantity(delta.Quantity)
	if !target.IsPositive() {
		e.logger.Info("目标数量低于最小下单量，跳过执行",
			zap.String("symbol", delta.Symbol),
			zap.String("quantity", delta.Quantity.String()),
			zap.String("min_quantity", meta.MinQuantity.String()),
		)
		result := Result{
			Symbol:         delta.Symbol,
			Status:         StatusSkipped,
			TargetQuantity: delta.Quantity,
			FilledQuantity: decimal.Zero,
			Elapsed:        time.Since(start),
		}
		e.finish(ctx, result)
		return result
	}

	books := newBookCache(e.gateway, cfg.BookCacheTTL)
	chunks := e.planChunks(ctx, target, side, meta, cfg.Split, books)

	filled := decimal.Zero
	value := decimal.Zero
	replaces := 0
	cleanupPending := false
	var execErr error

	for i, chunk := range chunks {
		if ctx.Err() != nil {
			execErr = ctx.Err()
			break
		}
		if !time.Now().Before(deadline) {
			e.logger.Info("时间预算耗尽，放弃剩余分片",
				zap.String("symbol", delta.Symbol),
				zap.Int("remaining_chunks", len(chunks)-i),
			)
			break
		}

		e.logger.Info("执行分片",
			zap.String("symbol", delta.Symbol),
			zap.Int("chunk", i+1),
			zap.Int("total_chunks", len(chunks)),
			zap.String("quantity", chunk.String()),
		)

		ctrl := newOrderController(e.gateway, delta.Symbol, side, delta.ReduceOnly(), meta, cfg, books, e.recorder, e.logger)
		outcome := ctrl.run(ctx, chunk, deadline)

		filled = filled.Add(outcome.filled)
		value = value.Add(outcome.value)
		replaces += outcome.replaces
		cleanupPending = cleanupPending || outcome.cleanupPending

		e.recorder.Record(ctx, Event{
			Type:      EventChunkCompleted,
			Symbol:    delta.Symbol,
			Timestamp: time.Now(),
			Payload: map[string]interface{}{
				"chunk":    i + 1,
				"target":   chunk.String(),
				"filled":   outcome.filled.String(),
				"replaces": outcome.replaces,
			},
		})

		if outcome.err != nil {
			execErr = outcome.err
			e.logger.Error("分片执行失败，放弃剩余分片",
				zap.String("symbol", delta.Symbol),
				zap.Int("chunk", i+1),
				zap.Error(outcome.err),
			)
			break
		}
	}

	result := buildResult(delta, target, filled, value, replaces, time.Since(start), cfg.PartialFillThreshold, cleanupPending, execErr)
	e.finish(ctx, result)
	return result
}

// planChunks 按盘口参考价拆分目标数量。盘口不可用时退化为单分片，
// 拆分只是降低市场冲击的优化，不应阻塞执行。
func (e *Executor) planChunks(
	ctx context.Context,
	target decimal.Decimal,
	side exchange.OrderSide,
	meta exchange.MarketMeta,
	cfg config.SplitConfig,
	books *bookCache,
) []decimal.Decimal {
	book, err := books.snapshot(ctx)
	if err != nil {
		e.logger.Warn("拆分前获取盘口失败，按单分片执行", zap.Error(err))
		return []decimal.Decimal{target}
	}

	ref := book.BestBid
	if side == exchange.OrderSideSell {
		ref = book.BestAsk
	}

	chunks := splitQuantities(target, ref, meta, cfg)
	if len(chunks) > 1 {
		e.logger.Info("订单拆分",
			zap.String("quantity", target.String()),
			zap.Int("chunks", len(chunks)),
		)
	}
	return chunks
}

func (e *Executor) finish(ctx context.Context, result Result) {
	e.recorder.Record(ctx, Event{
		Type:      EventExecutionCompleted,
		Symbol:    result.Symbol,
		Timestamp: time.Now(),
		Payload: map[string]interface{}{
			"status":          string(result.Status),
			"target":          result.TargetQuantity.String(),
			"filled":          result.FilledQuantity.String(),
			"average_price":   result.AveragePrice.String(),
			"replaces":        result.Replaces,
			"elapsed_ms":      result.Elapsed.Milliseconds(),
			"cleanup_pending": result.CleanupPending,
			"error":           result.Error,
		},
	})

	e.logger.Info("调仓执行完成",
		zap.String("symbol", result.Symbol),
		zap.String("status", string(result.Status)),
		zap.String("target", result.TargetQuantity.String()),
		zap.String("filled", result.FilledQuantity.String()),
		zap.String("average_price", result.AveragePrice.String()),
		zap.Int("replaces", result.Replaces),
		zap.Duration("elapsed", result.Elapsed),
	)
}

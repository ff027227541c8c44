package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"jlp-hedge/internal/config"
	"jlp-hedge/internal/execution"
	"jlp-hedge/internal/store"
)

// App 聚合核心依赖并驱动一次完整的调仓执行。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
	deltas []execution.PositionDelta
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store, deltas []execution.PositionDelta) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
		deltas: deltas,
	}
}

// Run 执行全部调仓目标并输出汇总。存在失败目标时返回错误，
// 部分成交与跳过不视为失败。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("对冲执行器已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.cfg.Exchange.Name),
		zap.Int("deltas", len(a.deltas)),
	)

	orch, err := newOrchestrator(a.cfg, a.deltas, a.logger, a.store)
	if err != nil {
		return err
	}

	if a.cfg.App.MonitorPort > 0 {
		if err := startMonitorServer(ctx, orch.Monitor(), a.cfg.App.MonitorPort, a.logger); err != nil {
			a.logger.Warn("启动事件查询接口失败", zap.Error(err))
		}
	}

	results := orch.Run(ctx)

	var success, partial, skipped, failed int
	for _, r := range results {
		switch r.Status {
		case execution.StatusSuccess:
			success++
		case execution.StatusPartial:
			partial++
		case execution.StatusSkipped:
			skipped++
		default:
			failed++
		}

		a.logger.Info(fmt.Sprintf("%s %s", statusMark(r.Status), r.Symbol),
			zap.String("status", string(r.Status)),
			zap.String("target", r.TargetQuantity.String()),
			zap.String("filled", r.FilledQuantity.String()),
			zap.String("average_price", r.AveragePrice.String()),
			zap.Int("replaces", r.Replaces),
			zap.Duration("elapsed", r.Elapsed),
			zap.String("error", r.Error),
		)
		if r.CleanupPending {
			a.logger.Warn("场上可能残留挂单，需要人工确认", zap.String("symbol", r.Symbol))
		}
	}

	a.logger.Info("全部调仓执行完成",
		zap.Int("success", success),
		zap.Int("partial", partial),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)

	if failed > 0 {
		return fmt.Errorf("存在执行失败的调仓目标: %d/%d", failed, len(results))
	}
	return nil
}

func statusMark(s execution.Status) string {
	switch s {
	case execution.StatusSuccess:
		return "✓"
	case execution.StatusPartial:
		return "△"
	case execution.StatusSkipped:
		return "○"
	default:
		return "✗"
	}
}

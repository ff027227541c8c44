package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"jlp-hedge/internal/config"
	"jlp-hedge/internal/exchange"
	"jlp-hedge/internal/execution"
	"jlp-hedge/internal/monitor"
	"jlp-hedge/internal/store"
)

// symbolPipeline 将一个调仓目标与其专属的网关和执行器绑定。
// 不同交易对互不共享可变状态，可以安全并发执行。
type symbolPipeline struct {
	delta    execution.PositionDelta
	executor *execution.Executor
}

type orchestrator struct {
	pipelines []symbolPipeline
	monitor   *monitor.Service
	maker     config.MakerConfig
	logger    *zap.Logger
}

func (o *orchestrator) Monitor() *monitor.Service {
	return o.monitor
}

func newOrchestrator(cfg *config.Config, deltas []execution.PositionDelta, logger *zap.Logger, store *store.Store) (*orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(deltas) == 0 {
		return nil, fmt.Errorf("没有需要执行的调仓目标")
	}

	monitorSvc, err := monitor.NewService(store, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化事件服务失败: %w", err)
	}

	seen := make(map[string]bool, len(deltas))
	pipelines := make([]symbolPipeline, 0, len(deltas))
	for _, delta := range deltas {
		// 同一交易对并发执行会互相抢占盘口，直接拒绝
		if seen[delta.Symbol] {
			return nil, fmt.Errorf("调仓目标重复: %s", delta.Symbol)
		}
		seen[delta.Symbol] = true

		client, err := exchange.NewClient(cfg.Exchange, delta.Symbol, logger)
		if err != nil {
			return nil, fmt.Errorf("初始化交易所网关失败 (%s): %w", delta.Symbol, err)
		}

		executor := execution.NewExecutor(client, monitorSvc, logger.With(zap.String("symbol", delta.Symbol)))
		pipelines = append(pipelines, symbolPipeline{
			delta:    delta,
			executor: executor,
		})
	}

	return &orchestrator{
		pipelines: pipelines,
		monitor:   monitorSvc,
		maker:     cfg.Maker,
		logger:    logger,
	}, nil
}

// Run 并发执行全部调仓目标，返回与输入同序的结果。
// 单个目标失败不会中断其他目标，结果里逐项携带各自的状态与错误。
func (o *orchestrator) Run(ctx context.Context) []execution.Result {
	results := make([]execution.Result, len(o.pipelines))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range o.pipelines {
		g.Go(func() error {
			results[i] = p.executor.Execute(gctx, p.delta, o.maker)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

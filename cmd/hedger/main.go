package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"jlp-hedge/internal/app"
	"jlp-hedge/internal/config"
	"jlp-hedge/internal/execution"
	"jlp-hedge/internal/log"
	"jlp-hedge/internal/store"
)

// deltaFlags 支持重复传入 -delta 参数。
type deltaFlags []string

func (d *deltaFlags) String() string {
	return strings.Join(*d, ",")
}

func (d *deltaFlags) Set(value string) error {
	*d = append(*d, value)
	return nil
}

func main() {
	var configPath string
	var rawDeltas deltaFlags
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.Var(&rawDeltas, "delta", "调仓目标，格式 SYMBOL:SIDE:QTY，可重复 (如 -delta SOL/USDT:USDT:increase_short:1.5)")
	flag.Parse()

	deltas, err := parseDeltas(rawDeltas)
	if err != nil {
		fmt.Fprintf(os.Stderr, "解析调仓目标失败: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		logger.Error("初始化数据库失败", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}()

	hedgeApp := app.New(cfg, logger, sqliteStore, deltas)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := hedgeApp.Run(ctx); err != nil {
		logger.Error("执行异常", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("已安全退出")
}

// parseDeltas 解析 SYMBOL:SIDE:QTY 形式的调仓目标。
// 合约符号自身可能含有冒号 (如 SOL/USDT:USDT)，从右侧取方向与数量。
func parseDeltas(raw []string) ([]execution.PositionDelta, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("至少需要一个 -delta 参数")
	}

	deltas := make([]execution.PositionDelta, 0, len(raw))
	for _, item := range raw {
		parts := strings.Split(item, ":")
		if len(parts) < 3 {
			return nil, fmt.Errorf("格式错误 %q, 期望 SYMBOL:SIDE:QTY", item)
		}

		qtyStr := parts[len(parts)-1]
		sideStr := parts[len(parts)-2]
		symbol := strings.Join(parts[:len(parts)-2], ":")
		if symbol == "" {
			return nil, fmt.Errorf("格式错误 %q, 交易对不能为空", item)
		}

		var side execution.DeltaSide
		switch strings.ToLower(sideStr) {
		case string(execution.DeltaIncreaseShort):
			side = execution.DeltaIncreaseShort
		case string(execution.DeltaDecreaseShort):
			side = execution.DeltaDecreaseShort
		default:
			return nil, fmt.Errorf("未知调仓方向 %q, 期望 increase_short 或 decrease_short", sideStr)
		}

		qty, err := decimal.NewFromString(qtyStr)
		if err != nil {
			return nil, fmt.Errorf("数量无效 %q: %w", qtyStr, err)
		}
		if !qty.IsPositive() {
			return nil, fmt.Errorf("数量必须为正: %q", item)
		}

		deltas = append(deltas, execution.PositionDelta{
			Symbol:   symbol,
			Side:     side,
			Quantity: qty,
		})
	}

	return deltas, nil
}

package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Maker    MakerConfig    `mapstructure:"maker"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
	// MonitorPort 为事件查询接口监听端口，0 表示不启动。
	MonitorPort int `mapstructure:"monitor_port"`
}

// ExchangeConfig 描述交易所连接信息。
type ExchangeConfig struct {
	Name         string      `mapstructure:"name"`
	APIKey       string      `mapstructure:"api_key"`
	APISecret    string      `mapstructure:"api_secret"`
	UseSandbox   bool        `mapstructure:"use_sandbox"`
	PositionSide string      `mapstructure:"position_side"`
	DepthLevels  int64       `mapstructure:"depth_levels"`
	Retry        RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制网关层重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// MakerConfig 控制 Maker 挂单执行行为。
// 配置加载后不可变，按值传入每次执行调用，不存在全局可变状态。
type MakerConfig struct {
	// OrderTimeout 为单次挂单超时时间，超时后撤单重挂。
	OrderTimeout time.Duration `mapstructure:"order_timeout"`
	// CheckInterval 为订单状态轮询间隔。
	CheckInterval time.Duration `mapstructure:"check_interval"`
	// TotalTimeout 为整次调仓的墙钟时间上限。
	TotalTimeout time.Duration `mapstructure:"total_timeout"`
	// PriceTolerance 为盘口变化容忍度，超过则撤单重挂。
	PriceTolerance float64 `mapstructure:"price_tolerance"`
	// PartialFillThreshold 为部分成交阈值，达到此比例视为成功。
	PartialFillThreshold float64 `mapstructure:"partial_fill_threshold"`
	// MinRemainingRatio 为最小剩余比例，低于此值停止继续挂单。
	MinRemainingRatio float64 `mapstructure:"min_remaining_ratio"`
	// MaxSpreadRatio 为价差合理性上限，超过后回退到中间价挂单。
	MaxSpreadRatio float64 `mapstructure:"max_spread_ratio"`
	// AggressiveCross 为真时在对手价内一个报价单位挂单，提高成交概率。
	AggressiveCross bool `mapstructure:"aggressive_cross"`
	// BookCacheTTL 为盘口快照的本地缓存时长，仅作用于单次执行内部。
	BookCacheTTL time.Duration `mapstructure:"book_cache_ttl"`
	// MaxIterations 为单个分片的撤单重挂次数安全上限，墙钟超时仍是权威终止条件。
	MaxIterations int `mapstructure:"max_iterations"`
	// EmptyBookRetries 为盘口为空时的有界重试次数。
	EmptyBookRetries int `mapstructure:"empty_book_retries"`
	// EmptyBookBackoff 为盘口为空时的重试间隔。
	EmptyBookBackoff time.Duration `mapstructure:"empty_book_backoff"`
	// PlacementRetries 为 Post-Only 被拒绝后的有界重挂次数。
	PlacementRetries int `mapstructure:"placement_retries"`

	Split SplitConfig `mapstructure:"split"`
}

// SplitConfig 控制大额订单拆分。金额均以计价货币 (USD) 计。
type SplitConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Threshold float64 `mapstructure:"threshold"`
	MinValue  float64 `mapstructure:"min_value"`
	MaxValue  float64 `mapstructure:"max_value"`
	Random    bool    `mapstructure:"random"`
}

// DatabaseConfig 管理事件库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if c.Exchange.DepthLevels <= 0 {
		err = multierr.Append(err, errors.New("exchange.depth_levels 必须大于0"))
	}

	err = multierr.Append(err, c.Maker.validate())

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

func (m MakerConfig) validate() error {
	var err error

	if m.OrderTimeout <= 0 {
		err = multierr.Append(err, errors.New("maker.order_timeout 必须大于0"))
	}
	if m.CheckInterval <= 0 {
		err = multierr.Append(err, errors.New("maker.check_interval 必须大于0"))
	}
	if m.TotalTimeout <= 0 {
		err = multierr.Append(err, errors.New("maker.total_timeout 必须大于0"))
	}
	if m.TotalTimeout < m.OrderTimeout {
		err = multierr.Append(err, errors.New("maker.total_timeout 不应小于 order_timeout"))
	}
	if m.PriceTolerance <= 0 || m.PriceTolerance >= 1 {
		err = multierr.Append(err, errors.New("maker.price_tolerance 必须位于(0,1)"))
	}
	if m.PartialFillThreshold <= 0 || m.PartialFillThreshold > 1 {
		err = multierr.Append(err, errors.New("maker.partial_fill_threshold 必须位于(0,1]"))
	}
	if m.MinRemainingRatio < 0 || m.MinRemainingRatio >= 1 {
		err = multierr.Append(err, errors.New("maker.min_remaining_ratio 必须位于[0,1)"))
	}
	if m.MaxSpreadRatio <= 0 || m.MaxSpreadRatio >= 1 {
		err = multierr.Append(err, errors.New("maker.max_spread_ratio 必须位于(0,1)"))
	}
	if m.MaxIterations <= 0 {
		err = multierr.Append(err, errors.New("maker.max_iterations 必须大于0"))
	}
	if m.EmptyBookRetries <= 0 {
		err = multierr.Append(err, errors.New("maker.empty_book_retries 必须大于0"))
	}
	if m.PlacementRetries <= 0 {
		err = multierr.Append(err, errors.New("maker.placement_retries 必须大于0"))
	}
	if m.Split.Enabled {
		if m.Split.MinValue <= 0 || m.Split.MaxValue <= 0 {
			err = multierr.Append(err, errors.New("maker.split.min_value/max_value 必须为正"))
		}
		if m.Split.MinValue > m.Split.MaxValue {
			err = multierr.Append(err, errors.New("maker.split.min_value 不能大于 max_value"))
		}
		if m.Split.Threshold < m.Split.MaxValue {
			err = multierr.Append(err, errors.New("maker.split.threshold 不应小于 max_value"))
		}
	}

	return err
}

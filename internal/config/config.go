package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "hedge"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.monitor_port", 0)

	v.SetDefault("exchange.name", "binanceusdm")
	v.SetDefault("exchange.use_sandbox", false)
	v.SetDefault("exchange.position_side", "SHORT")
	v.SetDefault("exchange.depth_levels", 5)
	v.SetDefault("exchange.retry.max_attempts", 3)
	v.SetDefault("exchange.retry.min_delay", "500ms")
	v.SetDefault("exchange.retry.max_delay", "2s")

	v.SetDefault("maker.order_timeout", "5s")
	v.SetDefault("maker.check_interval", "200ms")
	v.SetDefault("maker.total_timeout", "10m")
	v.SetDefault("maker.price_tolerance", 0.0002)
	v.SetDefault("maker.partial_fill_threshold", 0.95)
	v.SetDefault("maker.min_remaining_ratio", 0.05)
	v.SetDefault("maker.max_spread_ratio", 0.01)
	v.SetDefault("maker.aggressive_cross", false)
	v.SetDefault("maker.book_cache_ttl", "500ms")
	v.SetDefault("maker.max_iterations", 120)
	v.SetDefault("maker.empty_book_retries", 3)
	v.SetDefault("maker.empty_book_backoff", "1s")
	v.SetDefault("maker.placement_retries", 5)
	v.SetDefault("maker.split.enabled", true)
	v.SetDefault("maker.split.threshold", 500.0)
	v.SetDefault("maker.split.min_value", 100.0)
	v.SetDefault("maker.split.max_value", 300.0)
	v.SetDefault("maker.split.random", true)

	v.SetDefault("database.path", "data/jlp_hedge.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

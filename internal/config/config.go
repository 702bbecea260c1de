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
	envPrefix         = "gateway"
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

	v.SetDefault("broker.name", "binance")
	v.SetDefault("broker.use_sandbox", true)
	v.SetDefault("broker.timeout", "5s")
	v.SetDefault("broker.margin_currency", "USDT")
	v.SetDefault("broker.depth_levels", 50)

	v.SetDefault("feed.url", "wss://stream.example.com/quotes")
	v.SetDefault("feed.socket_token", "")
	v.SetDefault("feed.socket_key", "")
	v.SetDefault("feed.handshake_timeout", "10s")
	v.SetDefault("feed.poll_timeout", "5s")

	v.SetDefault("trading.enabled", false)
	v.SetDefault("trading.symbol", "BTC/USDT")
	v.SetDefault("trading.index_symbol", "BTC/USDT")
	v.SetDefault("trading.exchange", "NSE")
	v.SetDefault("trading.segment", "CASH")
	v.SetDefault("trading.product", "CNC")
	v.SetDefault("trading.order_type", "LIMIT")
	v.SetDefault("trading.transaction_type", "BUY")
	v.SetDefault("trading.duration", "DAY")
	v.SetDefault("trading.price", 100.0)
	v.SetDefault("trading.quantity", 10)
	v.SetDefault("trading.timeout", "5s")
	v.SetDefault("trading.candle_interval", "1h")
	v.SetDefault("trading.candle_lookback", "24h")

	v.SetDefault("database.path", "data/gateway.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.port", 8085)

	v.SetDefault("scheduler.loop_interval", "1m")
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

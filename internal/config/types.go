package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了网关运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Trading   TradingConfig   `mapstructure:"trading"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// BrokerConfig 描述交易客户端的连接与认证信息。
// 密钥对对网关而言是不透明的，仅透传给底层 SDK。
type BrokerConfig struct {
	Name           string        `mapstructure:"name"`
	APIKey         string        `mapstructure:"api_key"`
	APISecret      string        `mapstructure:"api_secret"`
	UseSandbox     bool          `mapstructure:"use_sandbox"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MarginCurrency string        `mapstructure:"margin_currency"`
	DepthLevels    int           `mapstructure:"depth_levels"`
}

// FeedConfig 描述行情推送通道的连接信息，使用独立于交易端的密钥对。
type FeedConfig struct {
	URL              string        `mapstructure:"url"`
	SocketToken      string        `mapstructure:"socket_token"`
	SocketKey        string        `mapstructure:"socket_key"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	PollTimeout      time.Duration `mapstructure:"poll_timeout"`
}

// TradingConfig 控制演示流程使用的委托参数。
type TradingConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Symbol          string        `mapstructure:"symbol"`
	IndexSymbol     string        `mapstructure:"index_symbol"`
	Exchange        string        `mapstructure:"exchange"`
	Segment         string        `mapstructure:"segment"`
	Product         string        `mapstructure:"product"`
	OrderType       string        `mapstructure:"order_type"`
	TransactionType string        `mapstructure:"transaction_type"`
	Duration        string        `mapstructure:"duration"`
	Price           float64       `mapstructure:"price"`
	Quantity        int64         `mapstructure:"quantity"`
	Timeout         time.Duration `mapstructure:"timeout"`
	CandleInterval  string        `mapstructure:"candle_interval"`
	CandleLookback  time.Duration `mapstructure:"candle_lookback"`
}

// DatabaseConfig 管理调用流水库连接。
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

// MonitorConfig 控制调用流水查询接口。
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// SchedulerConfig 控制演示流程的节奏。
type SchedulerConfig struct {
	LoopInterval time.Duration `mapstructure:"loop_interval"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Broker.Name == "" {
		err = multierr.Append(err, errors.New("broker.name 不能为空"))
	}
	if c.Broker.Timeout <= 0 {
		err = multierr.Append(err, errors.New("broker.timeout 必须大于0"))
	}
	if c.Broker.MarginCurrency == "" {
		err = multierr.Append(err, errors.New("broker.margin_currency 不能为空"))
	}
	if c.Broker.DepthLevels <= 0 {
		err = multierr.Append(err, errors.New("broker.depth_levels 必须大于0"))
	}
	if c.Feed.URL == "" {
		err = multierr.Append(err, errors.New("feed.url 不能为空"))
	}
	if c.Feed.HandshakeTimeout <= 0 {
		err = multierr.Append(err, errors.New("feed.handshake_timeout 必须大于0"))
	}
	if c.Feed.PollTimeout < 0 {
		err = multierr.Append(err, errors.New("feed.poll_timeout 不能为负"))
	}
	if c.Trading.Symbol == "" {
		err = multierr.Append(err, errors.New("trading.symbol 不能为空"))
	}
	if c.Trading.IndexSymbol == "" {
		err = multierr.Append(err, errors.New("trading.index_symbol 不能为空"))
	}
	if c.Trading.Quantity <= 0 {
		err = multierr.Append(err, errors.New("trading.quantity 必须大于0"))
	}
	if c.Trading.Price < 0 {
		err = multierr.Append(err, errors.New("trading.price 不能为负"))
	}
	if c.Trading.Timeout <= 0 {
		err = multierr.Append(err, errors.New("trading.timeout 必须大于0"))
	}
	if c.Trading.CandleLookback <= 0 {
		err = multierr.Append(err, errors.New("trading.candle_lookback 必须大于0"))
	}
	if c.Trading.Enabled && !c.Broker.UseSandbox {
		err = multierr.Append(err, errors.New("trading.enabled 需要 broker.use_sandbox=true"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
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
	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		err = multierr.Append(err, errors.New("monitor.port 必须位于(0,65535]"))
	}
	if c.Scheduler.LoopInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.loop_interval 必须大于0"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

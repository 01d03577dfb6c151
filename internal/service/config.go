// internal/service/config.go
package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 对应 config/config.toml
type Config struct {
	Live    LiveConfig    `mapstructure:"Live"`
	Logging LoggingConfig `mapstructure:"Logging"`
	Alpaca  AlpacaConfig  `mapstructure:"Alpaca"`
	China   ChinaConfig   `mapstructure:"China"`
}

// LiveConfig 定义了轮询循环的参数
type LiveConfig struct {
	Interval    time.Duration // 两次 tick 之间的休眠
	BarWidth    string        // 首根 K 线周期, 例如 "5m"
	CallTimeout time.Duration // 每次后端调用的超时
	MetricsAddr string        // 为空则不启动 /metrics
}

type LoggingConfig struct {
	Level string
}

// AlpacaConfig 定义了美股后端 (Alpaca) 的连接信息
type AlpacaConfig struct {
	APIKey      string
	APISecret   string
	BaseURL     string // paper: https://paper-api.alpaca.markets
	DataURL     string // https://data.alpaca.markets
	Feed        string // "iex" 或 "sip"
	ProxySymbol string
}

// ChinaConfig 定义了 A 股后端 (IBKR) 的连接信息
type ChinaConfig struct {
	Enabled     bool
	BridgeURL   string // IBKR 网关桥的 websocket 地址, 为空则使用占位后端
	ProxySymbol string
	SecType     string
	Exchange    string
	Currency    string
	Holidays    []string // "2026-10-01" 格式的休市日
}

// ErrConfiguration 配置错误, 启动时致命
var ErrConfiguration = errors.New("configuration error")

// setDefaults 注册所有 key, 这样环境变量也能被 Unmarshal 读到
func setDefaults(v *viper.Viper) {
	v.SetDefault("Live.Interval", "30s")
	v.SetDefault("Live.BarWidth", "5m")
	v.SetDefault("Live.CallTimeout", "10s")
	v.SetDefault("Live.MetricsAddr", "")

	v.SetDefault("Logging.Level", "info")

	v.SetDefault("Alpaca.APIKey", "")
	v.SetDefault("Alpaca.APISecret", "")
	v.SetDefault("Alpaca.BaseURL", "https://paper-api.alpaca.markets")
	v.SetDefault("Alpaca.DataURL", "https://data.alpaca.markets")
	v.SetDefault("Alpaca.Feed", "iex")
	v.SetDefault("Alpaca.ProxySymbol", "SPY")

	v.SetDefault("China.Enabled", true)
	v.SetDefault("China.BridgeURL", "")
	v.SetDefault("China.ProxySymbol", "510300")
	v.SetDefault("China.SecType", "STK")
	v.SetDefault("China.Exchange", "SSE")
	v.SetDefault("China.Currency", "CNH")
	v.SetDefault("China.Holidays", []string{})
}

// LoadConfig 读取并解析配置文件
// 密钥可以放在 .env 或环境变量中, 例如 TRADER_ALPACA_APIKEY
func LoadConfig(configPath string) (*Config, error) {
	// .env 不存在时静默忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	// 设置配置文件的名称、类型和路径
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("TRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: config file not found in %s", ErrConfiguration, configPath)
		}
		return nil, fmt.Errorf("%w: read config: %v", ErrConfiguration, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: decode config: %v", ErrConfiguration, err)
	}

	return &cfg, nil
}

// Validate 检查启动所需的配置. 缺少凭证等问题在这里暴露, 运行时不可恢复
func (c *Config) Validate() error {
	var problems []string

	if c.Live.Interval <= 0 {
		problems = append(problems, "Live.Interval must be > 0")
	}
	if c.Live.CallTimeout <= 0 {
		problems = append(problems, "Live.CallTimeout must be > 0")
	}
	if _, err := ParseIntervalDuration(c.Live.BarWidth); err != nil {
		problems = append(problems, fmt.Sprintf("Live.BarWidth: %v", err))
	}

	if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
		problems = append(problems, "Alpaca.APIKey and Alpaca.APISecret are required")
	}
	if c.Alpaca.BaseURL == "" || c.Alpaca.DataURL == "" {
		problems = append(problems, "Alpaca.BaseURL and Alpaca.DataURL are required")
	}
	if c.Alpaca.ProxySymbol == "" {
		problems = append(problems, "Alpaca.ProxySymbol is required")
	}

	if c.China.Enabled {
		if c.China.ProxySymbol == "" {
			problems = append(problems, "China.ProxySymbol is required when China.Enabled")
		}
		for _, day := range c.China.Holidays {
			if _, err := time.Parse(time.DateOnly, day); err != nil {
				problems = append(problems, fmt.Sprintf("China.Holidays: invalid date %q", day))
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// BarWidth 返回解析后的 K 线周期. 需要先 Validate
func (c *Config) BarWidth() time.Duration {
	d, _ := ParseIntervalDuration(c.Live.BarWidth)
	return d
}

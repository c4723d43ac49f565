// Package config 提供 TOML 配置加载、环境变量覆盖与校验
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 进程配置
type Config struct {
	// 服务名称
	ServiceName string `mapstructure:"service_name"`
	// 环境：dev, staging, prod
	Environment string `mapstructure:"environment"`

	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Profiling ProfilingConfig `mapstructure:"profiling"`
	Matching  MatchingConfig  `mapstructure:"matching"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// 币种参数
	Currencies []CurrencyConfig `mapstructure:"currencies"`
	// 交易市场参数
	Markets []MarketConfig `mapstructure:"markets"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// Addr 监听地址
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动：mysql, postgres, sqlite
	Driver          string `mapstructure:"driver"`
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	LogEnabled      bool   `mapstructure:"log_enabled"`
	// 慢查询阈值（毫秒）
	SlowQueryThreshold int `mapstructure:"slow_query_threshold"`
	// 启动时自动建表
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	MaxPoolSize  int    `mapstructure:"max_pool_size"`
	ConnTimeout  int    `mapstructure:"conn_timeout"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Brokers        []string `mapstructure:"brokers"`
	GroupID        string   `mapstructure:"group_id"`
	SessionTimeout int      `mapstructure:"session_timeout"`
	MaxRetries     int      `mapstructure:"max_retries"`
	// 重试退避（毫秒）
	RetryBackoff int `mapstructure:"retry_backoff"`
	// 提现出款结果回传 topic
	PayoutTopic string `mapstructure:"payout_topic"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	WithCaller bool   `mapstructure:"with_caller"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ProfilingConfig 持续性能剖析配置
type ProfilingConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ServerAddress string `mapstructure:"server_address"`
}

// MatchingConfig 撮合引擎配置
type MatchingConfig struct {
	// 每个市场命令队列长度
	QueueSize int `mapstructure:"queue_size"`
	// 订单簿 dump 目录
	DumpDir string `mapstructure:"dump_dir"`
	// 市价单滑点熔断比例
	Fuse string `mapstructure:"fuse"`
	// 为 true 时新建引擎不回放活跃订单
	Fresh bool `mapstructure:"fresh"`
	// 深度快照缓存 TTL（秒）
	DepthTTL int `mapstructure:"depth_ttl"`
	// 深度快照档位数
	DepthLevels int `mapstructure:"depth_levels"`
}

// RateLimitConfig 下单限流配置，依赖 Redis
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// 每个 IP 每秒请求数
	QPS int `mapstructure:"qps"`
	// 允许的瞬时突发，0 表示等于 QPS
	Burst int `mapstructure:"burst"`
}

// CurrencyConfig 币种配置，金额使用字符串避免浮点
type CurrencyConfig struct {
	ID               string `mapstructure:"id"`
	Type             string `mapstructure:"type"`
	Precision        int32  `mapstructure:"precision"`
	WithdrawFee      string `mapstructure:"withdraw_fee"`
	DepositFee       string `mapstructure:"deposit_fee"`
	WithdrawLimit24h string `mapstructure:"withdraw_limit_24h"`
	WithdrawLimit72h string `mapstructure:"withdraw_limit_72h"`
}

// MarketConfig 交易市场配置
type MarketConfig struct {
	ID           string `mapstructure:"id"`
	BaseUnit     string `mapstructure:"base_unit"`
	QuoteUnit    string `mapstructure:"quote_unit"`
	AskFee       string `mapstructure:"ask_fee"`
	BidFee       string `mapstructure:"bid_fee"`
	AskPrecision int32  `mapstructure:"ask_precision"`
	BidPrecision int32  `mapstructure:"bid_precision"`
	Visible      bool   `mapstructure:"visible"`
}

// Load 从 TOML 文件加载配置，APP_ 前缀环境变量可覆盖任意键
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return errors.New("service_name is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required for %s driver", c.Database.Driver)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka brokers are required when kafka is enabled")
	}

	currencies := make(map[string]struct{}, len(c.Currencies))
	for _, cur := range c.Currencies {
		if cur.ID == "" {
			return errors.New("currency id is required")
		}
		currencies[cur.ID] = struct{}{}
	}
	for _, m := range c.Markets {
		if m.ID == "" || m.BaseUnit == "" || m.QuoteUnit == "" {
			return fmt.Errorf("market %q: missing base_unit or quote_unit", m.ID)
		}
		if _, ok := currencies[m.BaseUnit]; !ok {
			return fmt.Errorf("market %s: unknown currency %s", m.ID, m.BaseUnit)
		}
		if _, ok := currencies[m.QuoteUnit]; !ok {
			return fmt.Errorf("market %s: unknown currency %s", m.ID, m.QuoteUnit)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.slow_query_threshold", 1000)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.max_pool_size", 10)
	v.SetDefault("redis.conn_timeout", 5)
	v.SetDefault("redis.read_timeout", 3)
	v.SetDefault("redis.write_timeout", 3)

	v.SetDefault("kafka.session_timeout", 10)
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff", 100)
	v.SetDefault("kafka.payout_topic", "withdraw.payout")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/app.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("profiling.server_address", "http://localhost:4040")

	v.SetDefault("matching.queue_size", 1024)
	v.SetDefault("matching.dump_dir", "/tmp")
	v.SetDefault("matching.fuse", "0.9")
	v.SetDefault("matching.depth_ttl", 60)
	v.SetDefault("matching.depth_levels", 50)

	v.SetDefault("rate_limit.qps", 20)
	v.SetDefault("rate_limit.burst", 40)
}

package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
}

type BusinessConfig struct {
	DefaultCurrency           string  `mapstructure:"default_currency"`
	HoldExpirationMinutes     int     `mapstructure:"hold_expiration_minutes"`      // 预扣默认有效期
	LowBalanceThreshold       float64 `mapstructure:"low_balance_threshold"`        // 低余额告警阈值
	OutboxPollIntervalMillis  int     `mapstructure:"outbox_poll_interval_millis"`  // 发件箱轮询间隔
	OutboxBatchSize           int     `mapstructure:"outbox_batch_size"`            // 每轮投递条数
	OutboxMaxRetry            int     `mapstructure:"outbox_max_retry"`             // 投递最大重试次数
	OutboxRetentionDays       int     `mapstructure:"outbox_retention_days"`        // 已投递记录保留天数
	HoldSweepIntervalSeconds  int     `mapstructure:"hold_sweep_interval_seconds"`  // 预扣过期扫描间隔
	ProcessedRetentionDays    int     `mapstructure:"processed_retention_days"`     // 幂等台账保留天数
	ConsumerMaxAttempts       int     `mapstructure:"consumer_max_attempts"`        // 消费失败最大尝试次数
	ConsumerRetryDelaySeconds int     `mapstructure:"consumer_retry_delay_seconds"` // 消费重试间隔
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}

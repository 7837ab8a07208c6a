package config

import (
	"log"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
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
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	CreditEvents   string `mapstructure:"credit_events"`
	ExpiryReminder string `mapstructure:"expiry_reminder"`
}

// WebhookConfig holds the shared secret used to verify provider
// signatures. SignatureHeader is the HTTP header carrying the hex HMAC.
type WebhookConfig struct {
	Secret          string `mapstructure:"secret"`
	SignatureHeader string `mapstructure:"signature_header"`
}

type BusinessConfig struct {
	AllocationExpiryMonths int `mapstructure:"allocation_expiry_months"` // credit carry-over window
	ReminderLookaheadDays  int `mapstructure:"reminder_lookahead_days"`
	TxMaxRetries           int `mapstructure:"tx_max_retries"` // serialization-conflict retry bound
	MaxRetryCount          int `mapstructure:"max_retry_count"`
	RateLimitPerMinute     int `mapstructure:"rate_limit_per_minute"`
}

var GlobalConfig *Config

// LoadConfig reads and parses the YAML config file. A broken config is
// fatal: the service must not start half-configured.
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("failed to read config file: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("failed to parse config file: %v", err)
	}

	GlobalConfig = config
	return config
}

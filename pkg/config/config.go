package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Feeder  FeederConfig  `mapstructure:"feeder"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type GatewayConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	SendBuffer       int           `mapstructure:"send_buffer"`
	ShutdownGrace    time.Duration `mapstructure:"shutdown_grace"`
	BridgeMaxBackoff time.Duration `mapstructure:"bridge_max_backoff"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type FeederConfig struct {
	Symbols      []string      `mapstructure:"symbols"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	BarTimeframe string        `mapstructure:"bar_timeframe"`
	BarRetention int           `mapstructure:"bar_retention"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Load .env into the system environment first (if present), so flat
	// variables like APP_PORT exist before viper binds them.
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")

	v.SetDefault("gateway.poll_interval", 3*time.Second)
	v.SetDefault("gateway.send_buffer", 256)
	v.SetDefault("gateway.shutdown_grace", 5*time.Second)
	v.SetDefault("gateway.bridge_max_backoff", 30*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "market_ticks")
	v.SetDefault("kafka.group_id", "quotewire-gateway")

	v.SetDefault("feeder.symbols", []string{"BBCA", "TLKM", "BBRI", "ASII", "GOTO"})
	v.SetDefault("feeder.tick_interval", 250*time.Millisecond)
	v.SetDefault("feeder.bar_timeframe", "1m")
	v.SetDefault("feeder.bar_retention", 500)

	// Map dot-notation keys to underscore env vars (e.g. "app.port" -> "APP_PORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit binding is required for viper to map flat env vars onto
	// nested struct keys.
	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "gateway.poll_interval", "gateway.send_buffer", "gateway.shutdown_grace", "gateway.bridge_max_backoff")
	bindEnv(v, "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "kafka.brokers", "kafka.topic", "kafka.group_id")
	bindEnv(v, "feeder.symbols", "feeder.tick_interval", "feeder.bar_timeframe", "feeder.bar_retention")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %v", err)
	}

	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers cannot be empty")
	}
	if cfg.Gateway.PollInterval <= 0 {
		return nil, fmt.Errorf("gateway poll interval must be positive")
	}
	if cfg.Gateway.SendBuffer <= 0 {
		return nil, fmt.Errorf("gateway send buffer must be positive")
	}

	return &cfg, nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}

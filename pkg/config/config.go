package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the relay service
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Firehose FirehoseConfig `mapstructure:"firehose"`
	Relay    RelayConfig    `mapstructure:"relay"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

// FeedConfig describes the upstream streaming price source.
type FeedConfig struct {
	URL            string        `mapstructure:"url"`
	Token          string        `mapstructure:"token"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// FirehoseConfig controls the optional best-effort kafka mirror of ticks.
type FirehoseConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// RelayConfig tunes the relay core itself.
type RelayConfig struct {
	DefaultTickers []string `mapstructure:"default_tickers"`
	MinInstruments int      `mapstructure:"min_instruments"`
	SendBufferSize int      `mapstructure:"send_buffer_size"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Load .env into the process environment first (if present), so variables
	// like APP_PORT are visible to viper as real env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")

	v.SetDefault("feed.url", "wss://ws.finnhub.io")
	v.SetDefault("feed.token", "")
	v.SetDefault("feed.reconnect_delay", 5*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("firehose.enabled", false)
	v.SetDefault("firehose.brokers", []string{"localhost:9092"})
	v.SetDefault("firehose.topic", "market_ticks")

	v.SetDefault("relay.default_tickers", []string{
		"BINANCE:BTCUSDT", "BINANCE:ETHUSDT", "BINANCE:SOLUSDT", "BINANCE:DOGEUSDT",
	})
	v.SetDefault("relay.min_instruments", 4)
	v.SetDefault("relay.send_buffer_size", 256)

	// Map dot-notation keys to underscore env vars (e.g. "feed.url" -> "FEED_URL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit binds are required for viper to map flat env vars onto nested structs
	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "feed.url", "feed.token", "feed.reconnect_delay")
	bindEnv(v, "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "firehose.enabled", "firehose.brokers", "firehose.topic")
	bindEnv(v, "relay.default_tickers", "relay.min_instruments", "relay.send_buffer_size")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %v", err)
	}

	if cfg.Feed.URL == "" {
		return nil, fmt.Errorf("feed url cannot be empty")
	}
	if cfg.Feed.ReconnectDelay <= 0 {
		return nil, fmt.Errorf("feed reconnect delay must be positive")
	}
	if cfg.Firehose.Enabled && len(cfg.Firehose.Brokers) == 0 {
		return nil, fmt.Errorf("firehose brokers cannot be empty when firehose is enabled")
	}
	if cfg.Relay.SendBufferSize <= 0 {
		return nil, fmt.Errorf("relay send buffer size must be positive")
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

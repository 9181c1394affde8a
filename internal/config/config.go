package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Origin      string            `mapstructure:"origin"`
	Channel     ChannelConfig     `mapstructure:"channel"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Development DevelopmentConfig `mapstructure:"development"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// ChannelConfig bounds redelivery to a view that is not listening yet.
// Zero max_tries and zero max_elapsed retry forever.
type ChannelConfig struct {
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	MaxTries       uint          `mapstructure:"max_tries"`
	MaxElapsed     time.Duration `mapstructure:"max_elapsed"`
}

type StorageConfig struct {
	Driver      string `mapstructure:"driver"` // "sqlite", "memory", "redis", "postgres"
	Key         string `mapstructure:"key"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	RedisAddr   string `mapstructure:"redis_addr"`
	RedisDB     int    `mapstructure:"redis_db"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type DevelopmentConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// Addr is the listen address for the host server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Enable environment variables
	v.SetEnvPrefix("PENCILCHESS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, defaults and environment still apply
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("origin", "http://localhost:8080")
	v.SetDefault("channel.initial_backoff", "1s")
	v.SetDefault("channel.max_backoff", "10s")
	v.SetDefault("channel.max_tries", 0)
	v.SetDefault("channel.max_elapsed", "2m")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.key", "pencil-chess-game-state")
	v.SetDefault("storage.sqlite_path", "pencilchess.db")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("development.debug", false)
	v.SetDefault("development.log_level", "info")
}

// Validate rejects configurations the host cannot run with.
func (c *Config) Validate() error {
	if c.Origin == "" {
		return fmt.Errorf("origin must be set")
	}
	if c.Storage.Key == "" {
		return fmt.Errorf("storage.key must be set")
	}
	if c.Channel.InitialBackoff <= 0 {
		return fmt.Errorf("channel.initial_backoff must be positive")
	}
	switch c.Storage.Driver {
	case "sqlite", "memory", "redis", "postgres":
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage.postgres_dsn is required for the postgres driver")
	}
	return nil
}

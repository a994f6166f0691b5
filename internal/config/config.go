// Package config loads the engine's runtime configuration: a config.yaml
// file if present, BITRADE_-prefixed environment overrides, and the three
// bare legacy variables (DATABASE_URL, SERVER_HOST, SERVER_PORT) kept for
// operator convenience.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	PoolSize int    `mapstructure:"pool_size"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type RedisConfig struct {
	// Addr is host:port of the redis instance backing the balance cache
	// and trade pub/sub. Empty disables both.
	Addr string `mapstructure:"addr"`
}

type AuthConfig struct {
	// JWTSecret signs/verifies bearer tokens for the admin commands
	// (CreateMarket/StartMarket/StopMarket). Empty disables auth.
	JWTSecret string `mapstructure:"jwt_secret"`
}

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

// Addr renders the listen endpoint, defaulting to [::]:50020.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads config.yaml from the working directory (optional), then
// layers BITRADE_-prefixed environment variables on top, then the bare
// legacy variables last.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("database.url", "")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("server.host", "[::]")
	v.SetDefault("server.port", 50020)
	v.SetDefault("logging.level", "info")
	v.SetDefault("redis.addr", "")
	v.SetDefault("auth.jwt_secret", "")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BITRADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	// Bare legacy overrides win over everything else.
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("config: invalid SERVER_PORT %q: %w", port, err)
		}
		cfg.Server.Port = p
	}

	return &cfg, nil
}

// Package config loads the server configuration from config.yaml, .env and DUEL_* variables
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "DUEL"

type Config struct {
	Debug  bool         `mapstructure:"debug"`
	Server ServerConfig `mapstructure:"server"`
	Match  MatchConfig  `mapstructure:"match"`
	Engine EngineConfig `mapstructure:"engine"`
	NATS   NATSConfig   `mapstructure:"nats"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MatchConfig holds the session defaults. Budgets are in seconds.
type MatchConfig struct {
	DefaultTimeBudget int           `mapstructure:"default_time_budget"`
	MaxTimeBudget     int           `mapstructure:"max_time_budget"`
	TickPeriod        time.Duration `mapstructure:"tick_period"`
	EnforceRules      bool          `mapstructure:"enforce_rules"`
}

// EngineConfig describes the UCI engine pool. An empty path disables it.
type EngineConfig struct {
	Path          string        `mapstructure:"path"`
	PoolSize      int           `mapstructure:"pool_size"`
	InitTimeout   time.Duration `mapstructure:"init_timeout"`
	StrengthTable string        `mapstructure:"strength_table"`
}

// NATSConfig enables the lifecycle event bridge when URL is set
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// Load reads .env (if present), then config.yaml from the working directory,
// ./config or any extra path, then DUEL_* environment variables.
func Load(paths ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	// Enable environment variables
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
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
	v.SetDefault("debug", false)

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 20*time.Second)

	v.SetDefault("match.default_time_budget", 600)
	v.SetDefault("match.max_time_budget", 3*3600)
	v.SetDefault("match.tick_period", time.Second)
	v.SetDefault("match.enforce_rules", true)

	v.SetDefault("engine.path", "")
	v.SetDefault("engine.pool_size", 1)
	v.SetDefault("engine.init_timeout", 10*time.Second)
	v.SetDefault("engine.strength_table", "")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "duel.events")
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	switch {
	case c.Server.Port == "":
		return errors.New("config: server.port is required")
	case c.Match.DefaultTimeBudget <= 0:
		return errors.New("config: match.default_time_budget must be positive")
	case c.Match.MaxTimeBudget < c.Match.DefaultTimeBudget:
		return errors.New("config: match.max_time_budget is below the default budget")
	case c.Match.TickPeriod <= 0:
		return errors.New("config: match.tick_period must be positive")
	case c.Engine.PoolSize <= 0:
		return errors.New("config: engine.pool_size must be positive")
	case c.Engine.InitTimeout <= 0:
		return errors.New("config: engine.init_timeout must be positive")
	}

	return nil
}

// Package config provides configuration management for the node lifecycle
// engine.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (standard names like DATABASE_URL, SERVER_PORT)
// 3. Default values
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	River    RiverConfig    `mapstructure:"river"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Engine   EngineConfig   `mapstructure:"engine"`

	// Entities declares the entity labels this deployment serves and
	// their capability traits. The registry is built from this list.
	Entities []EntityConfig `mapstructure:"entities"`
}

// EntityConfig declares one entity label and its traits.
type EntityConfig struct {
	Label       string `mapstructure:"label"`
	Workflow    bool   `mapstructure:"workflow"`
	Publishable bool   `mapstructure:"publishable"`
	Expirable   bool   `mapstructure:"expirable"`
	Sluggable   bool   `mapstructure:"sluggable"`
}

// ServerConfig contains HTTP ops-server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains PostgreSQL connection settings. One pgx pool is
// shared by the event store, the search index, and River.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// RedisConfig contains read-model store connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RiverConfig contains River Queue settings.
type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize int `mapstructure:"general_pool_size"`
	ReplayPoolSize  int `mapstructure:"replay_pool_size"`
}

// EngineConfig contains core engine tunables.
type EngineConfig struct {
	// AnticipationThreshold is the grace window for the publish timing
	// rule: a publish-at within now+threshold publishes immediately
	// instead of scheduling.
	AnticipationThreshold time.Duration `mapstructure:"anticipation_threshold"`

	// ScheduleBump is the margin added when a derived command's target
	// time has already passed by the time the watcher schedules it.
	ScheduleBump time.Duration `mapstructure:"schedule_bump"`

	// ReadSliceSize caps events fetched per event-store read.
	ReadSliceSize int `mapstructure:"read_slice_size"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/nodelife")

	// Environment variable override, no prefix: DATABASE_URL, SERVER_PORT,
	// LOG_LEVEL. Nested config maps as engine.schedule_bump → ENGINE_SCHEDULE_BUMP.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file is optional, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if c.Engine.AnticipationThreshold < 0 {
		return fmt.Errorf("engine.anticipation_threshold must not be negative")
	}
	if c.Engine.ScheduleBump <= 0 {
		return fmt.Errorf("engine.schedule_bump must be positive")
	}
	if c.Engine.ReadSliceSize <= 0 {
		return fmt.Errorf("engine.read_slice_size must be positive")
	}
	seen := make(map[string]bool, len(c.Entities))
	for _, e := range c.Entities {
		if e.Label == "" {
			return fmt.Errorf("entities: label must not be empty")
		}
		if seen[e.Label] {
			return fmt.Errorf("entities: duplicate label %q", e.Label)
		}
		seen[e.Label] = true
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "nodelife")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "nodelife")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.auto_migrate", false)

	// Redis (read-model store)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 50)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// River
	v.SetDefault("river.max_workers", 10)
	v.SetDefault("river.completed_job_retention_period", "24h")

	// Worker pools
	v.SetDefault("worker.general_pool_size", 100)
	v.SetDefault("worker.replay_pool_size", 16)

	// Engine
	v.SetDefault("engine.anticipation_threshold", "15s")
	v.SetDefault("engine.schedule_bump", "5s")
	v.SetDefault("engine.read_slice_size", 200)
}

// Package config provides unified configuration loading for docstream.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the docstream API.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	ObjectStore   ObjectStoreConfig   `yaml:"object_store"`
	Queue         QueueConfig         `yaml:"queue"`
	Events        EventsConfig        `yaml:"events"`
	Auth          AuthConfig          `yaml:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxUploadBytes   int64         `yaml:"max_upload_bytes"`
}

// DatabaseConfig holds task store connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ObjectStoreConfig holds blob storage settings.
type ObjectStoreConfig struct {
	Driver string      `yaml:"driver"` // minio or fs
	Minio  MinioConfig `yaml:"minio"`
	FS     FSConfig    `yaml:"fs"`
}

// MinioConfig holds MinIO connection settings.
type MinioConfig struct {
	Endpoint       string `yaml:"endpoint"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	Secure         bool   `yaml:"secure"`
	PDFBucket      string `yaml:"pdf_bucket"`
	ParquetsBucket string `yaml:"parquets_bucket"`
}

// FSConfig holds filesystem object store settings.
type FSConfig struct {
	Root string `yaml:"root"`
}

// QueueConfig holds work queue settings.
type QueueConfig struct {
	Redis  RedisConfig `yaml:"redis"`
	Stream string      `yaml:"stream"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
	Retention        time.Duration `yaml:"retention"` // 0 disables the sweeper
	SweepInterval    time.Duration `yaml:"sweep_interval"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
}

// RateLimitConfig holds per-client rate limiting settings.
type RateLimitConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8084,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     60 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
			MaxUploadBytes:   64 << 20,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "/tmp/docstream.db",
				MaxOpenConns: 1,
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		ObjectStore: ObjectStoreConfig{
			Driver: "fs",
			Minio: MinioConfig{
				Endpoint:       "localhost:9000",
				Secure:         false,
				PDFBucket:      "pdfs",
				ParquetsBucket: "parquets",
			},
			FS: FSConfig{
				Root: "/tmp/docstream-objects",
			},
		},
		Queue: QueueConfig{
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
			Stream: "docstream:pdf-processing",
		},
		Events: EventsConfig{
			SubscriberBuffer: 64,
			Retention:        0,
			SweepInterval:    time.Minute,
		},
		Auth: AuthConfig{
			Enabled: false,
		},
		RateLimit: RateLimitConfig{
			Enabled:     false,
			MaxRequests: 100,
			Window:      time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "docstream-api",
		},
	}
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case "postgres":
		if c.Database.Postgres.DSN == "" {
			return fmt.Errorf("postgres dsn is required")
		}
	default:
		return fmt.Errorf("unknown database driver: %s", c.Database.Driver)
	}

	switch c.ObjectStore.Driver {
	case "minio":
		if c.ObjectStore.Minio.Endpoint == "" {
			return fmt.Errorf("minio endpoint is required")
		}
	case "fs":
		if c.ObjectStore.FS.Root == "" {
			return fmt.Errorf("fs object store root is required")
		}
	default:
		return fmt.Errorf("unknown object store driver: %s", c.ObjectStore.Driver)
	}

	if c.Queue.Stream == "" {
		return fmt.Errorf("queue stream name is required")
	}
	if c.Events.SubscriberBuffer <= 0 {
		return fmt.Errorf("events subscriber buffer must be positive")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth enabled but api_key is empty")
	}

	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DOCSTREAM_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("DOCSTREAM_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("DOCSTREAM_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("DOCSTREAM_SQLITE_PATH"); v != "" {
		cfg.Database.SQLite.Path = v
	}
	if v := os.Getenv("DOCSTREAM_POSTGRES_DSN"); v != "" {
		cfg.Database.Postgres.DSN = v
	}
	if v := os.Getenv("DOCSTREAM_OBJECT_STORE_DRIVER"); v != "" {
		cfg.ObjectStore.Driver = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.ObjectStore.Minio.Endpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.ObjectStore.Minio.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.ObjectStore.Minio.SecretKey = v
	}
	if v := os.Getenv("MINIO_SECURE"); v != "" {
		cfg.ObjectStore.Minio.Secure = v == "true" || v == "1"
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Queue.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Queue.Redis.Password = v
	}
	if v := os.Getenv("DOCSTREAM_QUEUE_STREAM"); v != "" {
		cfg.Queue.Stream = v
	}
	if v := os.Getenv("DOCSTREAM_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
		cfg.Auth.Enabled = true
	}
	if v := os.Getenv("DOCSTREAM_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("DOCSTREAM_LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

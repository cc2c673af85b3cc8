package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/upload-backgrounder/internal/model"
)

// Job backend kinds.
const (
	BackendKafka  = "kafka"
	BackendRedis  = "redis"
	BackendInProc = "inproc"
)

// Storage kinds.
const (
	StorageLocal = "local"
	StorageMinio = "minio"
)

// Config holds the main configuration for the application.
type Config struct {
	Server      Server       `mapstructure:"server"`
	Database    Database     `mapstructure:"database"`
	Storage     Storage      `mapstructure:"storage"`
	Backend     Backend      `mapstructure:"backend"`
	Kafka       Kafka        `mapstructure:"kafka"`
	Redis       Redis        `mapstructure:"redis"`
	Worker      Worker       `mapstructure:"worker"`
	Retry       Retry        `mapstructure:"retry"`
	Sentry      Sentry       `mapstructure:"sentry"`
	Attachments []Attachment `mapstructure:"attachments"`
}

// Server holds HTTP server-related configuration.
type Server struct {
	HTTPPort string `mapstructure:"http_port"` // HTTP port to listen on
}

// Database holds database master and slave configuration.
type Database struct {
	Master DatabaseNode   `mapstructure:"master"`
	Slaves []DatabaseNode `mapstructure:"slaves"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	Migrate bool `mapstructure:"migrate"` // Apply embedded migrations on start
}

// DatabaseNode holds connection parameters for a single database node.
type DatabaseNode struct {
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
	User    string `mapstructure:"user"`
	Pass    string `mapstructure:"pass"`
	Name    string `mapstructure:"name"`
	SSLMode string `mapstructure:"ssl_mode"`
}

// Storage holds configuration for the file storage backend.
type Storage struct {
	Kind      string `mapstructure:"kind"`       // "local" or "minio"
	LocalPath string `mapstructure:"local_path"` // Root directory of local storage

	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	BucketName string `mapstructure:"bucket_name"`
	UseSSL     bool   `mapstructure:"use_ssl"`
	FontPath   string `mapstructure:"font_path"` // Optional TTF font for watermarks
}

// Backend selects the job backend.
type Backend struct {
	Kind           string        `mapstructure:"kind"`            // "kafka", "redis" or "inproc"
	EnqueueTimeout time.Duration `mapstructure:"enqueue_timeout"` // Upper bound of a single enqueue
}

// Kafka holds configuration for the Kafka message queue.
type Kafka struct {
	GroupID string   `mapstructure:"group_id"` // Consumer group ID
	Topic   string   `mapstructure:"topic"`    // Kafka topic name
	Brokers []string `mapstructure:"brokers"`  // List of Kafka broker addresses
}

// Redis holds configuration for the Redis Streams job backend.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	Stream       string        `mapstructure:"stream"`
	Group        string        `mapstructure:"group"`
	Consumer     string        `mapstructure:"consumer"`
	Workers      int           `mapstructure:"workers"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	BlockTimeout time.Duration `mapstructure:"block_timeout"`
	MaxLen       int64         `mapstructure:"max_len"`
}

// Worker holds configuration of the in-process worker pool.
type Worker struct {
	Concurrency int           `mapstructure:"concurrency"`
	QueueSize   int           `mapstructure:"queue_size"`
	JobTimeout  time.Duration `mapstructure:"job_timeout"`
}

// Retry defines retry policy configuration.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// Sentry holds error reporting configuration. An empty DSN disables reporting.
type Sentry struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

// Attachment mounts an upload attribute and optionally registers it for
// background handling.
type Attachment struct {
	Owner      string          `mapstructure:"owner"`
	Attribute  string          `mapstructure:"attribute"`
	Mode       string          `mapstructure:"mode"`        // Empty keeps the attribute synchronous
	WorkerKind string          `mapstructure:"worker_kind"` // Empty selects the mode default
	Versions   []model.Version `mapstructure:"versions"`
}

// DSN returns the PostgreSQL DSN string for connecting to this database node.
func (n DatabaseNode) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		n.User, n.Pass, n.Host, n.Port, n.Name, n.SSLMode,
	)
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case BackendKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return errors.New("kafka backend requires brokers and topic")
		}
	case BackendRedis:
		if c.Redis.Addr == "" || c.Redis.Stream == "" || c.Redis.Group == "" {
			return errors.New("redis backend requires addr, stream and group")
		}
	case BackendInProc:
	default:
		return fmt.Errorf("unknown backend kind %q", c.Backend.Kind)
	}

	switch c.Storage.Kind {
	case StorageLocal, StorageMinio:
	default:
		return fmt.Errorf("unknown storage kind %q", c.Storage.Kind)
	}

	for _, a := range c.Attachments {
		if a.Owner == "" || a.Attribute == "" {
			return errors.New("attachment requires owner and attribute")
		}
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", ":8080")
	v.SetDefault("storage.kind", StorageLocal)
	v.SetDefault("storage.local_path", "./data")
	v.SetDefault("backend.kind", BackendInProc)
	v.SetDefault("backend.enqueue_timeout", 5*time.Second)
	v.SetDefault("redis.workers", 2)
	v.SetDefault("redis.max_attempts", 5)
	v.SetDefault("redis.backoff_base", time.Second)
	v.SetDefault("redis.block_timeout", 5*time.Second)
	v.SetDefault("redis.max_len", 10000)
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.queue_size", 100)
	v.SetDefault("worker.job_timeout", time.Minute)
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", 500*time.Millisecond)
	v.SetDefault("retry.backoff", 2.0)
}

// bindEnv binds critical environment variables to Viper keys.
func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"database.master.host": "DB_HOST",
		"database.master.port": "DB_PORT",
		"database.master.user": "DB_USER",
		"database.master.pass": "DB_PASSWORD",
		"database.master.name": "DB_NAME",
		"storage.access_key":   "STORAGE_ACCESS_KEY",
		"storage.secret_key":   "STORAGE_SECRET_KEY",
		"redis.password":       "REDIS_PASSWORD",
		"sentry.dsn":           "SENTRY_DSN",
	}

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	return nil
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := bindEnv(v); err != nil {
		return nil, err
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

// MustLoad loads the configuration from the specified file path.
// It panics if the configuration file cannot be loaded or is invalid.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		zlog.Logger.Panic().Err(err).Msg("failed to load config")
	}

	return cfg
}

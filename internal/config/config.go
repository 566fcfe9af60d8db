// Package config defines the configuration tree of the mbpip binaries and
// its validation. Loading lives in loader.go, defaults in defaults.go.
package config

import (
	"fmt"
	"time"

	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sections
// ─────────────────────────────────────────────────────────────────────────────

type ServerConfig struct {
	HTTP HTTPConfig `mapstructure:"http"`
	GRPC GRPCConfig `mapstructure:"grpc"`
}

type HTTPConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // debug | release | test
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`

	// CORSOrigins enables CORS for the listed origins; "*" allows any.
	CORSOrigins []string `mapstructure:"cors_origins"`

	// RateLimitRPS is the sustained per-client rate; 0 disables limiting.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`

	// APIKeys, when set, are required on every /api/v1 request.
	APIKeys []string `mapstructure:"api_keys"`
}

// Addr is host:port.
func (h HTTPConfig) Addr() string { return fmt.Sprintf("%s:%d", h.Host, h.Port) }

type GRPCConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	MaxRecvMsgSize   int    `mapstructure:"max_recv_msg_size"`
	EnableReflection bool   `mapstructure:"enable_reflection"`
}

func (g GRPCConfig) Addr() string { return fmt.Sprintf("%s:%d", g.Host, g.Port) }

// DatabaseConfig holds the PostgreSQL connection used for coefficient set
// metadata.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	DefaultTTL   time.Duration `mapstructure:"default_ttl"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

type MinIOConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type KafkaConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Brokers         []string      `mapstructure:"brokers"`
	GroupID         string        `mapstructure:"group_id"`
	RequestTopic    string        `mapstructure:"request_topic"`
	ResultTopic     string        `mapstructure:"result_topic"`
	DLQTopic        string        `mapstructure:"dlq_topic"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	Compression     string        `mapstructure:"compression"` // none | gzip | snappy | lz4 | zstd
	RequiredAcks    int           `mapstructure:"required_acks"`
	MaxMessageBytes int           `mapstructure:"max_message_bytes"`
}

// MilvusConfig configures the training-coverage index.
type MilvusConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Addr       string  `mapstructure:"addr"`
	Username   string  `mapstructure:"username"`
	Password   string  `mapstructure:"password"`
	DBName     string  `mapstructure:"db_name"`
	Collection string  `mapstructure:"collection"`
	NProbe     int     `mapstructure:"nprobe"`
	Threshold  float64 `mapstructure:"threshold"`
}

type EvaluationConfig struct {
	// Concurrency bounds the workers of one batch request.
	Concurrency int `mapstructure:"concurrency"`

	MaxBatchSize int `mapstructure:"max_batch_size"`

	// LocalCacheSize is the number of decoded sets kept in process.
	LocalCacheSize int `mapstructure:"local_cache_size"`

	Timeout time.Duration `mapstructure:"timeout"`
}

type WorkerConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// HealthAddr serves /healthz, /readyz and metrics of the worker.
	HealthAddr string `mapstructure:"health_addr"`
}

type MetricsConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	Path                 string `mapstructure:"path"`
	Namespace            string `mapstructure:"namespace"`
	EnableGoMetrics      bool   `mapstructure:"enable_go_metrics"`
	EnableProcessMetrics bool   `mapstructure:"enable_process_metrics"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root
// ─────────────────────────────────────────────────────────────────────────────

type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	Database   DatabaseConfig    `mapstructure:"database"`
	Redis      RedisConfig       `mapstructure:"redis"`
	MinIO      MinIOConfig       `mapstructure:"minio"`
	Kafka      KafkaConfig       `mapstructure:"kafka"`
	Milvus     MilvusConfig      `mapstructure:"milvus"`
	Evaluation EvaluationConfig  `mapstructure:"evaluation"`
	Worker     WorkerConfig      `mapstructure:"worker"`
	Log        logging.LogConfig `mapstructure:"log"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
}

// Validate returns the first semantic error. Disabled sections are not
// checked.
func (c *Config) Validate() error {
	if err := validPort("server.http.port", c.Server.HTTP.Port); err != nil {
		return err
	}
	switch c.Server.HTTP.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: server.http.mode %q is invalid; expected debug|release|test", c.Server.HTTP.Mode)
	}
	if c.Server.HTTP.RateLimitRPS < 0 {
		return fmt.Errorf("config: server.http.rate_limit_rps must be >= 0, got %g", c.Server.HTTP.RateLimitRPS)
	}
	if c.Server.GRPC.Enabled {
		if err := validPort("server.grpc.port", c.Server.GRPC.Port); err != nil {
			return err
		}
		if c.Server.GRPC.Port == c.Server.HTTP.Port {
			return fmt.Errorf("config: server.grpc.port and server.http.port are both %d", c.Server.HTTP.Port)
		}
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("config: database.host is required")
		}
		if err := validPort("database.port", c.Database.Port); err != nil {
			return err
		}
		if c.Database.User == "" {
			return fmt.Errorf("config: database.user is required")
		}
		if c.Database.DBName == "" {
			return fmt.Errorf("config: database.db_name is required")
		}
		if c.Database.MaxConns < 1 {
			return fmt.Errorf("config: database.max_conns must be >= 1, got %d", c.Database.MaxConns)
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			return fmt.Errorf("config: redis.addr is required")
		}
		if c.Redis.DB < 0 {
			return fmt.Errorf("config: redis.db must be >= 0, got %d", c.Redis.DB)
		}
	}

	if c.MinIO.Enabled {
		if c.MinIO.Endpoint == "" || c.MinIO.Bucket == "" {
			return fmt.Errorf("config: minio.endpoint and minio.bucket are required")
		}
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: kafka.brokers must contain at least one broker address")
		}
		if c.Kafka.GroupID == "" {
			return fmt.Errorf("config: kafka.group_id is required")
		}
		if c.Kafka.RequestTopic == "" || c.Kafka.ResultTopic == "" {
			return fmt.Errorf("config: kafka.request_topic and kafka.result_topic are required")
		}
	}

	if c.Milvus.Enabled {
		if c.Milvus.Addr == "" || c.Milvus.Collection == "" {
			return fmt.Errorf("config: milvus.addr and milvus.collection are required")
		}
		if !(c.Milvus.Threshold > 0) {
			return fmt.Errorf("config: milvus.threshold must be positive, got %g", c.Milvus.Threshold)
		}
	}

	if c.Evaluation.Concurrency < 1 {
		return fmt.Errorf("config: evaluation.concurrency must be >= 1, got %d", c.Evaluation.Concurrency)
	}
	if c.Evaluation.MaxBatchSize < 1 {
		return fmt.Errorf("config: evaluation.max_batch_size must be >= 1, got %d", c.Evaluation.MaxBatchSize)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("config: worker.concurrency must be >= 1, got %d", c.Worker.Concurrency)
	}

	switch c.Log.Level {
	case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}
	return nil
}

func validPort(key string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("config: %s %d is out of range [1, 65535]", key, port)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"bankledger/pkg/idgen"
)

const (
	DriverMemory   = "memory"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	LockLocal = "local"
	LockRedis = "redis"

	SessionMemory = "memory"
	SessionRedis  = "redis"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Lock     LockConfig     `mapstructure:"lock"`
	Session  SessionConfig  `mapstructure:"session"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	WorkerID               int `mapstructure:"worker_id"` // 雪花ID机器号，多实例部署时必须各不相同
	ReadTimeoutSeconds     int `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds    int `mapstructure:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text | json
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	Path         string `mapstructure:"path"` // sqlite only
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogQueries   bool   `mapstructure:"log_queries"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	LedgerEvents string `mapstructure:"ledger_events"`
}

type LockConfig struct {
	Driver          string `mapstructure:"driver"`
	TTLSeconds      int    `mapstructure:"ttl_seconds"`
	RetryIntervalMs int    `mapstructure:"retry_interval_ms"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

func (c LockConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

func (c LockConfig) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalMs) * time.Millisecond
}

type SessionConfig struct {
	Store      string `mapstructure:"store"`
	TTLMinutes int    `mapstructure:"ttl_minutes"`
	SweepSpec  string `mapstructure:"sweep_spec"`
	Require    bool   `mapstructure:"require"`
}

func (c SessionConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

type AuthConfig struct {
	BcryptCost int `mapstructure:"bcrypt_cost"`
}

type BusinessConfig struct {
	LedgerPageSize   int `mapstructure:"ledger_page_size"`
	OutboxIntervalMs int `mapstructure:"outbox_interval_ms"`
	OutboxBatchSize  int `mapstructure:"outbox_batch_size"`
	MaxRetryCount    int `mapstructure:"max_retry_count"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("server.read_timeout_seconds", 10)
	v.SetDefault("server.write_timeout_seconds", 10)
	v.SetDefault("server.shutdown_timeout_seconds", 5)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("database.driver", DriverMemory)
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "bankledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "var/bankledger.db")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.log_queries", false)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic.ledger_events", "ledger.transactions")

	v.SetDefault("lock.driver", LockLocal)
	v.SetDefault("lock.ttl_seconds", 30)
	v.SetDefault("lock.retry_interval_ms", 20)
	v.SetDefault("lock.max_retries", 250)

	v.SetDefault("session.store", SessionMemory)
	v.SetDefault("session.ttl_minutes", 60)
	v.SetDefault("session.sweep_spec", "@every 1m")
	v.SetDefault("session.require", false)

	v.SetDefault("auth.bcrypt_cost", 10)

	v.SetDefault("business.ledger_page_size", 50)
	v.SetDefault("business.outbox_interval_ms", 200)
	v.SetDefault("business.outbox_batch_size", 100)
	v.SetDefault("business.max_retry_count", 5)
}

// Load 加载配置文件；path 为空时只使用默认值与环境变量。
// 环境变量以 LEDGER_ 为前缀，例如 LEDGER_SERVER_PORT、LEDGER_DATABASE_DRIVER。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验取值范围和枚举
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverMemory, DriverMySQL, DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver))
	}

	switch c.Lock.Driver {
	case LockLocal:
	case LockRedis:
		if !c.Redis.Enabled {
			errs = append(errs, errors.New("lock.driver: redis requires redis.enabled"))
		}
	default:
		errs = append(errs, fmt.Errorf("lock.driver: unknown driver %q", c.Lock.Driver))
	}

	switch c.Session.Store {
	case SessionMemory:
	case SessionRedis:
		if !c.Redis.Enabled {
			errs = append(errs, errors.New("session.store: redis requires redis.enabled"))
		}
	default:
		errs = append(errs, fmt.Errorf("session.store: unknown store %q", c.Session.Store))
	}

	if c.Kafka.Enabled && c.Database.Driver == DriverMemory {
		errs = append(errs, errors.New("kafka.enabled: the outbox needs a sql database driver"))
	}

	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Server.WorkerID < 0 || c.Server.WorkerID > idgen.MaxWorkerID {
		errs = append(errs, fmt.Errorf("server.worker_id must be within 0-%d, got %d", idgen.MaxWorkerID, c.Server.WorkerID))
	}
	if c.Session.TTLMinutes <= 0 {
		errs = append(errs, errors.New("session.ttl_minutes must be > 0"))
	}
	if c.Lock.TTLSeconds <= 0 || c.Lock.MaxRetries <= 0 || c.Lock.RetryIntervalMs <= 0 {
		errs = append(errs, errors.New("lock: ttl_seconds, retry_interval_ms and max_retries must be > 0"))
	}
	if c.Business.LedgerPageSize <= 0 {
		errs = append(errs, errors.New("business.ledger_page_size must be > 0"))
	}

	return errors.Join(errs...)
}

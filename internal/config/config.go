// Package config 配置
package config

import (
	"fmt"
	"strings"
	"time"

	envconfig "github.com/exchange/ordermatch/pkg/config"
	"github.com/exchange/ordermatch/pkg/redis"
)

// 快照存储后端
const (
	SnapshotPebble   = "pebble"
	SnapshotPostgres = "postgres"
	SnapshotNone     = "none"
)

// Config 服务配置
type Config struct {
	// 服务
	ServiceName   string
	AppEnv        string
	HTTPPort      int
	InternalToken string
	MetricsToken  string
	LogLevel      string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      redis.TLSOptions

	// Streams
	OrderStream       string
	EventStream       string
	ConsumerGroup     string
	ConsumerName      string
	DedupeTTL         time.Duration
	MarketDataChannel string

	// Engine
	CmdBuffer   int
	EventBuffer int
	PriceScale  int
	WorkerID    int64

	// Snapshot
	SnapshotBackend  string
	SnapshotDir      string
	SnapshotSchedule string
	SnapshotKeep     int
	PostgresDSN      string

	ConsoleEnabled  bool
	InstanceLockTTL time.Duration

	// Tracing
	TracingEnabled    bool
	JaegerEndpoint    string
	TracingSampleRate float64
}

// Load 加载配置
func Load() *Config {
	return &Config{
		ServiceName:   envconfig.GetEnv("SERVICE_NAME", "ordermatch"),
		AppEnv:        strings.ToLower(envconfig.GetEnv("APP_ENV", "dev")),
		HTTPPort:      envconfig.GetEnvInt("HTTP_PORT", 8082),
		InternalToken: envconfig.GetEnv("INTERNAL_TOKEN", ""),
		MetricsToken:  envconfig.GetEnv("METRICS_TOKEN", ""),
		LogLevel:      envconfig.GetEnv("LOG_LEVEL", "info"),

		RedisAddr:     envconfig.GetEnv("REDIS_ADDR", "localhost:6380"), // 默认使用6380避免与本地Redis冲突
		RedisPassword: envconfig.GetEnv("REDIS_PASSWORD", ""),
		RedisDB:       envconfig.GetEnvInt("REDIS_DB", 0),
		RedisTLS: redis.TLSOptions{
			Enabled:    envconfig.GetEnvBool("REDIS_TLS", false),
			CACert:     envconfig.GetEnv("REDIS_TLS_CA", ""),
			Cert:       envconfig.GetEnv("REDIS_TLS_CERT", ""),
			Key:        envconfig.GetEnv("REDIS_TLS_KEY", ""),
			ServerName: envconfig.GetEnv("REDIS_TLS_SERVER_NAME", ""),
		},

		OrderStream:       envconfig.GetEnv("ORDER_STREAM", "ordermatch:orders"),
		EventStream:       envconfig.GetEnv("EVENT_STREAM", "ordermatch:events"),
		ConsumerGroup:     envconfig.GetEnv("CONSUMER_GROUP", "ordermatch-group"),
		ConsumerName:      envconfig.GetEnv("CONSUMER_NAME", "ordermatch-1"),
		DedupeTTL:         envconfig.GetEnvDuration("DEDUPE_TTL", 24*time.Hour),
		MarketDataChannel: envconfig.GetEnv("MARKETDATA_CHANNEL", "marketdata:{symbol}"),

		CmdBuffer:   envconfig.GetEnvInt("CMD_BUFFER", 10000),
		EventBuffer: envconfig.GetEnvInt("EVENT_BUFFER", 10000),
		PriceScale:  envconfig.GetEnvInt("PRICE_SCALE", 2),
		WorkerID:    envconfig.GetEnvInt64("WORKER_ID", 1),

		SnapshotBackend:  strings.ToLower(envconfig.GetEnv("SNAPSHOT_BACKEND", SnapshotPebble)),
		SnapshotDir:      envconfig.GetEnv("SNAPSHOT_DIR", "data/ordermatch"),
		SnapshotSchedule: envconfig.GetEnv("SNAPSHOT_SCHEDULE", "@every 60s"),
		SnapshotKeep:     envconfig.GetEnvInt("SNAPSHOT_KEEP", 10),
		PostgresDSN:      envconfig.GetEnv("POSTGRES_DSN", ""),

		ConsoleEnabled:  envconfig.GetEnvBool("CONSOLE_ENABLED", false),
		InstanceLockTTL: envconfig.GetEnvDuration("INSTANCE_LOCK_TTL", 15*time.Second),

		TracingEnabled:    envconfig.GetEnvBool("TRACING_ENABLED", false),
		JaegerEndpoint:    envconfig.GetEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		TracingSampleRate: envconfig.GetEnvFloat64("TRACING_SAMPLE_RATE", 0.1),
	}
}

func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT out of range: %d", c.HTTPPort)
	}
	if c.OrderStream == "" || c.EventStream == "" {
		return fmt.Errorf("ORDER_STREAM and EVENT_STREAM are required")
	}
	if c.OrderStream == c.EventStream {
		return fmt.Errorf("ORDER_STREAM and EVENT_STREAM must differ")
	}
	if c.ConsumerGroup == "" || c.ConsumerName == "" {
		return fmt.Errorf("CONSUMER_GROUP and CONSUMER_NAME are required")
	}
	if c.PriceScale < 0 || c.PriceScale > 18 {
		return fmt.Errorf("PRICE_SCALE must be between 0 and 18")
	}
	if c.WorkerID < 0 || c.WorkerID > 1023 {
		return fmt.Errorf("WORKER_ID must be between 0 and 1023")
	}
	switch c.SnapshotBackend {
	case SnapshotPebble:
		if c.SnapshotDir == "" {
			return fmt.Errorf("SNAPSHOT_DIR is required for pebble snapshots")
		}
	case SnapshotPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for postgres snapshots")
		}
	case SnapshotNone:
	default:
		return fmt.Errorf("SNAPSHOT_BACKEND must be one of pebble, postgres, none: %q", c.SnapshotBackend)
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATE must be between 0 and 1")
	}
	if c.AppEnv != "dev" {
		if c.InternalToken == "" {
			return fmt.Errorf("INTERNAL_TOKEN is required (APP_ENV=%s)", c.AppEnv)
		}
		if len(c.InternalToken) < envconfig.MinSecretLength {
			return fmt.Errorf("INTERNAL_TOKEN must be at least %d characters (APP_ENV=%s)", envconfig.MinSecretLength, c.AppEnv)
		}
		if envconfig.IsInsecureDevSecret(c.InternalToken) {
			return fmt.Errorf("INTERNAL_TOKEN must not be a dev placeholder (APP_ENV=%s)", c.AppEnv)
		}
		if c.MetricsToken != "" && envconfig.IsInsecureDevSecret(c.MetricsToken) {
			return fmt.Errorf("METRICS_TOKEN must not be a dev placeholder (APP_ENV=%s)", c.AppEnv)
		}
		if c.ConsoleEnabled {
			return fmt.Errorf("CONSOLE_ENABLED is only allowed in dev (APP_ENV=%s)", c.AppEnv)
		}
	}
	return nil
}

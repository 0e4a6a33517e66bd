package redisipc

import (
	"log/slog"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config tunes a Stream. The zero value is usable: every field falls back to
// the documented default. Defaults can also be loaded from the environment via
// ConfigFromEnv.
type Config struct {
	// RedisAddr like "localhost:6379". Ignored when Client is set.
	// ENV: REDIS_IPC_REDIS_ADDR
	RedisAddr string `env:"REDIS_IPC_REDIS_ADDR,default=localhost:6379"`

	// Client is the Redis client to use. If nil, a client is built from
	// RedisAddr with a pool sized for the configured consumer and dispatcher
	// counts.
	Client redis.UniversalClient

	// PoolSize is the send-side connection budget. The actual connection pool
	// is PoolSize + 2 per consumer + 2 per dispatcher, capped by MaxPoolSize
	// when set. ENV: REDIS_IPC_POOL_SIZE
	PoolSize int `env:"REDIS_IPC_POOL_SIZE,default=10"`

	// MaxPoolSize caps the computed connection pool. Zero means no cap.
	// ENV: REDIS_IPC_MAX_POOL_SIZE
	MaxPoolSize int `env:"REDIS_IPC_MAX_POOL_SIZE,default=0"`

	// EntryTimeout bounds how long SendToGroup waits for a reply and how long
	// a ledger row lives. ENV: REDIS_IPC_ENTRY_TIMEOUT
	EntryTimeout time.Duration `env:"REDIS_IPC_ENTRY_TIMEOUT,default=5s"`

	// CleanupInterval is the cadence of the ledger sweeper.
	// ENV: REDIS_IPC_CLEANUP_INTERVAL
	CleanupInterval time.Duration `env:"REDIS_IPC_CLEANUP_INTERVAL,default=1s"`

	// ConsumerCount is the number of consumers in this instance's pool.
	// ENV: REDIS_IPC_CONSUMER_COUNT
	ConsumerCount int `env:"REDIS_IPC_CONSUMER_COUNT,default=10"`

	// ConsumerInterval is the tick interval of each consumer.
	// ENV: REDIS_IPC_CONSUMER_INTERVAL
	ConsumerInterval time.Duration `env:"REDIS_IPC_CONSUMER_INTERVAL,default=1ms"`

	// DispatcherCount is the number of dispatchers in this instance's pool.
	// ENV: REDIS_IPC_DISPATCHER_COUNT
	DispatcherCount int `env:"REDIS_IPC_DISPATCHER_COUNT,default=3"`

	// DispatcherInterval is the tick interval of each dispatcher.
	// ENV: REDIS_IPC_DISPATCHER_INTERVAL
	DispatcherInterval time.Duration `env:"REDIS_IPC_DISPATCHER_INTERVAL,default=1ms"`

	// ReclaimIdle is how long an entry must sit unacknowledged in any
	// consumer's pending list before a dispatcher may reclaim it.
	// ENV: REDIS_IPC_RECLAIM_IDLE
	ReclaimIdle time.Duration `env:"REDIS_IPC_RECLAIM_IDLE,default=10s"`

	// AvailabilityTTL is the expiry refreshed on the instance's availability
	// list whenever a consumer joins it. ENV: REDIS_IPC_AVAILABILITY_TTL
	AvailabilityTTL time.Duration `env:"REDIS_IPC_AVAILABILITY_TTL,default=24h"`

	// ConnectTimeout bounds the exponential-backoff ping performed at connect
	// time before any group administration. ENV: REDIS_IPC_CONNECT_TIMEOUT
	ConnectTimeout time.Duration `env:"REDIS_IPC_CONNECT_TIMEOUT,default=10s"`

	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// ConfigFromEnv builds a Config from REDIS_IPC_* environment variables,
// falling back to the documented defaults.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
	if c.EntryTimeout <= 0 {
		c.EntryTimeout = 5 * time.Second
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Second
	}
	if c.ConsumerCount <= 0 {
		c.ConsumerCount = 10
	}
	if c.ConsumerInterval <= 0 {
		c.ConsumerInterval = time.Millisecond
	}
	if c.DispatcherCount <= 0 {
		c.DispatcherCount = 3
	}
	if c.DispatcherInterval <= 0 {
		c.DispatcherInterval = time.Millisecond
	}
	if c.ReclaimIdle <= 0 {
		c.ReclaimIdle = 10 * time.Second
	}
	if c.AvailabilityTTL <= 0 {
		c.AvailabilityTTL = 24 * time.Hour
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	return c
}

// connectionCount computes the bounded pool size: the send budget plus two
// connections per consumer and per dispatcher.
func (c Config) connectionCount() int {
	n := c.PoolSize + 2*c.ConsumerCount + 2*c.DispatcherCount
	if c.MaxPoolSize > 0 && n > c.MaxPoolSize {
		n = c.MaxPoolSize
	}
	return n
}

// Package config loads the process configuration from ADDRESSWATCH_*
// environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/gabapcia/addresswatch/internal/pkg/validator"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name, e.g. ADDRESSWATCH_API_RATE_LIMIT.
const Prefix = "ADDRESSWATCH"

// Storage backends.
const (
	StorageRedis    = "redis"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config is the full process configuration.
type Config struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	// HyperEVM JSON-RPC endpoint and Hyperliquid L1 API base URL.
	RPCURL string `envconfig:"RPC_URL" default:"https://rpc.hyperliquid.xyz/evm" validate:"required,url"`
	APIURL string `envconfig:"API_URL" default:"https://api.hyperliquid.xyz" validate:"required,url"`

	RateLimit        float64       `envconfig:"API_RATE_LIMIT" default:"2" validate:"gt=0"`
	RateLimitBurst   int           `envconfig:"API_RATE_BURST" default:"1" validate:"gte=1"`
	RateLimitMaxWait time.Duration `envconfig:"RATE_LIMIT_MAX_WAIT" default:"30s" validate:"gt=0"`
	RequestTimeout   time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s" validate:"gt=0"`

	RetryAttempts  uint          `envconfig:"RETRY_ATTEMPTS" default:"3" validate:"gte=1"`
	RetryBaseDelay time.Duration `envconfig:"RETRY_BASE_DELAY" default:"1s" validate:"gt=0"`
	RetryMaxDelay  time.Duration `envconfig:"RETRY_MAX_DELAY" default:"60s" validate:"gtefield=RetryBaseDelay"`

	BreakerFailureThreshold int           `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5" validate:"gte=1"`
	BreakerCooldown         time.Duration `envconfig:"BREAKER_COOLDOWN" default:"60s" validate:"gt=0"`
	BreakerBackoffFactor    float64       `envconfig:"BREAKER_BACKOFF_FACTOR" default:"2" validate:"gte=1"`
	BreakerMaxCooldown      time.Duration `envconfig:"BREAKER_MAX_COOLDOWN" default:"10m" validate:"gtefield=BreakerCooldown"`
	BreakerHealthMultiplier int           `envconfig:"BREAKER_HEALTH_MULTIPLIER" default:"3" validate:"gte=1"`

	ScanInterval           time.Duration `envconfig:"DEFAULT_SCAN_INTERVAL" default:"60s" validate:"gte=10s"`
	MaxAddressesPerUser    int           `envconfig:"MAX_ADDRESSES_PER_USER" default:"20" validate:"gte=1"`
	ScanConcurrency        int           `envconfig:"SCAN_CONCURRENCY" default:"8" validate:"gte=1"`
	SchedulerTick          time.Duration `envconfig:"SCHEDULER_TICK" default:"5s" validate:"gt=0"`
	ShutdownGrace          time.Duration `envconfig:"SHUTDOWN_GRACE" default:"15s" validate:"gte=0"`
	PermanentFailurePolicy string        `envconfig:"PERMANENT_FAILURE_POLICY" default:"flag" validate:"oneof=flag deactivate"`

	Storage           string `envconfig:"STORAGE" default:"sqlite" validate:"oneof=redis sqlite postgres memory"`
	SnapshotCacheSize int    `envconfig:"SNAPSHOT_CACHE_SIZE" default:"4096" validate:"gte=0"`
	SQLiteDSN         string `envconfig:"SQLITE_DSN" default:"addresswatch.db" validate:"required_if=Storage sqlite"`
	PostgresDSN       string `envconfig:"POSTGRES_DSN" validate:"required_if=Storage postgres"`
	Redis             Redis  `envconfig:"REDIS"`

	AMQPURL           string `envconfig:"AMQP_URL"`
	AMQPExchange      string `envconfig:"AMQP_EXCHANGE" default:"addresswatch.events"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL" validate:"omitempty,url"`
	ExplorerURL       string `envconfig:"EXPLORER_URL" default:"https://hyperevmscan.io" validate:"omitempty,url"`

	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080" validate:"required"`
	OTELEnabled bool   `envconfig:"OTEL_ENABLED" default:"false"`
}

// Redis holds the connection settings of the redis backend.
type Redis struct {
	Addr      string `envconfig:"ADDR" default:"localhost:6379" validate:"required"`
	Username  string `envconfig:"USERNAME"`
	Password  string `envconfig:"PASSWORD"`
	DB        int    `envconfig:"DB" default:"0" validate:"gte=0"`
	KeyPrefix string `envconfig:"KEY_PREFIX" default:"addresswatch"`
}

// Load reads and validates the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}

	if err := validator.Validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

package config

import (
	"time"

	"github.com/yndnr/tokvault-go/internal/core/domain"
)

// Default configuration values.
const (
	DefaultHTTPAddr          = "127.0.0.1:8080"
	DefaultPublicBaseURL     = "http://127.0.0.1:8080"
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultIdleTimeout       = 2 * time.Minute
	DefaultShutdownTimeout   = 30 * time.Second

	// DefaultBackend suits a single instance only; see StorageSection.Backend.
	DefaultBackend      = BackendBadger
	DefaultStoreTimeout = 2 * time.Second
	DefaultDataDir      = "/var/lib/tokvault-server/data"
	DefaultGCInterval   = 10 * time.Minute
	DefaultCacheSizeMB  = 64
	DefaultRedisPrefix  = "tv:"

	DefaultAuthIssuer = "tokvault"

	DefaultConcurrency  = 4
	DefaultMintAttempts = 3

	DefaultCatalog = "/etc/tokvault-server/catalog.yaml"

	DefaultQueueSize   = 1024
	DefaultWorkers     = 2
	DefaultMaxAttempts = 5
	DefaultBackoff     = 500 * time.Millisecond
	DefaultTimeout     = 10 * time.Second
	DefaultKafkaTopic  = "tokvault.downloads"

	DefaultPerMinute = 60
	DefaultBurst     = 10
	DefaultIdleTTL   = 10 * time.Minute

	DefaultSweepInterval  = time.Hour
	DefaultSweepRetention = 30 * 24 * time.Hour
	DefaultSweepTimeout   = time.Minute

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			HTTP: HTTPConfig{
				Addr:              DefaultHTTPAddr,
				ReadHeaderTimeout: DefaultReadHeaderTimeout,
				IdleTimeout:       DefaultIdleTimeout,
				ShutdownTimeout:   DefaultShutdownTimeout,
				Audit:             true,
			},
			PublicBaseURL: DefaultPublicBaseURL,
		},
		Storage: StorageSection{
			Backend: DefaultBackend,
			Timeout: DefaultStoreTimeout,
			Badger: BadgerConfig{
				DataDir:     DefaultDataDir,
				SyncWrites:  true,
				GCInterval:  DefaultGCInterval,
				CacheSizeMB: DefaultCacheSizeMB,
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    20,
				MaxIdleConns:    5,
				ConnMaxLifetime: 30 * time.Minute,
			},
			Redis: RedisConfig{
				KeyPrefix: DefaultRedisPrefix,
			},
		},
		Security: SecuritySection{
			AuthIssuer: DefaultAuthIssuer,
			AuthLeeway: 30 * time.Second,
		},
		Delivery: DeliverySection{
			DefaultTTL:     domain.DefaultTokenTTL,
			DefaultMaxUses: domain.DefaultMaxUses,
			Concurrency:    DefaultConcurrency,
			MintAttempts:   DefaultMintAttempts,
		},
		Assets: AssetsSection{
			Catalog: DefaultCatalog,
			Watch:   true,
		},
		Notify: NotifySection{
			Sink:        SinkLog,
			Kafka:       KafkaConfig{Topic: DefaultKafkaTopic},
			QueueSize:   DefaultQueueSize,
			Workers:     DefaultWorkers,
			MaxAttempts: DefaultMaxAttempts,
			Backoff:     DefaultBackoff,
			Timeout:     DefaultTimeout,
		},
		RateLimit: RateLimitSection{
			Enabled:   true,
			PerMinute: DefaultPerMinute,
			Burst:     DefaultBurst,
			IdleTTL:   DefaultIdleTTL,
		},
		Sweeper: SweeperSection{
			Interval:  DefaultSweepInterval,
			Retention: DefaultSweepRetention,
			Timeout:   DefaultSweepTimeout,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

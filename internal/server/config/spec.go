package config

import "time"

// ServerConfig is the root configuration for tokvault-server.
type ServerConfig struct {
	Server    ServerSection    `koanf:"server"`
	Storage   StorageSection   `koanf:"storage"`
	Security  SecuritySection  `koanf:"security"`
	Delivery  DeliverySection  `koanf:"delivery"`
	Assets    AssetsSection    `koanf:"assets"`
	Notify    NotifySection    `koanf:"notify"`
	RateLimit RateLimitSection `koanf:"rate_limit"`
	Sweeper   SweeperSection   `koanf:"sweeper"`
	Log       LogSection       `koanf:"log"`
}

// ServerSection configures server endpoints.
type ServerSection struct {
	HTTP HTTPConfig `koanf:"http"`

	// PublicBaseURL prefixes download links sent to customers.
	PublicBaseURL string `koanf:"public_base_url"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr        string `koanf:"addr"`
	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`

	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`

	// WriteTimeout bounds a whole response, so it caps download size on
	// slow links. Zero disables it.
	WriteTimeout time.Duration `koanf:"write_timeout"`

	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// AdminAllowList limits the admin API to these IPs or CIDRs. Empty allows all.
	AdminAllowList []string `koanf:"admin_allow_list"`

	// TrustedProxies lists reverse proxies (IPs or CIDRs) whose
	// X-Forwarded-For and X-Real-IP headers are believed. Empty means the
	// TCP peer is always the client address.
	TrustedProxies []string `koanf:"trusted_proxies"`

	// MetricsAuth puts /metrics behind admin bearer auth.
	MetricsAuth bool `koanf:"metrics_auth"`

	// Audit logs one line per API request.
	Audit bool `koanf:"audit"`
}

// Storage backends.
const (
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// StorageSection selects and configures the token and order store.
type StorageSection struct {
	// Backend is one of badger, postgres, redis or memory. badger and
	// memory live inside one process; deployments running more than one
	// tokvault-server instance must select postgres or redis so every
	// instance consumes from the same token records.
	Backend string `koanf:"backend"`

	// Timeout bounds every store call made while serving a request.
	Timeout time.Duration `koanf:"timeout"`

	Badger   BadgerConfig   `koanf:"badger"`
	Postgres PostgresConfig `koanf:"postgres"`
	Redis    RedisConfig    `koanf:"redis"`
}

// SharedBackend reports whether backend can be shared by several server
// processes.
func SharedBackend(backend string) bool {
	return backend == BackendPostgres || backend == BackendRedis
}

// BadgerConfig configures the embedded store.
type BadgerConfig struct {
	DataDir     string        `koanf:"data_dir"`
	SyncWrites  bool          `koanf:"sync_writes"`
	GCInterval  time.Duration `koanf:"gc_interval"`
	CacheSizeMB int           `koanf:"cache_size_mb"`
}

// PostgresConfig configures the PostgreSQL store.
type PostgresConfig struct {
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

// SecuritySection configures secrets.
type SecuritySection struct {
	// TokenSecret signs download tokens.
	TokenSecret string `koanf:"token_secret"`

	// PreviousTokenSecrets still verify tokens minted before a rotation.
	PreviousTokenSecrets []string `koanf:"previous_token_secrets"`

	// AuthSecret signs internal API bearer tokens.
	AuthSecret string        `koanf:"auth_secret"`
	AuthIssuer string        `koanf:"auth_issuer"`
	AuthLeeway time.Duration `koanf:"auth_leeway"`

	// TLSCAFile adds trusted roots for outbound webhook calls.
	TLSCAFile string `koanf:"tls_ca_file"`
}

// DeliverySection configures token issuance.
type DeliverySection struct {
	DefaultTTL     time.Duration            `koanf:"default_ttl"`
	DefaultMaxUses int                      `koanf:"default_max_uses"`
	Products       map[string]ProductPolicy `koanf:"products"`

	// Concurrency bounds order lines delivered in parallel.
	Concurrency  int `koanf:"concurrency"`
	MintAttempts int `koanf:"mint_attempts"`
}

// ProductPolicy overrides the default policy for one product. Zero fields
// inherit the default.
type ProductPolicy struct {
	TTL     time.Duration `koanf:"ttl"`
	MaxUses int           `koanf:"max_uses"`
}

// AssetsSection configures the product file catalog.
type AssetsSection struct {
	// Catalog is the path of the YAML manifest mapping products to files.
	Catalog string `koanf:"catalog"`

	// Watch reloads the catalog when the manifest changes.
	Watch bool `koanf:"watch"`
}

// Notification sinks.
const (
	SinkNone    = "none"
	SinkLog     = "log"
	SinkWebhook = "webhook"
	SinkKafka   = "kafka"
)

// NotifySection configures download-ready notifications.
type NotifySection struct {
	Sink    string        `koanf:"sink"`
	Webhook WebhookConfig `koanf:"webhook"`
	Kafka   KafkaConfig   `koanf:"kafka"`

	QueueSize   int           `koanf:"queue_size"`
	Workers     int           `koanf:"workers"`
	MaxAttempts int           `koanf:"max_attempts"`
	Backoff     time.Duration `koanf:"backoff"`
	Timeout     time.Duration `koanf:"timeout"`
}

// WebhookConfig configures the webhook sink.
type WebhookConfig struct {
	URL    string `koanf:"url"`
	Secret string `koanf:"secret"`
}

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
}

// RateLimitSection configures per-client limits on the download endpoint.
type RateLimitSection struct {
	Enabled   bool          `koanf:"enabled"`
	PerMinute int           `koanf:"per_minute"`
	Burst     int           `koanf:"burst"`
	IdleTTL   time.Duration `koanf:"idle_ttl"`
}

// SweeperSection configures removal of expired token records.
type SweeperSection struct {
	Interval  time.Duration `koanf:"interval"`
	Retention time.Duration `koanf:"retention"`
	Timeout   time.Duration `koanf:"timeout"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/yndnr/tokvault-go/internal/telemetry/logger"
)

// MinSecretLength is the minimum length of signing secrets.
const MinSecretLength = 32

// Verify validates the configuration.
func Verify(cfg *ServerConfig) error {
	checks := []func(*ServerConfig) error{
		verifyServer,
		verifyStorage,
		verifySecurity,
		verifyDelivery,
		verifyNotify,
		verifyRateLimit,
		verifyLog,
	}
	for _, check := range checks {
		if err := check(cfg); err != nil {
			return err
		}
	}
	return nil
}

func verifyServer(cfg *ServerConfig) error {
	s := &cfg.Server
	if s.HTTP.Addr == "" {
		return errors.New("server.http.addr is required")
	}
	if (s.HTTP.TLSCertFile == "") != (s.HTTP.TLSKeyFile == "") {
		return errors.New("server.http.tls_cert_file and tls_key_file must be set together")
	}
	u, err := url.Parse(s.PublicBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server.public_base_url must be an absolute http(s) URL, got %q", s.PublicBaseURL)
	}
	for _, entry := range s.HTTP.AdminAllowList {
		if !validACLEntry(entry) {
			return fmt.Errorf("server.http.admin_allow_list: invalid IP or CIDR %q", entry)
		}
	}
	for _, entry := range s.HTTP.TrustedProxies {
		if !validACLEntry(entry) {
			return fmt.Errorf("server.http.trusted_proxies: invalid IP or CIDR %q", entry)
		}
	}
	return nil
}

func verifyStorage(cfg *ServerConfig) error {
	s := &cfg.Storage
	switch s.Backend {
	case BackendBadger:
		if s.Badger.DataDir == "" {
			return errors.New("storage.badger.data_dir is required")
		}
		if err := os.MkdirAll(s.Badger.DataDir, 0o750); err != nil {
			return errors.New("cannot create data directory: " + err.Error())
		}
	case BackendPostgres:
		if s.Postgres.DSN == "" {
			return errors.New("storage.postgres.dsn is required")
		}
	case BackendRedis:
		if s.Redis.Addr == "" {
			return errors.New("storage.redis.addr is required")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend %q is not one of badger, postgres, redis, memory", s.Backend)
	}
	if s.Timeout <= 0 {
		return errors.New("storage.timeout must be positive")
	}
	return nil
}

func verifySecurity(cfg *ServerConfig) error {
	s := &cfg.Security
	if len(s.TokenSecret) < MinSecretLength {
		return fmt.Errorf("security.token_secret must be at least %d bytes", MinSecretLength)
	}
	for i, prev := range s.PreviousTokenSecrets {
		if len(prev) < MinSecretLength {
			return fmt.Errorf("security.previous_token_secrets[%d] must be at least %d bytes", i, MinSecretLength)
		}
	}
	if len(s.AuthSecret) < MinSecretLength {
		return fmt.Errorf("security.auth_secret must be at least %d bytes", MinSecretLength)
	}
	if s.AuthSecret == s.TokenSecret {
		return errors.New("security.auth_secret must differ from security.token_secret")
	}
	return nil
}

func verifyDelivery(cfg *ServerConfig) error {
	d := &cfg.Delivery
	if err := cfg.PolicyConfig().Default.Validate(); err != nil {
		return fmt.Errorf("delivery: %w", err)
	}
	for id, p := range d.Products {
		if p.TTL < 0 || p.MaxUses < 0 {
			return fmt.Errorf("delivery.products.%s: ttl and max_uses must not be negative", id)
		}
	}
	if d.Concurrency < 1 {
		return errors.New("delivery.concurrency must be at least 1")
	}
	if cfg.Assets.Catalog == "" {
		return errors.New("assets.catalog is required")
	}
	return nil
}

func verifyNotify(cfg *ServerConfig) error {
	n := &cfg.Notify
	switch n.Sink {
	case SinkNone, SinkLog:
	case SinkWebhook:
		u, err := url.Parse(n.Webhook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("notify.webhook.url must be an http(s) URL, got %q", n.Webhook.URL)
		}
	case SinkKafka:
		if len(n.Kafka.Brokers) == 0 {
			return errors.New("notify.kafka.brokers is required")
		}
		if n.Kafka.Topic == "" {
			return errors.New("notify.kafka.topic is required")
		}
	default:
		return fmt.Errorf("notify.sink %q is not one of none, log, webhook, kafka", n.Sink)
	}
	if n.QueueSize < 1 || n.Workers < 1 || n.MaxAttempts < 1 {
		return errors.New("notify.queue_size, workers and max_attempts must be at least 1")
	}
	return nil
}

func verifyRateLimit(cfg *ServerConfig) error {
	r := &cfg.RateLimit
	if r.Enabled && (r.PerMinute < 1 || r.Burst < 1) {
		return errors.New("rate_limit.per_minute and burst must be at least 1")
	}
	return nil
}

func verifyLog(cfg *ServerConfig) error {
	if !logger.ValidLevel(cfg.Log.Level) {
		return fmt.Errorf("log.level %q is invalid", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text", "console":
		return nil
	}
	return fmt.Errorf("log.format %q is not one of json, text", cfg.Log.Format)
}

func validACLEntry(entry string) bool {
	if strings.Contains(entry, "/") {
		_, _, err := net.ParseCIDR(entry)
		return err == nil
	}
	return net.ParseIP(entry) != nil
}

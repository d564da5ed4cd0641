package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yndnr/tokvault-go/internal/core/domain"
)

// Config holds connection settings.
type Config struct {
	// Addr is host:port or a redis:// URL.
	Addr     string
	Password string
	DB       int

	// KeyPrefix namespaces every key (default: "tv:").
	KeyPrefix string

	// Retention keeps token keys this long after expiry (default: 30d).
	Retention time.Duration
}

// Connect initializes a client from a URL or host:port and pings it.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(cfg.Addr, "redis://") || strings.HasPrefix(cfg.Addr, "rediss://") {
		opt, err := redis.ParseURL(cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (c Config) prefix() string {
	if c.KeyPrefix == "" {
		return "tv:"
	}
	return c.KeyPrefix
}

func (c Config) retention() time.Duration {
	if c.Retention <= 0 {
		return 30 * 24 * time.Hour
	}
	return c.Retention
}

// mapErr converts client errors to domain errors. A consume whose reply
// was lost may have run on the server.
func mapErr(err error, consume bool) error {
	if err == nil || domain.IsDomainError(err, "") {
		return err
	}
	var rerr redis.Error
	if !consume || errors.As(err, &rerr) {
		return domain.ErrStoreUnavailable.WithCause(err)
	}
	return domain.ErrConsumeIndeterminate.WithCause(err)
}

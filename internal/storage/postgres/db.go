package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/yndnr/tokvault-go/internal/core/domain"
)

// Config holds connection settings.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DB is an open, migrated PostgreSQL handle.
type DB struct {
	sql *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS download_tokens (
	token_id      TEXT    NOT NULL,
	order_id      TEXT    NOT NULL,
	product_id    TEXT    NOT NULL,
	user_id       TEXT    NOT NULL,
	issued_at     BIGINT  NOT NULL,
	expires_at    BIGINT  NOT NULL,
	max_uses      INTEGER NOT NULL,
	uses_consumed INTEGER NOT NULL DEFAULT 0,
	CONSTRAINT download_tokens_pkey PRIMARY KEY (token_id),
	CONSTRAINT download_tokens_line_key UNIQUE (order_id, product_id),
	CONSTRAINT download_tokens_uses_check CHECK (uses_consumed <= max_uses)
);
CREATE INDEX IF NOT EXISTS download_tokens_expires_idx ON download_tokens (expires_at);

CREATE TABLE IF NOT EXISTS orders (
	id         TEXT   PRIMARY KEY,
	user_id    TEXT   NOT NULL,
	created_at BIGINT NOT NULL,
	version    BIGINT NOT NULL,
	body       JSONB  NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_user_idx ON orders (user_id, created_at DESC);
`

// Open connects, pings and applies the schema.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres: dsn is required")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return &DB{sql: db}, nil
}

// Ping reports whether the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.sql.PingContext(ctx)
}

// Close closes the pool.
func (d *DB) Close() error {
	return d.sql.Close()
}

const uniqueViolation = "23505"

func constraintViolated(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}

// mapErr converts driver errors to domain errors. For a consume, an error
// the server did not report itself leaves the commit outcome unknown.
// driver.ErrBadConn is only returned before the statement was sent.
func mapErr(err error, consume bool) error {
	if err == nil || domain.IsDomainError(err, "") {
		return err
	}
	if !consume || errors.Is(err, driver.ErrBadConn) {
		return domain.ErrStoreUnavailable.WithCause(err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return domain.ErrStoreUnavailable.WithCause(err)
	}
	return domain.ErrConsumeIndeterminate.WithCause(err)
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/yndnr/tokvault-go/internal/core/domain"
	"github.com/yndnr/tokvault-go/internal/core/service"
)

var _ service.OrderRepository = (*OrderRepository)(nil)

// OrderRepository is a PostgreSQL-backed service.OrderRepository. The
// order is stored as a JSONB document next to its indexed columns.
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository creates an order repository on an open database.
func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db.sql}
}

// Create stores a new order.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	body, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, created_at, version, body) VALUES ($1,$2,$3,$4,$5)`,
		order.ID, order.UserID, order.CreatedAt, order.Version, body)
	if _, ok := constraintViolated(err); ok {
		return domain.ErrOrderConflict.WithDetails("order " + order.ID + " exists")
	}
	return mapErr(err, false)
}

// Get returns an order.
func (r *OrderRepository) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	var body []byte
	err := r.db.QueryRowContext(ctx, `SELECT body FROM orders WHERE id = $1`, orderID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, mapErr(err, false)
	}
	return decodeOrder(body)
}

// ListByUser returns a user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT body FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, mapErr(err, false)
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, mapErr(err, false)
		}
		o, err := decodeOrder(body)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err, false)
	}
	return out, nil
}

// Update replaces an order if its version matches and bumps the version.
func (r *OrderRepository) Update(ctx context.Context, order *domain.Order) error {
	next := order.Clone()
	next.Version = order.Version + 1
	body, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET body = $1, version = $2 WHERE id = $3 AND version = $4`,
		body, next.Version, order.ID, order.Version)
	if err != nil {
		return mapErr(err, false)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr(err, false)
	}
	if n == 0 {
		var exists bool
		err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists)
		if err != nil {
			return mapErr(err, false)
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderConflict.WithDetails("version mismatch")
	}
	order.Version = next.Version
	return nil
}

func decodeOrder(body []byte) (*domain.Order, error) {
	var o domain.Order
	if err := json.Unmarshal(body, &o); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return &o, nil
}

package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/yndnr/tokvault-go/internal/core/domain"
	"github.com/yndnr/tokvault-go/internal/core/service"
)

var _ service.OrderRepository = (*OrderRepository)(nil)

// OrderRepository is a Redis-backed service.OrderRepository. Orders are
// JSON strings; a per-user sorted set scored by created_at lists them.
type OrderRepository struct {
	client redis.UniversalClient
	cfg    Config
}

// NewOrderRepository creates an order repository on a connected client.
func NewOrderRepository(client redis.UniversalClient, cfg Config) *OrderRepository {
	return &OrderRepository{client: client, cfg: cfg}
}

func (r *OrderRepository) orderKey(id string) string { return r.cfg.prefix() + "ord:" + id }

func (r *OrderRepository) userKey(userID string) string { return r.cfg.prefix() + "uord:" + userID }

// Create stores a new order.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	body, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	ok, err := r.client.SetNX(ctx, r.orderKey(order.ID), body, 0).Result()
	if err != nil {
		return mapErr(err, false)
	}
	if !ok {
		return domain.ErrOrderConflict.WithDetails("order " + order.ID + " exists")
	}
	err = r.client.ZAdd(ctx, r.userKey(order.UserID), redis.Z{
		Score:  float64(order.CreatedAt),
		Member: order.ID,
	}).Err()
	return mapErr(err, false)
}

// Get returns an order.
func (r *OrderRepository) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	body, err := r.client.Get(ctx, r.orderKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, mapErr(err, false)
	}
	return decodeOrder(body)
}

// ListByUser returns a user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Order, error) {
	ids, err := r.client.ZRevRange(ctx, r.userKey(userID), 0, -1).Result()
	if err != nil {
		return nil, mapErr(err, false)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.orderKey(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, mapErr(err, false)
	}
	out := make([]*domain.Order, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		o, err := decodeOrder([]byte(s))
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// Update replaces an order if its version matches and bumps the version.
// The check and write run under WATCH, so a concurrent writer aborts it.
func (r *OrderRepository) Update(ctx context.Context, order *domain.Order) error {
	next := order.Clone()
	next.Version = order.Version + 1
	body, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	key := r.orderKey(order.ID)

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		cur, err := decodeOrder(raw)
		if err != nil {
			return err
		}
		if cur.Version != order.Version {
			return domain.ErrOrderConflict.WithDetails("version mismatch")
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, body, 0)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return domain.ErrOrderConflict.WithDetails("concurrent update")
	}
	if err != nil {
		return mapErr(err, false)
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

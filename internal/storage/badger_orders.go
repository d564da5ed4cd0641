package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"

	"github.com/yndnr/tokvault-go/internal/core/domain"
	"github.com/yndnr/tokvault-go/internal/core/service"
)

// Key layout:
//
//	ord/{order_id}                         -> JSON Order
//	uord/{user_id}/{created_at:020d}/{id}  -> nil (listing index)
const (
	orderKeyPrefix     = "ord/"
	userOrderKeyPrefix = "uord/"
)

var _ service.OrderRepository = (*OrderRepository)(nil)

// OrderRepository is a Badger-backed service.OrderRepository.
type OrderRepository struct {
	engine *BadgerEngine
}

// NewOrderRepository creates an order repository on an open engine.
func NewOrderRepository(engine *BadgerEngine) *OrderRepository {
	return &OrderRepository{engine: engine}
}

func orderKey(id string) []byte { return []byte(orderKeyPrefix + id) }

func userOrderKey(o *domain.Order) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d/%s", userOrderKeyPrefix, o.UserID, o.CreatedAt, o.ID))
}

// Create stores a new order.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	val, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	err = r.engine.Update(ctx, func(txn *badger.Txn) error {
		if exists, err := keyExists(txn, orderKey(order.ID)); err != nil {
			return err
		} else if exists {
			return domain.ErrOrderConflict.WithDetails("order " + order.ID + " exists")
		}
		if err := txn.Set(orderKey(order.ID), val); err != nil {
			return err
		}
		return txn.Set(userOrderKey(order), nil)
	})
	return mapWriteErr(err, false)
}

// Get returns an order.
func (r *OrderRepository) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	var order *domain.Order
	err := r.engine.View(ctx, func(txn *badger.Txn) error {
		var err error
		order, err = loadOrder(txn, orderID)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, mapReadErr(err)
	}
	return order, nil
}

// ListByUser returns a user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Order, error) {
	var orders []*domain.Order
	err := r.engine.View(ctx, func(txn *badger.Txn) error {
		prefix := []byte(userOrderKeyPrefix + userID + "/")
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration seeks to the last key under prefix.
		seek := append(append([]byte(nil), prefix...), 0xff)
		for it.Seek(seek); it.Valid(); it.Next() {
			key := it.Item().Key()
			id := string(key[lastSlash(key)+1:])
			o, err := loadOrder(txn, id)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			orders = append(orders, o)
		}
		return nil
	})
	if err != nil {
		return nil, mapReadErr(err)
	}
	return orders, nil
}

// Update replaces an order if its version matches and bumps the version.
func (r *OrderRepository) Update(ctx context.Context, order *domain.Order) error {
	next := order.Clone()
	next.Version = order.Version + 1
	val, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}

	err = r.engine.Update(ctx, func(txn *badger.Txn) error {
		cur, err := loadOrder(txn, order.ID)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		if cur.Version != order.Version {
			return domain.ErrOrderConflict.WithDetails("version mismatch")
		}
		return txn.Set(orderKey(order.ID), val)
	})
	if err = mapWriteErr(err, false); err != nil {
		return err
	}
	order.Version = next.Version
	return nil
}

func loadOrder(txn *badger.Txn, id string) (*domain.Order, error) {
	item, err := txn.Get(orderKey(id))
	if err != nil {
		return nil, err
	}
	var o domain.Order
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &o) }); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return &o, nil
}

func lastSlash(b []byte) int {
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] == '/' {
			return i
		}
	}
	return -1
}

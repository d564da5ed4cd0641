package memory

import (
	"context"
	"sort"

	"github.com/yndnr/tokvault-go/internal/core/domain"
	"github.com/yndnr/tokvault-go/internal/core/service"
	"github.com/yndnr/tokvault-go/pkg/cmap"
)

var _ service.OrderRepository = (*OrderRepository)(nil)

// OrderRepository is an in-memory service.OrderRepository.
type OrderRepository struct {
	orders *cmap.Map[*domain.Order]
}

// NewOrderRepository creates an empty repository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: cmap.New[*domain.Order]()}
}

// Create stores a new order.
func (r *OrderRepository) Create(_ context.Context, order *domain.Order) error {
	if !r.orders.SetIfAbsent(order.ID, order.Clone()) {
		return domain.ErrOrderConflict.WithDetails("order " + order.ID + " exists")
	}
	return nil
}

// Get returns a copy of an order.
func (r *OrderRepository) Get(_ context.Context, orderID string) (*domain.Order, error) {
	o, ok := r.orders.Get(orderID)
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o.Clone(), nil
}

// ListByUser returns a user's orders, newest first.
func (r *OrderRepository) ListByUser(_ context.Context, userID string) ([]*domain.Order, error) {
	var out []*domain.Order
	r.orders.Range(func(_ string, o *domain.Order) bool {
		if o.UserID == userID {
			out = append(out, o.Clone())
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Update replaces an order if its version matches and bumps the version.
func (r *OrderRepository) Update(_ context.Context, order *domain.Order) error {
	var err error
	r.orders.Compute(order.ID, func(cur *domain.Order, exists bool) (*domain.Order, bool) {
		switch {
		case !exists:
			err = domain.ErrOrderNotFound
			return cur, false
		case cur.Version != order.Version:
			err = domain.ErrOrderConflict.WithDetails("version mismatch")
			return cur, false
		}
		next := order.Clone()
		next.Version++
		return next, true
	})
	if err == nil {
		order.Version++
	}
	return err
}

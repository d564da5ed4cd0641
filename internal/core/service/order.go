package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/yndnr/tokvault-go/internal/core/domain"
)

// maxCASAttempts bounds optimistic-lock retries on order updates.
const maxCASAttempts = 3

// Deliverer issues download tokens for a completed order.
type Deliverer interface {
	Deliver(ctx context.Context, order *domain.Order) (*DeliveryResult, error)
	Renotify(ctx context.Context, order *domain.Order) int
}

// OrderService owns order status transitions and couples the completed
// transition to delivery.
type OrderService struct {
	repo      OrderRepository
	deliverer Deliverer
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrderService creates an OrderService.
func NewOrderService(repo OrderRepository, deliverer Deliverer, logger *slog.Logger) *OrderService {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderService{repo: repo, deliverer: deliverer, logger: logger, now: time.Now}
}

// CreateOrderRequest contains parameters for creating an order.
type CreateOrderRequest struct {
	UserID        string                 `json:"user_id"`
	CustomerEmail string                 `json:"customer_email,omitempty"`
	Currency      string                 `json:"currency,omitempty"`
	Items         []domain.LineItem      `json:"items"`
	Policy        *domain.PolicyOverride `json:"policy,omitempty"`
}

// Create validates and stores a new pending order.
func (s *OrderService) Create(ctx context.Context, req *CreateOrderRequest) (*domain.Order, error) {
	if req == nil {
		return nil, domain.ErrBadRequest.WithDetails("empty request")
	}
	order, err := domain.NewOrder(req.UserID, req.CustomerEmail, req.Items)
	if err != nil {
		return nil, err
	}
	order.Currency = req.Currency
	order.Policy = req.Policy
	if err := order.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, order); err != nil {
		return nil, err
	}
	s.logger.Info("order created", "order_id", order.ID, "user_id", order.UserID, "items", len(order.Items))
	return order, nil
}

// Get returns an order by id.
func (s *OrderService) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	if orderID == "" {
		return nil, domain.ErrInvalidArgument.WithDetails("order id is required")
	}
	return s.repo.Get(ctx, orderID)
}

// ListByUser returns a user's orders, newest first.
func (s *OrderService) ListByUser(ctx context.Context, userID string) ([]*domain.Order, error) {
	if userID == "" {
		return nil, domain.ErrInvalidArgument.WithDetails("user id is required")
	}
	return s.repo.ListByUser(ctx, userID)
}

// StatusUpdate is the result of UpdateStatus and Redeliver.
type StatusUpdate struct {
	Order    *domain.Order   `json:"order"`
	Delivery *DeliveryResult `json:"delivery,omitempty"`
}

// UpdateStatus moves an order to status.
//
// pending -> completed triggers delivery and attaches the line deliveries to
// the order. Setting completed on an already completed order re-runs
// delivery, which is idempotent per line. All other transitions out of a
// terminal state fail with domain.ErrInvalidTransition.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, paymentID string) (*StatusUpdate, error) {
	for attempt := 1; ; attempt++ {
		order, err := s.Get(ctx, orderID)
		if err != nil {
			return nil, err
		}

		if status == domain.OrderCompleted && order.Status == domain.OrderCompleted {
			return s.deliverAndAttach(ctx, order)
		}
		if !order.Status.CanTransition(status) {
			return nil, domain.ErrInvalidTransition.WithDetails(string(order.Status) + " -> " + string(status))
		}

		order.Status = status
		if paymentID != "" {
			order.PaymentID = paymentID
		}
		order.UpdatedAt = s.now().UnixMilli()

		err = s.repo.Update(ctx, order)
		if errors.Is(err, domain.ErrOrderConflict) && attempt < maxCASAttempts {
			// Another writer changed the order; re-evaluate against the new state.
			continue
		}
		if err != nil {
			return nil, err
		}

		s.logger.Info("order status changed", "order_id", order.ID, "status", status)
		if status != domain.OrderCompleted {
			return &StatusUpdate{Order: order}, nil
		}
		return s.deliverAndAttach(ctx, order)
	}
}

// Redeliver re-runs delivery for a completed order, e.g. after a product
// file has been staged.
func (s *OrderService) Redeliver(ctx context.Context, orderID string) (*StatusUpdate, error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderCompleted {
		return nil, domain.ErrInvalidTransition.WithDetails("order " + orderID + " is " + string(order.Status))
	}
	return s.deliverAndAttach(ctx, order)
}

// Renotify re-sends delivery notifications for a completed order.
func (s *OrderService) Renotify(ctx context.Context, orderID string) (int, error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return 0, err
	}
	if order.Status != domain.OrderCompleted {
		return 0, domain.ErrInvalidTransition.WithDetails("order " + orderID + " is " + string(order.Status))
	}
	return s.deliverer.Renotify(ctx, order), nil
}

func (s *OrderService) deliverAndAttach(ctx context.Context, order *domain.Order) (*StatusUpdate, error) {
	res, err := s.deliverer.Deliver(ctx, order)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		order.ApplyDeliveries(res.Lines)
		order.UpdatedAt = s.now().UnixMilli()
		err = s.repo.Update(ctx, order)
		if err == nil {
			return &StatusUpdate{Order: order, Delivery: res}, nil
		}
		if !errors.Is(err, domain.ErrOrderConflict) {
			break
		}
		fresh, gerr := s.repo.Get(ctx, order.ID)
		if gerr != nil {
			err = gerr
			break
		}
		order = fresh
	}

	// Tokens are recorded in the token store; the next delivery re-attaches them.
	s.logger.Warn("attach deliveries to order failed", "order_id", order.ID, "error", err)
	order.ApplyDeliveries(res.Lines)
	return &StatusUpdate{Order: order, Delivery: res}, nil
}

package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/yndnr/tokvault-go/internal/core/domain"
	"github.com/yndnr/tokvault-go/internal/core/service"
	"github.com/yndnr/tokvault-go/internal/storage/memory"
	"github.com/yndnr/tokvault-go/internal/telemetry/logger"
)

func newOrderService(t *testing.T, products ...string) (*service.OrderService, *fixture) {
	t.Helper()
	f := newFixture(t, products...)
	return service.NewOrderService(memory.NewOrderRepository(), f.delivery, logger.Discard()), f
}

func createOrder(t *testing.T, svc *service.OrderService, products ...string) *domain.Order {
	t.Helper()
	req := &service.CreateOrderRequest{UserID: "user-1", CustomerEmail: "buyer@example.com"}
	for _, p := range products {
		req.Items = append(req.Items, domain.LineItem{ProductID: p, Quantity: 1, UnitPrice: 500})
	}
	o, err := svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return o
}

func TestOrderService_Create(t *testing.T) {
	svc, _ := newOrderService(t)
	o := createOrder(t, svc, "ebook", "audio")
	if o.Status != domain.OrderPending || o.Amount != 1000 {
		t.Errorf("created order = status %s amount %d", o.Status, o.Amount)
	}

	tests := []struct {
		name string
		req  *service.CreateOrderRequest
	}{
		{"nil", nil},
		{"no items", &service.CreateOrderRequest{UserID: "u"}},
		{"no user", &service.CreateOrderRequest{Items: []domain.LineItem{{ProductID: "p", Quantity: 1}}}},
		{"zero quantity", &service.CreateOrderRequest{UserID: "u", Items: []domain.LineItem{{ProductID: "p"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), tt.req); err == nil {
				t.Error("Create() succeeded, want error")
			}
		})
	}
}

func TestOrderService_CompleteDelivers(t *testing.T) {
	svc, f := newOrderService(t, "ebook")
	o := createOrder(t, svc, "ebook")
	ctx := context.Background()

	up, err := svc.UpdateStatus(ctx, o.ID, domain.OrderCompleted, "pay_123")
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if up.Delivery == nil || up.Delivery.Ready != 1 {
		t.Fatalf("delivery = %+v, want 1 ready line", up.Delivery)
	}

	stored, err := svc.Get(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.OrderCompleted || stored.PaymentID != "pay_123" {
		t.Errorf("stored = status %s payment %q", stored.Status, stored.PaymentID)
	}
	if len(stored.DownloadTokenIDs) != 1 || stored.DownloadTokenIDs[0] != up.Delivery.Lines[0].TokenID {
		t.Errorf("DownloadTokenIDs = %v", stored.DownloadTokenIDs)
	}
	if !stored.FullyDelivered() {
		t.Error("FullyDelivered() = false")
	}

	// Completing again re-runs delivery without new tokens.
	again, err := svc.UpdateStatus(ctx, o.ID, domain.OrderCompleted, "")
	if err != nil {
		t.Fatal(err)
	}
	if again.Delivery.Lines[0].TokenID != up.Delivery.Lines[0].TokenID {
		t.Error("second completion minted a new token")
	}
	if f.notifier.count() != 1 {
		t.Errorf("notifications = %d, want 1", f.notifier.count())
	}
}

func TestOrderService_Transitions(t *testing.T) {
	tests := []struct {
		name  string
		first domain.OrderStatus
		next  domain.OrderStatus
		ok    bool
	}{
		{"pending to failed", "", domain.OrderFailed, true},
		{"failed to completed", domain.OrderFailed, domain.OrderCompleted, false},
		{"completed to failed", domain.OrderCompleted, domain.OrderFailed, false},
		{"completed to pending", domain.OrderCompleted, domain.OrderPending, false},
		{"failed to failed", domain.OrderFailed, domain.OrderFailed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, f := newOrderService(t, "ebook")
			o := createOrder(t, svc, "ebook")
			ctx := context.Background()
			if tt.first != "" {
				if _, err := svc.UpdateStatus(ctx, o.ID, tt.first, ""); err != nil {
					t.Fatalf("setup UpdateStatus(%s) error = %v", tt.first, err)
				}
			}
			before := f.store.Len()

			_, err := svc.UpdateStatus(ctx, o.ID, tt.next, "")
			if tt.ok && err != nil {
				t.Errorf("UpdateStatus(%s) error = %v", tt.next, err)
			}
			if !tt.ok && !errors.Is(err, domain.ErrInvalidTransition) {
				t.Errorf("UpdateStatus(%s) error = %v, want ErrInvalidTransition", tt.next, err)
			}
			if f.store.Len() != before {
				t.Errorf("tokens minted on %s", tt.name)
			}
		})
	}
}

func TestOrderService_UnknownOrder(t *testing.T) {
	svc, _ := newOrderService(t)
	_, err := svc.UpdateStatus(context.Background(), "ord-missing", domain.OrderCompleted, "")
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("UpdateStatus(unknown) error = %v, want ErrOrderNotFound", err)
	}
}

func TestOrderService_RedeliverAfterStaging(t *testing.T) {
	svc, f := newOrderService(t, "ebook")
	o := createOrder(t, svc, "ebook", "video")
	ctx := context.Background()

	up, err := svc.UpdateStatus(ctx, o.ID, domain.OrderCompleted, "")
	if err != nil {
		t.Fatal(err)
	}
	if up.Order.FullyDelivered() {
		t.Fatal("order delivered although video is not staged")
	}

	f.assets.stage("video")
	up, err = svc.Redeliver(ctx, o.ID)
	if err != nil {
		t.Fatalf("Redeliver() error = %v", err)
	}
	if !up.Order.FullyDelivered() || len(up.Order.DownloadTokenIDs) != 2 {
		t.Errorf("after redeliver: delivered=%v tokens=%v", up.Order.FullyDelivered(), up.Order.DownloadTokenIDs)
	}

	n, err := svc.Renotify(ctx, o.ID)
	if err != nil || n != 2 {
		t.Errorf("Renotify() = %d, %v, want 2", n, err)
	}
}

func TestOrderService_RedeliverRequiresCompleted(t *testing.T) {
	svc, _ := newOrderService(t, "ebook")
	o := createOrder(t, svc, "ebook")
	if _, err := svc.Redeliver(context.Background(), o.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Redeliver(pending) error = %v, want ErrInvalidTransition", err)
	}
	if _, err := svc.Renotify(context.Background(), o.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Renotify(pending) error = %v, want ErrInvalidTransition", err)
	}
}

func TestOrderService_ListByUser(t *testing.T) {
	svc, _ := newOrderService(t)
	createOrder(t, svc, "a")
	createOrder(t, svc, "b")

	list, err := svc.ListByUser(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("ListByUser() len = %d, want 2", len(list))
	}
	if _, err := svc.ListByUser(context.Background(), ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("ListByUser(\"\") error = %v", err)
	}
}

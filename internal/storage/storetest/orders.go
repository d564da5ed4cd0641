package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/yndnr/tokvault-go/internal/core/domain"
	"github.com/yndnr/tokvault-go/internal/core/service"
)

// RunOrderRepositoryTests runs the order repository conformance suite.
func RunOrderRepositoryTests(t *testing.T, newRepo func(t *testing.T) service.OrderRepository) {
	t.Run("CreateGet", func(t *testing.T) { testOrderCreateGet(t, newRepo(t)) })
	t.Run("ListByUser", func(t *testing.T) { testOrderListByUser(t, newRepo(t)) })
	t.Run("UpdateVersion", func(t *testing.T) { testOrderUpdateVersion(t, newRepo(t)) })
	t.Run("ConcurrentUpdate", func(t *testing.T) { testOrderConcurrentUpdate(t, newRepo(t)) })
}

func newOrder(t *testing.T, userID string) *domain.Order {
	t.Helper()
	o, err := domain.NewOrder(userID, "buyer@example.com", []domain.LineItem{
		{ProductID: "ebook", Quantity: 1, UnitPrice: 1500},
	})
	if err != nil {
		t.Fatalf("NewOrder() error = %v", err)
	}
	return o
}

func testOrderCreateGet(t *testing.T, r service.OrderRepository) {
	ctx := context.Background()
	o := newOrder(t, uniqueID("user-"))
	if err := r.Create(ctx, o); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := r.Create(ctx, o); !errors.Is(err, domain.ErrOrderConflict) {
		t.Errorf("Create(again) error = %v, want ErrOrderConflict", err)
	}

	got, err := r.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != o.ID || got.Status != domain.OrderPending || len(got.Items) != 1 {
		t.Errorf("Get() = %+v", got)
	}
	if _, err := r.Get(ctx, uniqueID("ord-")); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrOrderNotFound", err)
	}
}

func testOrderListByUser(t *testing.T, r service.OrderRepository) {
	ctx := context.Background()
	user := uniqueID("user-")
	first := newOrder(t, user)
	first.CreatedAt -= 1000
	second := newOrder(t, user)
	other := newOrder(t, uniqueID("user-"))
	for _, o := range []*domain.Order{first, second, other} {
		if err := r.Create(ctx, o); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	list, err := r.ListByUser(ctx, user)
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListByUser() len = %d, want 2", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("ListByUser() order = [%s %s], want newest first", list[0].ID, list[1].ID)
	}
}

func testOrderUpdateVersion(t *testing.T, r service.OrderRepository) {
	ctx := context.Background()
	o := newOrder(t, uniqueID("user-"))
	if err := r.Create(ctx, o); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	stale := o.Clone()
	o.Status = domain.OrderCompleted
	o.PaymentID = "pay_1"
	if err := r.Update(ctx, o); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if o.Version != 2 {
		t.Errorf("Version after update = %d, want 2", o.Version)
	}

	stale.Status = domain.OrderFailed
	if err := r.Update(ctx, stale); !errors.Is(err, domain.ErrOrderConflict) {
		t.Errorf("Update(stale) error = %v, want ErrOrderConflict", err)
	}

	got, _ := r.Get(ctx, o.ID)
	if got.Status != domain.OrderCompleted || got.PaymentID != "pay_1" || got.Version != 2 {
		t.Errorf("Get() = status %s payment %q version %d", got.Status, got.PaymentID, got.Version)
	}

	missing := newOrder(t, "nobody")
	if err := r.Update(ctx, missing); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrOrderNotFound", err)
	}
}

func testOrderConcurrentUpdate(t *testing.T, r service.OrderRepository) {
	ctx := context.Background()
	o := newOrder(t, uniqueID("user-"))
	if err := r.Create(ctx, o); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	const n = 16
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mine := o.Clone()
			mine.Status = domain.OrderCompleted
			err := r.Update(ctx, mine)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				won++
			} else if !errors.Is(err, domain.ErrOrderConflict) {
				t.Errorf("Update() error = %v", err)
			}
		}()
	}
	wg.Wait()
	if won != 1 {
		t.Errorf("successful concurrent updates = %d, want 1", won)
	}
}

package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestOrderStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderPending, OrderCompleted, true},
		{OrderPending, OrderFailed, true},
		{OrderPending, OrderPending, false},
		{OrderCompleted, OrderFailed, false},
		{OrderCompleted, OrderPending, false},
		{OrderCompleted, OrderCompleted, false},
		{OrderFailed, OrderCompleted, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseOrderStatus(t *testing.T) {
	if s, err := ParseOrderStatus(" Completed "); err != nil || s != OrderCompleted {
		t.Errorf("ParseOrderStatus() = %q, %v", s, err)
	}
	if _, err := ParseOrderStatus("shipped"); !errors.Is(err, ErrOrderValidation) {
		t.Errorf("ParseOrderStatus(shipped) error = %v, want validation", err)
	}
}

func TestNewOrder(t *testing.T) {
	o, err := NewOrder("user-1", "a@example.com", []LineItem{
		{ProductID: "p1", Quantity: 2, UnitPrice: 500},
		{ProductID: "p2", Quantity: 1, UnitPrice: 1999},
	})
	if err != nil {
		t.Fatalf("NewOrder() error = %v", err)
	}
	if !strings.HasPrefix(o.ID, OrderIDPrefix) || len(o.ID) != len(OrderIDPrefix)+26 {
		t.Errorf("ID = %q, want ord-{ulid}", o.ID)
	}
	if o.Status != OrderPending {
		t.Errorf("Status = %q, want pending", o.Status)
	}
	if o.Amount != 2999 {
		t.Errorf("Amount = %d, want 2999", o.Amount)
	}
	if err := o.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if time.Since(time.UnixMilli(o.CreatedAt)) > time.Minute {
		t.Error("CreatedAt should be now")
	}
}

func TestOrder_Validate(t *testing.T) {
	base := func() *Order {
		return &Order{UserID: "u", Items: []LineItem{{ProductID: "p", Quantity: 1}}}
	}
	tests := []struct {
		name   string
		mutate func(o *Order)
	}{
		{"missing user", func(o *Order) { o.UserID = "" }},
		{"no items", func(o *Order) { o.Items = nil }},
		{"duplicate product", func(o *Order) { o.Items = append(o.Items, o.Items[0]) }},
		{"slash in product", func(o *Order) { o.Items[0].ProductID = "a/b" }},
		{"zero quantity", func(o *Order) { o.Items[0].Quantity = 0 }},
		{"bad email", func(o *Order) { o.CustomerEmail = "nope" }},
		{"negative policy", func(o *Order) { o.Policy = &PolicyOverride{MaxUses: -1} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := base()
			tt.mutate(o)
			if err := o.Validate(); !errors.Is(err, ErrOrderValidation) {
				t.Errorf("Validate() error = %v, want validation error", err)
			}
		})
	}
}

func TestOrder_ApplyDeliveries(t *testing.T) {
	o := &Order{Items: []LineItem{{ProductID: "a"}, {ProductID: "b"}}}

	o.ApplyDeliveries([]LineDelivery{
		{ProductID: "a", Status: DeliveryReady, TokenID: "tvdl_a"},
		{ProductID: "b", Status: DeliveryPreparing},
	})
	if o.FullyDelivered() {
		t.Error("order with a preparing line should not be fully delivered")
	}
	if len(o.DownloadTokenIDs) != 1 {
		t.Fatalf("DownloadTokenIDs = %v, want one id", o.DownloadTokenIDs)
	}

	o.ApplyDeliveries([]LineDelivery{
		{ProductID: "a", Status: DeliveryReady, TokenID: "tvdl_a"},
		{ProductID: "b", Status: DeliveryReady, TokenID: "tvdl_b"},
	})
	if !o.FullyDelivered() {
		t.Error("order should be fully delivered")
	}
	if len(o.DownloadTokenIDs) != 2 {
		t.Errorf("DownloadTokenIDs = %v, want two unique ids", o.DownloadTokenIDs)
	}
}

func TestPolicy_Override(t *testing.T) {
	p := DefaultPolicy().Override(&PolicyOverride{MaxUses: 2})
	if p.MaxUses != 2 || p.TTL != DefaultTokenTTL {
		t.Errorf("Override() = %+v", p)
	}
	p = p.Override(&PolicyOverride{TTLSeconds: 3600})
	if p.TTL != time.Hour {
		t.Errorf("TTL = %v, want 1h", p.TTL)
	}
	if DefaultPolicy().ExpiresInDays() != 7 {
		t.Errorf("ExpiresInDays() = %d, want 7", DefaultPolicy().ExpiresInDays())
	}
	if err := (Policy{TTL: time.Hour}).Validate(); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Validate() error = %v, want invalid argument", err)
	}
}

package domain

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// OrderIDPrefix is the prefix for generated order IDs.
const OrderIDPrefix = "ord-"

// OrderStatus is the closed set of order states.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderFailed    OrderStatus = "failed"
)

// ParseOrderStatus converts a raw string into an OrderStatus.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch OrderStatus(strings.ToLower(strings.TrimSpace(s))) {
	case OrderPending:
		return OrderPending, nil
	case OrderCompleted:
		return OrderCompleted, nil
	case OrderFailed:
		return OrderFailed, nil
	default:
		return "", ErrOrderValidation.WithDetails(fmt.Sprintf("unknown status %q", s))
	}
}

// IsTerminal reports whether no further transitions are allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderCompleted || s == OrderFailed
}

// CanTransition reports whether s may move to next.
// Only pending orders transition: to completed on payment confirmation or
// to failed on payment failure.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s != OrderPending {
		return false
	}
	return next == OrderCompleted || next == OrderFailed
}

// DeliveryStatus is the closed set of per-line delivery states.
type DeliveryStatus string

const (
	// DeliveryReady means a token was issued and the link is live.
	DeliveryReady DeliveryStatus = "ready"
	// DeliveryPreparing means no token exists yet; delivery can be retried.
	DeliveryPreparing DeliveryStatus = "preparing"
)

// LineItem is one purchased product in an order.
type LineItem struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	Quantity    int    `json:"quantity"`
	// UnitPrice is in minor currency units.
	UnitPrice int64 `json:"unit_price"`
}

// PolicyOverride carries per-order token policy. Zero fields fall through
// to the product or default policy.
type PolicyOverride struct {
	TTLSeconds int64 `json:"ttl_seconds,omitempty"`
	MaxUses    int   `json:"max_uses,omitempty"`
}

// LineDelivery is the delivery outcome of one line item.
type LineDelivery struct {
	ProductID     string         `json:"product_id"`
	ProductName   string         `json:"product_name,omitempty"`
	Status        DeliveryStatus `json:"delivery_status"`
	TokenID       string         `json:"token_id,omitempty"`
	DownloadURL   string         `json:"download_url,omitempty"`
	ExpiresAt     int64          `json:"expires_at,omitempty"`
	ExpiresInDays int            `json:"expires_in_days,omitempty"`
	MaxDownloads  int            `json:"max_downloads,omitempty"`
	FileAvailable bool           `json:"file_available"`
	Reason        string         `json:"reason,omitempty"`
}

// Order is an order record as seen by the delivery subsystem.
type Order struct {
	// ID format: ord-{ulid_lowercase}.
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	CustomerEmail string          `json:"customer_email,omitempty"`
	Items         []LineItem      `json:"items"`
	Amount        int64           `json:"amount"`
	Currency      string          `json:"currency,omitempty"`
	PaymentID     string          `json:"payment_id,omitempty"`
	Status        OrderStatus     `json:"status"`
	Policy        *PolicyOverride `json:"policy,omitempty"`

	Deliveries       []LineDelivery `json:"deliveries,omitempty"`
	DownloadTokenIDs []string       `json:"download_token_ids,omitempty"`

	CreatedAt int64 `json:"created_at"` // Unix milliseconds
	UpdatedAt int64 `json:"updated_at"` // Unix milliseconds

	// Version is the optimistic lock version number.
	Version uint64 `json:"version"`
}

// NewOrder creates a pending order with a generated ID.
// Amount is derived from the line items.
func NewOrder(userID, email string, items []LineItem) (*Order, error) {
	id, err := GenerateOrderID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UnixMilli()
	o := &Order{
		ID:            id,
		UserID:        userID,
		CustomerEmail: email,
		Items:         items,
		Status:        OrderPending,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}
	for _, it := range items {
		o.Amount += it.UnitPrice * int64(it.Quantity)
	}
	return o, nil
}

// GenerateOrderID generates a new order ID using ULID.
func GenerateOrderID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", ErrInternalServer.WithCause(err)
	}
	return OrderIDPrefix + strings.ToLower(id.String()), nil
}

// Validate checks the order invariants that do not depend on storage.
func (o *Order) Validate() error {
	if err := validateID("user_id", o.UserID); err != nil {
		return err
	}
	if len(o.Items) == 0 {
		return ErrOrderValidation.WithDetails("order has no items")
	}
	seen := make(map[string]struct{}, len(o.Items))
	for _, it := range o.Items {
		if err := validateID("product_id", it.ProductID); err != nil {
			return err
		}
		if _, dup := seen[it.ProductID]; dup {
			return ErrOrderValidation.WithDetails("duplicate product " + it.ProductID)
		}
		seen[it.ProductID] = struct{}{}
		if it.Quantity <= 0 {
			return ErrOrderValidation.WithDetails("quantity must be positive")
		}
		if it.UnitPrice < 0 {
			return ErrOrderValidation.WithDetails("unit_price must not be negative")
		}
	}
	if o.CustomerEmail != "" && !strings.Contains(o.CustomerEmail, "@") {
		return ErrOrderValidation.WithDetails("invalid customer_email")
	}
	if p := o.Policy; p != nil && (p.TTLSeconds < 0 || p.MaxUses < 0) {
		return ErrOrderValidation.WithDetails("policy values must not be negative")
	}
	return nil
}

// ApplyDeliveries replaces the line deliveries and merges the issued token
// ids into DownloadTokenIDs. Token ids are never removed.
func (o *Order) ApplyDeliveries(lines []LineDelivery) {
	o.Deliveries = lines
	seen := make(map[string]struct{}, len(o.DownloadTokenIDs))
	for _, id := range o.DownloadTokenIDs {
		seen[id] = struct{}{}
	}
	for _, l := range lines {
		if l.TokenID == "" {
			continue
		}
		if _, ok := seen[l.TokenID]; ok {
			continue
		}
		seen[l.TokenID] = struct{}{}
		o.DownloadTokenIDs = append(o.DownloadTokenIDs, l.TokenID)
	}
}

// FullyDelivered reports whether every line item has a ready delivery.
func (o *Order) FullyDelivered() bool {
	if len(o.Deliveries) != len(o.Items) {
		return false
	}
	for _, d := range o.Deliveries {
		if d.Status != DeliveryReady {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]LineItem(nil), o.Items...)
	c.Deliveries = append([]LineDelivery(nil), o.Deliveries...)
	c.DownloadTokenIDs = append([]string(nil), o.DownloadTokenIDs...)
	if o.Policy != nil {
		p := *o.Policy
		c.Policy = &p
	}
	return &c
}

func validateID(field, v string) error {
	if v == "" {
		return ErrOrderValidation.WithDetails(field + " is required")
	}
	if len(v) > MaxIDLength {
		return ErrOrderValidation.WithDetails(fmt.Sprintf("%s exceeds %d characters", field, MaxIDLength))
	}
	if strings.ContainsAny(v, "/ \t\r\n") {
		return ErrOrderValidation.WithDetails(field + " contains invalid characters")
	}
	return nil
}

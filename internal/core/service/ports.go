package service

import (
	"context"
	"io"
	"time"

	"github.com/yndnr/tokvault-go/internal/core/domain"
	"github.com/yndnr/tokvault-go/pkg/token"
)

// TokenStore is the single source of truth for token validity and usage.
//
// Implementations must be safe for concurrent use by many goroutines and,
// for shared backends, many processes.
type TokenStore interface {
	// Put inserts a new token record. It returns domain.ErrTokenDuplicate
	// if the token id exists and domain.ErrLineAlreadyIssued if the
	// (order, product) pair already owns a token.
	Put(ctx context.Context, tok *domain.DownloadToken) error

	// Get returns the token record or domain.ErrTokenNotFound.
	Get(ctx context.Context, tokenID string) (*domain.DownloadToken, error)

	// GetByLine returns the token issued for an (order, product) pair or
	// domain.ErrTokenNotFound.
	GetByLine(ctx context.Context, orderID, productID string) (*domain.DownloadToken, error)

	// TryConsume atomically checks now < expires_at and uses_consumed <
	// max_uses and, if both hold, increments uses_consumed. Failed outcomes
	// never mutate state.
	//
	// A non-nil error is domain.ErrStoreUnavailable when the increment was
	// provably not applied, or domain.ErrConsumeIndeterminate when it may
	// have been.
	TryConsume(ctx context.Context, tokenID string, now time.Time) (domain.ConsumeResult, error)

	// Sweep deletes records whose expires_at is before cutoff and returns
	// how many were removed.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// OrderRepository persists orders.
type OrderRepository interface {
	// Create stores a new order; domain.ErrOrderConflict if the id exists.
	Create(ctx context.Context, order *domain.Order) error

	// Get returns the order or domain.ErrOrderNotFound.
	Get(ctx context.Context, orderID string) (*domain.Order, error)

	// ListByUser returns a user's orders, newest first.
	ListByUser(ctx context.Context, userID string) ([]*domain.Order, error)

	// Update replaces the order if its stored Version equals
	// order.Version, then increments Version. A mismatch returns
	// domain.ErrOrderConflict.
	Update(ctx context.Context, order *domain.Order) error
}

// Asset is a resolved, retrievable product file.
type Asset struct {
	ProductID   string
	Name        string
	FileName    string
	ContentType string
	Size        int64
}

// AssetResolver maps product ids to retrievable files.
type AssetResolver interface {
	// Resolve returns domain.ErrAssetUnavailable when the product file is
	// not staged yet.
	Resolve(ctx context.Context, productID string) (*Asset, error)

	// Open returns the file contents of a resolved asset.
	Open(ctx context.Context, asset *Asset) (io.ReadCloser, error)
}

// Notification is a delivery message for one product.
type Notification struct {
	Recipient   string
	OrderID     string
	ProductID   string
	ProductName string
	URL         string
	ExpiresAt   time.Time
	MaxUses     int
}

// Notifier sends delivery notifications. Callers treat failures as
// best-effort and never roll back issuance.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// TokenCodec mints and verifies download tokens.
type TokenCodec interface {
	Mint(req token.MintRequest) (string, token.Metadata, error)
	Verify(tokenID string) (token.Metadata, error)
}

// Recorder receives service-level measurements. A nil Recorder is valid.
type Recorder interface {
	TokenIssued(productID string)
	LineDelivered(status domain.DeliveryStatus)
	Redemption(outcome string)
	StoreOperation(op string, err error, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) TokenIssued(string)                          {}
func (nopRecorder) LineDelivered(domain.DeliveryStatus)         {}
func (nopRecorder) Redemption(string)                           {}
func (nopRecorder) StoreOperation(string, error, time.Duration) {}

func recorderOrNop(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}

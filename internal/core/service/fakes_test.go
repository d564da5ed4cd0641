package service_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yndnr/tokvault-go/internal/core/domain"
	"github.com/yndnr/tokvault-go/internal/core/service"
	"github.com/yndnr/tokvault-go/internal/storage/memory"
	"github.com/yndnr/tokvault-go/internal/telemetry/logger"
	"github.com/yndnr/tokvault-go/pkg/token"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestCodec(t *testing.T, opts ...token.Option) *token.Codec {
	t.Helper()
	c, err := token.NewCodec(testSecret, opts...)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	return c
}

// fakeAssets serves in-memory files; products without content are
// unavailable.
type fakeAssets struct {
	mu      sync.Mutex
	files   map[string][]byte
	opened  atomic.Int32
	closed  atomic.Int32
	openErr error
}

func newFakeAssets(products ...string) *fakeAssets {
	a := &fakeAssets{files: make(map[string][]byte)}
	for _, p := range products {
		a.files[p] = []byte("contents of " + p)
	}
	return a
}

func (a *fakeAssets) stage(productID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.files[productID] = []byte("contents of " + productID)
}

func (a *fakeAssets) Resolve(_ context.Context, productID string) (*service.Asset, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.files[productID]
	if !ok {
		return nil, domain.ErrAssetUnavailable.WithDetails(productID)
	}
	return &service.Asset{
		ProductID:   productID,
		Name:        "Product " + productID,
		FileName:    productID + ".pdf",
		ContentType: "application/pdf",
		Size:        int64(len(data)),
	}, nil
}

func (a *fakeAssets) Open(_ context.Context, asset *service.Asset) (io.ReadCloser, error) {
	if a.openErr != nil {
		return nil, a.openErr
	}
	a.mu.Lock()
	data := a.files[asset.ProductID]
	a.mu.Unlock()
	a.opened.Add(1)
	return &trackedBody{Reader: bytes.NewReader(data), closed: &a.closed}, nil
}

type trackedBody struct {
	io.Reader
	closed *atomic.Int32
}

func (b *trackedBody) Close() error {
	b.closed.Add(1)
	return nil
}

// recordingNotifier captures notifications.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []service.Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg service.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// faultyStore wraps a store and injects errors per operation.
type faultyStore struct {
	service.TokenStore
	putErr     error
	getLineErr error
	consumeErr error
}

func (s *faultyStore) Put(ctx context.Context, tok *domain.DownloadToken) error {
	if s.putErr != nil {
		return s.putErr
	}
	return s.TokenStore.Put(ctx, tok)
}

func (s *faultyStore) GetByLine(ctx context.Context, orderID, productID string) (*domain.DownloadToken, error) {
	if s.getLineErr != nil {
		return nil, s.getLineErr
	}
	return s.TokenStore.GetByLine(ctx, orderID, productID)
}

func (s *faultyStore) TryConsume(ctx context.Context, tokenID string, now time.Time) (domain.ConsumeResult, error) {
	if s.consumeErr != nil {
		return domain.ConsumeResult{}, s.consumeErr
	}
	return s.TokenStore.TryConsume(ctx, tokenID, now)
}

// countingRecorder counts redemption outcomes.
type countingRecorder struct {
	mu          sync.Mutex
	redemptions map[string]int
	issued      int
}

func (r *countingRecorder) TokenIssued(string) {
	r.mu.Lock()
	r.issued++
	r.mu.Unlock()
}
func (r *countingRecorder) LineDelivered(domain.DeliveryStatus) {}
func (r *countingRecorder) Redemption(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.redemptions == nil {
		r.redemptions = make(map[string]int)
	}
	r.redemptions[outcome]++
}
func (r *countingRecorder) StoreOperation(string, error, time.Duration) {}

type fixture struct {
	store    *memory.TokenStore
	codec    *token.Codec
	assets   *fakeAssets
	notifier *recordingNotifier
	policy   *service.PolicyResolver
	delivery *service.DeliveryService
	download *service.DownloadService
}

func newFixture(t *testing.T, products ...string) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.NewTokenStore(),
		codec:    newTestCodec(t),
		assets:   newFakeAssets(products...),
		notifier: &recordingNotifier{},
		policy:   service.NewPolicyResolver(nil),
	}
	f.delivery = service.NewDeliveryService(service.DeliveryDeps{
		Store:    f.store,
		Codec:    f.codec,
		Assets:   f.assets,
		Notifier: f.notifier,
		Policy:   f.policy,
		Logger:   logger.Discard(),
	}, &service.DeliveryConfig{PublicBaseURL: "https://shop.example.com/", Concurrency: 2})
	f.download = service.NewDownloadService(f.store, f.codec, f.assets, nil, logger.Discard(), nil)
	return f
}

func completedOrder(t *testing.T, products ...string) *domain.Order {
	t.Helper()
	items := make([]domain.LineItem, len(products))
	for i, p := range products {
		items[i] = domain.LineItem{ProductID: p, Quantity: 1, UnitPrice: 999}
	}
	o, err := domain.NewOrder("user-1", "buyer@example.com", items)
	if err != nil {
		t.Fatalf("NewOrder() error = %v", err)
	}
	o.Status = domain.OrderCompleted
	return o
}

var errBoom = errors.New("boom")

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/tokvault-go/internal/asset"
	"github.com/yndnr/tokvault-go/internal/core/domain"
	"github.com/yndnr/tokvault-go/internal/core/service"
	"github.com/yndnr/tokvault-go/internal/notify"
	"github.com/yndnr/tokvault-go/internal/storage/memory"
	"github.com/yndnr/tokvault-go/internal/telemetry/logger"
	"github.com/yndnr/tokvault-go/pkg/token"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

const ebookContents = "%PDF-1.7 not really a pdf"

// flakyStore fails TryConsume with consumeErr when set.
type flakyStore struct {
	service.TokenStore
	consumeErr error
}

func (s *flakyStore) TryConsume(ctx context.Context, tokenID string, now time.Time) (domain.ConsumeResult, error) {
	if s.consumeErr != nil {
		return domain.ConsumeResult{}, s.consumeErr
	}
	return s.TokenStore.TryConsume(ctx, tokenID, now)
}

type fixture struct {
	t        *testing.T
	handler  *Handler
	store    *flakyStore
	codec    *token.Codec
	assetDir string
	readyErr error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "book.pdf"), []byte(ebookContents), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	catalog := &asset.Catalog{
		Root: dir,
		Products: map[string]asset.Entry{
			"ebook": {Name: "Go in Practice", File: "book.pdf"},
			"video": {Name: "Course Videos", File: "course.mp4"},
		},
	}

	codec, err := token.NewCodec(testSecret)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	log := logger.Discard()
	store := &flakyStore{TokenStore: memory.NewTokenStore()}
	assets := asset.NewResolver(catalog)

	delivery := service.NewDeliveryService(service.DeliveryDeps{
		Store:    store,
		Codec:    codec,
		Assets:   assets,
		Notifier: notify.NewLogSink(log),
		Logger:   log,
	}, &service.DeliveryConfig{PublicBaseURL: "https://shop.example.com", Concurrency: 2})

	f := &fixture{t: t, store: store, codec: codec, assetDir: dir}
	f.handler = New(&Config{
		Orders:   service.NewOrderService(memory.NewOrderRepository(), delivery, log),
		Download: service.NewDownloadService(store, codec, assets, nil, log, nil),
		Sweeper:  service.NewSweeper(store, nil, log),
		Ready:    func(context.Context) error { return f.readyErr },
		Status:   func() map[string]any { return map[string]any{"backend": "memory"} },
		Logger:   log,
	})
	return f
}

func (f *fixture) do(method, target string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			f.t.Fatalf("Marshal() error = %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("Unmarshal(%q) error = %v", rec.Body.String(), err)
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("Unmarshal(data) error = %v", err)
		}
	}
	return env
}

// completedOrder creates and completes an order for products, returning
// the order response.
func (f *fixture) completedOrder(maxUses int, products ...string) OrderResponse {
	f.t.Helper()
	req := CreateOrderRequest{UserID: "user-1", CustomerEmail: "buyer@example.com"}
	for _, p := range products {
		req.Items = append(req.Items, domain.LineItem{ProductID: p, Quantity: 1, UnitPrice: 1999})
	}
	if maxUses > 0 {
		req.Policy = &domain.PolicyOverride{MaxUses: maxUses}
	}
	rec := f.do(http.MethodPost, "/orders", req)
	if rec.Code != http.StatusCreated {
		f.t.Fatalf("POST /orders status = %d, body = %s", rec.Code, rec.Body)
	}
	var created OrderResponse
	decode(f.t, rec, &created)

	rec = f.do(http.MethodPut, "/orders/"+created.Order.ID+"/status?status=completed&payment_id=pay-1", nil)
	if rec.Code != http.StatusOK {
		f.t.Fatalf("PUT status = %d, body = %s", rec.Code, rec.Body)
	}
	var done OrderResponse
	decode(f.t, rec, &done)
	return done
}

func tokenFromURL(t *testing.T, raw string) string {
	t.Helper()
	if !strings.HasPrefix(raw, "https://shop.example.com/download/") {
		t.Fatalf("download url = %q", raw)
	}
	return path.Base(raw)
}

func lineFor(t *testing.T, resp OrderResponse, productID string) domain.LineDelivery {
	t.Helper()
	for _, l := range resp.Order.Deliveries {
		if l.ProductID == productID {
			return l
		}
	}
	t.Fatalf("no delivery for %s in %+v", productID, resp.Order.Deliveries)
	return domain.LineDelivery{}
}

func TestOrderCompletionAndDownload(t *testing.T) {
	f := newFixture(t)
	resp := f.completedOrder(2, "ebook", "video")

	if resp.Order.Status != domain.OrderCompleted || resp.Order.PaymentID != "pay-1" {
		t.Errorf("order = %s/%s, want completed/pay-1", resp.Order.Status, resp.Order.PaymentID)
	}
	if resp.Delivery == nil || resp.Delivery.Ready != 1 || resp.Delivery.Preparing != 1 {
		t.Fatalf("delivery = %+v, want 1 ready 1 preparing", resp.Delivery)
	}
	video := lineFor(t, resp, "video")
	if video.Status != domain.DeliveryPreparing || video.DownloadURL != "" {
		t.Errorf("video line = %+v, want preparing without url", video)
	}
	ebook := lineFor(t, resp, "ebook")
	if ebook.Status != domain.DeliveryReady || ebook.MaxDownloads != 2 {
		t.Fatalf("ebook line = %+v", ebook)
	}
	tok := tokenFromURL(t, ebook.DownloadURL)

	for _, wantRemaining := range []string{"1", "0"} {
		rec := f.do(http.MethodGet, "/download/"+tok, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("download status = %d, body = %s", rec.Code, rec.Body)
		}
		if rec.Body.String() != ebookContents {
			t.Errorf("body = %q", rec.Body.String())
		}
		h := rec.Header()
		if got := h.Get("Content-Disposition"); got != `attachment; filename=book.pdf` {
			t.Errorf("Content-Disposition = %q", got)
		}
		if got := h.Get("Content-Type"); got != "application/pdf" {
			t.Errorf("Content-Type = %q", got)
		}
		if got := h.Get("Content-Length"); got != "25" {
			t.Errorf("Content-Length = %q", got)
		}
		if got := h.Get("Cache-Control"); got != "no-store" {
			t.Errorf("Cache-Control = %q", got)
		}
		if got := h.Get("X-Downloads-Remaining"); got != wantRemaining {
			t.Errorf("X-Downloads-Remaining = %q, want %s", got, wantRemaining)
		}
	}

	rec := f.do(http.MethodGet, "/download/"+tok, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("third download status = %d, want 404", rec.Code)
	}
	env := decode(t, rec, nil)
	if env.Message != invalidLinkMessage {
		t.Errorf("message = %q", env.Message)
	}
}

func TestDownload_FailuresLookAlike(t *testing.T) {
	f := newFixture(t)
	resp := f.completedOrder(1, "ebook")
	exhausted := tokenFromURL(t, lineFor(t, resp, "ebook").DownloadURL)
	if rec := f.do(http.MethodGet, "/download/"+exhausted, nil); rec.Code != http.StatusOK {
		t.Fatalf("first download status = %d", rec.Code)
	}

	unknown, _, err := f.codec.Mint(token.MintRequest{
		OrderID: "ord-x", ProductID: "ebook", UserID: "u", TTL: time.Hour, MaxUses: 1,
	})
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	expiredCodec, err := token.NewCodec(testSecret, token.WithClock(func() time.Time { return time.Now().Add(-48 * time.Hour) }))
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	expired, md, err := expiredCodec.Mint(token.MintRequest{
		OrderID: "ord-y", ProductID: "ebook", UserID: "u", TTL: time.Hour, MaxUses: 3,
	})
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if err := f.store.Put(context.Background(), domain.NewDownloadToken(expired, md)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	tampered := []byte(unknown)
	tampered[len(tampered)-3] ^= 0x01

	cases := map[string]string{
		"exhausted": exhausted,
		"unknown":   unknown,
		"expired":   expired,
		"tampered":  string(tampered),
		"garbage":   "not-a-token",
	}
	var first string
	for name, tok := range cases {
		rec := f.do(http.MethodGet, "/download/"+tok, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", name, rec.Code)
			continue
		}
		env := decode(t, rec, nil)
		got := env.Code + "|" + env.Message
		if first == "" {
			first = got
		} else if got != first {
			t.Errorf("%s: response %q differs from %q", name, got, first)
		}
	}
}

func TestDownload_HeadDoesNotSpendUse(t *testing.T) {
	f := newFixture(t)
	resp := f.completedOrder(1, "ebook")
	tok := tokenFromURL(t, lineFor(t, resp, "ebook").DownloadURL)

	for i := 0; i < 3; i++ {
		rec := f.do(http.MethodHead, "/download/"+tok, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("HEAD %d status = %d, want 200", i, rec.Code)
		}
		if got := rec.Header().Get("X-Downloads-Remaining"); got != "1" {
			t.Errorf("HEAD %d X-Downloads-Remaining = %q, want 1", i, got)
		}
		if got := rec.Header().Get("Content-Length"); got != "25" {
			t.Errorf("HEAD %d Content-Length = %q", i, got)
		}
		if rec.Body.Len() != 0 {
			t.Errorf("HEAD %d wrote %d body bytes", i, rec.Body.Len())
		}
	}

	rec := f.do(http.MethodGet, "/download/"+tok, nil)
	if rec.Code != http.StatusOK || rec.Body.String() != ebookContents {
		t.Fatalf("GET after HEAD status = %d body = %q", rec.Code, rec.Body)
	}

	if rec := f.do(http.MethodHead, "/download/"+tok, nil); rec.Code != http.StatusNotFound {
		t.Errorf("HEAD on used-up link status = %d, want 404", rec.Code)
	}
	if rec := f.do(http.MethodHead, "/download/not-a-token", nil); rec.Code != http.StatusNotFound {
		t.Errorf("HEAD on garbage link status = %d, want 404", rec.Code)
	}
}

func TestDownload_AssetRemovedDoesNotSpendUse(t *testing.T) {
	f := newFixture(t)
	resp := f.completedOrder(1, "ebook")
	tok := tokenFromURL(t, lineFor(t, resp, "ebook").DownloadURL)

	if err := os.Remove(filepath.Join(f.assetDir, "book.pdf")); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	rec := f.do(http.MethodGet, "/download/"+tok, nil)
	if rec.Code != http.StatusServiceUnavailable || rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("status = %d Retry-After = %q, want 503/60", rec.Code, rec.Header().Get("Retry-After"))
	}

	rec = f.do(http.MethodGet, "/admin/v1/tokens/"+tok, nil)
	var view service.TokenView
	decode(t, rec, &view)
	if view.Remaining != 1 {
		t.Errorf("remaining = %d after failed download, want 1", view.Remaining)
	}
}

func TestDownload_StoreErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"unavailable", domain.ErrStoreUnavailable, domain.ErrStoreUnavailable.Code},
		{"indeterminate", domain.ErrConsumeIndeterminate, domain.ErrConsumeIndeterminate.Code},
		{"unclassified", errors.New("driver exploded"), domain.ErrConsumeIndeterminate.Code},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			resp := f.completedOrder(0, "ebook")
			tok := tokenFromURL(t, lineFor(t, resp, "ebook").DownloadURL)

			f.store.consumeErr = tt.err
			rec := f.do(http.MethodGet, "/download/"+tok, nil)
			if rec.Code != http.StatusServiceUnavailable {
				t.Fatalf("status = %d, want 503", rec.Code)
			}
			if rec.Header().Get("Retry-After") == "" {
				t.Error("missing Retry-After")
			}
			if env := decode(t, rec, nil); env.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", env.Code, tt.wantCode)
			}
		})
	}
}

func TestOrderAPI_Errors(t *testing.T) {
	f := newFixture(t)
	resp := f.completedOrder(0, "ebook")

	failed := f.do(http.MethodPost, "/orders", CreateOrderRequest{
		UserID: "user-2",
		Items:  []domain.LineItem{{ProductID: "ebook", Quantity: 1}},
	})
	var created OrderResponse
	decode(t, failed, &created)
	if rec := f.do(http.MethodPut, "/orders/"+created.Order.ID+"/status", UpdateStatusRequest{Status: "failed"}); rec.Code != http.StatusOK {
		t.Fatalf("fail order status = %d, body = %s", rec.Code, rec.Body)
	}

	tests := []struct {
		name       string
		method     string
		target     string
		body       any
		wantStatus int
	}{
		{"bad json", http.MethodPost, "/orders", "not an object", http.StatusBadRequest},
		{"no items", http.MethodPost, "/orders", CreateOrderRequest{UserID: "u"}, http.StatusBadRequest},
		{"unknown order", http.MethodGet, "/orders/ord-missing", nil, http.StatusNotFound},
		{"missing status", http.MethodPut, "/orders/" + resp.Order.ID + "/status", nil, http.StatusBadRequest},
		{"bad status", http.MethodPut, "/orders/" + resp.Order.ID + "/status?status=shipped", nil, http.StatusBadRequest},
		{"completed to failed", http.MethodPut, "/orders/" + resp.Order.ID + "/status?status=failed", nil, http.StatusConflict},
		{"failed to completed", http.MethodPut, "/orders/" + created.Order.ID + "/status?status=completed", nil, http.StatusConflict},
		{"redeliver failed order", http.MethodPost, "/orders/" + created.Order.ID + "/deliver", nil, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(tt.method, tt.target, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d, body = %s", rec.Code, tt.wantStatus, rec.Body)
			}
			if rec.Header().Get("X-Error-Code") == "" {
				t.Error("missing X-Error-Code")
			}
		})
	}
}

func TestOrderAPI_RedeliverAfterStaging(t *testing.T) {
	f := newFixture(t)
	resp := f.completedOrder(0, "video")
	if lineFor(t, resp, "video").Status != domain.DeliveryPreparing {
		t.Fatal("video should be preparing before staging")
	}

	if err := os.WriteFile(filepath.Join(f.assetDir, "course.mp4"), []byte("frames"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	rec := f.do(http.MethodPost, "/orders/"+resp.Order.ID+"/deliver", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("deliver status = %d, body = %s", rec.Code, rec.Body)
	}
	var again OrderResponse
	decode(t, rec, &again)
	line := lineFor(t, again, "video")
	if line.Status != domain.DeliveryReady {
		t.Fatalf("video line = %+v, want ready", line)
	}
	if len(again.Order.DownloadTokenIDs) != 1 {
		t.Errorf("download_token_ids = %v, want one", again.Order.DownloadTokenIDs)
	}

	rec = f.do(http.MethodPost, "/orders/"+resp.Order.ID+"/notify", nil)
	var rn RenotifyResponse
	decode(t, rec, &rn)
	if rec.Code != http.StatusAccepted || rn.Notified != 1 {
		t.Errorf("renotify = %d/%d, want 202/1", rec.Code, rn.Notified)
	}
}

func TestListUserOrders(t *testing.T) {
	f := newFixture(t)
	f.completedOrder(0, "ebook")

	var list ListOrdersResponse
	decode(t, f.do(http.MethodGet, "/users/user-1/orders", nil), &list)
	if list.Total != 1 || len(list.Orders) != 1 {
		t.Errorf("user-1 orders = %d", list.Total)
	}

	rec := f.do(http.MethodGet, "/users/nobody/orders", nil)
	if !strings.Contains(rec.Body.String(), `"orders":[]`) {
		t.Errorf("empty list body = %s", rec.Body)
	}
}

func TestAdmin_InspectAndSweep(t *testing.T) {
	f := newFixture(t)
	resp := f.completedOrder(3, "ebook")
	tok := tokenFromURL(t, lineFor(t, resp, "ebook").DownloadURL)

	rec := f.do(http.MethodGet, "/admin/v1/tokens/"+tok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("inspect status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), tok) {
		t.Error("inspect response contains the full token")
	}
	var view service.TokenView
	decode(t, rec, &view)
	if view.Status != "valid" || view.Remaining != 3 || view.Metadata.OrderID != resp.Order.ID {
		t.Errorf("view = %+v", view)
	}

	if rec := f.do(http.MethodGet, "/admin/v1/tokens/garbage", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("inspect garbage status = %d, want 400", rec.Code)
	}

	var sweep SweepResponse
	decode(t, f.do(http.MethodPost, "/admin/v1/tokens/sweep", nil), &sweep)
	if sweep.Removed != 0 {
		t.Errorf("default sweep removed %d live tokens", sweep.Removed)
	}
	future := time.Now().Add(365 * 24 * time.Hour).UnixMilli()
	decode(t, f.do(http.MethodPost, "/admin/v1/tokens/sweep", SweepRequest{Before: future}), &sweep)
	if sweep.Removed != 1 {
		t.Errorf("sweep before future removed %d, want 1", sweep.Removed)
	}
}

func TestHealthReadyStatus(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/ready", nil); rec.Code != http.StatusOK {
		t.Errorf("ready status = %d", rec.Code)
	}
	f.readyErr = errors.New("store down")
	if rec := f.do(http.MethodGet, "/ready", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready status = %d, want 503", rec.Code)
	}

	var summary map[string]any
	decode(t, f.do(http.MethodGet, "/admin/v1/status/summary", nil), &summary)
	if summary["backend"] != "memory" || summary["build"] == nil {
		t.Errorf("summary = %v", summary)
	}
}

func TestErrorCodeToHTTPStatus(t *testing.T) {
	tests := map[string]int{
		"TV-TOKN-4000": http.StatusBadRequest,
		"TV-ORDR-4040": http.StatusNotFound,
		"TV-ORDR-4090": http.StatusConflict,
		"TV-AUTH-4010": http.StatusUnauthorized,
		"TV-AUTH-4030": http.StatusForbidden,
		"TV-SYS-4290":  http.StatusTooManyRequests,
		"TV-SYS-5030":  http.StatusServiceUnavailable,
		"TV-ARG-1001":  http.StatusBadRequest,
		"TV-SYS-5000":  http.StatusInternalServerError,
	}
	for code, want := range tests {
		if got := errorCodeToHTTPStatus(code); got != want {
			t.Errorf("errorCodeToHTTPStatus(%s) = %d, want %d", code, got, want)
		}
	}
}

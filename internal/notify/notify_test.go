package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/yndnr/tokvault-go/internal/core/service"
	"github.com/yndnr/tokvault-go/internal/telemetry/logger"
)

func testNotification() service.Notification {
	return service.Notification{
		Recipient:   "buyer@example.com",
		OrderID:     "ord-01j",
		ProductID:   "handbook",
		ProductName: "The Go Handbook",
		URL:         "https://shop.example.com/download/tvdl_AQIDBAUGBwgJCgsMDQ4PEBESExQ",
		ExpiresAt:   time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC),
		MaxUses:     5,
	}
}

func TestMaskURL(t *testing.T) {
	got := maskURL(testNotification().URL)
	if strings.Contains(got, "tvdl_AQIDBAUGBwgJCgsMDQ4PEBESExQ") {
		t.Errorf("maskURL() leaked token: %s", got)
	}
	if !strings.HasPrefix(got, "https://shop.example.com/download/tvdl_") {
		t.Errorf("maskURL() = %s", got)
	}
}

func TestWebhookSink(t *testing.T) {
	secret := []byte("hook-secret")
	var got Event
	var sig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		sig = r.Header.Get(SignatureHeader)
		mac := hmac.New(sha256.New, secret)
		mac.Write(body)
		if sig != "sha256="+hex.EncodeToString(mac.Sum(nil)) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, secret, srv.Client())
	if err := sink.Notify(context.Background(), testNotification()); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if got.Type != EventDownloadReady || got.OrderID != "ord-01j" || got.MaxUses != 5 {
		t.Errorf("event = %+v", got)
	}
}

func TestWebhookSink_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookSink(srv.URL, nil, srv.Client()).Notify(context.Background(), testNotification())
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("Notify() error = %v, want status 502", err)
	}
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaSink(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSink(w, "deliveries")
	if err := sink.Notify(context.Background(), testNotification()); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	m := w.msgs[0]
	if m.Topic != "deliveries" || string(m.Key) != "ord-01j" {
		t.Errorf("message topic=%q key=%q", m.Topic, m.Key)
	}
	var ev Event
	if err := json.Unmarshal(m.Value, &ev); err != nil || ev.ProductName != "The Go Handbook" {
		t.Errorf("message value = %s (%v)", m.Value, err)
	}

	w.err = errors.New("broker down")
	if err := sink.Notify(context.Background(), testNotification()); err == nil {
		t.Error("Notify() succeeded with failing writer")
	}
}

func TestNewKafkaWriter_RequiresBrokers(t *testing.T) {
	if _, err := NewKafkaWriter(nil); err == nil {
		t.Error("NewKafkaWriter(nil) succeeded")
	}
}

type flakyNotifier struct {
	failures atomic.Int32
	calls    atomic.Int32
	ctxErr   atomic.Value
}

func (f *flakyNotifier) Notify(ctx context.Context, _ service.Notification) error {
	f.calls.Add(1)
	if ctx.Err() != nil {
		f.ctxErr.Store(ctx.Err())
	}
	if f.failures.Add(-1) >= 0 {
		return errors.New("temporary")
	}
	return nil
}

type countingObserver struct {
	mu      sync.Mutex
	results map[string]int
}

func (o *countingObserver) RecordNotification(_, result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.results == nil {
		o.results = make(map[string]int)
	}
	o.results[result]++
}

func TestAsync_RetriesUntilSuccess(t *testing.T) {
	next := &flakyNotifier{}
	next.failures.Store(2)
	obs := &countingObserver{}
	a := NewAsync(next, AsyncConfig{Name: "test", Backoff: time.Millisecond, Workers: 1}, logger.Discard(), obs)

	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Notify(ctx, testNotification()); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	cancel()

	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if next.calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", next.calls.Load())
	}
	if next.ctxErr.Load() != nil {
		t.Error("send saw the caller's cancellation")
	}
	if obs.results["ok"] != 1 || obs.results["error"] != 2 {
		t.Errorf("observer results = %v", obs.results)
	}
}

func TestAsync_GivesUp(t *testing.T) {
	next := &flakyNotifier{}
	next.failures.Store(100)
	obs := &countingObserver{}
	a := NewAsync(next, AsyncConfig{MaxAttempts: 3, Backoff: time.Millisecond}, logger.Discard(), obs)

	_ = a.Notify(context.Background(), testNotification())
	_ = a.Close(context.Background())
	if next.calls.Load() != 3 || obs.results["failed"] != 1 {
		t.Errorf("calls = %d, results = %v", next.calls.Load(), obs.results)
	}
}

type blockingNotifier struct {
	release chan struct{}
}

func (b *blockingNotifier) Notify(ctx context.Context, _ service.Notification) error {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}

func TestAsync_QueueFullAndClosed(t *testing.T) {
	next := &blockingNotifier{release: make(chan struct{})}
	a := NewAsync(next, AsyncConfig{QueueSize: 1, Workers: 1}, logger.Discard(), nil)

	// One in flight, one queued, the third overflows.
	var errs []error
	for i := 0; i < 3; i++ {
		errs = append(errs, a.Notify(context.Background(), testNotification()))
		time.Sleep(10 * time.Millisecond)
	}
	if !errors.Is(errs[2], ErrQueueFull) {
		t.Errorf("third Notify() error = %v, want ErrQueueFull", errs[2])
	}

	close(next.release)
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := a.Notify(context.Background(), testNotification()); !errors.Is(err, ErrClosed) {
		t.Errorf("Notify() after Close error = %v, want ErrClosed", err)
	}
}

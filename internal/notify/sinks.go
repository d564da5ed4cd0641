package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/yndnr/tokvault-go/internal/core/service"
	"github.com/yndnr/tokvault-go/internal/infra/buildinfo"
)

// LogSink logs notifications instead of sending them.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Notify implements service.Notifier.
func (s *LogSink) Notify(_ context.Context, n service.Notification) error {
	s.logger.Info("download ready",
		"recipient", n.Recipient,
		"order_id", n.OrderID,
		"product_id", n.ProductID,
		"product_name", n.ProductName,
		"url", maskURL(n.URL),
		"expires_at", n.ExpiresAt.UTC(),
		"max_downloads", n.MaxUses)
	return nil
}

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Tokvault-Signature"

// WebhookSink POSTs JSON events to a URL.
type WebhookSink struct {
	url    string
	secret []byte
	client *http.Client
	now    func() time.Time
}

// NewWebhookSink creates a WebhookSink. A non-empty secret signs each body.
func NewWebhookSink(url string, secret []byte, client *http.Client) *WebhookSink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookSink{url: url, secret: secret, client: client, now: time.Now}
}

// Notify implements service.Notifier.
func (s *WebhookSink) Notify(ctx context.Context, n service.Notification) error {
	body, err := json.Marshal(NewEvent(n, s.now()))
	if err != nil {
		return fmt.Errorf("webhook: encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	if len(s.secret) > 0 {
		mac := hmac.New(sha256.New, s.secret)
		mac.Write(body)
		req.Header.Set(SignatureHeader, "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes JSON events keyed by order id.
type KafkaSink struct {
	writer MessageWriter
	topic  string
	now    func() time.Time
}

// NewKafkaWriter creates a writer that waits for all in-sync replicas and
// hashes keys to partitions, keeping one order's events in order.
func NewKafkaWriter(brokers []string) (*kafka.Writer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker is required")
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}, nil
}

// NewKafkaSink creates a KafkaSink writing to topic.
func NewKafkaSink(w MessageWriter, topic string) *KafkaSink {
	return &KafkaSink{writer: w, topic: topic, now: time.Now}
}

// Notify implements service.Notifier.
func (s *KafkaSink) Notify(ctx context.Context, n service.Notification) error {
	body, err := json.Marshal(NewEvent(n, s.now()))
	if err != nil {
		return fmt.Errorf("kafka: encode event: %w", err)
	}
	now := s.now().UTC()
	err = s.writer.WriteMessages(ctx, kafka.Message{
		Topic: s.topic,
		Key:   []byte(n.OrderID),
		Value: body,
		Time:  now,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(EventDownloadReady)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka: publish: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

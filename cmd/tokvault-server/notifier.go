package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/yndnr/tokvault-go/internal/core/service"
	"github.com/yndnr/tokvault-go/internal/infra/tlsroots"
	"github.com/yndnr/tokvault-go/internal/notify"
	"github.com/yndnr/tokvault-go/internal/server/config"
	"github.com/yndnr/tokvault-go/internal/telemetry/metric"
)

// notifier is the configured sink behind an async retry queue.
type notifier struct {
	*notify.Async
	closeSink func() error
}

// Close drains the queue, then closes the sink.
func (n *notifier) Close(ctx context.Context) error {
	err := n.Async.Close(ctx)
	if n.closeSink != nil {
		err = errors.Join(err, n.closeSink())
	}
	return err
}

func buildNotifier(cfg *config.ServerConfig, metrics *metric.Registry, log *slog.Logger) (*notifier, error) {
	nc := cfg.Notify

	var (
		sink      service.Notifier
		closeSink func() error
	)
	switch nc.Sink {
	case config.SinkNone:
		sink = discardSink{}
	case config.SinkLog:
		sink = notify.NewLogSink(log)
	case config.SinkWebhook:
		client, err := tlsroots.ClientFor(cfg.Security.TLSCAFile, nc.Timeout)
		if err != nil {
			return nil, err
		}
		sink = notify.NewWebhookSink(nc.Webhook.URL, []byte(nc.Webhook.Secret), client)
	case config.SinkKafka:
		w, err := notify.NewKafkaWriter(nc.Kafka.Brokers)
		if err != nil {
			return nil, err
		}
		ks := notify.NewKafkaSink(w, nc.Kafka.Topic)
		sink, closeSink = ks, ks.Close
	}

	async := notify.NewAsync(sink, notify.AsyncConfig{
		Name:        nc.Sink,
		QueueSize:   nc.QueueSize,
		Workers:     nc.Workers,
		MaxAttempts: nc.MaxAttempts,
		Backoff:     nc.Backoff,
		Timeout:     nc.Timeout,
	}, log, metrics)

	log.Info("notifier ready", "sink", nc.Sink, "workers", nc.Workers)
	return &notifier{Async: async, closeSink: closeSink}, nil
}

type discardSink struct{}

func (discardSink) Notify(context.Context, service.Notification) error { return nil }

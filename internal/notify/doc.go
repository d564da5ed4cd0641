// Package notify delivers "your download is ready" notifications.
//
// Sinks:
//
//   - LogSink: writes the notification to the structured log
//   - WebhookSink: POSTs a JSON event to an HTTP endpoint
//   - KafkaSink: publishes the JSON event to a Kafka topic
//
// Async wraps any sink with a bounded queue, worker goroutines and retry
// with backoff, so delivery never waits on the notification channel.
package notify

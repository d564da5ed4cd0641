// Package metric provides Prometheus metrics for tokvault.
//
// Registry owns a private prometheus.Registry and implements
// service.Recorder, so services record issuance, delivery, redemption and
// store latency without importing Prometheus. HTTP middleware records
// request counts and latencies through the same Registry.
//
// Metrics are exposed at /metrics in Prometheus text format.
package metric

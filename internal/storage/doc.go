// Package storage provides the durable, embedded storage backend for
// TokVault, built on Badger v3.
//
// BadgerEngine owns the database handle, value-log GC and Prometheus size
// gauges. TokenStore and OrderRepository layer the domain records on top
// using optimistic transactions with conflict detection, so concurrent
// consumes of the same token are serialized by Badger and retried.
//
// Shared multi-process backends live in the postgres and redis
// subpackages; memory is a non-durable backend for tests and development.
// storetest holds the conformance suite every TokenStore must pass.
package storage

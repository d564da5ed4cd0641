// Package cmap provides a concurrent-safe sharded map keyed by strings.
//
// Keys are assigned to shards with murmur3, and every mutating operation
// holds only its shard lock, so Compute gives per-key atomic
// read-modify-write without a global lock.
package cmap

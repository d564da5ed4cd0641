// Package memory provides non-durable in-process storage for TokVault.
//
// TokenStore and OrderRepository keep records in sharded maps (pkg/cmap);
// each consume or versioned update runs under its key's shard lock, which
// makes them atomic within one process. State is lost on restart and is not
// shared between processes, so this backend is for tests and local
// development only.
package memory

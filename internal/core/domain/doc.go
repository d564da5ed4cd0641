// Package domain defines the core domain models for TokVault.
//
// Domain models are pure value objects and entities without any
// IO dependencies or framework coupling. This package contains:
//
//   - DownloadToken: issued download credential and its usage counter
//   - Order: order record, status state machine and line deliveries
//   - Policy: token lifetime and usage limits
//   - Errors: Domain-specific error definitions
package domain

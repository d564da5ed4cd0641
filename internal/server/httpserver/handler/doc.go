// Package handler provides HTTP request handlers for tokvault.
//
// This package contains handlers for all HTTP endpoints:
//
//   - download.go: Public download redemption
//   - order.go: Internal order API
//   - admin.go: Administrative operations
//   - health.go: Health and readiness checks
//
// JSON handlers follow a consistent pattern:
//
//   - Parse and validate request
//   - Call domain service
//   - Format and return response
//   - Handle errors with appropriate HTTP status codes
//
// The download handler never returns the JSON envelope for token failures
// that would let a caller tell an expired link from an unknown one.
package handler

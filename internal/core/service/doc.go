// Package service provides the domain services for TokVault.
//
// Services contain the business logic and orchestrate operations on domain
// models. They define the interfaces of their storage and side-effect
// dependencies, which are injected at construction time:
//
//   - DeliveryService: mints and records download tokens for completed orders
//   - DownloadService: redeems a token and opens the purchased asset
//   - OrderService: order status state machine coupled to delivery
//   - AuthService: bearer JWT verification for the internal APIs
//   - Sweeper: background removal of long-expired token records
//
// Services hold no package-level state and are safe for concurrent use.
package service

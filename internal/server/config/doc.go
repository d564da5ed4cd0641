// Package config provides server configuration for tokvault.
//
// This package defines the server configuration structure and validation:
//
//   - spec.go: ServerConfig struct definition
//   - default.go: Default configuration values
//   - verify.go: Business validation (secrets, backend settings, sinks)
//   - convert.go: Mapping onto service configuration
//   - sanitize.go: Log sanitization (hide secrets and DSN passwords)
//
// Configuration is loaded via internal/infra/confloader from a YAML file,
// TOKVAULT_* environment variables and flags.
package config

// Package logger provides structured logging for TokVault.
//
// It wraps log/slog with JSON or text output, a process-wide dynamic level
// that the config watcher can change at runtime, automatic redaction of
// download tokens and credentials, and request-id propagation through
// context.Context.
//
// Long-lived components receive a *slog.Logger (see Slog) by injection;
// request-scoped code uses L(ctx).
package logger

// Package domain defines the core domain models for TokVault.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business domain error with a structured error code.
//
// Codes follow the format TV-{AREA}-{NNNN}; the last four digits loosely
// follow the HTTP status the error maps to at the API boundary.
type DomainError struct {
	Code    string // Error code (e.g., "TV-TOKN-4040")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support. Two domain errors match when their
// codes match, regardless of details or cause.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Token Errors (TOKN)
// ============================================================================

var (
	// ErrTokenIntegrity indicates the token is malformed or was not minted
	// by this system (digest mismatch).
	ErrTokenIntegrity = NewDomainError("TV-TOKN-4000", "token integrity check failed")

	// ErrTokenNotFound indicates no record exists for the token.
	ErrTokenNotFound = NewDomainError("TV-TOKN-4040", "token not found")

	// ErrTokenExpired indicates the token lifetime has elapsed.
	ErrTokenExpired = NewDomainError("TV-TOKN-4041", "token expired")

	// ErrTokenExhausted indicates all permitted downloads were used.
	ErrTokenExhausted = NewDomainError("TV-TOKN-4042", "token download limit reached")

	// ErrTokenDuplicate indicates the token id already exists in the store.
	ErrTokenDuplicate = NewDomainError("TV-TOKN-4090", "token already exists")

	// ErrLineAlreadyIssued indicates a token was already issued for the
	// same order and product.
	ErrLineAlreadyIssued = NewDomainError("TV-TOKN-4091", "token already issued for order line")
)

// ============================================================================
// Order Errors (ORDR)
// ============================================================================

var (
	// ErrOrderNotFound indicates the requested order does not exist.
	ErrOrderNotFound = NewDomainError("TV-ORDR-4040", "order not found")

	// ErrInvalidTransition indicates the requested status change is not allowed.
	ErrInvalidTransition = NewDomainError("TV-ORDR-4090", "invalid order status transition")

	// ErrOrderConflict indicates the order id already exists.
	ErrOrderConflict = NewDomainError("TV-ORDR-4091", "order id conflict")

	// ErrOrderValidation indicates the order payload is invalid.
	ErrOrderValidation = NewDomainError("TV-ORDR-4001", "order validation failed")
)

// ============================================================================
// Asset Errors (ASST)
// ============================================================================

var (
	// ErrAssetUnavailable indicates the product file is not staged yet.
	ErrAssetUnavailable = NewDomainError("TV-ASST-4040", "asset not available")
)

// ============================================================================
// Authentication Errors (AUTH)
// ============================================================================

var (
	// ErrAuthMissing indicates no bearer credential was provided.
	ErrAuthMissing = NewDomainError("TV-AUTH-4010", "authentication required")

	// ErrAuthInvalid indicates the bearer credential could not be verified.
	ErrAuthInvalid = NewDomainError("TV-AUTH-4011", "invalid credential")

	// ErrPermissionDenied indicates the caller's role is insufficient.
	ErrPermissionDenied = NewDomainError("TV-AUTH-4030", "permission denied")
)

// ============================================================================
// System Errors (SYS)
// ============================================================================

var (
	// ErrInternalServer indicates an internal server error.
	ErrInternalServer = NewDomainError("TV-SYS-5000", "internal server error")

	// ErrStoreUnavailable indicates the backing store could not be reached
	// and the operation was provably not applied.
	ErrStoreUnavailable = NewDomainError("TV-SYS-5030", "store unavailable")

	// ErrConsumeIndeterminate indicates a consume operation may or may not
	// have been committed. Callers must treat the use as spent.
	ErrConsumeIndeterminate = NewDomainError("TV-SYS-5031", "consume outcome unknown")

	// ErrBadRequest indicates a malformed request.
	ErrBadRequest = NewDomainError("TV-SYS-4000", "bad request")

	// ErrRateLimited indicates too many requests.
	ErrRateLimited = NewDomainError("TV-SYS-4290", "too many requests")

	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("TV-ARG-1001", "invalid argument")
)

// IsTransient reports whether err is an infrastructure failure that the
// caller may retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrConsumeIndeterminate)
}

// Package errors provides standardized domain errors that express business intent
// rather than infrastructure details. These errors should be used by use cases
// and mapped to appropriate HTTP status codes by handlers.
package errors

import (
	"errors"
	"fmt"
)

// Standard domain errors that can be used across all domain modules.
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a conflict with existing data (e.g., duplicate fingerprint).
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput indicates the input data is invalid or fails validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates the request lacks valid authentication credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the authenticated user doesn't have permission.
	ErrForbidden = errors.New("forbidden")

	// ErrMissingCredential indicates the Authorization header was absent.
	ErrMissingCredential = errors.New("missing credential")

	// ErrPresenterRateLimited indicates the presenter exceeded the admission rate guard.
	ErrPresenterRateLimited = errors.New("presenter rate limited")

	// ErrCredentialLengthInvalid indicates the presented credential failed the length check.
	ErrCredentialLengthInvalid = errors.New("credential length invalid")

	// ErrValidationFailed indicates a provider-configured request rule rejected the request.
	ErrValidationFailed = errors.New("validation failed")

	// ErrProviderMisconfigured indicates no provider is configured or a trusted-host mismatch occurred.
	ErrProviderMisconfigured = errors.New("provider misconfigured")

	// ErrPoolEmpty indicates no available credential exists and the presenter has no blocked record to isolate to.
	ErrPoolEmpty = errors.New("pool empty")

	// ErrUpstreamTimeout indicates the outbound call exceeded its deadline.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// ErrUpstreamTimeoutCacheable indicates ErrUpstreamTimeout occurred while
	// serving a cacheable read, which maps to 504 rather than 502.
	ErrUpstreamTimeoutCacheable = fmt.Errorf("cacheable upstream timeout: %w", ErrUpstreamTimeout)

	// ErrUpstreamUnreachable indicates an I/O failure reaching the upstream provider.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
)

// New creates a new error with the given message.
// This is a convenience wrapper around errors.New for consistency.
func New(message string) error {
	return errors.New(message)
}

// Wrap wraps an error with additional context while preserving the error chain.
// Use this to add context at each layer without losing the original error type.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted message while preserving the error chain.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's tree matches target.
// This is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
// This is a convenience wrapper around errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Package apperr defines the error kinds that cross component boundaries.
// Components translate raw upstream failures into one of these kinds before
// returning them; the HTTP layer maps kinds to status codes uniformly.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks request-shape or field-constraint violations.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized marks missing or invalid credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden marks owner mismatches and window-closed rejections.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound marks a missing submission, backup, or resource.
	ErrNotFound = errors.New("not found")

	// ErrRateLimited marks an exhausted token bucket.
	ErrRateLimited = errors.New("rate limited")

	// ErrConflict marks integrity violations: duplicate tx signatures,
	// forward-only status violations, NOT NULL misses. Fatal for the
	// unit of work that hit it.
	ErrConflict = errors.New("conflict")

	// ErrUpstream marks a transient upstream failure (5xx, timeout,
	// open breaker) that already exhausted its bounded retries.
	ErrUpstream = errors.New("upstream failure")
)

// Validationf wraps ErrValidation with a specific message.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrValidation}, args...)...)
}

// Unauthorizedf wraps ErrUnauthorized with a specific message.
func Unauthorizedf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrUnauthorized}, args...)...)
}

// Forbiddenf wraps ErrForbidden with a specific message.
func Forbiddenf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrForbidden}, args...)...)
}

// NotFoundf wraps ErrNotFound with a specific message.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrNotFound}, args...)...)
}

// Conflictf wraps ErrConflict with a specific message.
func Conflictf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrConflict}, args...)...)
}

// Upstreamf wraps ErrUpstream with a specific message.
func Upstreamf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrUpstream}, args...)...)
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsUnauthorized reports whether err is an authentication error.
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }

// IsForbidden reports whether err is an authorization error.
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsRateLimited reports whether err is a rate-limit rejection.
func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }

// IsConflict reports whether err is an integrity violation.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsUpstream reports whether err is an exhausted upstream failure.
func IsUpstream(err error) bool { return errors.Is(err, ErrUpstream) }

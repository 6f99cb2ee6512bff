package domain

import "errors"

// Closed error taxonomy. Every failure surfaced by the core wraps exactly
// one of these sentinels so callers can switch on errors.Is.
var (
	ErrValidationRejected  = errors.New("validation rejected")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrContentMalformed    = errors.New("content malformed")
	ErrNotFound            = errors.New("not found")
	ErrConflictingWrite    = errors.New("conflicting write")
	ErrDeadlineExceeded    = errors.New("deadline exceeded")
	ErrSecurityViolation   = errors.New("security violation")
	ErrInternalInvariant   = errors.New("internal invariant violated")

	ErrInvalidInput = errors.New("invalid input")
)

// ErrorKind returns the stable kind string for a core error, or "internal"
// when the error does not wrap a taxonomy sentinel.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrValidationRejected):
		return "ValidationRejected"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "UpstreamUnavailable"
	case errors.Is(err, ErrContentMalformed):
		return "ContentMalformed"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrConflictingWrite):
		return "ConflictingWrite"
	case errors.Is(err, ErrDeadlineExceeded):
		return "DeadlineExceeded"
	case errors.Is(err, ErrSecurityViolation):
		return "SecurityViolation"
	case errors.Is(err, ErrInternalInvariant):
		return "InternalInvariant"
	default:
		return "internal"
	}
}

// IsRetryable reports whether a stage may retry after this error.
// Validation and security rejections are final; upstream and deadline
// errors are worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, ErrDeadlineExceeded) || errors.Is(err, ErrConflictingWrite)
}

package core

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrRateLimited           = errors.New("rate limited by transaction source")
	ErrConversionUnavailable = errors.New("exchange rate unavailable")
	ErrStoreUnavailable      = errors.New("store unavailable")
	ErrNotFound              = errors.New("not found")
	ErrSyncInProgress        = errors.New("sync already in progress")
	ErrTokenMissing          = errors.New("access token not configured")
	ErrInvalidStartDay       = errors.New("financial month start day must be between 1 and 31")
	ErrInvalidDate           = errors.New("invalid date")
	ErrUnknownCategory       = errors.New("unknown category")
)

// ValidationError reports malformed input to a public operation.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StoreError marks err as a persistence failure of op.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

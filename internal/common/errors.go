// Package common defines shared constants and sentinel errors used across
// client and server layers of fieldsync. Callers should use errors.Is to
// match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Local data-integrity errors. These always abort the operation.
	ErrVersionConflict = errors.New("version conflict")
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrStorage         = errors.New("storage error")
	ErrValidation      = errors.New("validation error")

	// Sync errors. They are contained in the sync engine and only ever
	// reach the caller as a record's sync state.
	ErrSyncConflict  = errors.New("sync conflict")
	ErrSyncTransient = errors.New("transient sync failure")
	ErrSyncPermanent = errors.New("permanent sync failure")

	// State machine violations.
	ErrInvalidTransition = errors.New("invalid sync state transition")

	// Service-level errors.
	ErrorUnauthorized = errors.New("unauthorized")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// StorageError wraps an I/O failure of the local store so that it matches
// ErrStorage while keeping the underlying cause inspectable.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// ValidationError reports a missing or malformed field.
func ValidationError(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrValidation, field, reason)
}

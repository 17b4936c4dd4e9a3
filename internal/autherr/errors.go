// Package autherr defines the error taxonomy of the authentication core.
// Callers branch with errors.Is/errors.As; the HTTP boundary collapses all
// authentication failures into one generic response so that the failing check
// is never distinguishable from outside.
package autherr

import (
	"errors"
	"fmt"

	"github.com/pipetrade/rfq-auth/internal/domain"
)

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccountSuspended    = errors.New("account suspended")
	ErrDeviceNotRecognized = errors.New("device not recognized")
	ErrSessionExpired      = errors.New("session expired")
	ErrSessionNotFound     = errors.New("session not found")
	ErrRefreshTokenInvalid = errors.New("refresh token invalid")
	ErrTokenExpired        = errors.New("access token expired")
	ErrTokenInvalid        = errors.New("access token invalid")
)

// SessionInvalidatedError carries the recorded invalidation reason. It
// matches errors.Is(err, ErrSessionNotFound) == false; callers that only care
// about "not usable" should check Verify's error set exhaustively.
type SessionInvalidatedError struct {
	Reason domain.InvalidationReason
}

func (e *SessionInvalidatedError) Error() string {
	return fmt.Sprintf("session invalidated: %s", e.Reason)
}

// StorageError marks a transient infrastructure failure. It is the only
// retryable condition in the taxonomy.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage unavailable: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// Retryable reports whether the caller may retry the operation with backoff.
func Retryable(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// AuthenticationFailure reports whether err belongs to the coalesced
// "authentication failed" category exposed at the boundary.
func AuthenticationFailure(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrAccountSuspended) ||
		errors.Is(err, ErrDeviceNotRecognized)
}

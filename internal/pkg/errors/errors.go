package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalid         = errors.New("invalid")
	ErrConflict        = errors.New("conflict")
	ErrTooMany         = errors.New("too many requests")
	ErrInternal        = errors.New("internal")
	ErrUnavailable     = errors.New("unavailable")
	ErrInvalidProvider = errors.New("invalid identity provider")
	ErrHandshake       = errors.New("oauth handshake failed")
	ErrIAM             = errors.New("iam service error")
)

// HandshakeError is returned for every failure while completing an
// authorization code callback. Stage names the step that failed; Err keeps
// the underlying cause for logs and must never be shown to end users.
type HandshakeError struct {
	Stage string
	Err   error
}

func NewHandshakeError(stage string, err error) *HandshakeError {
	return &HandshakeError{Stage: stage, Err: err}
}

func (e *HandshakeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("oauth handshake failed at %s", e.Stage)
	}
	return fmt.Sprintf("oauth handshake failed at %s: %v", e.Stage, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

func (e *HandshakeError) Is(target error) bool {
	return target == ErrHandshake
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

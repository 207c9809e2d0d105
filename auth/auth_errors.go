package auth

import (
	"fmt"

	relayerrors "github.com/jrsteele09/go-call-relay/internal/errors"
)

// Error is returned when a connection cannot be authenticated. Err is one of
// ErrNoCredentials, ErrInvalidToken or ErrTokenExpired.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(sentinel error, format string, args ...any) *Error {
	return &Error{Reason: fmt.Sprintf(format, args...), Err: sentinel}
}

var (
	ErrNoCredentials = relayerrors.ErrNoCredentials
	ErrInvalidToken  = relayerrors.ErrInvalidToken
	ErrTokenExpired  = relayerrors.ErrTokenExpired
)

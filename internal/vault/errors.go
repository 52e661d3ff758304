package vault

import (
	"errors"
	"fmt"

	"github.com/benaskins/easykey/internal/keystore"
)

// Sentinels matched with errors.Is. Every error returned by a Vault
// method matches exactly one of them.
var (
	ErrInvalidArguments = errors.New("invalid arguments")
	ErrAuthentication   = errors.New("authentication failed")
	ErrNotFound         = errors.New("secret not found")
	ErrStore            = errors.New("keystore error")
)

// AuthenticationError reports a user-presence check that was refused, or
// abandoned because the caller's context ended.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

func (e *AuthenticationError) Is(target error) bool { return target == ErrAuthentication }

// NotFoundError reports a read of a secret that does not exist.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("secret %q not found", e.Name)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// StoreError is a keystore rejection that no fallback could absorb.
type StoreError struct {
	Op   string
	Name string
	Code keystore.Code
	Err  error
}

func (e *StoreError) Error() string {
	msg := e.Op
	if e.Name != "" {
		msg += fmt.Sprintf(" %q", e.Name)
	}
	msg += ": " + e.Code.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

func storeError(op, name string, err error) error {
	return &StoreError{Op: op, Name: name, Code: keystore.CodeOf(err), Err: err}
}

// Package access negotiates user-presence authentication and builds the
// access-control policy attached to stored secrets.
//
// Both halves degrade instead of failing: a host that cannot evaluate
// user presence yields a nil *Context, and a binary that cannot construct
// the strong policy yields a nil *Policy. Callers treat nil as "not
// available" and fall back to weaker, still device-local, protection.
package access

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unsafe"
)

// Accessibility describes when a stored item may be read. Every value is
// device-local: nothing is ever eligible for sync.
type Accessibility int

const (
	// AccessibleWhenUnlockedThisDeviceOnly is the default for secrets.
	AccessibleWhenUnlockedThisDeviceOnly Accessibility = iota
	// AccessibleAfterFirstUnlockThisDeviceOnly is the minimal protection
	// used for vault metadata.
	AccessibleAfterFirstUnlockThisDeviceOnly
)

func (a Accessibility) String() string {
	switch a {
	case AccessibleWhenUnlockedThisDeviceOnly:
		return "when-unlocked-this-device-only"
	case AccessibleAfterFirstUnlockThisDeviceOnly:
		return "after-first-unlock-this-device-only"
	default:
		return fmt.Sprintf("accessibility(%d)", int(a))
	}
}

// ErrDenied is matched by every DeniedError.
var ErrDenied = errors.New("authentication denied")

// DeniedError reports an authentication attempt that was made and refused:
// wrong biometric, lockout, or a prompt dismissed by the user, the system,
// or the caller's context.
type DeniedError struct {
	Reason string
	Code   int
}

func (e *DeniedError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (%d)", e.Reason, e.Code)
	}
	return e.Reason
}

func (e *DeniedError) Is(target error) bool { return target == ErrDenied }

// Context is a completed user-presence check. Keystore adapters attach its
// handle to their calls so the keystore does not prompt a second time.
type Context struct {
	handle  unsafe.Pointer
	once    sync.Once
	release func()
}

// NewContext wraps a platform handle. release, if non-nil, runs once on
// Release.
func NewContext(handle unsafe.Pointer, release func()) *Context {
	return &Context{handle: handle, release: release}
}

// Handle returns the platform handle, or nil for a nil Context.
func (c *Context) Handle() unsafe.Pointer {
	if c == nil {
		return nil
	}
	return c.handle
}

// Release frees the platform handle. Safe on nil and safe to repeat.
func (c *Context) Release() {
	if c == nil {
		return
	}
	c.once.Do(func() {
		if c.release != nil {
			c.release()
		}
	})
}

// Policy is the access-control requirement attached to an item at write
// time.
type Policy struct {
	Accessibility Accessibility
	UserPresence  bool

	handle  unsafe.Pointer
	once    sync.Once
	release func()
}

// NewPolicy wraps a platform access-control handle.
func NewPolicy(a Accessibility, userPresence bool, handle unsafe.Pointer, release func()) *Policy {
	return &Policy{Accessibility: a, UserPresence: userPresence, handle: handle, release: release}
}

// Handle returns the platform handle, or nil for a nil Policy.
func (p *Policy) Handle() unsafe.Pointer {
	if p == nil {
		return nil
	}
	return p.handle
}

// Release frees the platform handle. Safe on nil and safe to repeat.
func (p *Policy) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		if p.release != nil {
			p.release()
		}
	})
}

// Negotiator decides whether user presence can be checked and checks it.
//
// Authenticate returns (nil, nil) when the host cannot evaluate user
// presence at all. It returns an error only when an attempt was made and
// refused; that error matches ErrDenied.
type Negotiator interface {
	Authenticate(ctx context.Context, reason string) (*Context, error)
}

// PolicyBuilder constructs the strongest policy the running binary can
// obtain, or nil when none can be built.
type PolicyBuilder interface {
	BuildPolicy() *Policy
}

// Unavailable is the Negotiator and PolicyBuilder for hosts without
// user-presence support. It never prompts and never fails.
type Unavailable struct{}

func (Unavailable) Authenticate(ctx context.Context, reason string) (*Context, error) {
	return nil, nil
}

func (Unavailable) BuildPolicy() *Policy { return nil }

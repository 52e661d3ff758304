//go:build darwin

package access

/*
#cgo CFLAGS: -x objective-c -fobjc-arc
#cgo LDFLAGS: -framework Foundation -framework LocalAuthentication

#include <stdlib.h>
#include <string.h>
#import <Foundation/Foundation.h>
#import <LocalAuthentication/LocalAuthentication.h>

static const void *ek_la_new(void) {
	LAContext *ctx = [[LAContext alloc] init];
	return CFBridgingRetain(ctx);
}

static void ek_la_release(const void *ref) {
	if (ref != NULL) {
		CFRelease(ref);
	}
}

static long ek_la_can_evaluate(const void *ref) {
	LAContext *ctx = (__bridge LAContext *)ref;
	NSError *err = nil;
	if ([ctx canEvaluatePolicy:LAPolicyDeviceOwnerAuthentication error:&err]) {
		return 0;
	}
	return err != nil ? (long)err.code : -1;
}

static long ek_la_evaluate(const void *ref, const char *reason, char **msg) {
	LAContext *ctx = (__bridge LAContext *)ref;
	NSString *why = [NSString stringWithUTF8String:reason];
	dispatch_semaphore_t done = dispatch_semaphore_create(0);
	__block long code = 0;
	__block char *desc = NULL;
	[ctx evaluatePolicy:LAPolicyDeviceOwnerAuthentication
	    localizedReason:why
	              reply:^(BOOL ok, NSError *err) {
		if (!ok) {
			code = err != nil ? (long)err.code : -1;
			if (err != nil && err.localizedDescription != nil) {
				desc = strdup(err.localizedDescription.UTF8String);
			}
		}
		dispatch_semaphore_signal(done);
	}];
	dispatch_semaphore_wait(done, DISPATCH_TIME_FOREVER);
	*msg = desc;
	return code;
}

static void ek_la_invalidate(const void *ref) {
	LAContext *ctx = (__bridge LAContext *)ref;
	[ctx invalidate];
}
*/
import "C"

import (
	"context"
	"log/slog"
	"unsafe"
)

// LAError codes from LocalAuthentication/LAError.h.
const (
	laAuthenticationFailed = -1
	laUserCancel           = -2
	laUserFallback         = -3
	laSystemCancel         = -4
	laPasscodeNotSet       = -5
	laBiometryNotAvailable = -6
	laBiometryNotEnrolled  = -7
	laBiometryLockout      = -8
	laAppCancel            = -9
	laInvalidContext       = -10
	laNotInteractive       = -1004
)

// unavailable reports LAError codes that mean the capability is absent
// rather than that the user refused.
func unavailable(code int) bool {
	switch code {
	case laPasscodeNotSet, laBiometryNotAvailable, laBiometryNotEnrolled, laNotInteractive:
		return true
	}
	return false
}

func deniedReason(code int) string {
	switch code {
	case laAuthenticationFailed:
		return "authentication failed"
	case laUserCancel:
		return "authentication cancelled by user"
	case laUserFallback:
		return "authentication fallback requested"
	case laSystemCancel:
		return "authentication cancelled by system"
	case laBiometryLockout:
		return "biometry locked out after too many attempts"
	case laAppCancel:
		return "authentication cancelled"
	case laInvalidContext:
		return "authentication context invalidated"
	default:
		return "authentication failed"
	}
}

type systemNegotiator struct {
	logger *slog.Logger
}

// NewSystemNegotiator returns a Negotiator backed by LocalAuthentication
// with the device-owner policy (Touch ID, Watch, or the login password).
func NewSystemNegotiator() Negotiator {
	return &systemNegotiator{logger: slog.With("component", "access")}
}

func (n *systemNegotiator) Authenticate(ctx context.Context, reason string) (*Context, error) {
	ref := C.ek_la_new()

	if code := int(C.ek_la_can_evaluate(ref)); code != 0 {
		C.ek_la_release(ref)
		n.logger.Debug("user presence unavailable", "code", code)
		return nil, nil
	}

	creason := C.CString(reason)
	defer C.free(unsafe.Pointer(creason))

	type outcome struct {
		code int
		msg  string
	}
	done := make(chan outcome, 1)
	go func() {
		var msg *C.char
		code := int(C.ek_la_evaluate(ref, creason, &msg))
		o := outcome{code: code}
		if msg != nil {
			o.msg = C.GoString(msg)
			C.free(unsafe.Pointer(msg))
		}
		done <- o
	}()

	var o outcome
	select {
	case o = <-done:
	case <-ctx.Done():
		// Dismiss the prompt, then wait for the reply block so the
		// context is not released underneath it.
		C.ek_la_invalidate(ref)
		<-done
		C.ek_la_release(ref)
		return nil, &DeniedError{Reason: "authentication cancelled: " + ctx.Err().Error()}
	}

	if o.code != 0 {
		C.ek_la_release(ref)
		if unavailable(o.code) {
			n.logger.Debug("user presence unavailable", "code", o.code)
			return nil, nil
		}
		reason := o.msg
		if reason == "" {
			reason = deniedReason(o.code)
		}
		return nil, &DeniedError{Reason: reason, Code: o.code}
	}

	return NewContext(ref, func() { C.ek_la_release(ref) }), nil
}

//go:build darwin

package access

/*
#cgo LDFLAGS: -framework CoreFoundation -framework Security

#include <CoreFoundation/CoreFoundation.h>
#include <Security/Security.h>

static const void *ek_access_control_new(void) {
	CFErrorRef err = NULL;
	SecAccessControlRef ac = SecAccessControlCreateWithFlags(
		kCFAllocatorDefault,
		kSecAttrAccessibleWhenUnlockedThisDeviceOnly,
		kSecAccessControlUserPresence,
		&err);
	if (err != NULL) {
		CFRelease(err);
	}
	return (const void *)ac;
}

static void ek_access_control_release(const void *ref) {
	if (ref != NULL) {
		CFRelease(ref);
	}
}
*/
import "C"

import "log/slog"

type systemPolicyBuilder struct {
	logger *slog.Logger
}

// NewSystemPolicyBuilder returns a PolicyBuilder that requests
// when-unlocked, this-device-only, user-presence access control.
func NewSystemPolicyBuilder() PolicyBuilder {
	return &systemPolicyBuilder{logger: slog.With("component", "access")}
}

func (b *systemPolicyBuilder) BuildPolicy() *Policy {
	ref := C.ek_access_control_new()
	if ref == nil {
		b.logger.Debug("access control unavailable, continuing without policy")
		return nil
	}
	return NewPolicy(AccessibleWhenUnlockedThisDeviceOnly, true, ref, func() {
		C.ek_access_control_release(ref)
	})
}

//go:build darwin

package keystore

/*
#cgo LDFLAGS: -framework CoreFoundation -framework Security

#include <stdlib.h>
#include <string.h>
#include <CoreFoundation/CoreFoundation.h>
#include <Security/Security.h>

static CFMutableDictionaryRef ek_query(const char *service, const char *account) {
	CFMutableDictionaryRef q = CFDictionaryCreateMutable(kCFAllocatorDefault, 0,
		&kCFTypeDictionaryKeyCallBacks, &kCFTypeDictionaryValueCallBacks);
	CFDictionarySetValue(q, kSecClass, kSecClassGenericPassword);
	CFStringRef s = CFStringCreateWithCString(kCFAllocatorDefault, service, kCFStringEncodingUTF8);
	CFDictionarySetValue(q, kSecAttrService, s);
	CFRelease(s);
	if (account != NULL) {
		CFStringRef a = CFStringCreateWithCString(kCFAllocatorDefault, account, kCFStringEncodingUTF8);
		CFDictionarySetValue(q, kSecAttrAccount, a);
		CFRelease(a);
	}
	return q;
}

static void ek_use_context(CFMutableDictionaryRef q, const void *context) {
	if (context != NULL) {
		CFDictionarySetValue(q, kSecUseAuthenticationContext, context);
	}
}

static int ek_add(const char *service, const char *account, const char *label,
		const void *data, long length, const void *access, const void *context, int afterFirstUnlock) {
	CFMutableDictionaryRef q = ek_query(service, account);
	CFStringRef l = CFStringCreateWithCString(kCFAllocatorDefault, label, kCFStringEncodingUTF8);
	CFDictionarySetValue(q, kSecAttrLabel, l);
	CFRelease(l);
	CFDataRef d = CFDataCreate(kCFAllocatorDefault, (const UInt8 *)data, (CFIndex)length);
	CFDictionarySetValue(q, kSecValueData, d);
	CFRelease(d);
	CFDictionarySetValue(q, kSecAttrSynchronizable, kCFBooleanFalse);
	if (access != NULL) {
		CFDictionarySetValue(q, kSecAttrAccessControl, access);
	} else if (afterFirstUnlock) {
		CFDictionarySetValue(q, kSecAttrAccessible, kSecAttrAccessibleAfterFirstUnlockThisDeviceOnly);
	} else {
		CFDictionarySetValue(q, kSecAttrAccessible, kSecAttrAccessibleWhenUnlockedThisDeviceOnly);
	}
	ek_use_context(q, context);
	OSStatus st = SecItemAdd(q, NULL);
	CFRelease(q);
	return (int)st;
}

static int ek_update(const char *service, const char *account,
		const void *data, long length, const void *context) {
	CFMutableDictionaryRef q = ek_query(service, account);
	ek_use_context(q, context);
	CFMutableDictionaryRef attrs = CFDictionaryCreateMutable(kCFAllocatorDefault, 0,
		&kCFTypeDictionaryKeyCallBacks, &kCFTypeDictionaryValueCallBacks);
	CFDataRef d = CFDataCreate(kCFAllocatorDefault, (const UInt8 *)data, (CFIndex)length);
	CFDictionarySetValue(attrs, kSecValueData, d);
	CFRelease(d);
	OSStatus st = SecItemUpdate(q, attrs);
	CFRelease(attrs);
	CFRelease(q);
	return (int)st;
}

static int ek_copy_data(const char *service, const char *account, const void *context,
		void **out, long *length) {
	CFMutableDictionaryRef q = ek_query(service, account);
	CFDictionarySetValue(q, kSecMatchLimit, kSecMatchLimitOne);
	CFDictionarySetValue(q, kSecReturnData, kCFBooleanTrue);
	ek_use_context(q, context);
	CFTypeRef result = NULL;
	OSStatus st = SecItemCopyMatching(q, &result);
	CFRelease(q);
	if (st != errSecSuccess) {
		return (int)st;
	}
	CFIndex n = CFDataGetLength((CFDataRef)result);
	void *buf = malloc(n > 0 ? n : 1);
	memcpy(buf, CFDataGetBytePtr((CFDataRef)result), n);
	CFRelease(result);
	*out = buf;
	*length = (long)n;
	return 0;
}

static void ek_wipe_free(void *buf, long length) {
	if (buf == NULL) {
		return;
	}
	memset_s(buf, length, 0, length);
	free(buf);
}

static int ek_delete(const char *service, const char *account, const void *context) {
	CFMutableDictionaryRef q = ek_query(service, account);
	ek_use_context(q, context);
	OSStatus st = SecItemDelete(q);
	CFRelease(q);
	return (int)st;
}

static int ek_copy_ref(const char *service, const char *account, const void **out) {
	CFMutableDictionaryRef q = ek_query(service, account);
	CFDictionarySetValue(q, kSecMatchLimit, kSecMatchLimitOne);
	CFDictionarySetValue(q, kSecReturnRef, kCFBooleanTrue);
	CFTypeRef result = NULL;
	OSStatus st = SecItemCopyMatching(q, &result);
	CFRelease(q);
	*out = result;
	return (int)st;
}

static int ek_delete_ref(const void *ref) {
	CFMutableDictionaryRef q = CFDictionaryCreateMutable(kCFAllocatorDefault, 0,
		&kCFTypeDictionaryKeyCallBacks, &kCFTypeDictionaryValueCallBacks);
	CFDictionarySetValue(q, kSecValueRef, ref);
	OSStatus st = SecItemDelete(q);
	CFRelease(q);
	return (int)st;
}

static void ek_ref_release(const void *ref) {
	if (ref != NULL) {
		CFRelease(ref);
	}
}
*/
import "C"

import (
	"errors"
	"fmt"
	"log/slog"
	"unsafe"

	gokeychain "github.com/keybase/go-keychain"

	"github.com/benaskins/easykey/internal/access"
)

// Security.framework status codes that drive the fallback ladder.
const (
	errSecSuccess            = 0
	errSecDuplicateItem      = -25299
	errSecItemNotFound       = -25300
	errSecAuthFailed         = -25293
	errSecNoAccessForItem    = -25243
	errSecInvalidOwnerEdit   = -25244
	errSecMissingEntitlement = -34018
)

func statusCode(status int) Code {
	switch status {
	case errSecSuccess:
		return Success
	case errSecDuplicateItem:
		return DuplicateItem
	case errSecItemNotFound:
		return NotFound
	case errSecMissingEntitlement:
		return MissingEntitlement
	case errSecInvalidOwnerEdit, errSecNoAccessForItem, errSecAuthFailed:
		return AccessControlMismatch
	default:
		return Other
	}
}

func statusError(op string, status int) error {
	if status == errSecSuccess {
		return nil
	}
	return &Error{Op: op, Code: statusCode(status), Status: status, Err: gokeychain.Error(status)}
}

func keychainError(op string, err error) error {
	if err == nil {
		return nil
	}
	var kerr gokeychain.Error
	if errors.As(err, &kerr) {
		return statusError(op, int(kerr))
	}
	return &Error{Op: op, Code: Other, Err: err}
}

// keychainRef is a retained SecKeychainItemRef.
type keychainRef struct {
	ptr unsafe.Pointer
}

// KeychainKeystore stores records as generic passwords in the macOS
// Keychain:
//   - Service: the namespace
//   - Account: the record name
//   - Label: "<namespace>: <name>" (for Keychain Access.app visibility)
//
// Calls without an access policy or authentication context go through
// keybase/go-keychain. Calls that carry one are issued directly, since
// those attributes are Core Foundation objects the wrapper cannot hold.
type KeychainKeystore struct {
	logger *slog.Logger
}

// NewKeychainKeystore creates a Keychain-backed keystore.
func NewKeychainKeystore() *KeychainKeystore {
	return &KeychainKeystore{logger: slog.With("component", "keystore", "backend", "keychain")}
}

func baseItem(namespace, name string) gokeychain.Item {
	item := gokeychain.NewItem()
	item.SetSecClass(gokeychain.SecClassGenericPassword)
	item.SetService(namespace)
	if name != "" {
		item.SetAccount(name)
	}
	return item
}

func goAccessible(a access.Accessibility) gokeychain.Accessible {
	if a == access.AccessibleAfterFirstUnlockThisDeviceOnly {
		return gokeychain.AccessibleAfterFirstUnlockThisDeviceOnly
	}
	return gokeychain.AccessibleWhenUnlockedThisDeviceOnly
}

func dataPtr(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Pointer(&b[0])
}

func (s *KeychainKeystore) Insert(item Item) error {
	label := fmt.Sprintf("%s: %s", item.Namespace, item.Name)

	if item.Policy == nil && item.Context == nil {
		gi := gokeychain.NewGenericPassword(item.Namespace, item.Name, label, item.Value, "")
		gi.SetSynchronizable(gokeychain.SynchronizableNo)
		gi.SetAccessible(goAccessible(item.Accessibility))
		return keychainError("insert", gokeychain.AddItem(gi))
	}

	service := C.CString(item.Namespace)
	defer C.free(unsafe.Pointer(service))
	account := C.CString(item.Name)
	defer C.free(unsafe.Pointer(account))
	clabel := C.CString(label)
	defer C.free(unsafe.Pointer(clabel))

	var afterFirstUnlock C.int
	if item.Accessibility == access.AccessibleAfterFirstUnlockThisDeviceOnly {
		afterFirstUnlock = 1
	}
	status := C.ek_add(service, account, clabel,
		dataPtr(item.Value), C.long(len(item.Value)),
		item.Policy.Handle(), item.Context.Handle(), afterFirstUnlock)
	return statusError("insert", int(status))
}

func (s *KeychainKeystore) Update(q Query, value []byte) error {
	if q.Context == nil {
		update := gokeychain.NewItem()
		update.SetData(value)
		return keychainError("update", gokeychain.UpdateItem(baseItem(q.Namespace, q.Name), update))
	}

	service := C.CString(q.Namespace)
	defer C.free(unsafe.Pointer(service))
	account := C.CString(q.Name)
	defer C.free(unsafe.Pointer(account))

	status := C.ek_update(service, account, dataPtr(value), C.long(len(value)), q.Context.Handle())
	return statusError("update", int(status))
}

func (s *KeychainKeystore) Delete(q Query) error {
	if ref, ok := q.Ref.(*keychainRef); ok {
		defer C.ek_ref_release(ref.ptr)
		return statusError("delete", int(C.ek_delete_ref(ref.ptr)))
	}

	if q.Context == nil {
		return keychainError("delete", gokeychain.DeleteItem(baseItem(q.Namespace, q.Name)))
	}

	service := C.CString(q.Namespace)
	defer C.free(unsafe.Pointer(service))
	account := C.CString(q.Name)
	defer C.free(unsafe.Pointer(account))

	return statusError("delete", int(C.ek_delete(service, account, q.Context.Handle())))
}

func (s *KeychainKeystore) Query(q Query) (*Result, error) {
	switch {
	case q.ReturnRef:
		return s.queryRef(q)
	case q.Context != nil && q.ReturnData:
		return s.queryWithContext(q)
	}

	item := baseItem(q.Namespace, q.Name)
	item.SetMatchLimit(gokeychain.MatchLimitOne)
	item.SetReturnAttributes(true)
	item.SetReturnData(q.ReturnData)

	results, err := gokeychain.QueryItem(item)
	if err != nil {
		return nil, keychainError("query", err)
	}
	if len(results) == 0 {
		return nil, &Error{Op: "query", Code: NotFound, Status: errSecItemNotFound}
	}
	r := results[0]
	return &Result{Name: r.Account, Value: r.Data, CreatedAt: r.CreationDate}, nil
}

func (s *KeychainKeystore) queryWithContext(q Query) (*Result, error) {
	service := C.CString(q.Namespace)
	defer C.free(unsafe.Pointer(service))
	account := C.CString(q.Name)
	defer C.free(unsafe.Pointer(account))

	var buf unsafe.Pointer
	var n C.long
	status := int(C.ek_copy_data(service, account, q.Context.Handle(), &buf, &n))
	if err := statusError("query", status); err != nil {
		return nil, err
	}
	defer C.ek_wipe_free(buf, n)

	return &Result{Name: q.Name, Value: C.GoBytes(buf, C.int(n))}, nil
}

func (s *KeychainKeystore) queryRef(q Query) (*Result, error) {
	service := C.CString(q.Namespace)
	defer C.free(unsafe.Pointer(service))
	account := C.CString(q.Name)
	defer C.free(unsafe.Pointer(account))

	var ptr unsafe.Pointer
	status := int(C.ek_copy_ref(service, account, &ptr))
	if err := statusError("query", status); err != nil {
		return nil, err
	}
	return &Result{Name: q.Name, Ref: &keychainRef{ptr: ptr}}, nil
}

func (s *KeychainKeystore) Enumerate(namespace string, _ *access.Context) ([]Record, error) {
	item := baseItem(namespace, "")
	item.SetMatchLimit(gokeychain.MatchLimitAll)
	item.SetReturnAttributes(true)

	results, err := gokeychain.QueryItem(item)
	if err != nil {
		return nil, keychainError("enumerate", err)
	}

	seen := make(map[string]bool, len(results))
	records := make([]Record, 0, len(results))
	for _, r := range results {
		if seen[r.Account] {
			continue
		}
		seen[r.Account] = true
		records = append(records, Record{Name: r.Account, CreatedAt: r.CreationDate})
	}
	return records, nil
}

func (s *KeychainKeystore) Purge(namespace string) error {
	err := gokeychain.DeleteItem(baseItem(namespace, ""))
	if err != nil && !errors.Is(err, gokeychain.ErrorItemNotFound) {
		return keychainError("purge", err)
	}
	s.logger.Debug("namespace purged", "namespace", namespace)
	return nil
}
